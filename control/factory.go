package control

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/opticslab/zpanel/options"
)

// Controller is an automated strategy that drives the mirror through a
// Grant.  Run returns when the strategy converges, its sweep finishes, or
// the context is cancelled; releasing the grant is the caller's job.
type Controller interface {
	Name() string
	Run(ctx context.Context, g *Grant) error
}

// Factory builds a controller from the option values of its strategy
type Factory func(opts map[string]options.Value, logger *log.Logger) (Controller, error)

var (
	regMu     sync.Mutex
	factories = map[string]Factory{}
	schemas   = map[string]options.Schema{}
)

// Register adds a strategy under name with its option schema.  Registering
// the same name twice panics; strategy names are program constants.
func Register(name string, schema options.Schema, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("control: strategy %q registered twice", name))
	}
	factories[name] = f
	schemas[name] = schema
}

// Strategies returns the registered strategy names in sorted order
func Strategies() []string {
	regMu.Lock()
	defer regMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the option schemas of every registered strategy, suitable
// for seeding an options.Store
func Schemas() map[string]options.Schema {
	regMu.Lock()
	defer regMu.Unlock()
	out := make(map[string]options.Schema, len(schemas))
	for name, schema := range schemas {
		out[name] = schema
	}
	return out
}

// NewController builds a controller by strategy name from explicit option
// values
func NewController(name string, opts map[string]options.Value, logger *log.Logger) (Controller, error) {
	regMu.Lock()
	f, ok := factories[name]
	regMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("control: unknown strategy %q", name)
	}
	if logger == nil {
		logger = log.Default()
	}
	return f(opts, logger)
}

// InstanceController builds the controller for a strategy from the option
// store.  When construction fails the error is logged and the controller is
// rebuilt from the schema defaults; a session never dies over a stale or
// corrupt option set.
func (c *Coordinator) InstanceController(name string, store *options.Store) (Controller, error) {
	_, opts, err := store.Options(name)
	if err != nil {
		return nil, err
	}
	ctrl, err := NewController(name, opts, c.log)
	if err == nil {
		return ctrl, nil
	}
	c.log.Printf("controller %q: %v; falling back to defaults", name, err)

	regMu.Lock()
	schema, ok := schemas[name]
	regMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("control: unknown strategy %q", name)
	}
	defaults := make(map[string]options.Value, len(schema))
	for key, spec := range schema {
		defaults[key] = spec.Default
	}
	return NewController(name, defaults, c.log)
}

// option extraction helpers shared by the built-in factories

func floatOpt(opts map[string]options.Value, key string) (float64, error) {
	v, ok := opts[key]
	if !ok {
		return 0, fmt.Errorf("control: option %q missing", key)
	}
	if v.Kind != options.Float {
		return 0, fmt.Errorf("control: option %q is %s, want float", key, v.Kind)
	}
	return v.Float, nil
}

func intOpt(opts map[string]options.Value, key string) (int, error) {
	v, ok := opts[key]
	if !ok {
		return 0, fmt.Errorf("control: option %q missing", key)
	}
	if v.Kind != options.Int {
		return 0, fmt.Errorf("control: option %q is %s, want int", key, v.Kind)
	}
	return v.Int, nil
}

func listOpt(opts map[string]options.Value, key string) ([]float64, error) {
	v, ok := opts[key]
	if !ok {
		return nil, fmt.Errorf("control: option %q missing", key)
	}
	if v.Kind != options.FloatList {
		return nil, fmt.Errorf("control: option %q is %s, want float list", key, v.Kind)
	}
	return v.List, nil
}

func init() {
	Register("zernike", options.Schema{
		"gain": {
			Kind: options.Float, Min: options.Bound(0), Max: options.Bound(1),
			Default:     options.FloatValue(0.5),
			Description: "loop gain applied to the coefficient error each iteration",
		},
		"settle_ms": {
			Kind: options.Int, Min: options.Bound(0), Max: options.Bound(1000),
			Default:     options.IntValue(20),
			Description: "mirror settle time between iterations, milliseconds",
		},
		"exclude": {
			Kind:        options.FloatList,
			Default:     options.ListValue(),
			Description: "mode indices the loop leaves untouched",
		},
	}, newZernikeLoop)

	Register("sweep", options.Schema{
		"steps": {
			Kind: options.Int, Min: options.Bound(1), Max: options.Bound(1000),
			Default:     options.IntValue(10),
			Description: "samples per mode across the amplitude range",
		},
		"amplitude": {
			Kind: options.Float, Min: options.Bound(0), Max: options.Bound(2),
			Default:     options.FloatValue(0.5),
			Description: "peak coefficient amplitude, radians",
		},
		"modes": {
			Kind: options.FloatList, Min: options.Bound(0),
			Default:     options.ListValue(3, 4, 5),
			Description: "mode indices to sweep",
		},
	}, newSweep)
}

// zernikeLoop drives the coefficient vector toward zero, mode by mode, with
// a fixed gain.  Excluded modes keep their value.
type zernikeLoop struct {
	gain    float64
	settle  time.Duration
	exclude map[int]bool
	log     *log.Logger
}

const loopIterations = 50

func newZernikeLoop(opts map[string]options.Value, logger *log.Logger) (Controller, error) {
	gain, err := floatOpt(opts, "gain")
	if err != nil {
		return nil, err
	}
	settle, err := intOpt(opts, "settle_ms")
	if err != nil {
		return nil, err
	}
	excl, err := listOpt(opts, "exclude")
	if err != nil {
		return nil, err
	}
	set := make(map[int]bool, len(excl))
	for _, f := range excl {
		set[int(f)] = true
	}
	return &zernikeLoop{
		gain:    gain,
		settle:  time.Duration(settle) * time.Millisecond,
		exclude: set,
		log:     logger,
	}, nil
}

func (c *zernikeLoop) Name() string { return "zernike" }

func (c *zernikeLoop) Run(ctx context.Context, g *Grant) error {
	for iter := 0; iter < loopIterations; iter++ {
		z, err := g.Z()
		if err != nil {
			return err
		}
		var resid float64
		for j := range z {
			if c.exclude[j] {
				continue
			}
			z[j] *= 1 - c.gain
			resid += z[j] * z[j]
		}
		if err := g.WriteCoefficients(z); err != nil {
			return err
		}
		if math.Sqrt(resid) < 1e-9 {
			c.log.Printf("zernike loop converged after %d iterations", iter+1)
			return nil
		}
		if err := sleepCtx(ctx, c.settle); err != nil {
			return err
		}
	}
	return nil
}

// sweep steps each listed mode through [-amplitude, amplitude] one at a
// time, zeroing the others, and ends on an all-zero vector
type sweep struct {
	steps     int
	amplitude float64
	modes     []int
	log       *log.Logger
}

func newSweep(opts map[string]options.Value, logger *log.Logger) (Controller, error) {
	steps, err := intOpt(opts, "steps")
	if err != nil {
		return nil, err
	}
	amp, err := floatOpt(opts, "amplitude")
	if err != nil {
		return nil, err
	}
	raw, err := listOpt(opts, "modes")
	if err != nil {
		return nil, err
	}
	modes := make([]int, 0, len(raw))
	for _, f := range raw {
		modes = append(modes, int(f))
	}
	return &sweep{steps: steps, amplitude: amp, modes: modes, log: logger}, nil
}

func (c *sweep) Name() string { return "sweep" }

func (c *sweep) Run(ctx context.Context, g *Grant) error {
	z, err := g.Z()
	if err != nil {
		return err
	}
	nk := len(z)
	for _, m := range c.modes {
		if m < 0 || m >= nk {
			c.log.Printf("sweep: mode %d outside the basis, skipped", m)
			continue
		}
		for s := 0; s < c.steps; s++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			v := c.amplitude
			if c.steps > 1 {
				v = -c.amplitude + 2*c.amplitude*float64(s)/float64(c.steps-1)
			}
			cmd := make([]float64, nk)
			cmd[m] = v
			if err := g.WriteCoefficients(cmd); err != nil {
				return err
			}
		}
	}
	return g.WriteCoefficients(make([]float64, nk))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
