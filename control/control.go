// Package control owns the actuator command vector of a deformable mirror
// and arbitrates access to it between interactive coefficient editing and an
// external automated controller.  Exactly one ZernikeControl exists per
// mirror; every path that moves the hardware goes through it.
package control

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opticslab/zpanel/calibration"
	"github.com/opticslab/zpanel/dm"
	"github.com/opticslab/zpanel/mathx"
)

// ErrActuatorRange is returned for a manual actuator command outside [-1, 1]
var ErrActuatorRange = errors.New("control: actuator command outside [-1, 1]")

// ZernikeControl maps coefficient vectors onto the mirror through a
// calibration snapshot.  It owns the actuator command vector u; u is only
// replaced after the hardware accepted the write, so a device error never
// leaves it half updated.
type ZernikeControl struct {
	mu    sync.Mutex
	dev   dm.DM
	calib *calibration.Calibration

	u         []float64
	flatOn    bool
	saturated bool
}

// NewZernikeControl binds a device to a calibration snapshot.  The snapshot
// geometry must match the device actuator count.
func NewZernikeControl(dev dm.DM, calib *calibration.Calibration, flatOn bool) (*ZernikeControl, error) {
	if err := calib.Validate(); err != nil {
		return nil, err
	}
	if dev.Actuators() != calib.Nu() {
		return nil, fmt.Errorf("control: device has %d actuators, calibration was fit for %d",
			dev.Actuators(), calib.Nu())
	}
	return &ZernikeControl{
		dev:    dev,
		calib:  calib,
		u:      make([]float64, calib.Nu()),
		flatOn: flatOn,
	}, nil
}

// Nk returns the coefficient vector length of the calibration
func (c *ZernikeControl) Nk() int { return c.calib.Nk() }

// Nu returns the actuator count
func (c *ZernikeControl) Nu() int { return c.calib.Nu() }

// clampVec clamps raw to [-1, 1] into a fresh slice and reports whether any
// sample was out of range before clamping
func clampVec(raw []float64) ([]float64, bool) {
	cmd := make([]float64, len(raw))
	sat := false
	for i, x := range raw {
		if x < -1 || x > 1 {
			sat = true
		}
		cmd[i] = mathx.Clamp(x, -1, 1)
	}
	return cmd, sat
}

// Write maps a coefficient vector through the calibration and sends the
// clamped result to the mirror.  The flat pattern is added first when
// enabled.  The saturation flag reflects whether any raw sample fell outside
// [-1, 1] before clamping.
func (c *ZernikeControl) Write(z []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeZ(z)
}

func (c *ZernikeControl) writeZ(z []float64) error {
	raw, err := c.calib.CoeffToActuator(z)
	if err != nil {
		return err
	}
	if c.flatOn {
		for i := range raw {
			raw[i] += c.calib.Flat[i]
		}
	}
	return c.commit(raw)
}

// commit clamps raw, writes it to the device, and only then adopts it as the
// current command vector
func (c *ZernikeControl) commit(raw []float64) error {
	cmd, sat := clampVec(raw)
	if err := c.dev.SetArray(cmd); err != nil {
		return err
	}
	copy(c.u, cmd)
	c.saturated = sat
	return nil
}

// WriteActuators sends a raw actuator vector to the mirror, clamped to
// [-1, 1], updating the saturation flag
func (c *ZernikeControl) WriteActuators(u []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(u) != len(c.u) {
		return fmt.Errorf("%w: have %d, want %d", calibration.ErrDimension, len(u), len(c.u))
	}
	return c.commit(u)
}

// Preview adopts an actuator vector for display without touching the
// hardware.  The external controller's draw updates land here.
func (c *ZernikeControl) Preview(u []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(u) != len(c.u) {
		return fmt.Errorf("%w: have %d, want %d", calibration.ErrDimension, len(u), len(c.u))
	}
	cmd, sat := clampVec(u)
	copy(c.u, cmd)
	c.saturated = sat
	return nil
}

// SetActuator commands a single actuator to v and returns the coefficient
// vector implied by the new command, found through the inverse map
func (c *ZernikeControl) SetActuator(i int, v float64) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.u) {
		return nil, fmt.Errorf("%w: actuator %d of %d", calibration.ErrDimension, i, len(c.u))
	}
	if v < -1 || v > 1 {
		return nil, fmt.Errorf("%w: %g", ErrActuatorRange, v)
	}
	cand := make([]float64, len(c.u))
	copy(cand, c.u)
	cand[i] = v
	if err := c.commit(cand); err != nil {
		return nil, err
	}
	return c.u2z()
}

// U2Z maps the current command vector back to coefficient space, subtracting
// the flat pattern first when it is enabled
func (c *ZernikeControl) U2Z() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.u2z()
}

func (c *ZernikeControl) u2z() ([]float64, error) {
	t := make([]float64, len(c.u))
	copy(t, c.u)
	if c.flatOn {
		for i := range t {
			t[i] -= c.calib.Flat[i]
		}
	}
	return c.calib.ActuatorToCoeff(t)
}

// U returns a copy of the current actuator command vector
func (c *ZernikeControl) U() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.u))
	copy(out, c.u)
	return out
}

// Saturated reports whether the last update clipped any actuator
func (c *ZernikeControl) Saturated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saturated
}

// FlatEnabled reports whether the flat pattern is added to every write
func (c *ZernikeControl) FlatEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flatOn
}

// SetFlatEnabled toggles the flat pattern and rewrites the mirror so the
// current coefficients stay in effect under the new setting
func (c *ZernikeControl) SetFlatEnabled(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on == c.flatOn {
		return nil
	}
	z, err := c.u2z()
	if err != nil {
		return err
	}
	c.flatOn = on
	if err := c.writeZ(z); err != nil {
		c.flatOn = !on
		return err
	}
	return nil
}

// Zero flattens the coefficient vector and writes the result (the flat
// pattern alone when enabled, all zeros otherwise)
func (c *ZernikeControl) Zero() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeZ(make([]float64, c.calib.Nk()))
}

// Calibration returns the snapshot the control was built over
func (c *ZernikeControl) Calibration() *calibration.Calibration { return c.calib }
