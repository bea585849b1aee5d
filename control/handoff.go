package control

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/opticslab/zpanel/panel"
)

// State is the coordinator handoff state
type State int

const (
	// Idle means interactive editing owns the command vector
	Idle State = iota
	// AcquiredByController means an external controller owns it
	AcquiredByController
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AcquiredByController:
		return "acquired"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyAcquired is returned when the vector is acquired while a
	// controller already holds it, or when interactive edits arrive during
	// an acquisition
	ErrAlreadyAcquired = errors.New("control: command vector already acquired")

	// ErrNotAcquired is returned for controller calls outside an acquisition
	ErrNotAcquired = errors.New("control: command vector is not acquired")

	// ErrBadToken is returned when a controller call carries a token that
	// does not match the acquisition
	ErrBadToken = errors.New("control: token does not match the acquisition")
)

// Surface is anything that must stop accepting interactive edits while a
// controller holds the command vector.  The HTTP locker is one; the panel
// itself is registered at construction.
type Surface interface {
	Enable()
	Disable()
}

// Coordinator arbitrates exclusive ownership of the command vector between
// the interactive panel and an external controller.  All transitions happen
// under one mutex; the state machine has exactly two states.
type Coordinator struct {
	mu    sync.Mutex
	state State
	token string

	ctl      *ZernikeControl
	pnl      *panel.Panel
	surfaces []Surface

	closeWanted bool
	closing     chan struct{}

	log *log.Logger
}

// NewCoordinator wires a coordinator over the control and the panel.  logger
// may be nil for the default logger.
func NewCoordinator(ctl *ZernikeControl, pnl *panel.Panel, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		ctl:     ctl,
		pnl:     pnl,
		closing: make(chan struct{}),
		log:     logger,
	}
	c.surfaces = append(c.surfaces, pnl)
	return c
}

// RegisterSurface adds a surface to be disabled for the duration of every
// acquisition
func (c *Coordinator) RegisterSurface(s Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surfaces = append(c.surfaces, s)
}

// State returns the current handoff state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Grant is the handle an external controller works the command vector
// through while it holds the acquisition
type Grant struct {
	c     *Coordinator
	token string
}

// Acquire transfers ownership of the command vector to a controller
// identified by token.  It fails without touching the state when a
// controller already holds the vector.
func (c *Coordinator) Acquire(token string) (*Grant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrBadToken)
	}
	if c.state != Idle {
		return nil, ErrAlreadyAcquired
	}
	c.state = AcquiredByController
	c.token = token
	for _, s := range c.surfaces {
		s.Disable()
	}
	c.log.Printf("handoff: acquired by %q", token)
	return &Grant{c: c, token: token}, nil
}

// check validates a controller call against the current acquisition.  The
// caller holds the mutex.
func (c *Coordinator) check(token string) error {
	if c.state != AcquiredByController {
		return ErrNotAcquired
	}
	if token != c.token {
		return ErrBadToken
	}
	return nil
}

// DrawUpdate adopts an actuator vector for display only: the panel redraws
// and the saturation status updates, but the hardware is not written.  After
// release the call is rejected with ErrNotAcquired and changes nothing.
func (c *Coordinator) DrawUpdate(token string, u []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(token); err != nil {
		return err
	}
	if err := c.ctl.Preview(u); err != nil {
		return err
	}
	return c.pushCoefficients()
}

// WriteUpdate sends an actuator vector to the hardware on behalf of the
// controller and refreshes the display
func (c *Coordinator) WriteUpdate(token string, u []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(token); err != nil {
		return err
	}
	if err := c.ctl.WriteActuators(u); err != nil {
		return err
	}
	return c.pushCoefficients()
}

// WriteCoefficients sends a coefficient vector to the hardware on behalf of
// the controller and refreshes the display
func (c *Coordinator) WriteCoefficients(token string, z []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(token); err != nil {
		return err
	}
	if err := c.ctl.Write(z); err != nil {
		return err
	}
	return c.pushCoefficients()
}

// pushCoefficients maps the current command vector back to coefficient space
// and updates the panel display.  The caller holds the mutex; the panel
// callback is not run, the hardware is already consistent.
func (c *Coordinator) pushCoefficients() error {
	z, err := c.ctl.U2Z()
	if err != nil {
		return err
	}
	return c.pnl.SetCoefficients(z, false)
}

// Release returns ownership of the command vector to interactive editing.
// A non-nil final vector is adopted and written to the hardware first; with
// final nil the vector the controller last drew or wrote stands, and the
// hardware is synced to it.  Either way the panel coefficients are rederived
// from the released vector before the surfaces come back.
func (c *Coordinator) Release(token string, final []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(token); err != nil {
		return err
	}
	if final == nil {
		final = c.ctl.U()
	}
	if err := c.ctl.WriteActuators(final); err != nil {
		return err
	}
	if err := c.pushCoefficients(); err != nil {
		return err
	}
	c.state = Idle
	c.token = ""
	for _, s := range c.surfaces {
		s.Enable()
	}
	c.log.Printf("handoff: released by %q", token)
	if c.closeWanted {
		c.closeWanted = false
		close(c.closing)
		c.closing = make(chan struct{})
	}
	return nil
}

// PanelWrite is the interactive write path: the panel callback routes its
// coefficient vector here so edits reach the hardware only while the vector
// is not acquired
func (c *Coordinator) PanelWrite(z []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return ErrAlreadyAcquired
	}
	return c.ctl.Write(z)
}

// SetActuator commands a single actuator while the vector is not acquired
// and reflects the change back into the panel coefficients
func (c *Coordinator) SetActuator(i int, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return ErrAlreadyAcquired
	}
	z, err := c.ctl.SetActuator(i, v)
	if err != nil {
		return err
	}
	return c.pnl.SetCoefficients(z, false)
}

// SetFlat toggles the flat pattern while the vector is not acquired
func (c *Coordinator) SetFlat(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return ErrAlreadyAcquired
	}
	return c.ctl.SetFlatEnabled(on)
}

// CloseRequested is called when shutdown is requested.  While a controller
// holds the vector the close is deferred: the call returns false and the
// Closing channel fires once the controller releases.
func (c *Coordinator) CloseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == AcquiredByController {
		c.closeWanted = true
		c.log.Print("handoff: close deferred until the controller releases")
		return false
	}
	return true
}

// Closing fires when a deferred close becomes possible
func (c *Coordinator) Closing() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Token reports the token of the current acquisition, empty while idle
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// U returns a copy of the command vector through the grant
func (g *Grant) U() []float64 { return g.c.ctl.U() }

// Z returns the coefficient vector implied by the current command vector
func (g *Grant) Z() ([]float64, error) { return g.c.ctl.U2Z() }

// Write sends an actuator vector to the hardware
func (g *Grant) Write(u []float64) error { return g.c.WriteUpdate(g.token, u) }

// WriteCoefficients sends a coefficient vector to the hardware
func (g *Grant) WriteCoefficients(z []float64) error { return g.c.WriteCoefficients(g.token, z) }

// Draw updates the display without a hardware write
func (g *Grant) Draw(u []float64) error { return g.c.DrawUpdate(g.token, u) }

// Release hands the vector back, adopting final when it is non-nil
func (g *Grant) Release(final []float64) error { return g.c.Release(g.token, final) }
