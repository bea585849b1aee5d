package panel

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/opticslab/zpanel/mathx"
	"github.com/opticslab/zpanel/zernike"
)

// DefaultShownModes is how many coefficient rows are editable before the
// operator changes the count
const DefaultShownModes = 21

// DefaultGridSize is the edge length of the phase display grid
const DefaultGridSize = 128

var (
	// ErrDisabled is returned by mutating calls while an external
	// controller owns the command vector
	ErrDisabled = errors.New("panel: interactive editing is disabled during an external acquisition")

	// ErrModeRange is returned for an index outside the shown modes
	ErrModeRange = errors.New("panel: mode index outside the shown range")
)

// Stats summarizes the derived phase field in the current display unit
type Stats struct {
	// Unit is "rad" or "nm"
	Unit string  `json:"unit"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	PV   float64 `json:"pv"`
	RMS  float64 `json:"rms"`
}

// Panel owns the Zernike coefficient vector and its display transform.  The
// coefficient vector is created once per control session with the length
// fixed by the calibration; only the number of editable rows changes
// afterwards.  Coefficients are stored in radians; the display multiplier
// converts to nanometers when the nm unit is selected.
//
// Panel is safe for concurrent use.  The downstream callback always runs
// with the panel lock released, so the control layer may hold its own lock
// while pushing coefficients back in through SetCoefficients.
type Panel struct {
	mu sync.Mutex

	basis *zernike.Basis

	z       []float64
	sliders []*RelSlider
	labels  map[string]string

	shown   int
	unitNm  bool
	mul     float64
	radToNm float64

	enabled bool

	phase []float64
	stats Stats

	// callback receives z after every edit; the control layer uses it
	// to push the coefficients through the actuator map
	callback func([]float64)
}

// New builds a panel over a basis.  wavelength is in nanometers and sets the
// rad-to-nm display conversion.  z0 seeds the coefficient vector and may be
// nil for all-zero; its length must match the basis.  The callback does not
// fire for the construction-time refresh; only edits push downstream.
func New(basis *zernike.Basis, wavelength float64, z0 []float64, callback func([]float64)) (*Panel, error) {
	nk := basis.Nk()
	if z0 != nil && len(z0) != nk {
		return nil, fmt.Errorf("panel: initial coefficients have %d entries, basis has %d modes", len(z0), nk)
	}
	if basis.GridSize() == 0 {
		if err := basis.Grid(DefaultGridSize); err != nil {
			return nil, err
		}
	}
	p := &Panel{
		basis:    basis,
		z:        make([]float64, nk),
		labels:   map[string]string{},
		shown:    DefaultShownModes,
		mul:      1.0,
		radToNm:  wavelength / (2 * math.Pi),
		enabled:  true,
		callback: callback,
	}
	if z0 != nil {
		copy(p.z, z0)
	}
	if p.shown > nk {
		p.shown = nk
	}
	p.sliders = make([]*RelSlider, nk)
	for i := 0; i < nk; i++ {
		p.sliders[i] = NewRelSlider(p.z[i], nil)
	}
	p.seedLabels()
	p.refresh(false)
	return p, nil
}

func (p *Panel) seedLabels() {
	for i := 0; i < p.basis.Nk(); i++ {
		key := strconv.Itoa(i)
		if _, ok := p.labels[key]; !ok {
			p.labels[key] = zernike.DefaultName(i+1, p.basis.N(i), p.basis.M(i))
		}
	}
}

// Nk returns the coefficient vector length
func (p *Panel) Nk() int { return len(p.z) }

// Shown returns the number of editable coefficient rows
func (p *Panel) Shown() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

// Coefficients returns a copy of the coefficient vector in radians
func (p *Panel) Coefficients() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]float64, len(p.z))
	copy(out, p.z)
	return out
}

func (p *Panel) checkMode(i int) error {
	if !p.enabled {
		return ErrDisabled
	}
	if i < 0 || i >= p.shown {
		return fmt.Errorf("%w: %d of %d", ErrModeRange, i, p.shown)
	}
	return nil
}

// SetMode assigns coefficient i from a value in the displayed unit
func (p *Panel) SetMode(i int, displayed float64) error {
	p.mu.Lock()
	if err := p.checkMode(i); err != nil {
		p.mu.Unlock()
		return err
	}
	p.z[i] = displayed / p.mul
	p.sliders[i].SetValue(displayed)
	z := p.refresh(true)
	p.mu.Unlock()
	p.notify(z)
	return nil
}

// Mode returns coefficient i in the displayed unit
func (p *Panel) Mode(i int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.z) {
		return 0, fmt.Errorf("%w: %d of %d", ErrModeRange, i, len(p.z))
	}
	return p.z[i] * p.mul, nil
}

// Reset zeroes the coefficient vector in place
func (p *Panel) Reset() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return ErrDisabled
	}
	for i := range p.z {
		p.z[i] = 0
	}
	p.syncSliders()
	z := p.refresh(true)
	p.mu.Unlock()
	p.notify(z)
	return nil
}

// ResizeShown changes the number of editable rows.  The coefficient vector
// itself never changes length; k is clamped to [1, Nk].
func (p *Panel) ResizeShown(k int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k < 1 {
		k = 1
	}
	if k > len(p.z) {
		k = len(p.z)
	}
	p.shown = k
	return k
}

// SetUnitNm selects nanometer display when true, radians when false
func (p *Panel) SetUnitNm(nm bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unitNm = nm
	if nm {
		p.mul = p.radToNm
	} else {
		p.mul = 1.0
	}
	p.syncSliders()
	p.refresh(false)
}

// Unit returns the current display unit name
func (p *Panel) Unit() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unitName()
}

// unitName is Unit without the lock; refresh needs it while mu is held
func (p *Panel) unitName() string {
	if p.unitNm {
		return "nm"
	}
	return "rad"
}

// Label returns the operator-assigned name of mode i
func (p *Panel) Label(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.labels[strconv.Itoa(i)]
}

// SetLabel renames mode i
func (p *Panel) SetLabel(i int, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.z) {
		return fmt.Errorf("%w: %d of %d", ErrModeRange, i, len(p.z))
	}
	p.labels[strconv.Itoa(i)] = name
	return nil
}

// Labels returns a copy of the mode label map, keyed by decimal mode index
func (p *Panel) Labels() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.labels))
	for k, v := range p.labels {
		out[k] = v
	}
	return out
}

// LoadLabels merges stored labels over the defaults
func (p *Panel) LoadLabels(labels map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range labels {
		p.labels[k] = v
	}
}

// Enable re-admits interactive edits after a handoff release
func (p *Panel) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Disable rejects interactive edits for the duration of an acquisition
func (p *Panel) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// Enabled reports whether interactive edits are admitted
func (p *Panel) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetCoefficients overwrites the vector from an external source (handoff
// release or a controller draw) without going through the editing gate
func (p *Panel) SetCoefficients(z []float64, runCallback bool) error {
	p.mu.Lock()
	if len(z) != len(p.z) {
		p.mu.Unlock()
		return fmt.Errorf("panel: coefficient vector has %d entries, want %d", len(z), len(p.z))
	}
	copy(p.z, z)
	p.syncSliders()
	out := p.refresh(runCallback)
	p.mu.Unlock()
	p.notify(out)
	return nil
}

func (p *Panel) syncSliders() {
	for i, s := range p.sliders {
		s.SetValue(p.z[i] * p.mul)
	}
}

// SliderBegin starts a relative gesture on mode i, anchoring at its current
// value
func (p *Panel) SliderBegin(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMode(i); err != nil {
		return err
	}
	p.sliders[i].BeginGesture()
	return nil
}

// SliderUpdate moves the gesture on mode i to rel in [-100, 100] and applies
// the value derived from the anchor to the coefficient.  An update without a
// gesture in flight recenters the control and edits nothing.
func (p *Panel) SliderUpdate(i, rel int) error {
	p.mu.Lock()
	if err := p.checkMode(i); err != nil {
		p.mu.Unlock()
		return err
	}
	s := p.sliders[i]
	if err := s.UpdateGesture(rel); err != nil {
		p.mu.Unlock()
		return err
	}
	var z []float64
	if s.Gesturing() {
		p.z[i] = s.Value() / p.mul
		z = p.refresh(true)
	}
	p.mu.Unlock()
	p.notify(z)
	return nil
}

// SliderEnd finishes the gesture on mode i, recentering the transient control
func (p *Panel) SliderEnd(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMode(i); err != nil {
		return err
	}
	p.sliders[i].EndGesture()
	return nil
}

// SliderMaxDelta returns the gesture sensitivity of mode i
func (p *Panel) SliderMaxDelta(i int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMode(i); err != nil {
		return 0, err
	}
	return p.sliders[i].MaxDelta(), nil
}

// SetSliderMaxDelta adjusts the gesture sensitivity of mode i
func (p *Panel) SetSliderMaxDelta(i int, m float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMode(i); err != nil {
		return err
	}
	return p.sliders[i].SetMaxDelta(m)
}

// Recompute re-derives the phase field and stats and invokes the downstream
// callback with the coefficient vector
func (p *Panel) Recompute() {
	p.mu.Lock()
	z := p.refresh(true)
	p.mu.Unlock()
	p.notify(z)
}

// refresh re-evaluates the phase field.  Stats exclude the non-finite
// samples outside the pupil; a field with no finite samples reports zeros.
// The caller must hold mu; the returned snapshot, nil when the callback
// should not run, is handed to notify after the lock is released.
func (p *Panel) refresh(runCallback bool) []float64 {
	phi, err := p.basis.Eval(p.z)
	if err != nil {
		// the vector length is pinned at construction, so this cannot
		// happen outside of programmer error
		panic(err)
	}
	if p.mul != 1.0 {
		for i := range phi {
			phi[i] *= p.mul
		}
	}
	p.phase = phi
	min, max, n := mathx.FiniteMinMax(phi)
	if n == 0 {
		min, max = 0, 0
	}
	p.stats = Stats{
		Unit: p.unitName(),
		Min:  min,
		Max:  max,
		PV:   max - min,
		RMS:  p.mul * mathx.L2Norm(p.z),
	}
	if runCallback && p.callback != nil {
		out := make([]float64, len(p.z))
		copy(out, p.z)
		return out
	}
	return nil
}

// notify hands a refresh snapshot to the downstream callback.  mu must not
// be held here: the callback takes the coordinator lock, and the coordinator
// pushes into the panel while holding it, so calling out under mu would
// invert the lock order.
func (p *Panel) notify(z []float64) {
	if z != nil {
		p.callback(z)
	}
}

// Stats returns the summary of the last derived phase field
func (p *Panel) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Phase returns the last derived phase field in display units, row-major,
// GridSize x GridSize.  Each refresh publishes a fresh slice, so the result
// is stable after return.
func (p *Panel) Phase() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// GridSize returns the edge length of the phase field
func (p *Panel) GridSize() int { return p.basis.GridSize() }
