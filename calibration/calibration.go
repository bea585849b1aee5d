// Package calibration holds the mapping between Zernike coefficient space
// and deformable mirror actuator space.  A Calibration is an immutable
// snapshot fit offline; both directions of the mapping come from the same
// snapshot so they stay mutually consistent for the life of a control
// session.
package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrDimension is returned when a vector does not match the calibration geometry
	ErrDimension = errors.New("calibration: vector length does not match calibration")

	// ErrSingular is returned when the normal matrix of the inverse fit cannot be solved
	ErrSingular = errors.New("calibration: normal matrix is singular")
)

// Matrix is a dense row-major matrix
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix allocates a zeroed rows x cols matrix
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns element (i, j)
func (m Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

// Set assigns element (i, j)
func (m Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// MulVec computes m @ v
func (m Matrix) MulVec(v []float64) ([]float64, error) {
	if len(v) != m.Cols {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrDimension, len(v), m.Cols)
	}
	out := make([]float64, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		var s float64
		for j, x := range v {
			s += row[j] * x
		}
		out[i] = s
	}
	return out, nil
}

// Calibration is the fixed linear relation between coefficient space and
// actuator space, plus the metadata the panel needs (wavelength, geometry,
// flat pattern).
type Calibration struct {
	// Wavelength of the calibration beam, nanometers
	Wavelength float64

	// RadialOrder is the maximum Zernike radial order of the fit
	RadialOrder int

	// Serial is the serial number of the mirror the fit was taken against
	Serial string

	// Forward maps coefficients to actuator commands, nu x nk
	Forward Matrix

	// Inverse maps actuator commands back to coefficients, nk x nu.
	// It is the least-squares pseudo-inverse of Forward, so round trips
	// agree only up to the fit residual.
	Inverse Matrix

	// Flat is the actuator pattern that best flattens the mirror
	Flat []float64
}

// Nk returns the number of Zernike modes in the calibration
func (c *Calibration) Nk() int { return c.Forward.Cols }

// Nu returns the number of actuators in the calibration
func (c *Calibration) Nu() int { return c.Forward.Rows }

// CoeffToActuator maps a coefficient vector to an actuator command vector
func (c *Calibration) CoeffToActuator(z []float64) ([]float64, error) {
	return c.Forward.MulVec(z)
}

// ActuatorToCoeff maps an actuator command vector back to coefficients
func (c *Calibration) ActuatorToCoeff(u []float64) ([]float64, error) {
	return c.Inverse.MulVec(u)
}

// Validate checks the internal consistency of the snapshot
func (c *Calibration) Validate() error {
	if c.Forward.Rows == 0 || c.Forward.Cols == 0 {
		return fmt.Errorf("calibration: empty forward map")
	}
	if c.Inverse.Rows != c.Forward.Cols || c.Inverse.Cols != c.Forward.Rows {
		return fmt.Errorf("calibration: inverse map is %dx%d, want %dx%d",
			c.Inverse.Rows, c.Inverse.Cols, c.Forward.Cols, c.Forward.Rows)
	}
	if len(c.Flat) != c.Forward.Rows {
		return fmt.Errorf("calibration: flat pattern has %d entries, want %d", len(c.Flat), c.Forward.Rows)
	}
	if c.Wavelength <= 0 {
		return fmt.Errorf("calibration: nonpositive wavelength %f", c.Wavelength)
	}
	return nil
}

// New assembles a snapshot from a forward map, computing the inverse by
// least squares.  flat may be nil for an all-zero flat pattern.
func New(wavelength float64, radialOrder int, serial string, forward Matrix, flat []float64) (*Calibration, error) {
	if flat == nil {
		flat = make([]float64, forward.Rows)
	}
	inv, err := FitInverse(forward)
	if err != nil {
		return nil, err
	}
	c := &Calibration{
		Wavelength:  wavelength,
		RadialOrder: radialOrder,
		Serial:      serial,
		Forward:     forward,
		Inverse:     inv,
		Flat:        flat,
	}
	return c, c.Validate()
}

// FitInverse computes the least-squares pseudo-inverse (H^T H)^-1 H^T of the
// forward map by forming the normal equations and solving them column by
// column with Gaussian elimination.  Requires at least as many actuators as
// modes and a full-rank forward map.
func FitInverse(h Matrix) (Matrix, error) {
	nu, nk := h.Rows, h.Cols
	if nu < nk {
		return Matrix{}, fmt.Errorf("calibration: forward map is underdetermined (%d actuators < %d modes)", nu, nk)
	}
	// normal matrix A = H^T H (nk x nk)
	a := NewMatrix(nk, nk)
	for i := 0; i < nk; i++ {
		for j := 0; j < nk; j++ {
			var s float64
			for k := 0; k < nu; k++ {
				s += h.At(k, i) * h.At(k, j)
			}
			a.Set(i, j, s)
		}
	}
	// right hand sides B = H^T (nk x nu); solving A X = B gives X = Hinv
	b := NewMatrix(nk, nu)
	for i := 0; i < nk; i++ {
		for j := 0; j < nu; j++ {
			b.Set(i, j, h.At(j, i))
		}
	}
	return solve(a, b)
}

// solve computes X such that A X = B by Gaussian elimination with partial
// pivoting.  A is square and is destroyed in the process (both arguments are
// copied first).
func solve(a, b Matrix) (Matrix, error) {
	n := a.Rows
	aug := NewMatrix(n, n+b.Cols)
	for i := 0; i < n; i++ {
		copy(aug.Data[i*aug.Cols:i*aug.Cols+n], a.Data[i*n:(i+1)*n])
		copy(aug.Data[i*aug.Cols+n:(i+1)*aug.Cols], b.Data[i*b.Cols:(i+1)*b.Cols])
	}

	for col := 0; col < n; col++ {
		pivot := col
		maxAbs := abs(aug.At(col, col))
		for r := col + 1; r < n; r++ {
			if abs(aug.At(r, col)) > maxAbs {
				maxAbs = abs(aug.At(r, col))
				pivot = r
			}
		}
		if maxAbs == 0 {
			return Matrix{}, ErrSingular
		}
		if pivot != col {
			swapRows(aug, pivot, col)
		}
		for r := col + 1; r < n; r++ {
			factor := aug.At(r, col) / aug.At(col, col)
			if factor == 0 {
				continue
			}
			for c := col; c < aug.Cols; c++ {
				aug.Set(r, c, aug.At(r, c)-factor*aug.At(col, c))
			}
		}
	}

	x := NewMatrix(n, b.Cols)
	for i := n - 1; i >= 0; i-- {
		piv := aug.At(i, i)
		if piv == 0 {
			return Matrix{}, ErrSingular
		}
		for j := 0; j < b.Cols; j++ {
			s := aug.At(i, n+j)
			for k := i + 1; k < n; k++ {
				s -= aug.At(i, k) * x.At(k, j)
			}
			x.Set(i, j, s/piv)
		}
	}
	return x, nil
}

func swapRows(m Matrix, i, j int) {
	ri := m.Data[i*m.Cols : (i+1)*m.Cols]
	rj := m.Data[j*m.Cols : (j+1)*m.Cols]
	for k := range ri {
		ri[k], rj[k] = rj[k], ri[k]
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
