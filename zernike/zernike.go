// Package zernike evaluates Noll-indexed Zernike polynomials on a square
// grid over the unit disk.  It backs the phase display of the panel package;
// points outside the pupil evaluate to NaN and are excluded from statistics
// by the consumer.
package zernike

import (
	"fmt"
	"math"
)

// Basis holds the mode tables for all Zernike polynomials up to a maximum
// radial order, plus an optional precomputed sample grid.
type Basis struct {
	order int
	ntab  []int
	mtab  []int

	// grid samples, mode-major: samples[j*size*size : (j+1)*size*size]
	size    int
	samples []float64
}

// Nk returns the number of modes for radial order n, (n+1)(n+2)/2
func Nk(n int) int {
	return (n + 1) * (n + 2) / 2
}

// New creates a Basis spanning radial orders 0..n.  n must be at least 1.
func New(n int) (*Basis, error) {
	if n < 1 {
		return nil, fmt.Errorf("zernike: radial order must be >= 1, got %d", n)
	}
	b := &Basis{order: n}
	b.ntab, b.mtab = nollTables(n)
	return b, nil
}

// Order returns the maximum radial order of the basis
func (b *Basis) Order() int { return b.order }

// Nk returns the number of modes in the basis
func (b *Basis) Nk() int { return len(b.ntab) }

// N returns the radial degree of mode j (0-based Noll ordering)
func (b *Basis) N(j int) int { return b.ntab[j] }

// M returns the azimuthal frequency of mode j (0-based Noll ordering)
func (b *Basis) M(j int) int { return b.mtab[j] }

// nollTables builds the (n, m) tables in Noll order.  Within a radial order
// modes are sorted by |m| ascending; the sign of m is chosen so that even
// Noll indices carry the cosine (m >= 0) term and odd indices the sine.
func nollTables(order int) ([]int, []int) {
	nk := Nk(order)
	ntab := make([]int, 0, nk)
	mtab := make([]int, 0, nk)
	j := 1 // 1-based Noll index of the next mode to place
	for n := 0; n <= order; n++ {
		start := n % 2
		for am := start; am <= n; am += 2 {
			if am == 0 {
				ntab = append(ntab, n)
				mtab = append(mtab, 0)
				j++
				continue
			}
			first, second := am, -am
			if j%2 != 0 {
				first, second = -am, am
			}
			ntab = append(ntab, n, n)
			mtab = append(mtab, first, second)
			j += 2
		}
	}
	return ntab, mtab
}

// radial evaluates the Zernike radial polynomial R_n^|m| at rho
func radial(n, m int, rho float64) float64 {
	if m < 0 {
		m = -m
	}
	var out float64
	for k := 0; k <= (n-m)/2; k++ {
		num := float64(sign(k)) * factorial(n-k)
		den := factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k)
		out += num / den * math.Pow(rho, float64(n-2*k))
	}
	return out
}

func sign(k int) int {
	if k%2 == 0 {
		return 1
	}
	return -1
}

func factorial(n int) float64 {
	out := 1.0
	for i := 2; i <= n; i++ {
		out *= float64(i)
	}
	return out
}

// at evaluates mode j at polar coordinates (rho, theta) with Noll
// normalization, so every mode has unit RMS over the pupil
func (b *Basis) at(j int, rho, theta float64) float64 {
	n := b.ntab[j]
	m := b.mtab[j]
	r := radial(n, m, rho)
	switch {
	case m == 0:
		return math.Sqrt(float64(n+1)) * r
	case m > 0:
		return math.Sqrt(2*float64(n+1)) * r * math.Cos(float64(m)*theta)
	default:
		return math.Sqrt(2*float64(n+1)) * r * math.Sin(float64(-m)*theta)
	}
}

// Grid precomputes all mode samples on a size x size cartesian grid spanning
// [-1, 1] in both axes.  Samples with radius > 1 are NaN.  Grid must be
// called before Eval.
func (b *Basis) Grid(size int) error {
	if size < 2 {
		return fmt.Errorf("zernike: grid size must be >= 2, got %d", size)
	}
	nk := b.Nk()
	npx := size * size
	b.size = size
	b.samples = make([]float64, nk*npx)
	step := 2.0 / float64(size-1)
	for iy := 0; iy < size; iy++ {
		y := -1.0 + float64(iy)*step
		for ix := 0; ix < size; ix++ {
			x := -1.0 + float64(ix)*step
			rho := math.Hypot(x, y)
			idx := iy*size + ix
			if rho > 1 {
				for j := 0; j < nk; j++ {
					b.samples[j*npx+idx] = math.NaN()
				}
				continue
			}
			theta := math.Atan2(y, x)
			for j := 0; j < nk; j++ {
				b.samples[j*npx+idx] = b.at(j, rho, theta)
			}
		}
	}
	return nil
}

// GridSize returns the edge length of the precomputed grid, 0 if Grid has
// not been called
func (b *Basis) GridSize() int { return b.size }

// Eval computes the phase field sum_j z[j] * Z_j on the precomputed grid.
// The result has GridSize^2 samples in row-major order; samples outside the
// pupil are NaN.
func (b *Basis) Eval(z []float64) ([]float64, error) {
	if b.samples == nil {
		return nil, fmt.Errorf("zernike: Grid must be called before Eval")
	}
	if len(z) != b.Nk() {
		return nil, fmt.Errorf("zernike: coefficient vector has %d entries, basis has %d modes", len(z), b.Nk())
	}
	npx := b.size * b.size
	out := make([]float64, npx)
	for j, c := range z {
		if c == 0 {
			continue
		}
		mode := b.samples[j*npx : (j+1)*npx]
		for i := range out {
			out[i] += c * mode[i]
		}
	}
	// zero coefficients skip the accumulation entirely, so the off-pupil
	// NaNs must be stamped in unconditionally
	for i := 0; i < npx; i++ {
		if math.IsNaN(b.samples[i]) {
			out[i] = math.NaN()
		}
	}
	return out, nil
}
