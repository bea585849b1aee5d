package mathx_test

import (
	"math"
	"testing"

	"github.com/opticslab/zpanel/mathx"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = -1.
		high  = 1.
		input = 2.
	)
	clamped := mathx.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = -1.
		high  = 1.
		input = -2.
	)
	clamped := mathx.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestL2NormPythagorean(t *testing.T) {
	out := mathx.L2Norm([]float64{3, 4})
	if out != 5 {
		t.Errorf("expected norm of 3-4-5 triangle to be 5, got %f", out)
	}
}

func TestFiniteMinMaxSkipsNonFinite(t *testing.T) {
	v := []float64{math.NaN(), -2, math.Inf(1), 3, math.Inf(-1)}
	min, max, n := mathx.FiniteMinMax(v)
	if n != 2 {
		t.Errorf("expected 2 finite samples, got %d", n)
	}
	if min != -2 || max != 3 {
		t.Errorf("expected min -2 max 3, got %f %f", min, max)
	}
}

func TestFiniteMinMaxAllNaN(t *testing.T) {
	v := []float64{math.NaN(), math.NaN()}
	min, max, n := mathx.FiniteMinMax(v)
	if n != 0 {
		t.Errorf("expected 0 finite samples, got %d", n)
	}
	if min != 0 || max != 0 {
		t.Errorf("expected zero min/max for empty scan, got %f %f", min, max)
	}
}
