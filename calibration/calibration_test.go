package calibration_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/opticslab/zpanel/calibration"
)

// testForward builds a well-conditioned synthetic forward map: a diagonal
// influence plus a small coupling to the neighboring mode.
func testForward(nu, nk int) calibration.Matrix {
	h := calibration.NewMatrix(nu, nk)
	for i := 0; i < nu; i++ {
		for j := 0; j < nk; j++ {
			if i%nk == j {
				h.Set(i, j, 0.5)
			}
			if (i+1)%nk == j {
				h.Set(i, j, 0.05)
			}
		}
	}
	return h
}

func testCalibration(t *testing.T) *calibration.Calibration {
	t.Helper()
	flat := make([]float64, 12)
	for i := range flat {
		flat[i] = 0.01 * float64(i)
	}
	c, err := calibration.New(632.8, 2, "MultiDM-17", testForward(12, 6), flat)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRoundTripWithinTolerance(t *testing.T) {
	c := testCalibration(t)
	z := []float64{0.1, -0.2, 0.3, 0, 0.05, -0.7}
	u, err := c.CoeffToActuator(z)
	if err != nil {
		t.Fatal(err)
	}
	z2, err := c.ActuatorToCoeff(u)
	if err != nil {
		t.Fatal(err)
	}
	// inverses agree only up to the least squares residual
	for i := range z {
		if math.Abs(z[i]-z2[i]) > 1e-9 {
			t.Errorf("mode %d: round trip drifted from %v to %v", i, z[i], z2[i])
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	c := testCalibration(t)
	if _, err := c.CoeffToActuator(make([]float64, 3)); err == nil {
		t.Error("expected a dimension error for a short coefficient vector")
	}
	if _, err := c.ActuatorToCoeff(make([]float64, 3)); err == nil {
		t.Error("expected a dimension error for a short actuator vector")
	}
}

func TestFitInverseSingular(t *testing.T) {
	// an all-zero forward map has a singular normal matrix
	if _, err := calibration.FitInverse(calibration.NewMatrix(8, 4)); err == nil {
		t.Error("expected FitInverse to fail on a rank-deficient map")
	}
}

func TestFitInverseUnderdetermined(t *testing.T) {
	if _, err := calibration.FitInverse(calibration.NewMatrix(3, 6)); err == nil {
		t.Error("expected FitInverse to reject fewer actuators than modes")
	}
}

func TestFITSRoundTrip(t *testing.T) {
	c := testCalibration(t)
	path := filepath.Join(t.TempDir(), "calib.fits")
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	c2, err := calibration.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c2.Wavelength != c.Wavelength {
		t.Errorf("wavelength: got %v, want %v", c2.Wavelength, c.Wavelength)
	}
	if c2.Serial != c.Serial {
		t.Errorf("serial: got %q, want %q", c2.Serial, c.Serial)
	}
	if c2.Nu() != c.Nu() || c2.Nk() != c.Nk() {
		t.Fatalf("geometry: got %dx%d, want %dx%d", c2.Nu(), c2.Nk(), c.Nu(), c.Nk())
	}
	for i, v := range c.Forward.Data {
		if c2.Forward.Data[i] != v {
			t.Fatalf("forward map sample %d: got %v, want %v", i, c2.Forward.Data[i], v)
		}
	}
	for i, v := range c.Flat {
		if c2.Flat[i] != v {
			t.Fatalf("flat sample %d: got %v, want %v", i, c2.Flat[i], v)
		}
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := calibration.Load(filepath.Join(t.TempDir(), "nope.fits")); err == nil {
		t.Error("expected an error for a missing calibration file")
	}
}

func TestLoadGarbageFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.fits")
	if err := os.WriteFile(path, []byte("not a fits file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := calibration.Load(path); err == nil {
		t.Error("expected an error for a malformed calibration file")
	}
}
