package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opticslab/zpanel/calibration"
	"github.com/opticslab/zpanel/dm"
)

// testCalib builds a 12 actuator, 6 mode snapshot: a strong diagonal with
// weak coupling rows so the forward map is full rank
func testCalib(t *testing.T) *calibration.Calibration {
	t.Helper()
	nu, nk := 12, 6
	h := calibration.NewMatrix(nu, nk)
	for j := 0; j < nk; j++ {
		h.Set(j, j, 0.5)
	}
	for i := nk; i < nu; i++ {
		h.Set(i, i%nk, 0.05)
	}
	flat := make([]float64, nu)
	for i := range flat {
		flat[i] = 0.02
	}
	c, err := calibration.New(633, 2, "sim-cal", h, flat)
	require.NoError(t, err)
	return c
}

type failDM struct {
	*dm.Sim
}

func (f failDM) SetArray([]float64) error { return errors.New("device fault") }

func TestWriteMapsThroughCalibration(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	z := make([]float64, calib.Nk())
	z[0] = 0.4
	z[2] = -0.2
	require.NoError(t, ctl.Write(z))

	want, err := calib.CoeffToActuator(z)
	require.NoError(t, err)
	u := ctl.U()
	for i := range want {
		assert.InDelta(t, want[i], u[i], 1e-12)
	}
	hw, _ := sim.GetArray()
	assert.Equal(t, u, hw)
	assert.False(t, ctl.Saturated())
}

func TestWriteAddsFlatWhenEnabled(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, true)
	require.NoError(t, err)

	require.NoError(t, ctl.Write(make([]float64, calib.Nk())))
	u := ctl.U()
	for i := range u {
		assert.InDelta(t, calib.Flat[i], u[i], 1e-12)
	}
}

func TestWriteClampsAndFlagsSaturation(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	z := make([]float64, calib.Nk())
	z[0] = 3 // maps to 1.5 on actuator 0
	require.NoError(t, ctl.Write(z))
	assert.True(t, ctl.Saturated())
	assert.Equal(t, 1.0, ctl.U()[0])
	assert.Equal(t, 1, sim.Writes())

	// a vector back inside the envelope clears the flag
	z[0] = 0.5
	require.NoError(t, ctl.Write(z))
	assert.False(t, ctl.Saturated())
}

func TestWriteDeviceErrorLeavesVector(t *testing.T) {
	calib := testCalib(t)
	ctl, err := NewZernikeControl(failDM{dm.NewSim(calib.Nu(), "sim")}, calib, false)
	require.NoError(t, err)

	z := make([]float64, calib.Nk())
	z[0] = 3
	require.Error(t, ctl.Write(z))
	assert.Equal(t, make([]float64, calib.Nu()), ctl.U())
	assert.False(t, ctl.Saturated())
}

func TestSetActuatorReflectsIntoCoefficients(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	z := make([]float64, calib.Nk())
	z[1] = 0.3
	require.NoError(t, ctl.Write(z))

	got, err := ctl.SetActuator(3, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, ctl.U()[3])

	want, err := calib.ActuatorToCoeff(ctl.U())
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}

func TestSetActuatorRejectsBadInput(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	_, err = ctl.SetActuator(99, 0.1)
	assert.ErrorIs(t, err, calibration.ErrDimension)

	_, err = ctl.SetActuator(0, 1.5)
	assert.ErrorIs(t, err, ErrActuatorRange)
	assert.Zero(t, sim.Writes())
}

func TestU2ZRoundTripWithFlat(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, true)
	require.NoError(t, err)

	z := []float64{0.2, -0.1, 0.05, 0, 0.15, 0}
	require.NoError(t, ctl.Write(z))

	got, err := ctl.U2Z()
	require.NoError(t, err)
	for i := range z {
		assert.InDelta(t, z[i], got[i], 1e-9)
	}
}

func TestSetFlatEnabledPreservesCoefficients(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	z := []float64{0.2, 0, -0.1, 0, 0, 0.05}
	require.NoError(t, ctl.Write(z))
	require.NoError(t, ctl.SetFlatEnabled(true))

	got, err := ctl.U2Z()
	require.NoError(t, err)
	for i := range z {
		assert.InDelta(t, z[i], got[i], 1e-9)
	}

	raw, err := calib.CoeffToActuator(z)
	require.NoError(t, err)
	u := ctl.U()
	for i := range u {
		assert.InDelta(t, raw[i]+calib.Flat[i], u[i], 1e-9)
	}
}

func TestZeroRestoresFlat(t *testing.T) {
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, true)
	require.NoError(t, err)

	z := make([]float64, calib.Nk())
	z[0] = 0.4
	require.NoError(t, ctl.Write(z))
	require.NoError(t, ctl.Zero())

	u := ctl.U()
	for i := range u {
		assert.InDelta(t, calib.Flat[i], u[i], 1e-12)
	}
}

func TestGeometryMismatchRejected(t *testing.T) {
	calib := testCalib(t)
	_, err := NewZernikeControl(dm.NewSim(5, "sim"), calib, false)
	require.Error(t, err)
}
