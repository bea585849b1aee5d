package control

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opticslab/zpanel/calibration"
	"github.com/opticslab/zpanel/dm"
	"github.com/opticslab/zpanel/options"
	"github.com/opticslab/zpanel/panel"
	"github.com/opticslab/zpanel/zernike"
)

type rig struct {
	sim   *dm.Sim
	calib *calibration.Calibration
	pnl   *panel.Panel
	coord *Coordinator
}

func testRig(t *testing.T) *rig {
	t.Helper()
	calib := testCalib(t)
	sim := dm.NewSim(calib.Nu(), "sim")
	ctl, err := NewZernikeControl(sim, calib, false)
	require.NoError(t, err)

	basis, err := zernike.New(calib.RadialOrder)
	require.NoError(t, err)
	require.Equal(t, calib.Nk(), basis.Nk())

	var coord *Coordinator
	pnl, err := panel.New(basis, calib.Wavelength, nil, func(z []float64) {
		if coord != nil {
			coord.PanelWrite(z)
		}
	})
	require.NoError(t, err)
	coord = NewCoordinator(ctl, pnl, log.New(io.Discard, "", 0))
	return &rig{sim: sim, calib: calib, pnl: pnl, coord: coord}
}

func (r *rig) actuators(vals ...float64) []float64 {
	u := make([]float64, r.calib.Nu())
	copy(u, vals)
	return u
}

func TestAcquireIsExclusive(t *testing.T) {
	r := testRig(t)
	g, err := r.coord.Acquire("ctrl-a")
	require.NoError(t, err)

	_, err = r.coord.Acquire("ctrl-b")
	assert.ErrorIs(t, err, ErrAlreadyAcquired)
	assert.Equal(t, AcquiredByController, r.coord.State())
	assert.Equal(t, "ctrl-a", r.coord.Token())

	require.NoError(t, g.Release(nil))
	assert.Equal(t, Idle, r.coord.State())

	_, err = r.coord.Acquire("ctrl-b")
	assert.NoError(t, err)
}

type recSurface struct {
	disables, enables int
}

func (s *recSurface) Disable() { s.disables++ }
func (s *recSurface) Enable()  { s.enables++ }

func TestAcquireDisablesSurfaces(t *testing.T) {
	r := testRig(t)
	rec := &recSurface{}
	r.coord.RegisterSurface(rec)

	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.disables)
	assert.False(t, r.pnl.Enabled())
	assert.ErrorIs(t, r.pnl.SetMode(0, 0.1), panel.ErrDisabled)
	assert.ErrorIs(t, r.pnl.Reset(), panel.ErrDisabled)

	require.NoError(t, g.Release(nil))
	assert.Equal(t, 1, rec.enables)
	assert.True(t, r.pnl.Enabled())
	assert.NoError(t, r.pnl.SetMode(0, 0.1))
}

func TestDrawThenReleaseNilAdoptsLastDraw(t *testing.T) {
	r := testRig(t)
	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)

	before := r.sim.Writes()
	u1 := r.actuators(0.1, 0.2)
	u2 := r.actuators(0.3, -0.4, 0.05)
	require.NoError(t, g.Draw(u1))
	require.NoError(t, g.Draw(u2))
	assert.Equal(t, before, r.sim.Writes(), "draw updates must not touch hardware")

	require.NoError(t, g.Release(nil))
	assert.Equal(t, Idle, r.coord.State())

	want, err := r.calib.ActuatorToCoeff(u2)
	require.NoError(t, err)
	got := r.pnl.Coefficients()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
	hw, _ := r.sim.GetArray()
	assert.Equal(t, u2, hw, "release must sync hardware to the released vector")
}

func TestReleaseAdoptsExplicitFinal(t *testing.T) {
	r := testRig(t)
	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)

	require.NoError(t, g.Draw(r.actuators(0.9)))
	final := r.actuators(-0.2, 0.1, 0, 0.4)
	require.NoError(t, g.Release(final))

	hw, _ := r.sim.GetArray()
	assert.Equal(t, final, hw)

	want, err := r.calib.ActuatorToCoeff(final)
	require.NoError(t, err)
	got := r.pnl.Coefficients()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}

func TestDrawAfterReleaseIgnored(t *testing.T) {
	r := testRig(t)
	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)
	require.NoError(t, g.Release(nil))

	zBefore := r.pnl.Coefficients()
	err = g.Draw(r.actuators(0.5))
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, zBefore, r.pnl.Coefficients())

	assert.ErrorIs(t, g.Release(nil), ErrNotAcquired)
}

func TestWrongTokenRejected(t *testing.T) {
	r := testRig(t)
	_, err := r.coord.Acquire("good")
	require.NoError(t, err)

	assert.ErrorIs(t, r.coord.DrawUpdate("evil", r.actuators()), ErrBadToken)
	assert.ErrorIs(t, r.coord.Release("evil", nil), ErrBadToken)
	assert.Equal(t, AcquiredByController, r.coord.State())
}

func TestSaturatingDrawFlagsWithoutWrite(t *testing.T) {
	r := testRig(t)
	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)

	before := r.sim.Writes()
	require.NoError(t, g.Draw(r.actuators(2.5, -3)))
	assert.True(t, r.coord.ctl.Saturated())
	assert.Equal(t, before, r.sim.Writes())
	assert.Equal(t, 1.0, g.U()[0])
	assert.Equal(t, -1.0, g.U()[1])
}

func TestPanelWriteBlockedWhileAcquired(t *testing.T) {
	r := testRig(t)
	_, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)

	z := make([]float64, r.calib.Nk())
	z[0] = 0.1
	assert.ErrorIs(t, r.coord.PanelWrite(z), ErrAlreadyAcquired)
}

func TestCloseDeferredUntilRelease(t *testing.T) {
	r := testRig(t)
	assert.True(t, r.coord.CloseRequested(), "close is immediate while idle")

	g, err := r.coord.Acquire("ctrl")
	require.NoError(t, err)
	ch := r.coord.Closing()
	assert.False(t, r.coord.CloseRequested(), "close must defer while acquired")

	require.NoError(t, g.Release(nil))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("deferred close never fired after release")
	}
	assert.True(t, r.coord.CloseRequested())
}

func TestInstanceControllerFallsBackToDefaults(t *testing.T) {
	r := testRig(t)
	// a store whose zernike schema disagrees with the factory: gain is an
	// int here, so construction from these values fails
	store, err := options.NewStore(map[string]options.Schema{
		"zernike": {
			"gain": {Kind: options.Int, Default: options.IntValue(1)},
		},
	})
	require.NoError(t, err)

	ctrl, err := r.coord.InstanceController("zernike", store)
	require.NoError(t, err)
	assert.Equal(t, "zernike", ctrl.Name())
	assert.Equal(t, 0.5, ctrl.(*zernikeLoop).gain)
}

func TestInstanceControllerUsesStoreValues(t *testing.T) {
	r := testRig(t)
	store, err := options.NewStore(Schemas())
	require.NoError(t, err)
	require.NoError(t, store.SetOption("zernike", "gain", "0.25"))
	require.NoError(t, store.SetOption("zernike", "exclude", "0, 1"))

	ctrl, err := r.coord.InstanceController("zernike", store)
	require.NoError(t, err)
	loop := ctrl.(*zernikeLoop)
	assert.Equal(t, 0.25, loop.gain)
	assert.True(t, loop.exclude[0])
	assert.True(t, loop.exclude[1])
}

func TestUnknownStrategyRejected(t *testing.T) {
	r := testRig(t)
	store, err := options.NewStore(Schemas())
	require.NoError(t, err)
	_, err = r.coord.InstanceController("annealer", store)
	assert.Error(t, err)
}

func TestZernikeLoopConverges(t *testing.T) {
	r := testRig(t)
	require.NoError(t, r.pnl.SetMode(1, 0.4))

	store, err := options.NewStore(Schemas())
	require.NoError(t, err)
	require.NoError(t, store.SetOption("zernike", "settle_ms", "0"))

	ctrl, err := r.coord.InstanceController("zernike", store)
	require.NoError(t, err)

	g, err := r.coord.Acquire("loop-1")
	require.NoError(t, err)
	require.NoError(t, ctrl.Run(context.Background(), g))

	z, err := g.Z()
	require.NoError(t, err)
	for i := range z {
		assert.InDelta(t, 0, z[i], 1e-8)
	}
	require.NoError(t, g.Release(nil))
}

func TestSweepEndsFlat(t *testing.T) {
	r := testRig(t)
	store, err := options.NewStore(Schemas())
	require.NoError(t, err)
	require.NoError(t, store.SetOption("sweep", "steps", "3"))
	require.NoError(t, store.SetOption("sweep", "modes", "1, 2"))

	ctrl, err := r.coord.InstanceController("sweep", store)
	require.NoError(t, err)

	g, err := r.coord.Acquire("sweep-1")
	require.NoError(t, err)
	before := r.sim.Writes()
	require.NoError(t, ctrl.Run(context.Background(), g))
	assert.Greater(t, r.sim.Writes(), before)
	require.NoError(t, g.Release(nil))

	for _, z := range r.pnl.Coefficients() {
		assert.InDelta(t, 0, z, 1e-9)
	}
}
