package panel_test

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/opticslab/zpanel/panel"
	"github.com/opticslab/zpanel/zernike"
)

func newTestPanel(t *testing.T, cb func([]float64)) *panel.Panel {
	t.Helper()
	b, err := zernike.New(4) // 15 modes
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Grid(32); err != nil {
		t.Fatal(err)
	}
	p, err := panel.New(b, 632.8, nil, cb)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResetOnZeroVectorIsNoOp(t *testing.T) {
	p := newTestPanel(t, nil)
	if p.Nk() != 15 {
		t.Fatalf("expected 15 modes, got %d", p.Nk())
	}
	if err := p.Reset(); err != nil {
		t.Fatal(err)
	}
	if rms := p.Stats().RMS; rms != 0 {
		t.Errorf("RMS of the zero vector should be 0.0, got %v", rms)
	}
}

func TestStatsExcludeNonFiniteSamples(t *testing.T) {
	p := newTestPanel(t, nil)
	if err := p.SetMode(3, 1.0); err != nil { // defocus
		t.Fatal(err)
	}
	s := p.Stats()
	if math.IsNaN(s.Min) || math.IsNaN(s.Max) || math.IsNaN(s.PV) {
		t.Fatalf("stats must exclude off-pupil NaN samples: %+v", s)
	}
	if s.PV <= 0 {
		t.Errorf("defocus should have positive peak-to-valley, got %v", s.PV)
	}
	if math.Abs(s.RMS-1.0) > 1e-12 {
		t.Errorf("unit defocus coefficient should have RMS 1 rad, got %v", s.RMS)
	}
}

func TestSetModeBeyondShownRejected(t *testing.T) {
	p := newTestPanel(t, nil)
	p.ResizeShown(5)
	if err := p.SetMode(5, 1.0); err == nil {
		t.Error("expected rejection of an edit beyond the shown rows")
	}
	// the full vector is still intact and readable
	if _, err := p.Mode(14); err != nil {
		t.Errorf("reading an unshown mode should work, got %v", err)
	}
}

func TestResizeShownClamps(t *testing.T) {
	p := newTestPanel(t, nil)
	if got := p.ResizeShown(0); got != 1 {
		t.Errorf("expected clamp to 1, got %d", got)
	}
	if got := p.ResizeShown(100); got != 15 {
		t.Errorf("expected clamp to 15, got %d", got)
	}
}

func TestUnitConversion(t *testing.T) {
	p := newTestPanel(t, nil)
	if err := p.SetMode(3, 1.0); err != nil {
		t.Fatal(err)
	}
	p.SetUnitNm(true)
	v, err := p.Mode(3)
	if err != nil {
		t.Fatal(err)
	}
	want := 632.8 / (2 * math.Pi)
	if math.Abs(v-want) > 1e-9 {
		t.Errorf("1 rad should display as %v nm, got %v", want, v)
	}
	if p.Unit() != "nm" {
		t.Errorf("unit should read nm, got %s", p.Unit())
	}
	// the canonical radian value is unchanged underneath
	p.SetUnitNm(false)
	v, _ = p.Mode(3)
	if math.Abs(v-1.0) > 1e-12 {
		t.Errorf("switching units twice should not alter the coefficient, got %v", v)
	}
}

func TestSetModeInNmStoresRadians(t *testing.T) {
	p := newTestPanel(t, nil)
	p.SetUnitNm(true)
	nm := 632.8 / (2 * math.Pi) // exactly 1 rad
	if err := p.SetMode(2, nm); err != nil {
		t.Fatal(err)
	}
	p.SetUnitNm(false)
	v, _ := p.Mode(2)
	if math.Abs(v-1.0) > 1e-12 {
		t.Errorf("expected 1 rad stored, got %v", v)
	}
}

func TestCallbackFiresOnEdit(t *testing.T) {
	var got []float64
	p := newTestPanel(t, func(z []float64) {
		got = append([]float64{}, z...)
	})
	if err := p.SetMode(1, 0.25); err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected the downstream callback to fire")
	}
	if got[1] != 0.25 {
		t.Errorf("callback saw %v for mode 1, want 0.25", got[1])
	}
}

func TestDisabledPanelRejectsEdits(t *testing.T) {
	p := newTestPanel(t, nil)
	p.Disable()
	if err := p.SetMode(0, 1); err == nil {
		t.Error("expected SetMode rejection while disabled")
	}
	if err := p.Reset(); err == nil {
		t.Error("expected Reset rejection while disabled")
	}
	if err := p.SliderBegin(0); err == nil {
		t.Error("expected slider gesture rejection while disabled")
	}
	p.Enable()
	if err := p.SetMode(0, 1); err != nil {
		t.Errorf("expected edits admitted after enable, got %v", err)
	}
}

func TestSetCoefficientsBypassesGate(t *testing.T) {
	fired := false
	p := newTestPanel(t, func([]float64) { fired = true })
	p.Disable()
	z := make([]float64, p.Nk())
	z[4] = 0.5
	if err := p.SetCoefficients(z, false); err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Error("display-only update must not fire the downstream callback")
	}
	v, _ := p.Mode(4)
	if v != 0.5 {
		t.Errorf("expected coefficient adopted, got %v", v)
	}
}

func TestSliderGestureEditsCoefficient(t *testing.T) {
	p := newTestPanel(t, nil)
	if err := p.SetSliderMaxDelta(2, 1.0); err != nil {
		t.Fatal(err)
	}
	if err := p.SliderBegin(2); err != nil {
		t.Fatal(err)
	}
	if err := p.SliderUpdate(2, 50); err != nil {
		t.Fatal(err)
	}
	if err := p.SliderEnd(2); err != nil {
		t.Fatal(err)
	}
	v, _ := p.Mode(2)
	if math.Abs(v-0.5) > 1e-12 {
		t.Errorf("expected mode 2 at 0.5 after a half-scale gesture, got %v", v)
	}
}

func TestConstructionDoesNotFireCallback(t *testing.T) {
	fired := false
	newTestPanel(t, func([]float64) { fired = true })
	if fired {
		t.Error("building a panel must not push coefficients downstream")
	}
}

func TestConcurrentEditsAndReads(t *testing.T) {
	p := newTestPanel(t, func([]float64) {})
	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 4; g++ {
		g := g
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				p.SetMode(g, float64(i)/100)
				p.SetLabel(g, "busy")
				p.ResizeShown(10 + g)
				p.SliderBegin(g)
				p.SliderUpdate(g, i%100)
				p.SliderEnd(g)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				p.Mode(g)
				p.Stats()
				p.Labels()
				p.Coefficients()
				p.Shown()
				p.Phase()
			}
		}()
	}
	close(start)
	wg.Wait()
	if rms := p.Stats().RMS; math.IsNaN(rms) {
		t.Error("stats corrupted by concurrent edits")
	}
}

func TestLabels(t *testing.T) {
	p := newTestPanel(t, nil)
	if p.Label(0) != "piston" || p.Label(3) != "defocus" {
		t.Errorf("default labels wrong: %q %q", p.Label(0), p.Label(3))
	}
	if err := p.SetLabel(3, "focus knob"); err != nil {
		t.Fatal(err)
	}
	labels := p.Labels()
	if labels["3"] != "focus knob" {
		t.Errorf("expected override persisted in the label map, got %q", labels["3"])
	}
	// mutating the copy must not touch the panel
	labels["3"] = "clobbered"
	if p.Label(3) != "focus knob" {
		t.Error("Labels must return a defensive copy")
	}
}

func TestWritePhaseFITS(t *testing.T) {
	p := newTestPanel(t, nil)
	if err := p.SetMode(3, 1.0); err != nil {
		t.Fatal(err)
	}
	buf := &bytes.Buffer{}
	if err := p.WritePhaseFITS(buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Error("expected FITS bytes")
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE")) {
		t.Error("expected a FITS primary header")
	}
}
