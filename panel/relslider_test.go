package panel_test

import (
	"math"
	"testing"

	"github.com/opticslab/zpanel/panel"
)

func TestZeroDeltaGestureIsExact(t *testing.T) {
	anchors := []float64{0, 1.25, -3.75, 0.1 + 0.2, 1e-17, -1e9}
	for _, a := range anchors {
		s := panel.NewRelSlider(a, nil)
		s.BeginGesture()
		if err := s.UpdateGesture(0); err != nil {
			t.Fatal(err)
		}
		s.EndGesture()
		if s.Value() != a {
			t.Errorf("anchor %v: zero-delta gesture drifted to %v", a, s.Value())
		}
	}
}

func TestGestureFormula(t *testing.T) {
	const anchor = 0.5
	s := panel.NewRelSlider(anchor, nil)
	if err := s.SetMaxDelta(2.0); err != nil {
		t.Fatal(err)
	}
	s.BeginGesture()
	for rel := -100; rel <= 100; rel++ {
		if err := s.UpdateGesture(rel); err != nil {
			t.Fatal(err)
		}
		want := anchor + float64(rel)/100*2.0
		if math.Abs(s.Value()-want) > 1e-12 {
			t.Errorf("rel %d: got %v, want %v", rel, s.Value(), want)
		}
	}
	s.EndGesture()
}

func TestRepeatedBeginKeepsAnchor(t *testing.T) {
	s := panel.NewRelSlider(1.0, nil)
	s.BeginGesture()
	s.UpdateGesture(50) // moves the value away from the anchor
	s.BeginGesture()    // must not re-anchor mid-gesture
	s.UpdateGesture(0)
	if s.Value() != 1.0 {
		t.Errorf("expected the original anchor 1.0 back, got %v", s.Value())
	}
	s.EndGesture()
}

func TestUpdateWithoutBeginRecovers(t *testing.T) {
	fired := false
	s := panel.NewRelSlider(2.0, func(float64) { fired = true })
	if err := s.UpdateGesture(75); err != nil {
		t.Fatal(err)
	}
	if s.Value() != 2.0 {
		t.Errorf("orphan update must not change the value, got %v", s.Value())
	}
	if s.Pos() != 0 {
		t.Errorf("orphan update must recenter the control, got %d", s.Pos())
	}
	if fired {
		t.Error("orphan update must not fire the change callback")
	}
}

func TestEndThenBeginRecaptures(t *testing.T) {
	s := panel.NewRelSlider(0, nil)
	s.BeginGesture()
	s.UpdateGesture(100)
	s.EndGesture()
	// value is now 0 + 1.0*max; a new gesture anchors there
	v := s.Value()
	s.BeginGesture()
	s.UpdateGesture(0)
	s.EndGesture()
	if s.Value() != v {
		t.Errorf("second gesture should anchor at %v, got %v", v, s.Value())
	}
}

func TestUpdateOutOfRange(t *testing.T) {
	s := panel.NewRelSlider(0, nil)
	s.BeginGesture()
	if err := s.UpdateGesture(101); err == nil {
		t.Error("expected rejection of rel > 100")
	}
	if err := s.UpdateGesture(-101); err == nil {
		t.Error("expected rejection of rel < -100")
	}
}

func TestSetValueLeavesGestureStateAlone(t *testing.T) {
	s := panel.NewRelSlider(0, nil)
	if err := s.SetMaxDelta(8); err != nil {
		t.Fatal(err)
	}
	s.SetValue(3.0)
	if s.MaxDelta() != 8 {
		t.Errorf("SetValue must not alter the max delta, got %v", s.MaxDelta())
	}
	if !s.NonDefault() {
		t.Error("nonzero value should read as non-default")
	}
	s.SetValue(0)
	if s.NonDefault() {
		t.Error("zero value should read as default")
	}
}

func TestSetMaxDeltaRejectsNonpositive(t *testing.T) {
	s := panel.NewRelSlider(0, nil)
	for _, m := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := s.SetMaxDelta(m); err == nil {
			t.Errorf("expected rejection of max delta %v", m)
		}
	}
	if s.MaxDelta() != panel.DefaultMaxDelta {
		t.Errorf("rejected set must keep the prior max delta, got %v", s.MaxDelta())
	}
}
