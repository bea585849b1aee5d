// Package panel implements the interactive Zernike coefficient editor: a
// bounded relative-delta slider per mode and the coefficient model that
// keeps the derived phase display in sync.
package panel

import (
	"errors"
	"math"
)

// ErrRelRange is returned when a gesture position is outside [-100, 100]
var ErrRelRange = errors.New("panel: gesture position out of [-100, 100]")

// RelSlider edits one absolute value through a bounded relative gesture.
// Dragging spans [-100, 100] and maps onto [anchor-max, anchor+max], where
// the anchor is the value captured when the gesture began.  Because every
// update recomputes from the anchor, releasing at zero always lands exactly
// back on the anchor; there is no accumulated drift.
type RelSlider struct {
	value float64
	max   float64

	// anchor is captured at gesture start and nil between gestures
	anchor *float64

	// pos is the transient control position, recentered to 0 at gesture end
	pos int

	onChange func(float64)
}

// DefaultMaxDelta is the initial maximum relative delta of a slider
const DefaultMaxDelta = 4.0

// NewRelSlider creates a slider with the given initial value.  onChange is
// invoked with the new absolute value on every gesture update; it may be nil.
func NewRelSlider(value float64, onChange func(float64)) *RelSlider {
	return &RelSlider{value: value, max: DefaultMaxDelta, onChange: onChange}
}

// Value returns the current absolute value
func (s *RelSlider) Value() float64 { return s.value }

// SetValue assigns the absolute value directly, for external-source updates.
// It does not touch the max delta or any gesture in flight.
func (s *RelSlider) SetValue(v float64) {
	s.value = v
}

// NonDefault reports whether the value differs from zero; the UI shades the
// spinbox with this.
func (s *RelSlider) NonDefault() bool { return s.value != 0 }

// MaxDelta returns the maximum relative delta m
func (s *RelSlider) MaxDelta() float64 { return s.max }

// SetMaxDelta adjusts the gesture sensitivity.  Nonpositive or non-finite
// values are rejected and the prior setting kept.
func (s *RelSlider) SetMaxDelta(m float64) error {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return errors.New("panel: max relative delta must be positive and finite")
	}
	s.max = m
	return nil
}

// Pos returns the transient control position in [-100, 100]
func (s *RelSlider) Pos() int { return s.pos }

// Gesturing reports whether a gesture is in flight
func (s *RelSlider) Gesturing() bool { return s.anchor != nil }

// BeginGesture captures the anchor for a new gesture.  Re-entry while a
// gesture is already in flight keeps the original anchor.
func (s *RelSlider) BeginGesture() {
	if s.anchor != nil {
		return
	}
	a := s.value
	s.anchor = &a
}

// UpdateGesture moves the relative control to rel in [-100, 100] and derives
// the new absolute value from the anchor.  An update without a preceding
// BeginGesture is a protocol slip from the event source; it recenters the
// control and changes nothing else.
func (s *RelSlider) UpdateGesture(rel int) error {
	if rel < -100 || rel > 100 {
		return ErrRelRange
	}
	if s.anchor == nil {
		s.pos = 0
		return nil
	}
	s.pos = rel
	v := *s.anchor + float64(rel)/100*s.max
	s.value = v
	if s.onChange != nil {
		s.onChange(v)
	}
	return nil
}

// EndGesture clears the anchor and recenters the control.  The next
// BeginGesture recaptures whatever the value is then.
func (s *RelSlider) EndGesture() {
	s.anchor = nil
	s.pos = 0
}
