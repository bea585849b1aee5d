// Package dm abstracts the deformable mirror hardware: an interface shared
// by the control layer, an in-memory simulator for bring-up and tests, and a
// serial/TCP device speaking a framed CRC-checked wire protocol.
package dm

import (
	"fmt"
	"io"
	"sync"
)

// A DM accepts per-actuator command vectors.  Commands are normalized to
// [-1, 1]; the control layer clamps before writing, so out-of-range values
// reaching a DM are an error, not a clamp.
type DM interface {
	io.Closer

	// Actuators returns the actuator count of the device
	Actuators() int

	// SerialNumber returns the device serial number
	SerialNumber() string

	// SetArray sends a command vector, one value per actuator
	SetArray([]float64) error

	// GetArray queries the last command vector sent to the device
	GetArray() ([]float64, error)

	// Zero commands all actuators to zero, a safe condition
	Zero() error
}

// Sim is an in-memory DM.  It records the last written array and counts
// writes, which the tests use to assert that display-only updates do not
// touch hardware.
type Sim struct {
	sync.Mutex
	serial string
	last   []float64
	writes int
	closed bool
}

// NewSim creates a simulated DM with n actuators
func NewSim(n int, serial string) *Sim {
	return &Sim{serial: serial, last: make([]float64, n)}
}

// Actuators returns the actuator count
func (s *Sim) Actuators() int { return len(s.last) }

// SerialNumber returns the configured serial string
func (s *Sim) SerialNumber() string { return s.serial }

// SetArray stores the command vector
func (s *Sim) SetArray(values []float64) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return fmt.Errorf("dm: device is closed")
	}
	if len(values) != len(s.last) {
		return fmt.Errorf("dm: command vector has %d entries, device has %d actuators", len(values), len(s.last))
	}
	for _, v := range values {
		if v < -1 || v > 1 {
			return fmt.Errorf("dm: command %f outside [-1, 1]", v)
		}
	}
	copy(s.last, values)
	s.writes++
	return nil
}

// GetArray returns a copy of the last command vector
func (s *Sim) GetArray() ([]float64, error) {
	s.Lock()
	defer s.Unlock()
	out := make([]float64, len(s.last))
	copy(out, s.last)
	return out, nil
}

// Zero commands all actuators to zero
func (s *Sim) Zero() error {
	return s.SetArray(make([]float64, len(s.last)))
}

// Writes returns how many times SetArray has succeeded
func (s *Sim) Writes() int {
	s.Lock()
	defer s.Unlock()
	return s.writes
}

// Close marks the device closed; further writes fail
func (s *Sim) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
