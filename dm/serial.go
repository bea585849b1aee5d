package dm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"sync"
)

// Serial is a DM reached through its drive electronics over RS-232 or TCP.
// All exchanges are telegram request/response pairs; a queue of one is
// enforced with a mutex so commands cannot interleave on the wire.
type Serial struct {
	mu  sync.Mutex
	rem remote
	rdr *bufio.Reader

	serialNumber string
	nact         int
}

// Open connects to the drive electronics at addr and queries the device
// identity.  isSerial selects RS-232 (true) or TCP (false).
func Open(addr string, isSerial bool) (*Serial, error) {
	s := &Serial{rem: remote{addr: addr, isSerial: isSerial}}
	if err := s.rem.open(); err != nil {
		return nil, err
	}
	s.rdr = bufio.NewReader(s.rem.conn)
	if err := s.query(); err != nil {
		s.rem.close()
		return nil, err
	}
	return s, nil
}

// query asks the electronics for the actuator count and serial number
func (s *Serial) query() error {
	payload, err := s.exchange(opQuery, nil)
	if err != nil {
		return err
	}
	if len(payload) < 2 {
		return fmt.Errorf("%w: identity payload of %d bytes", ErrBadFrame, len(payload))
	}
	s.nact = int(binary.LittleEndian.Uint16(payload))
	s.serialNumber = string(payload[2:])
	return nil
}

// exchange sends one telegram and decodes the response.  The device answers
// with the request opcode on success or opError with an ASCII message.
func (s *Serial) exchange(opcode byte, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rem.conn == nil {
		return nil, fmt.Errorf("dm: not connected")
	}
	if _, err := s.rem.conn.Write(MakeTelegram(opcode, payload)); err != nil {
		return nil, err
	}
	frame, err := readTelegram(s.rdr)
	if err != nil {
		return nil, err
	}
	op, data, err := DecodeTelegram(frame)
	if err != nil {
		return nil, err
	}
	if op == opError {
		return nil, fmt.Errorf("dm: device error: %s", string(data))
	}
	if op != opcode {
		return nil, fmt.Errorf("%w: response opcode %#x to request %#x", ErrBadFrame, op, opcode)
	}
	return data, nil
}

// Actuators returns the actuator count reported by the electronics
func (s *Serial) Actuators() int { return s.nact }

// SerialNumber returns the device serial number
func (s *Serial) SerialNumber() string { return s.serialNumber }

// SetArray sends a command vector
func (s *Serial) SetArray(values []float64) error {
	if len(values) != s.nact {
		return fmt.Errorf("dm: command vector has %d entries, device has %d actuators", len(values), s.nact)
	}
	_, err := s.exchange(opSetArray, packFloats(values))
	return err
}

// GetArray queries the last commanded vector
func (s *Serial) GetArray() ([]float64, error) {
	payload, err := s.exchange(opGetArray, nil)
	if err != nil {
		return nil, err
	}
	return unpackFloats(payload)
}

// Zero commands all actuators to zero
func (s *Serial) Zero() error {
	_, err := s.exchange(opZero, nil)
	return err
}

// Close shuts the connection
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rem.close()
}
