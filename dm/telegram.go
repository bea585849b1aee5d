package dm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/snksoft/crc"
)

// wire format for the drive electronics:
//
//	[STX] [opcode] [0..N payload bytes] [CRC16 hi lo] [ETX]
//
// opcode, payload, and CRC are escaped so STX/ETX/ESC never appear inside a
// frame: ESC is emitted followed by the byte shifted up by escShift.  The
// CRC (XMODEM) covers the unescaped opcode+payload.

const (
	telStart = 0x02
	telEnd   = 0x03

	// escMark flags an escaped byte; the escaped value is shifted up so it
	// can never collide with the framing bytes
	escMark  = 0x5E
	escShift = 0x40
)

// opcodes understood by the drive electronics
const (
	opSetArray byte = 0x10
	opGetArray byte = 0x11
	opZero     byte = 0x12
	opQuery    byte = 0x13

	// opError is a device-reported failure; the payload is an ASCII message
	opError byte = 0x7F
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	specialChars = []byte{telStart, telEnd, escMark}

	// ErrBadCRC is returned when a received frame fails its checksum
	ErrBadCRC = errors.New("dm: telegram CRC mismatch")

	// ErrBadFrame is returned for malformed framing
	ErrBadFrame = errors.New("dm: malformed telegram frame")
)

// crcHelper computes the two-byte CRC for a buffer
func crcHelper(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crcTable.CRC16(crcUint))
	return crcBytes
}

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.IndexByte(specialChars, b) != -1 {
			out = append(out, escMark, b+escShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if subNext {
			out = append(out, b-escShift)
			subNext = false
			continue
		}
		if b == escMark {
			subNext = true
			continue
		}
		out = append(out, b)
	}
	if subNext {
		return nil, fmt.Errorf("%w: dangling escape", ErrBadFrame)
	}
	return out, nil
}

// MakeTelegram packs an opcode and payload into a wire frame
func MakeTelegram(opcode byte, payload []byte) []byte {
	body := make([]byte, 0, len(payload)+1)
	body = append(body, opcode)
	body = append(body, payload...)
	body = append(body, crcHelper(body)...)

	out := make([]byte, 0, len(body)+2)
	out = append(out, telStart)
	out = append(out, sanitize(body)...)
	out = append(out, telEnd)
	return out
}

// DecodeTelegram unpacks a wire frame, verifying framing and CRC
func DecodeTelegram(frame []byte) (opcode byte, payload []byte, err error) {
	if len(frame) < 5 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(frame))
	}
	if frame[0] != telStart || frame[len(frame)-1] != telEnd {
		return 0, nil, fmt.Errorf("%w: missing start or end byte", ErrBadFrame)
	}
	body, err := reverseSanitize(frame[1 : len(frame)-1])
	if err != nil {
		return 0, nil, err
	}
	if len(body) < 3 {
		return 0, nil, fmt.Errorf("%w: body too short", ErrBadFrame)
	}
	data, sum := body[:len(body)-2], body[len(body)-2:]
	if !bytes.Equal(crcHelper(data), sum) {
		return 0, nil, ErrBadCRC
	}
	return data[0], data[1:], nil
}

// readTelegram pulls one frame off the wire.  The caller owns the buffered
// reader so partial reads survive across frames.
func readTelegram(r *bufio.Reader) ([]byte, error) {
	buf, err := r.ReadBytes(telEnd)
	if err != nil {
		return nil, err
	}
	// discard any noise before the start byte
	idx := bytes.IndexByte(buf, telStart)
	if idx == -1 {
		return nil, fmt.Errorf("%w: no start byte", ErrBadFrame)
	}
	return buf[idx:], nil
}

// packFloats encodes a float vector as little-endian float64s
func packFloats(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
	}
	return out
}

// unpackFloats decodes a little-endian float64 vector
func unpackFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not a float vector", ErrBadFrame, len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out, nil
}
