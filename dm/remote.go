package dm

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// remote is the low level connection to a DM electronics box, either RS-232
// or TCP (e.g. through a terminal server).  Telegram framing sits on top of
// it; see telegram.go.
type remote struct {
	addr     string
	isSerial bool
	conn     io.ReadWriteCloser
}

// serialConf returns the serial port configuration for the drive
// electronics.  The read timeout bounds a stuck device; telegram receipt
// loops until the end byte or this timeout.
func serialConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// open establishes the connection with an exponential backoff; the drive
// electronics do not tolerate connection thrashing
func (r *remote) open() error {
	wasTimeout := false
	op := func() error {
		err := r.dial()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	// backoff ceases on a timeout so we do not wait forever; check
	// err != nil && !wasTimeout after
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("dm: connection timeout to %s", r.addr)
	}
	return err
}

func (r *remote) dial() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if r.isSerial {
		conn, err = serial.OpenPort(serialConf(r.addr))
	} else {
		conn, err = tcpSetup(r.addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

func (r *remote) close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	if err == nil {
		r.conn = nil
	}
	return err
}

// tcpSetup opens a new TCP connection and sets a timeout on connect, read, and write
func tcpSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
