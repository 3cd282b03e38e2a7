//go:build !linux

package serial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Port is a line-oriented connection to a serial device, backed by
// go.bug.st/serial. ReadLine must not be called concurrently; Close may be
// called from any goroutine.
type Port struct {
	port      serial.Port
	config    Config
	closeOnce sync.Once
	closed    atomic.Bool

	buf   []byte
	lines lineBuffer
	err   error // read error held back behind a complete line
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for 8N1 operation at cfg.BaudRate.
func Open(cfg Config) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	return &Port{
		port:   port,
		config: cfg,
		buf:    make([]byte, 4096),
		lines:  newLineBuffer(cfg.Delimiter),
	}, nil
}

// WriteLine writes a line (with specified newline) to the serial port.
// The receive loop never writes; this drives the device from tests.
func (p *Port) WriteLine(line string, newline string) error {
	_, err := p.port.Write([]byte(line + newline))
	return err
}

// ReadLine blocks until a delimiter-terminated line is available, the read
// timeout elapses or the device fails. See the Linux implementation for the
// exact contract; both backends behave the same.
func (p *Port) ReadLine() ([]byte, error) {
	if line, ok := p.lines.next(); ok {
		return line, nil
	}
	if p.err != nil {
		return p.lines.drain(), p.err
	}

	var deadline time.Time
	if p.config.ReadTimeout > 0 {
		deadline = time.Now().Add(p.config.ReadTimeout)
	}

	for {
		timeout := serial.NoTimeout
		if !deadline.IsZero() {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return p.lines.drain(), nil
			}
		}
		if err := p.port.SetReadTimeout(timeout); err != nil {
			return p.lines.drain(), p.readErr(err)
		}

		n, err := p.port.Read(p.buf)
		if n > 0 {
			p.lines.write(p.buf[:n])
		}
		if err != nil {
			err = p.readErr(err)
			if line, ok := p.lines.next(); ok {
				p.err = err
				return line, nil
			}
			return p.lines.drain(), err
		}
		if line, ok := p.lines.next(); ok {
			return line, nil
		}
		// n == 0 with no error is a timeout; the deadline check above ends the call.
	}
}

func (p *Port) readErr(err error) error {
	var portErr *serial.PortError
	if p.closed.Load() || (errors.As(err, &portErr) && portErr.Code() == serial.PortClosed) {
		return ErrClosed
	}
	return err
}

// Close closes the serial port and unblocks any pending ReadLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.port.Close()
	})
	return err
}
