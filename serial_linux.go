package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Port is a raw, line-oriented connection to a Linux serial device.
// ReadLine must not be called concurrently; Close may be called from any
// goroutine and unblocks a pending ReadLine.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd

	buf   []byte
	lines lineBuffer
	err   error // read error held back behind a complete line
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw 8N1 operation at cfg.BaudRate.
func Open(cfg Config) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baud, err := baudToUnix(cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// Timeouts are enforced by poll, so read returns as soon as a byte is available.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &Port{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
		buf:    make([]byte, 4096),
		lines:  newLineBuffer(cfg.Delimiter),
	}, nil
}

// WriteLine writes a line (with specified newline) to the serial port.
// The receive loop never writes; this drives the device from tests.
func (p *Port) WriteLine(line string, newline string) error {
	_, err := p.file.WriteString(line + newline)
	return err
}

// ReadLine blocks until a delimiter-terminated line is available, the read
// timeout elapses or the device fails. The returned bytes include the
// delimiter. On timeout it returns whatever was accumulated, possibly nothing,
// and a nil error. On failure the accumulated bytes are returned with the error.
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
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return p.lines.drain(), nil
			}
			timeout = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return p.lines.drain(), fmt.Errorf("poll: %w", err)
		}

		select {
		case <-p.done:
			return p.lines.drain(), ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(p.pipeR, b[:])
			return p.lines.drain(), ErrClosed
		}
		if n == 0 {
			continue
		}

		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := p.file.Read(p.buf)
			if n > 0 {
				p.lines.write(p.buf[:n])
			}
			if err == nil && n == 0 {
				err = io.EOF
			}
			if err != nil {
				if line, ok := p.lines.next(); ok {
					p.err = err
					return line, nil
				}
				return p.lines.drain(), err
			}
			if line, ok := p.lines.next(); ok {
				return line, nil
			}
		}
	}
}

// Close closes the serial port and unblocks any pending ReadLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe
		unix.Write(p.pipeW, []byte{1})
		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}
