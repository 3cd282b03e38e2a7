// Package serial reads newline-terminated text lines from a serial port and
// echoes every non-empty line to a writer.
//
// A Port is opened once from a Config and owned by the caller. Each ReadLine
// call blocks until the delimiter arrives, the read timeout elapses or the
// device fails, and returns whatever bytes were accumulated. Decode turns
// those bytes into text, dropping invalid UTF-8 and surrounding whitespace.
// Run ties the two together in a single sequential loop.
//
// Features:
//   - Raw termios serial I/O on Linux with a self-pipe so Close unblocks reads
//   - go.bug.st/serial backend on other platforms (e.g. COM7 on Windows)
//   - Per-call read timeout; a timeout is not an error
//   - Lenient decoding that never fails on malformed input
//   - PTY-based tests
//
// Example usage:
//
//	cfg := serial.DefaultConfig()
//	cfg.Device = "/dev/ttyUSB0"
//	port, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// runs until the device fails
//	if err := serial.Run(context.Background(), port, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
package serial
