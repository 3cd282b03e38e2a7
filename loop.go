package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrClosed is returned by ReadLine once the Port has been closed.
var ErrClosed = errors.New("serial port closed")

// ReceivedPrefix is written in front of every echoed line.
const ReceivedPrefix = "Received: "

// LineReader is the source Run reads from.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// Ensure Port implements LineReader.
var _ LineReader = (*Port)(nil)

// Run reads lines from r until ctx is done or a read fails, writing every
// non-empty decoded line to w as "Received: <text>". Empty reads, whether
// from a timeout or a whitespace-only line, are skipped. Bytes that arrive
// together with a read error are still written before the error is returned.
func Run(ctx context.Context, r LineReader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, readErr := r.ReadLine()
		if text := Decode(raw); text != "" {
			if _, err := fmt.Fprintf(w, "%s%s\n", ReceivedPrefix, text); err != nil {
				return fmt.Errorf("write line: %w", err)
			}
		}
		if readErr != nil {
			return fmt.Errorf("read line: %w", readErr)
		}
	}
}
