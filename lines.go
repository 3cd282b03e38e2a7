package serial

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lineBuffer accumulates raw reads and splits them on a delimiter.
// Bytes past the last delimiter are held for the next line.
type lineBuffer struct {
	delim   []byte
	pending []byte
}

func newLineBuffer(delim string) lineBuffer {
	return lineBuffer{delim: []byte(delim)}
}

func (b *lineBuffer) write(p []byte) {
	b.pending = append(b.pending, p...)
}

// next returns the first complete line, delimiter included.
func (b *lineBuffer) next() ([]byte, bool) {
	idx := bytes.Index(b.pending, b.delim)
	if idx < 0 {
		return nil, false
	}
	end := idx + len(b.delim)
	line := bytes.Clone(b.pending[:end])
	b.pending = append(b.pending[:0], b.pending[end:]...)
	return line, true
}

// drain returns everything buffered, complete line or not.
func (b *lineBuffer) drain() []byte {
	if len(b.pending) == 0 {
		return nil
	}
	out := bytes.Clone(b.pending)
	b.pending = b.pending[:0]
	return out
}

// Decode converts a raw line to text. Invalid UTF-8 sequences are dropped,
// never reported, and leading and trailing whitespace (including the line
// terminator) is removed.
func Decode(raw []byte) string {
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimFunc(s, isSpace)
}

// isSpace also treats the ASCII file, group, record and unit separators
// (0x1c-0x1f) as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
