package sagui

import (
	"bytes"
	"fmt"
)

// Str is a growable, append-only byte buffer with printf-style append.
// It is reset to empty by Clear; a mutation invalidates any slice
// previously returned by Content.
type Str struct {
	buf bytes.Buffer
}

// Write appends p to the buffer.
func (s *Str) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

// Printf formats according to format and appends the result.
func (s *Str) Printf(format string, args ...any) {
	fmt.Fprintf(&s.buf, format, args...)
}

// Content returns the buffer's current bytes. The returned slice is only
// valid until the next mutating call (Write, Printf, or Clear).
func (s *Str) Content() []byte {
	return s.buf.Bytes()
}

// Len returns the number of bytes currently held, excluding any terminator.
func (s *Str) Len() int {
	return s.buf.Len()
}

// Clear discards all content, allowing the buffer to be reused.
func (s *Str) Clear() {
	s.buf.Reset()
}

// String returns the buffer's content as a string.
func (s *Str) String() string {
	return s.buf.String()
}
