// Package respstream implements the body-source state machines a
// Response can be backed by: a plain buffer, a file range, a caller-driven
// stream, and the two compressed variants (raw DEFLATE and gzip-framed
// DEFLATE). Each source is single-consumer: the HTTP serializer (sagui's
// Response writer) pulls bytes from it via io.Reader until io.EOF.
package respstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is a Response body source. ContentLength is -1 when the total
// size is not known in advance (compressed streams never advertise a
// length; plain streams only when created with a size > 0).
type Source interface {
	io.Reader
	ContentLength() int64
	ContentType() string
	ContentEncoding() string
	ContentDisposition() string
}

// baseSource supplies the header accessors most sources share, letting
// each concrete source only override what it actually sets.
type baseSource struct {
	length      int64
	contentType string
	encoding    string
	disposition string
}

func (b baseSource) ContentLength() int64       { return b.length }
func (b baseSource) ContentType() string        { return b.contentType }
func (b baseSource) ContentEncoding() string     { return b.encoding }
func (b baseSource) ContentDisposition() string { return b.disposition }

// Buffer is an owned byte vector served verbatim.
type Buffer struct {
	baseSource
	r io.Reader
}

// NewBuffer copies buf into an internal reader and sets ContentType if provided.
func NewBuffer(buf []byte, contentType string) *Buffer {
	data := make([]byte, len(buf))
	copy(data, buf)
	return &Buffer{
		baseSource: baseSource{length: int64(len(data)), contentType: contentType},
		r:          newByteReader(data),
	}
}

func (b *Buffer) Read(p []byte) (int, error) { return b.r.Read(p) }

func newByteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// File serves size bytes of path starting at offset (or to EOF when
// size == 0), enforcing maxSize when it is > 0.
type File struct {
	baseSource
	f         *os.File
	remaining int64
}

// NewFile opens path and seeks to offset. size == 0 means "to EOF" (and,
// per the open question resolved in DESIGN.md, "to EOF" also applies
// when offset > 0). maxSize, if > 0, rejects files larger than it with an
// "exceeds max size" error (reported by Response.SendFile as
// ErrFileTooBig). disposition ("attachment", "inline", or caller-chosen)
// sets Content-Disposition with the file's base name; pass "" to omit it.
func NewFile(path string, offset, size, maxSize int64, disposition, contentType string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sagui: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("sagui: %q is a directory", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("sagui: %q exceeds max size %d", path, maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sagui: open %q: %w", path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("sagui: seek %q: %w", path, err)
		}
	}

	remaining := size
	if size == 0 {
		remaining = info.Size() - offset
	}
	if remaining < 0 {
		remaining = 0
	}

	var dispositionHeader string
	if disposition != "" {
		dispositionHeader = fmt.Sprintf(`%s; filename="%s"`, disposition, filepath.Base(path))
	}

	return &File{
		baseSource: baseSource{
			length:      remaining,
			contentType: contentType,
			disposition: dispositionHeader,
		},
		f:         f,
		remaining: remaining,
	}, nil
}

func (fs *File) Read(p []byte) (int, error) {
	if fs.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > fs.remaining {
		p = p[:fs.remaining]
	}
	n, err := fs.f.Read(p)
	fs.remaining -= int64(n)
	if err == nil && fs.remaining <= 0 {
		fs.f.Close()
	}
	return n, err
}

// ReadFunc pulls up to len(buf) bytes for a Stream source starting at
// offset. Returning (0, io.EOF) signals a clean end of stream; any other
// non-nil error aborts the response mid-stream (the END_WITH_ERROR sentinel).
type ReadFunc func(offset int64, buf []byte) (int, error)

// Stream pulls bytes on demand via a caller-supplied ReadFunc. size, when
// > 0, is advertised as Content-Length; otherwise the response advertises
// no length (chunked transfer is left to the HTTP serializer).
type Stream struct {
	baseSource
	read   ReadFunc
	offset int64
	closed bool
	free   func()
}

// NewStream constructs a caller-driven Stream source. free, if non-nil,
// is called exactly once, the first time read returns a non-nil error
// (io.EOF included); a Stream that is never read to that point does not
// call it.
func NewStream(size int64, read ReadFunc, free func()) *Stream {
	length := int64(-1)
	if size > 0 {
		length = size
	}
	return &Stream{
		baseSource: baseSource{length: length},
		read:       read,
		free:       free,
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, io.EOF
	}
	n, err := s.read(s.offset, p)
	s.offset += int64(n)
	if err != nil {
		s.close()
		if err == io.EOF {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

func (s *Stream) close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.free != nil {
		s.free()
	}
}
