package respstream

import (
	"bytes"
	"compress/flate"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
)

// flusher is the subset of *flate.Writer compressed sources drive directly.
type flusher interface {
	io.Writer
	Flush() error
	Close() error
}

// CompressedStream emits a raw DEFLATE encoding (windowBits = -MAX_WBITS,
// i.e. exactly what compress/flate already produces — no zlib or gzip
// framing) of bytes pulled from an upstream io.Reader. The HTTP serializer
// drains it as an ordinary io.Reader (io.Copy); internally, Read loops the
// Processing/Writing state machine until it has produced at least one
// byte or reached Finished.
type CompressedStream struct {
	baseSource
	upstream io.Reader
	fw       flusher
	out      bytes.Buffer // carry-over buffer for compressed bytes not yet drained by the caller

	state     crm
	inBuf     []byte
	inputRead int64
}

// InputBytes returns the number of uncompressed bytes pulled from
// upstream so far, letting a caller (e.g. a metrics-collecting server)
// report bytes-in alongside the bytes-out it already gets by counting
// Read's output.
func (cs *CompressedStream) InputBytes() int64 { return cs.inputRead }

// crm ("current read mode") records whether Read may still pull input
// through the deflator (Processing) or the deflator has been closed
// (Finished). The Writing half of the loop has no value of its own: it is
// whenever out still holds compressed bytes that didn't fit in one
// caller-sized Read.
type crm int

const (
	crmProcessing crm = iota
	crmFinished
)

// NewCompressedStream wraps upstream with a raw-DEFLATE encoder at level
// (flate.DefaultCompression if 0). The returned source has unknown
// Content-Length (compressed size is never known up front) and
// Content-Encoding "deflate".
func NewCompressedStream(upstream io.Reader, level int) (*CompressedStream, error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	cs := &CompressedStream{
		baseSource: baseSource{length: -1, encoding: "deflate"},
		upstream:   upstream,
		inBuf:      make([]byte, 32*1024),
	}
	fw, err := flate.NewWriter(&cs.out, level)
	if err != nil {
		return nil, fmt.Errorf("sagui: init deflate writer: %w", err)
	}
	cs.fw = fw
	return cs, nil
}

// Read drains any carried-over compressed bytes first (the Writing half
// of the state machine); once drained, it is Processing: pull one
// chunk from upstream, push it through the deflator with NO_FLUSH (more
// input expected) or FINISH (upstream hit EOF), and loop back to drain
// whatever that produced. Reaching Finished with an empty buffer is EOS.
func (cs *CompressedStream) Read(p []byte) (int, error) {
	for {
		if cs.out.Len() > 0 {
			return cs.out.Read(p)
		}
		if cs.state == crmFinished {
			return 0, io.EOF
		}

		n, err := cs.upstream.Read(cs.inBuf)
		if n > 0 {
			cs.inputRead += int64(n)
			if _, werr := cs.fw.Write(cs.inBuf[:n]); werr != nil {
				return 0, fmt.Errorf("sagui: deflate write: %w", werr)
			}
		}
		switch {
		case err == io.EOF:
			if cerr := cs.fw.Close(); cerr != nil {
				return 0, fmt.Errorf("sagui: deflate close: %w", cerr)
			}
			cs.state = crmFinished
		case err != nil:
			return 0, err
		}
	}
}

// gzipState adds the header/trailer bookends around the CompressedStream
// body loop that turn it into a valid gzip stream.
type gzipState int

const (
	gzipHeader gzipState = iota
	gzipBody
	gzipTrailer
	gzipDone
)

// GzipFile emits a GZIP-framed raw-DEFLATE encoding of a file range:
// a 10-byte header, the CompressedStream body, and an 8-byte trailer
// (CRC32 + input size mod 2^32) around a deflate body.
type GzipFile struct {
	baseSource
	body      *CompressedStream
	crcReader *countingCRCReader
	crc       uint32
	size      uint32

	state   gzipState
	header  bytes.Buffer
	trailer bytes.Buffer
}

// NewGzipFile opens path and encodes size bytes from offset (or to EOF
// when size == 0) as gzip. level is the DEFLATE compression level
// (flate.DefaultCompression if 0); memory level 8 is compress/flate's
// fixed internal default and is not separately configurable.
func NewGzipFile(path string, offset, size int64, level int) (*GzipFile, error) {
	file, err := NewFile(path, offset, size, 0, "", "")
	if err != nil {
		return nil, err
	}
	counting := &countingCRCReader{r: file}
	body, err := NewCompressedStream(counting, level)
	if err != nil {
		return nil, err
	}
	g := &GzipFile{
		baseSource: baseSource{length: -1, encoding: "gzip"},
		body:       body,
	}
	g.crcReader = counting
	g.writeHeader()
	return g, nil
}

// InputBytes returns the number of uncompressed bytes pulled from the
// underlying file so far (delegates to the wrapped CompressedStream).
func (g *GzipFile) InputBytes() int64 { return g.body.InputBytes() }

func (g *GzipFile) writeHeader() {
	osByte := byte(0x03) // Unix
	if runtime.GOOS == "windows" {
		osByte = 0x0B
	}
	g.header.Write([]byte{
		0x1F, 0x8B, // magic
		0x08,     // method: deflate
		0x00,     // flags
		0, 0, 0, 0, // mtime: unset
		0x00,   // extra flags
		osByte, // OS
	})
}

func (g *GzipFile) Read(p []byte) (int, error) {
	for {
		switch g.state {
		case gzipHeader:
			if g.header.Len() > 0 {
				n, _ := g.header.Read(p)
				return n, nil
			}
			g.state = gzipBody
		case gzipBody:
			n, err := g.body.Read(p)
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				g.crc = g.crcReader.crc
				g.size = g.crcReader.n
				g.writeTrailer()
				g.state = gzipTrailer
				continue
			}
			if err != nil {
				return 0, err
			}
		case gzipTrailer:
			if g.trailer.Len() > 0 {
				n, _ := g.trailer.Read(p)
				return n, nil
			}
			g.state = gzipDone
		case gzipDone:
			return 0, io.EOF
		}
	}
}

func (g *GzipFile) writeTrailer() {
	var b [8]byte
	putLE32(b[0:4], g.crc)
	putLE32(b[4:8], g.size)
	g.trailer.Write(b[:])
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// countingCRCReader wraps an upstream io.Reader, accumulating a CRC32
// (IEEE polynomial, matching RFC 1952) and a byte count over every byte
// actually consumed — the figures GzipFile's trailer reports.
type countingCRCReader struct {
	r   io.Reader
	crc uint32
	n   uint32
}

func (c *countingCRCReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
		c.n += uint32(n)
	}
	return n, err
}

// Zsend deflates buf at level (flate.DefaultCompression if 0) and returns
// the compressed bytes plus whether compression was actually worthwhile.
// When the compressed size is >= len(buf), the caller should fall back to
// the uncompressed bytes and must not set Content-Encoding.
func Zsend(buf []byte, level int) (compressed []byte, used bool, err error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	var out bytes.Buffer
	fw, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, false, fmt.Errorf("sagui: init deflate writer: %w", err)
	}
	if _, err := fw.Write(buf); err != nil {
		return nil, false, fmt.Errorf("sagui: deflate write: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, false, fmt.Errorf("sagui: deflate close: %w", err)
	}
	if out.Len() >= len(buf) {
		return buf, false, nil
	}
	return out.Bytes(), true, nil
}
