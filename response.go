package sagui

import (
	"fmt"
	"io"
	"strings"

	"github.com/sagui-go/sagui/respstream"
)

// Response is the outbound half of a request: status, headers, cookies,
// and a single body source installed exactly once. Cookie validation uses
// direct byte-range checks rather than regex, a tight loop over a heavier
// abstraction where one suffices.
type Response struct {
	headers *StrMap
	status  int

	body       respstream.Source
	dispatched bool
}

// newResponse constructs a Response with default status 500 and an empty
// header map.
func newResponse() *Response {
	return &Response{
		headers: NewStrMap(),
		status:  500,
	}
}

// Headers returns the response's header StrMap. Mutable only until a body
// source is installed; mutation attempts thereafter are the caller's
// responsibility to avoid (the StrMap itself has no locking contract --
// Response.Send* is what enforces "already has a body").
func (res *Response) Headers() *StrMap { return res.headers }

// Status returns the currently set status code.
func (res *Response) Status() int { return res.status }

// SetCookie adds a Set-Cookie header after validating name and value:
// name must be non-empty [A-Za-z0-9_]; value must be all printable ASCII
// with no control characters (optional outer quoting is the caller's
// responsibility and is passed through verbatim).
func (res *Response) SetCookie(name, value string) error {
	if !isValidCookieName(name) {
		return fmt.Errorf("%w: invalid cookie name %q", ErrInvalidArgument, name)
	}
	if !isValidCookieValue(value) {
		return fmt.Errorf("%w: invalid cookie value for %q", ErrInvalidArgument, name)
	}
	res.headers.Add("Set-Cookie", name+"="+value)
	return nil
}

func isValidCookieName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isAlnum := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '_' {
			return false
		}
	}
	return true
}

func isValidCookieValue(value string) bool {
	v := value
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c >= 0x7F {
			return false
		}
	}
	return true
}

// checkBodySlot validates status and ensures no body has been installed
// yet, the precondition every Send* variant shares.
func (res *Response) checkBodySlot(status int) error {
	if res.dispatched {
		return ErrAlready
	}
	if status < 100 || status > 599 {
		return fmt.Errorf("%w: status %d out of range [100,599]", ErrInvalidArgument, status)
	}
	return nil
}

func (res *Response) install(status int, src respstream.Source) error {
	res.status = status
	res.body = src
	res.dispatched = true
	if ct := src.ContentType(); ct != "" {
		res.headers.Set("Content-Type", ct)
	}
	if enc := src.ContentEncoding(); enc != "" {
		res.headers.Set("Content-Encoding", enc)
	}
	if disp := src.ContentDisposition(); disp != "" {
		res.headers.Set("Content-Disposition", disp)
	}
	if n := src.ContentLength(); n >= 0 {
		res.headers.Set("Content-Length", fmt.Sprintf("%d", n))
	} else {
		res.headers.Set("Transfer-Encoding", "chunked")
	}
	return nil
}

// Send sets body as the response payload with the given content type and
// status. Fails with ErrAlready if a body is already installed, or with
// a wrapped ErrInvalidArgument if status is out of [100,599].
func (res *Response) Send(body []byte, contentType string, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	return res.install(status, respstream.NewBuffer(body, contentType))
}

// SendBinary is Send with "application/octet-stream" as the content type.
func (res *Response) SendBinary(body []byte, status int) error {
	return res.Send(body, "application/octet-stream", status)
}

// SendFile streams size bytes of path from offset (0, 0 serves the whole
// file) as the response body. maxSize, if > 0, rejects files larger than
// it with ErrFileTooBig. disposition ("attachment", "inline", or "" to
// omit) sets Content-Disposition using the file's base name.
func (res *Response) SendFile(path string, offset, size, maxSize int64, disposition, contentType string, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	f, err := respstream.NewFile(path, offset, size, maxSize, disposition, contentType)
	if err != nil {
		return translateFileError(err)
	}
	return res.install(status, f)
}

// SendStream installs a caller-driven Stream source: size > 0 advertises
// Content-Length; size <= 0 advertises none and the server falls back to
// chunked framing.
func (res *Response) SendStream(size int64, read respstream.ReadFunc, free func(), contentType string, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	s := respstream.NewStream(size, read, free)
	s2 := &contentTypedStream{Stream: s, contentType: contentType}
	return res.install(status, s2)
}

// contentTypedStream adapts respstream.Stream (which carries no content
// type of its own) to also report the caller's chosen content type.
type contentTypedStream struct {
	*respstream.Stream
	contentType string
}

func (s *contentTypedStream) ContentType() string { return s.contentType }

// ZSend is the compressed-stream sibling of Send: body is deflated via
// respstream.Zsend at level (0 = default); if compression did not shrink
// the payload the uncompressed bytes are sent instead and no
// Content-Encoding is set.
func (res *Response) ZSend(body []byte, contentType string, level, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	compressed, used, err := respstream.Zsend(body, level)
	if err != nil {
		return err
	}
	if !used {
		return res.Send(body, contentType, status)
	}
	src := respstream.NewBuffer(compressed, contentType)
	if err := res.install(status, src); err != nil {
		return err
	}
	res.headers.Set("Content-Encoding", "deflate")
	return nil
}

// ZSendStream installs a raw-DEFLATE CompressedStream wrapping upstream
// as the response body.
func (res *Response) ZSendStream(upstream io.Reader, level, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	cs, err := respstream.NewCompressedStream(upstream, level)
	if err != nil {
		return err
	}
	return res.install(status, cs)
}

// ZSendFile installs a gzip-framed CompressedStream over a file range as
// the response body.
func (res *Response) ZSendFile(path string, offset, size int64, level, status int) error {
	if err := res.checkBodySlot(status); err != nil {
		return err
	}
	g, err := respstream.NewGzipFile(path, offset, size, level)
	if err != nil {
		return translateFileError(err)
	}
	return res.install(status, g)
}

// Reset clears status and body while preserving headers and cookies,
// except for the body-derived headers a prior Send/ZSend call installed
// (Content-Type, Content-Encoding, Content-Disposition, Content-Length,
// Transfer-Encoding) -- those describe the body being cleared, so they are
// stripped along with it. Any other header or cookie the caller set
// directly survives.
func (res *Response) Reset() {
	res.status = 500
	res.body = nil
	res.dispatched = false
	for _, h := range []string{"Content-Type", "Content-Encoding", "Content-Disposition", "Content-Length", "Transfer-Encoding"} {
		res.headers.Rm(h)
	}
}

// Clear drops everything -- headers, cookies, status, body -- and resets
// status to 500.
func (res *Response) Clear() {
	res.headers = NewStrMap()
	res.status = 500
	res.body = nil
	res.dispatched = false
}

// Body returns the installed body source, or nil if none has been set yet.
func (res *Response) Body() respstream.Source { return res.body }

// translateFileError maps the plain errors respstream.NewFile/NewGzipFile
// return onto the sagui error taxonomy, by inspecting the wrapped message
// -- respstream intentionally has no dependency on the root package's
// sentinel errors, so the mapping happens at this boundary.
func translateFileError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "is a directory"):
		return fmt.Errorf("%w: %s", ErrIsDirectory, msg)
	case strings.Contains(msg, "exceeds max size"):
		return fmt.Errorf("%w: %s", ErrFileTooBig, msg)
	default:
		return fmt.Errorf("%w: %s", ErrBadFile, msg)
	}
}
