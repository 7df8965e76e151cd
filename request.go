package sagui

import (
	"context"
	"crypto/tls"
	"net/url"
	"strings"
	"sync"

	"github.com/sagui-go/sagui/upload"
)

// Request is the inbound half of a request: method, path, version, and
// lazily materialized header/cookie/query StrMaps. A Request owns
// exactly one Response and one AuthGate for its lifetime.
type Request struct {
	server     *Server
	remoteAddr string

	version  string
	method   string
	path     string
	rawQuery string

	rawHeader map[string][]string
	rawCookie string

	headers *StrMap
	cookies *StrMap
	query   *StrMap

	headersOnce sync.Once
	cookiesOnce sync.Once
	queryOnce   sync.Once

	fields  map[string][]string
	uploads []*upload.Upload

	userData any
	tlsState *tls.ConnectionState

	isolating bool
	isolated  bool

	Response *Response
	Auth     *AuthGate
}

// newRequest captures (connection, version, method, path) and allocates
// a Response and an AuthGate.
func newRequest(srv *Server, remoteAddr, version, method, path, rawQuery string, header map[string][]string, tlsState *tls.ConnectionState) *Request {
	var cookieHeader string
	if v, ok := header["Cookie"]; ok && len(v) > 0 {
		cookieHeader = v[0]
	}
	var authHeader string
	if v, ok := header["Authorization"]; ok && len(v) > 0 {
		authHeader = v[0]
	}
	return &Request{
		server:     srv,
		remoteAddr: remoteAddr,
		version:    version,
		method:     method,
		path:       path,
		rawQuery:   rawQuery,
		rawHeader:  header,
		rawCookie:  cookieHeader,
		tlsState:   tlsState,
		Response:   newResponse(),
		Auth:       newAuthGate(authHeader),
	}
}

// RemoteAddr returns the client's address as reported by the underlying connection.
func (r *Request) RemoteAddr() string { return r.remoteAddr }

// Server returns the Server that is handling this request.
func (r *Request) Server() *Server { return r.server }

// Version returns the HTTP version string (e.g. "HTTP/1.1").
func (r *Request) Version() string { return r.version }

// Method returns the request method (e.g. "GET").
func (r *Request) Method() string { return r.method }

// Path returns the request path, without query string.
func (r *Request) Path() string { return r.path }

// Headers lazily materializes and returns the request's header StrMap, by
// walking the connection's parsed header values on first access, then
// caching the result for the life of the Request.
func (r *Request) Headers() *StrMap {
	r.headersOnce.Do(func() {
		m := NewStrMap()
		for name, values := range r.rawHeader {
			for _, v := range values {
				m.Add(name, v)
			}
		}
		r.headers = m
	})
	return r.headers
}

// Cookies lazily materializes and returns the request's cookie StrMap by
// parsing the Cookie header ("a=1; b=2" pairs) on first access.
func (r *Request) Cookies() *StrMap {
	r.cookiesOnce.Do(func() {
		m := NewStrMap()
		for _, pair := range strings.Split(r.rawCookie, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			m.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		r.cookies = m
	})
	return r.cookies
}

// Query lazily materializes and returns the request's query-parameter
// StrMap by parsing the raw query string on first access.
func (r *Request) Query() *StrMap {
	r.queryOnce.Do(func() {
		m := NewStrMap()
		values, err := url.ParseQuery(r.rawQuery)
		if err == nil {
			for name, vs := range values {
				for _, v := range vs {
					m.Add(name, v)
				}
			}
		}
		r.query = m
	})
	return r.query
}

// Fields returns the non-file form fields parsed from the request body by
// the upload post-processor, or nil if the body has not been processed
// (e.g. a GET request, or one without a recognized content type).
func (r *Request) Fields() map[string][]string { return r.fields }

// Uploads returns the file parts spooled from the request body by the
// upload post-processor.
func (r *Request) Uploads() []*upload.Upload { return r.uploads }

// SetUserData attaches an arbitrary caller value to the request.
func (r *Request) SetUserData(v any) { r.userData = v }

// UserData returns the value last attached with SetUserData, or nil.
func (r *Request) UserData() any { return r.userData }

// TLSSession returns the active TLS connection state, or nil if the
// request did not arrive over TLS.
func (r *Request) TLSSession() *tls.ConnectionState { return r.tlsState }

// Isolate moves the request's remaining processing onto a dedicated
// worker drawn from the server's bounded pool (golang.org/x/sync/semaphore.Weighted),
// so the caller may perform blocking work without starving other
// connections in event-loop mode. Only one isolation may be in flight per
// request; a second call fails with ErrAlready. While
// running, fn's goroutine is the only place processing for this request
// continues -- the connection's idle timeout and disconnect detection are
// effectively suspended until fn returns, because no other goroutine is
// watching this request's teardown in the meantime.
func (r *Request) Isolate(ctx context.Context, fn func(ctx context.Context, req *Request) error) error {
	if r.isolating || r.isolated {
		return ErrAlready
	}
	r.isolating = true

	sem := r.server.isolationSem
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			r.isolating = false
			return err
		}
		defer sem.Release(1)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx, r)
	}()

	select {
	case err := <-done:
		r.isolating = false
		r.isolated = true
		return err
	case <-ctx.Done():
		r.isolating = false
		r.isolated = true
		return ctx.Err()
	}
}
