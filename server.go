package sagui

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sagui-go/sagui/internal/cleanup"
	"github.com/sagui-go/sagui/metrics"
	"github.com/sagui-go/sagui/upload"
)

// small-memory-target defaults, an alternative profile for constrained hardware.
const (
	defaultPostBufferSize  = 4096
	smallPostBufferSize    = 1024
	defaultPayloadLimit    = 4 << 20
	smallPayloadLimit      = 1 << 20
	defaultUploadsLimit    = 64 << 20
	smallUploadsLimit      = 16 << 20
	defaultConnTimeoutSecs = 15
)

// AuthFunc decides whether a request is admitted: return true to admit
// it, false to deny it (subject to AuthGate.Deny/Cancel).
type AuthFunc func(ctx context.Context, gate *AuthGate, req *Request, res *Response) bool

// RequestFunc handles an admitted request: it must complete by setting a
// body on res, directly or via Request.Isolate.
type RequestFunc func(ctx context.Context, req *Request, res *Response)

// ErrorFunc receives a diagnostic message for an internal server error.
type ErrorFunc func(msg string)

// Server is an embeddable HTTP/1.1 server. The zero value is not usable;
// construct with New.
type Server struct {
	authCb    AuthFunc
	requestCb RequestFunc
	errorCb   ErrorFunc

	UploadsDir            string
	PostBufferSize        int
	PayloadLimit          uint64
	UploadsLimit          uint64
	ThreadPoolSize        int
	ConnectionTimeoutSecs int
	ConnectionLimit       int
	UploadFactory         upload.Factory

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	OnConnect    func(remoteAddr net.Addr) (refuse bool)
	OnDisconnect func(remoteAddr net.Addr)

	isolationSem *semaphore.Weighted
	poolSem      *semaphore.Weighted

	mu            sync.Mutex
	httpServer    *http.Server
	listener      net.Listener
	cleanupCancel context.CancelFunc

	connMu     sync.Mutex
	connActive int
}

// New constructs a Server. requestCb and errorCb are required; authCb may
// be nil to admit every request unconditionally.
// Defaults: UploadsDir = os.TempDir(), PostBufferSize = 4096,
// PayloadLimit = 4 MiB, UploadsLimit = 64 MiB, ConnectionTimeoutSecs = 15,
// ConnectionLimit = 0 (unbounded).
func New(authCb AuthFunc, requestCb RequestFunc, errorCb ErrorFunc) (*Server, error) {
	if requestCb == nil {
		return nil, fmt.Errorf("%w: request_cb is required", ErrInvalidArgument)
	}
	if errorCb == nil {
		return nil, fmt.Errorf("%w: error_cb is required", ErrInvalidArgument)
	}
	return &Server{
		authCb:                authCb,
		requestCb:             requestCb,
		errorCb:               errorCb,
		UploadsDir:            os.TempDir(),
		PostBufferSize:        defaultPostBufferSize,
		PayloadLimit:          defaultPayloadLimit,
		UploadsLimit:          defaultUploadsLimit,
		ConnectionTimeoutSecs: defaultConnTimeoutSecs,
		Logger:                zerolog.New(os.Stderr).With().Timestamp().Logger(),
		Metrics:               metrics.New(),
	}, nil
}

// SetPostBufferSize validates and sets the post-processing read-buffer
// size; it must be >= 256.
func (s *Server) SetPostBufferSize(n int) error {
	if n < 256 {
		return fmt.Errorf("%w: post_buffer_size must be >= 256", ErrInvalidArgument)
	}
	s.PostBufferSize = n
	return nil
}

// ApplySmallMemoryDefaults switches PostBufferSize/PayloadLimit/UploadsLimit
// to a smaller default profile, for callers that know they're running on
// constrained hardware.
func (s *Server) ApplySmallMemoryDefaults() {
	s.PostBufferSize = smallPostBufferSize
	s.PayloadLimit = smallPayloadLimit
	s.UploadsLimit = smallUploadsLimit
}

// Listen starts a plain-HTTP listener on port (0 asks the OS to pick a
// free port); threaded = true runs with no event-loop worker-pool bound
// (every connection's handler just runs on its own goroutine, Go's
// ordinary idiom for "thread per connection"); threaded = false bounds
// concurrent handler execution to ThreadPoolSize (at least 1) via a
// golang.org/x/sync/semaphore.Weighted, modeling event-loop mode.
func (s *Server) Listen(port int, threaded bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("sagui: listen: %w", err)
	}
	return s.serve(ln, threaded)
}

// tlsPriorityProfiles maps the cipher-priority strings to a
// tls.Config.CipherSuites list. There is no Go equivalent of GnuTLS's full
// priority-string grammar ("NONE:+VERS-TLS1.2:+AES-256-GCM:..."), so only
// the handful of named profiles are recognized; an unrecognized or empty
// string (including the default "NORMAL") leaves CipherSuites nil and lets
// crypto/tls pick its own default ordering.
var tlsPriorityProfiles = map[string][]uint16{
	"SECURE128": {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	},
	"SECURE256": {
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	},
	"PFS": {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	},
}

// TLSListen starts an HTTPS listener. certFile/keyFile are PEM paths;
// password, if non-empty, decrypts an encrypted PEM private key before it
// is paired with the certificate. trustFile, if non-empty, enables
// client-certificate verification (tls.RequireAndVerifyClientCert) against
// that CA bundle. priorities selects a cipher-suite preference profile (one
// of tlsPriorityProfiles' keys); "" or "NORMAL" leaves the Go default order
// in place. dhparams has no crypto/tls equivalent (Go's TLS stack does not
// expose classic DH ciphersuites) and is accepted but ignored; see
// DESIGN.md.
func (s *Server) TLSListen(certFile, keyFile, password, trustFile, priorities string, dhparams string, port int, threaded bool) error {
	cert, err := loadKeyPair(certFile, keyFile, password)
	if err != nil {
		return fmt.Errorf("%w: load cert/key: %v", ErrTLS, err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if suites, ok := tlsPriorityProfiles[priorities]; ok {
		cfg.CipherSuites = suites
	}
	if trustFile != "" {
		pool, err := loadCertPool(trustFile)
		if err != nil {
			return fmt.Errorf("%w: load trust root: %v", ErrTLS, err)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: listen: %v", ErrTLS, err)
	}
	tlsLn := tls.NewListener(ln, cfg)
	return s.serve(tlsLn, threaded)
}

// loadKeyPair reads certFile/keyFile and, when password is non-empty,
// decrypts an RFC 1423 encrypted PEM private key block before building the
// tls.Certificate. Unencrypted keys ignore password entirely.
func loadKeyPair(certFile, keyFile, password string) (tls.Certificate, error) {
	if password == "" {
		return tls.LoadX509KeyPair(certFile, keyFile)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("no PEM block found in %q", keyFile)
	}
	//nolint:staticcheck // x509.IsEncryptedPEMBlock/DecryptPEMBlock are the only stdlib path for RFC 1423 encrypted keys.
	if !x509.IsEncryptedPEMBlock(block) {
		return tls.X509KeyPair(certPEM, keyPEM)
	}
	//nolint:staticcheck
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decrypt key: %w", err)
	}
	decrypted := pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	return tls.X509KeyPair(certPEM, decrypted)
}

func (s *Server) serve(ln net.Listener, threaded bool) error {
	s.mu.Lock()
	if !threaded {
		s.poolSem = semaphore.NewWeighted(int64(maxInt(s.ThreadPoolSize, 1)))
	}
	s.isolationSem = semaphore.NewWeighted(int64(maxInt(s.ThreadPoolSize, 1) * 4))
	s.listener = &acceptHookListener{Listener: ln, srv: s}

	ctx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel
	cleanupLogger := s.Logger.With().Str("component", "cleanup").Logger()
	cleanup.RunPeriodic(ctx, s.UploadsDir, 24*time.Hour, time.Hour, cleanupLogger)

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: time.Duration(s.ConnectionTimeoutSecs) * time.Second,
		IdleTimeout:       time.Duration(s.ConnectionTimeoutSecs) * time.Second,
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.Logger.Info().Str("addr", ln.Addr().String()).Bool("threaded", threaded).Msg("sagui: listening")
	err := srv.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("sagui: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting new connections and drains in-flight ones. It
// is idempotent: a second call on an unstarted or already-shut-down
// Server is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	cancel := s.cleanupCancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("sagui: shutdown: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// acceptHookListener wraps net.Listener to invoke Server.OnConnect /
// Server.OnDisconnect around each accepted connection.
type acceptHookListener struct {
	net.Listener
	srv *Server
}

func (l *acceptHookListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.srv.OnConnect != nil && l.srv.OnConnect(conn.RemoteAddr()) {
		conn.Close()
		return l.Accept()
	}
	l.srv.connMu.Lock()
	l.srv.connActive++
	l.srv.connMu.Unlock()
	l.srv.Metrics.ConnectionsActive.Inc()
	l.srv.Metrics.ConnectionsTotal.Inc()
	return &hookedConn{Conn: conn, srv: l.srv}, nil
}

// hookedConn calls Server.OnDisconnect exactly once when the connection
// is closed, regardless of which of net/http's many close paths triggers it.
type hookedConn struct {
	net.Conn
	srv    *Server
	closed sync.Once
}

func (c *hookedConn) Close() error {
	err := c.Conn.Close()
	c.closed.Do(func() {
		c.srv.connMu.Lock()
		c.srv.connActive--
		c.srv.connMu.Unlock()
		c.srv.Metrics.ConnectionsActive.Dec()
		if c.srv.OnDisconnect != nil {
			c.srv.OnDisconnect(c.Conn.RemoteAddr())
		}
	})
	return err
}

// handler builds the single http.Handler the server's net/http.Server
// dispatches to: connection-limit enforcement, event-loop worker-pool
// bound, request/response translation, and structured access logging.
func (s *Server) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		start := time.Now()

		if s.ConnectionLimit > 0 {
			s.connMu.Lock()
			over := s.connActive > s.ConnectionLimit
			s.connMu.Unlock()
			if over {
				w.Header().Set("Retry-After", "5")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}

		if s.poolSem != nil {
			ctx, cancel := context.WithTimeout(hr.Context(), time.Duration(s.ConnectionTimeoutSecs)*time.Second)
			defer cancel()
			if err := s.poolSem.Acquire(ctx, 1); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			defer s.poolSem.Release(1)
		}

		s.Metrics.ActiveRequests.Inc()
		defer s.Metrics.ActiveRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.dispatch(rec, hr)

		s.Logger.Info().
			Str("method", hr.Method).
			Str("path", hr.URL.Path).
			Int("status", rec.status).
			Int64("bytes", rec.written).
			Dur("duration", time.Since(start)).
			Str("remote_addr", hr.RemoteAddr).
			Msg("sagui: request")

		s.Metrics.RequestsTotal.WithLabelValues(hr.Method, strconv.Itoa(rec.status/100*100)).Inc()
		s.Metrics.RequestDuration.WithLabelValues(hr.Method).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the status and byte count written through an
// http.ResponseWriter, for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// uploadMethods are the request methods whose body the UploadEngine
// post-processes: form fields (urlencoded or multipart) and file parts.
var uploadMethods = map[string]bool{
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// dispatch builds a Request/Response pair from hr, runs auth_cb before any
// body is touched, then -- only if the gate admitted the request --
// post-processes the body and runs request_cb, then serializes the
// Response onto w. Running auth first and skipping post-processing on
// denial or cancellation keeps a rejected request from ever spooling its
// payload to disk.
func (s *Server) dispatch(w http.ResponseWriter, hr *http.Request) {
	req := newRequest(s, hr.RemoteAddr, hr.Proto, hr.Method, hr.URL.Path, hr.URL.RawQuery, hr.Header, hr.TLS)
	defer func() {
		for _, u := range req.uploads {
			u.Discard()
		}
	}()

	ctx := hr.Context()
	res := req.Response

	admitted := true
	if s.authCb != nil {
		admitted = s.authCb(ctx, req.Auth, req, res)
	}
	if err := req.Auth.dispatch(admitted, res); err != nil {
		s.reportError(err.Error())
	}

	if !res.dispatched && !req.Auth.canceled {
		if ct := hr.Header.Get("Content-Type"); ct != "" && hr.Body != nil && uploadMethods[hr.Method] {
			var limited io.Reader = hr.Body
			if s.PayloadLimit > 0 && s.UploadsLimit > 0 {
				limited = io.LimitReader(hr.Body, int64(s.PayloadLimit+s.UploadsLimit)+1)
			}
			result, err := upload.Process(limited, ct, s.UploadsDir, upload.Options{
				Limits: upload.Limits{
					PayloadLimit: s.PayloadLimit,
					UploadsLimit: s.UploadsLimit,
				},
				NewUpload: s.UploadFactory,
			})
			if err != nil {
				s.reportError(err.Error())
				status := http.StatusBadRequest
				if errors.Is(err, upload.ErrPayloadTooLarge) || errors.Is(err, upload.ErrUploadTooLarge) {
					status = http.StatusRequestEntityTooLarge
				}
				w.WriteHeader(status)
				return
			}
			req.fields = result.Fields
			req.uploads = result.Uploads
			s.Metrics.UploadsTotal.Add(float64(len(result.Uploads)))
			for _, u := range result.Uploads {
				s.Metrics.BytesUploaded.Add(float64(u.Size))
			}
		}

		s.requestCb(ctx, req, res)
	}

	s.writeResponse(w, res)
}

// writeResponse serializes a Response onto an http.ResponseWriter:
// headers, status line, then the body source drained via io.Copy until
// io.EOF (or an error, reported through error_cb after filtering the
// handler-completed-normally message).
func (s *Server) writeResponse(w http.ResponseWriter, res *Response) {
	res.headers.Iter(func(e *StrMapEntry) error { //nolint:errcheck
		w.Header().Add(e.Name, e.Value)
		return nil
	})

	status := res.status
	if status == 0 {
		status = 500
	}
	w.WriteHeader(status)

	if res.body == nil {
		return
	}
	encoding := res.body.ContentEncoding()
	if encoding != "" {
		s.Metrics.CompressionsTotal.WithLabelValues(encoding).Inc()
	}
	n, err := io.Copy(w, res.body)
	if err != nil {
		if msg, ok := filterError(err.Error()); ok {
			s.reportError(msg)
		}
	}
	if encoding != "" {
		s.Metrics.BytesCompressedOut.Add(float64(n))
		if cs, ok := res.body.(interface{ InputBytes() int64 }); ok {
			s.Metrics.BytesCompressedIn.Add(float64(cs.InputBytes()))
		}
	}
}

func (s *Server) reportError(msg string) {
	if filtered, ok := filterError(msg); ok {
		s.errorCb(filtered)
	}
}

// loadCertPool reads a PEM bundle of trusted CA certificates from path,
// for TLSListen's client-certificate verification option.
func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates parsed from %q", path)
	}
	return pool, nil
}
