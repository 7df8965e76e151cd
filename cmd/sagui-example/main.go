// Command sagui-example hosts a sagui.Server behind a small routed demo
// handler: file upload/download, a compressed streaming download, and
// a Basic-auth-gated admin endpoint.
package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sagui-go/sagui"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(os.TempDir(), "sagui-example")
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o750); err != nil {
		logger.Error().Err(err).Msg("failed to prepare uploads directory")
		os.Exit(1)
	}

	router := &sagui.Router{}
	mustRoute(router, `/upload`, handleUpload)
	mustRoute(router, `/download/(?P<name>[^/]+)`, handleDownload)
	mustRoute(router, `/download-gzip/(?P<name>[^/]+)`, handleDownloadGzip)
	mustRoute(router, `/admin/stats`, handleAdminStats)

	var authFn sagui.AuthFunc
	if cfg.ServiceToken != "" {
		authFn = func(_ context.Context, gate *sagui.AuthGate, req *sagui.Request, res *sagui.Response) bool {
			if req.Path() != "/admin/stats" {
				return true
			}
			if subtle.ConstantTimeCompare([]byte(gate.Password()), []byte(cfg.ServiceToken)) == 1 {
				return true
			}
			gate.Deny([]byte("unauthorized\n"), "text/plain") //nolint:errcheck
			return false
		}
	}

	srv, err := sagui.New(authFn, func(ctx context.Context, req *sagui.Request, res *sagui.Response) {
		if err := router.Dispatch(req.Path(), req, nil, nil); err != nil {
			res.Send([]byte("not found\n"), "text/plain", http.StatusNotFound) //nolint:errcheck
		}
	}, func(msg string) {
		logger.Warn().Str("component", "sagui").Msg(msg)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to construct server")
		os.Exit(1)
	}

	srv.UploadsDir = cfg.UploadsDir
	srv.PayloadLimit = uint64(cfg.PayloadLimitMiB) << 20
	srv.UploadsLimit = uint64(cfg.UploadsLimitMiB) << 20
	if cfg.ConnectionTimeoutSecs > 0 {
		srv.ConnectionTimeoutSecs = cfg.ConnectionTimeoutSecs
	}
	srv.ConnectionLimit = cfg.ConnectionLimit
	srv.ThreadPoolSize = cfg.ThreadPoolSize
	srv.Logger = logger

	registry := prometheus.NewRegistry()
	srv.Metrics.MustRegister(registry)
	metricsAddr := fmt.Sprintf(":%d", cfg.Port+1)
	metricsSrv := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Str("uploads_dir", cfg.UploadsDir).
			Msg("sagui-example starting")

		var serveErr error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			serveErr = srv.TLSListen(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSKeyPassword, cfg.TLSTrustFile, cfg.TLSPriorities, "", cfg.Port, true)
		} else {
			serveErr = srv.Listen(cfg.Port, true)
		}
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, shutdownSignals...)
	<-quit

	logger.Info().Msg("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("sagui-example stopped")
}

func mustRoute(r *sagui.Router, pattern string, handler func(req *sagui.Request, res *sagui.Response, route *sagui.Route)) {
	_, err := r.Add(pattern, func(_ any, route *sagui.Route) {
		req := route.UserData().(*sagui.Request)
		handler(req, req.Response, route)
	}, nil)
	if err != nil {
		panic(fmt.Sprintf("sagui-example: invalid route %q: %v", pattern, err))
	}
}
