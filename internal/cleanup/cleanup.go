// Package cleanup reclaims disk space from abandoned upload temp files.
//
// When a request is aborted mid-upload (client disconnect, crash, a
// connection-timeout teardown) before Upload.Save or Upload.Discard
// runs, its spooled ".name-uuid.tmp" file is left under the uploads
// directory indefinitely. RunPeriodic removes any such file whose mtime
// is older than the configured TTL.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Files scans uploadsDir and removes orphaned upload temp files
// (names matching ".*.tmp") whose mtime pre-dates now-ttl. It is safe to
// call concurrently with active uploads: a file being actively written
// has a recent mtime and is left untouched.
func Files(uploadsDir string, ttl time.Duration, logger zerolog.Logger) {
	entries, err := os.ReadDir(uploadsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Str("dir", uploadsDir).Err(err).Msg("cleanup: readdir failed")
		}
		return
	}

	cutoff := time.Now().Add(-ttl)
	var removed int
	for _, e := range entries {
		if e.IsDir() || !isTempUploadName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(uploadsDir, e.Name())
			age := time.Since(info.ModTime()).Round(time.Minute)
			if err := os.Remove(path); err != nil {
				logger.Warn().Str("file", e.Name()).Err(err).Msg("cleanup: remove failed")
			} else {
				removed++
				logger.Info().Str("file", e.Name()).Dur("age", age).Msg("cleanup: removed orphaned upload")
			}
		}
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("cleanup: cycle complete")
	}
}

func isTempUploadName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// RunPeriodic starts a background goroutine that calls Files on every
// interval until ctx is cancelled. A first pass runs immediately at
// startup to flush temp files left over from a previous crash or restart.
//
// Recommended values: ttl=24h, interval=1h.
func RunPeriodic(ctx context.Context, uploadsDir string, ttl, interval time.Duration, logger zerolog.Logger) {
	go func() {
		Files(uploadsDir, ttl, logger)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				Files(uploadsDir, ttl, logger)
			case <-ctx.Done():
				return
			}
		}
	}()
}
