//go:build !windows

package upload

import (
	"errors"
	"syscall"
)

// isCrossDevice reports whether err is the EXDEV os.Rename can return when
// the temp file and destination live on different filesystems.
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
