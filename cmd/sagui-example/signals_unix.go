//go:build !windows

package main

import "syscall"

func init() {
	// SIGTERM is the standard graceful-shutdown signal on Linux/macOS.
	shutdownSignals = append(shutdownSignals, syscall.SIGTERM)
}
