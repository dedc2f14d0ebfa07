// Package pkg provides shared utilities for the softflash storage stack.
//
// This package contains common functionality used by the flash block layer,
// its drivers and the command-line tool, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for flash and block protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.Configure(os.Stderr, slog.LevelDebug, false)
//	pkg.LogDebug(pkg.ComponentCache, "page loaded", "page", 0x3000)
//
// # Errors
//
// Common storage errors are defined as sentinel values and are usually
// returned wrapped with the failing address or operation:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Erase or program never signalled completion
//	}
package pkg
