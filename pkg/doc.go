// Package pkg provides shared utilities for the softdisk virtual disk.
//
// This package contains common functionality used across the disk,
// flash, update, and cdc packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for disk, flash, and update failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with subsystem context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDisk, "virtual disk configured", "sectors", 8192)
//
// # Errors
//
// Failure classes are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrCapacity) {
//	    // Registry is full; caller decides whether to proceed without the file.
//	}
package pkg
