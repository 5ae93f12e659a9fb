package pkg

import "errors"

// Virtual disk and firmware update errors.
var (
	// ErrConfig indicates an invalid disk geometry or capacity configuration.
	// Fatal at startup; a disk must not be presented with this error pending.
	ErrConfig = errors.New("invalid configuration")

	// ErrCapacity indicates the file registry is full.
	ErrCapacity = errors.New("registry full")

	// ErrIO indicates a partition or backing store read/write failure.
	// Surfaced to the host stack as a stalled (negative length) transfer.
	ErrIO = errors.New("I/O error")

	// ErrReadOnly indicates a write to a read-only file.
	ErrReadOnly = errors.New("file is read-only")

	// ErrOutOfRange indicates a block address outside the device capacity.
	ErrOutOfRange = errors.New("block address out of range")

	// ErrChipMismatch indicates a firmware image built for a different chip.
	ErrChipMismatch = errors.New("firmware image chip mismatch")

	// ErrNoUpdatePartition indicates no free update partition is available.
	ErrNoUpdatePartition = errors.New("no update partition available")

	// ErrUpdateRejected indicates the application declined the update.
	ErrUpdateRejected = errors.New("update rejected by application")

	// ErrUpdateActive indicates an update session is already open.
	ErrUpdateActive = errors.New("update session already active")

	// ErrTimer indicates the update idle timer could not be armed.
	// Treated the same as ErrIO: the session is aborted.
	ErrTimer = errors.New("idle timer unavailable")

	// ErrNotFound indicates a named partition does not exist.
	ErrNotFound = errors.New("partition not found")

	// ErrClosed indicates an operation on a closed update handle.
	ErrClosed = errors.New("update handle closed")

	// ErrInvalidImage indicates a malformed firmware image header.
	ErrInvalidImage = errors.New("invalid firmware image")
)
