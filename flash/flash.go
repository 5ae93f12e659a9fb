// Package flash defines the flash partition subsystem consumed by the
// virtual disk and the firmware update machine.
//
// A [Bank] exposes named partitions, identifies the partition holding the
// currently running firmware, and hands out [Update] sessions against the
// next update partition. Two implementations are provided: [MemBank] keeps
// partitions in memory, and [FileBank] persists each partition as a file on
// an afero filesystem.
package flash

import "io"

// Type classifies a partition.
type Type uint8

// Partition types.
const (
	TypeApp  Type = 0x00 // Application (firmware) partition
	TypeData Type = 0x01 // Data partition
)

// String returns a string representation of the partition type.
func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}

// Partition is a single flash region addressable by byte offset.
//
// ReadAt and WriteAt follow the [io.ReaderAt] and [io.WriterAt] contracts:
// a short read or write is reported with an error.
type Partition interface {
	io.ReaderAt
	io.WriterAt

	// Name returns the partition label (e.g. "ota_0").
	Name() string

	// Type returns the partition type.
	Type() Type

	// Size returns the partition capacity in bytes.
	Size() uint32
}

// Update is an open firmware update session against one partition.
// Writes append sequentially starting at offset zero.
type Update interface {
	// Write appends data to the partition. Returns the number of bytes
	// written; a short write is reported with an error.
	Write(p []byte) (int, error)

	// End closes the session. With commit true the written image is
	// flushed and validated; with commit false it is discarded.
	// The handle is unusable afterward.
	End(commit bool) error
}

// Bank is the collection of partitions on one device.
type Bank interface {
	// Find returns the partition with the given name, or nil.
	Find(name string) Partition

	// Running returns the partition holding the currently running
	// firmware image.
	Running() Partition

	// NextUpdate returns the next application partition eligible to
	// receive a firmware update, or nil when none exists. The result is
	// never the running partition.
	NextUpdate() Partition

	// Begin opens an update session against the given partition.
	// At most one session may be open per partition.
	Begin(p Partition, size uint32) (Update, error)

	// SetBootable marks the partition as the boot target for the next
	// restart.
	SetBootable(p Partition) error

	// Bootable returns the partition currently marked bootable, or nil.
	Bootable() Partition
}
