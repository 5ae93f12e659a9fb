// Package disk emulates a FAT16 volume behind a SCSI block interface.
//
// The volume is synthesized on the fly: no sector image is kept in memory.
// Virtual files are registered once during configuration, each mapping a
// contiguous sector/cluster range onto an in-memory buffer or a flash
// partition, and every block read renders the requested sector (boot
// sector, FAT, root directory, or file content) directly into the caller's
// buffer. Block writes to metadata regions are discarded, writes to
// memory-backed files are applied, and writes into firmware territory are
// handed to an injected [Sink] (the update state machine).
//
// # Layout
//
//	sector 0                    boot sector (BPB)
//	[reserved .. +fat)          FAT copy 0
//	[+fat .. +2*fat)            FAT copy 1
//	[rootdir .. content)        root directory
//	[content .. sector count)   file content, one cluster per sector
//
// The host USB stack drives the emulator through [Disk.ReadBlock],
// [Disk.WriteBlock], and the SCSI helpers; see the package-level example
// in examples/hostcopy.
package disk
