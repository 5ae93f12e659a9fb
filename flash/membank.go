package flash

import (
	"fmt"
	"io"
	"sync"

	"github.com/ardnew/softdisk/pkg"
)

// PartitionSpec describes one partition in a bank layout.
type PartitionSpec struct {
	Name string
	Type Type
	Size uint32
}

// MemBank implements Bank with in-memory partitions. The backing buffers
// are initialized to the flash erased state (0xFF).
type MemBank struct {
	mutex    sync.RWMutex
	parts    []*memPartition
	running  *memPartition
	bootable *memPartition
}

// NewMemBank creates a bank with the given layout. The running partition
// is identified by name and must be an application partition in the layout.
func NewMemBank(layout []PartitionSpec, running string) (*MemBank, error) {
	b := &MemBank{}
	for _, spec := range layout {
		data := make([]byte, spec.Size)
		for i := range data {
			data[i] = 0xFF
		}
		b.parts = append(b.parts, &memPartition{
			name: spec.Name,
			typ:  spec.Type,
			data: data,
		})
	}

	for _, p := range b.parts {
		if p.name == running {
			if p.typ != TypeApp {
				return nil, fmt.Errorf("running partition %q: %w", running, pkg.ErrConfig)
			}
			b.running = p
			return b, nil
		}
	}
	return nil, fmt.Errorf("running partition %q: %w", running, pkg.ErrNotFound)
}

// Find returns the partition with the given name, or nil.
func (b *MemBank) Find(name string) Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, p := range b.parts {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Running returns the partition holding the running firmware.
func (b *MemBank) Running() Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.running
}

// SetRunning changes the running partition. Used after a simulated restart.
func (b *MemBank) SetRunning(name string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, p := range b.parts {
		if p.name == name && p.typ == TypeApp {
			b.running = p
			return nil
		}
	}
	return fmt.Errorf("partition %q: %w", name, pkg.ErrNotFound)
}

// NextUpdate returns the first application partition that is not the
// running partition, or nil.
func (b *MemBank) NextUpdate() Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, p := range b.parts {
		if p.typ == TypeApp && p != b.running {
			return p
		}
	}
	return nil
}

// Begin opens an update session against p, erasing its contents.
func (b *MemBank) Begin(p Partition, size uint32) (Update, error) {
	mp, ok := p.(*memPartition)
	if !ok {
		return nil, fmt.Errorf("begin update: foreign partition: %w", pkg.ErrInvalidImage)
	}
	if size > mp.Size() {
		return nil, fmt.Errorf("begin update: image size %d exceeds partition %q (%d): %w",
			size, mp.name, mp.Size(), pkg.ErrIO)
	}

	mp.mutex.Lock()
	defer mp.mutex.Unlock()
	if mp.updating {
		return nil, fmt.Errorf("partition %q: %w", mp.name, pkg.ErrUpdateActive)
	}
	for i := range mp.data {
		mp.data[i] = 0xFF
	}
	mp.updating = true

	pkg.LogDebug(pkg.ComponentFlash, "update session opened",
		"partition", mp.name, "size", size)
	return &memUpdate{part: mp}, nil
}

// SetBootable marks p as the boot target for the next restart.
func (b *MemBank) SetBootable(p Partition) error {
	mp, ok := p.(*memPartition)
	if !ok {
		return fmt.Errorf("set bootable: foreign partition: %w", pkg.ErrNotFound)
	}
	b.mutex.Lock()
	b.bootable = mp
	b.mutex.Unlock()
	pkg.LogInfo(pkg.ComponentFlash, "boot partition set", "partition", mp.name)
	return nil
}

// Bootable returns the partition marked bootable, or nil.
func (b *MemBank) Bootable() Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.bootable == nil {
		return nil
	}
	return b.bootable
}

// memPartition is a Partition backed by a byte slice.
type memPartition struct {
	name     string
	typ      Type
	mutex    sync.RWMutex
	data     []byte
	updating bool
}

// Name returns the partition label.
func (p *memPartition) Name() string { return p.name }

// Type returns the partition type.
func (p *memPartition) Type() Type { return p.typ }

// Size returns the partition capacity in bytes.
func (p *memPartition) Size() uint32 { return uint32(len(p.data)) }

// ReadAt reads len(buf) bytes at offset off.
func (p *memPartition) ReadAt(buf []byte, off int64) (int, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if off < 0 || off > int64(len(p.data)) {
		return 0, fmt.Errorf("partition %q read at %d: %w", p.name, off, pkg.ErrOutOfRange)
	}
	n := copy(buf, p.data[off:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(buf) bytes at offset off.
func (p *memPartition) WriteAt(buf []byte, off int64) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if off < 0 || off > int64(len(p.data)) {
		return 0, fmt.Errorf("partition %q write at %d: %w", p.name, off, pkg.ErrOutOfRange)
	}
	n := copy(p.data[off:], buf)
	if n < len(buf) {
		return n, fmt.Errorf("partition %q write at %d: %w", p.name, off, io.ErrShortWrite)
	}
	return n, nil
}

// memUpdate is an open update session against a memPartition.
type memUpdate struct {
	part   *memPartition
	offset uint32
	closed bool
}

// Write appends data to the partition.
func (u *memUpdate) Write(p []byte) (int, error) {
	if u.closed {
		return 0, pkg.ErrClosed
	}
	n, err := u.part.WriteAt(p, int64(u.offset))
	u.offset += uint32(n)
	return n, err
}

// End closes the session.
func (u *memUpdate) End(commit bool) error {
	if u.closed {
		return pkg.ErrClosed
	}
	u.closed = true

	u.part.mutex.Lock()
	u.part.updating = false
	u.part.mutex.Unlock()

	if !commit {
		pkg.LogDebug(pkg.ComponentFlash, "update session discarded",
			"partition", u.part.name, "received", u.offset)
		return nil
	}
	if u.offset == 0 {
		return fmt.Errorf("commit on partition %q: empty image: %w",
			u.part.name, pkg.ErrInvalidImage)
	}
	pkg.LogInfo(pkg.ComponentFlash, "update session committed",
		"partition", u.part.name, "bytes", u.offset)
	return nil
}

// Compile-time interface checks
var (
	_ Bank      = (*MemBank)(nil)
	_ Partition = (*memPartition)(nil)
	_ Update    = (*memUpdate)(nil)
)
