package flash

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/ardnew/softdisk/pkg"
)

// otadataFile records the bootable partition name inside the bank directory.
const otadataFile = "otadata"

// FileBank implements Bank with each partition stored as a file on an
// afero filesystem. Partition files are created at their full size on
// first use so byte offsets stay valid; the bootable selection is
// persisted to an "otadata" file in the bank directory.
type FileBank struct {
	fs      afero.Fs
	dir     string
	mutex   sync.RWMutex
	parts   []*filePartition
	running *filePartition
}

// NewFileBank creates or opens a bank rooted at dir on fs.
func NewFileBank(fs afero.Fs, dir string, layout []PartitionSpec, running string) (*FileBank, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bank directory: %w", err)
	}

	b := &FileBank{fs: fs, dir: dir}
	for _, spec := range layout {
		path := filepath.Join(dir, spec.Name+".bin")
		fp, err := openPartitionFile(fs, path, spec)
		if err != nil {
			return nil, err
		}
		b.parts = append(b.parts, fp)
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

// openPartitionFile opens or creates the file backing one partition and
// extends it to the partition size.
func openPartitionFile(fs afero.Fs, path string, spec PartitionSpec) (*filePartition, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partition %q: %w", spec.Name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat partition %q: %w", spec.Name, err)
	}
	if info.Size() < int64(spec.Size) {
		if err := f.Truncate(int64(spec.Size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("size partition %q: %w", spec.Name, err)
		}
	}
	return &filePartition{
		name: spec.Name,
		typ:  spec.Type,
		size: spec.Size,
		file: f,
	}, nil
}

// Find returns the partition with the given name, or nil.
func (b *FileBank) Find(name string) Partition {
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
func (b *FileBank) Running() Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.running
}

// NextUpdate returns the first application partition that is not the
// running partition, or nil.
func (b *FileBank) NextUpdate() Partition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, p := range b.parts {
		if p.typ == TypeApp && p != b.running {
			return p
		}
	}
	return nil
}

// Begin opens an update session against p.
func (b *FileBank) Begin(p Partition, size uint32) (Update, error) {
	fp, ok := p.(*filePartition)
	if !ok {
		return nil, fmt.Errorf("begin update: foreign partition: %w", pkg.ErrNotFound)
	}
	if size > fp.size {
		return nil, fmt.Errorf("begin update: image size %d exceeds partition %q (%d): %w",
			size, fp.name, fp.size, pkg.ErrIO)
	}

	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	if fp.updating {
		return nil, fmt.Errorf("partition %q: %w", fp.name, pkg.ErrUpdateActive)
	}
	fp.updating = true

	pkg.LogDebug(pkg.ComponentFlash, "update session opened",
		"partition", fp.name, "size", size)
	return &fileUpdate{part: fp}, nil
}

// SetBootable marks p bootable and persists the selection.
func (b *FileBank) SetBootable(p Partition) error {
	fp, ok := p.(*filePartition)
	if !ok {
		return fmt.Errorf("set bootable: foreign partition: %w", pkg.ErrNotFound)
	}
	path := filepath.Join(b.dir, otadataFile)
	if err := afero.WriteFile(b.fs, path, []byte(fp.name+"\n"), 0o644); err != nil {
		return fmt.Errorf("persist boot selection: %w", err)
	}
	pkg.LogInfo(pkg.ComponentFlash, "boot partition set", "partition", fp.name)
	return nil
}

// Bootable returns the persisted bootable partition, or nil.
func (b *FileBank) Bootable() Partition {
	path := filepath.Join(b.dir, otadataFile)
	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return nil
	}
	return b.Find(strings.TrimSpace(string(data)))
}

// Close closes all partition files.
func (b *FileBank) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var first error
	for _, p := range b.parts {
		if err := p.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.parts = nil
	return first
}

// filePartition is a Partition backed by one file.
type filePartition struct {
	name     string
	typ      Type
	size     uint32
	mutex    sync.Mutex
	file     afero.File
	updating bool
}

// Name returns the partition label.
func (p *filePartition) Name() string { return p.name }

// Type returns the partition type.
func (p *filePartition) Type() Type { return p.typ }

// Size returns the partition capacity in bytes.
func (p *filePartition) Size() uint32 { return p.size }

// ReadAt reads len(buf) bytes at offset off.
func (p *filePartition) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off > int64(p.size) {
		return 0, fmt.Errorf("partition %q read at %d: %w", p.name, off, pkg.ErrOutOfRange)
	}
	n, err := p.file.ReadAt(buf, off)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

// WriteAt writes len(buf) bytes at offset off.
func (p *filePartition) WriteAt(buf []byte, off int64) (int, error) {
	if off < 0 || int64(len(buf))+off > int64(p.size) {
		return 0, fmt.Errorf("partition %q write at %d: %w", p.name, off, pkg.ErrOutOfRange)
	}
	return p.file.WriteAt(buf, off)
}

// fileUpdate is an open update session against a filePartition.
type fileUpdate struct {
	part   *filePartition
	offset uint32
	closed bool
}

// Write appends data to the partition.
func (u *fileUpdate) Write(p []byte) (int, error) {
	if u.closed {
		return 0, pkg.ErrClosed
	}
	n, err := u.part.WriteAt(p, int64(u.offset))
	u.offset += uint32(n)
	return n, err
}

// End closes the session, syncing the file on commit.
func (u *fileUpdate) End(commit bool) error {
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
	if err := u.part.file.Sync(); err != nil {
		return fmt.Errorf("sync partition %q: %w", u.part.name, err)
	}
	pkg.LogInfo(pkg.ComponentFlash, "update session committed",
		"partition", u.part.name, "bytes", u.offset)
	return nil
}

// Compile-time interface checks
var (
	_ Bank      = (*FileBank)(nil)
	_ Partition = (*filePartition)(nil)
	_ Update    = (*fileUpdate)(nil)
)
