package disk

import (
	"fmt"
	"strings"

	"github.com/ardnew/softdisk/flash"
	"github.com/ardnew/softdisk/pkg"
)

// File is one entry in the virtual file registry. Files are created by
// the Add* registration calls and never removed: sector and cluster
// assignment is a running prefix sum over the registration order, so the
// list is append-only by construction.
type File struct {
	name83    [11]byte      // 8.3 name, space padded, upper case
	printable string        // name as registered
	lfn       []lfnFragment // long-name chain in on-disk order; empty if none
	checksum  uint8         // shortNameChecksum(name83)

	content []byte          // memory backing, nil for partition files
	part    flash.Partition // partition backing, nil for memory files
	offset  uint32          // byte offset of the file within part

	size  uint32
	attrs uint8

	startSector uint32
	endSector   uint32
	startClust  uint16
	endClust    uint16
	dirSector   uint32 // root-directory sector index holding its entries
}

// Name returns the name the file was registered under.
func (f *File) Name() string { return f.printable }

// ShortName returns the 8.3 name as "NAME.EXT".
func (f *File) ShortName() string {
	base := strings.TrimRight(string(f.name83[:8]), " ")
	ext := strings.TrimRight(string(f.name83[8:]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Size returns the file content size in bytes.
func (f *File) Size() uint32 { return f.size }

// ReadOnly reports whether host writes to the file are rejected.
func (f *File) ReadOnly() bool { return f.attrs&attrReadOnly != 0 }

// Sectors returns the inclusive sector range occupied by the file.
func (f *File) Sectors() (start, end uint32) { return f.startSector, f.endSector }

// Clusters returns the inclusive cluster range occupied by the file.
func (f *File) Clusters() (start, end uint16) { return f.startClust, f.endClust }

// AddFile registers a memory-backed file. The buffer is referenced, not
// copied; writable files modify it in place.
func (d *Disk) AddFile(name string, content []byte, readOnly bool) (*File, error) {
	return d.register(name, content, nil, 0, uint32(len(content)), readOnly)
}

// AddReadOnlyFile registers an immutable memory-backed file.
func (d *Disk) AddReadOnlyFile(name string, content []byte) (*File, error) {
	return d.register(name, content, nil, 0, uint32(len(content)), true)
}

// AddPartitionFile registers a file exposing the named partition of bank.
// The file spans the whole partition.
func (d *Disk) AddPartitionFile(bank flash.Bank, partName, fileName string, writable bool) (*File, error) {
	part := bank.Find(partName)
	if part == nil {
		return nil, fmt.Errorf("register %q: partition %q: %w", fileName, partName, pkg.ErrNotFound)
	}
	return d.register(fileName, nil, part, 0, part.Size(), !writable)
}

// AddPartitionRange registers a file exposing a byte window of a partition.
func (d *Disk) AddPartitionRange(fileName string, part flash.Partition, offset, size uint32, writable bool) (*File, error) {
	if offset+size > part.Size() {
		return nil, fmt.Errorf("register %q: window [%d,%d) exceeds partition %q: %w",
			fileName, offset, offset+size, part.Name(), pkg.ErrConfig)
	}
	return d.register(fileName, nil, part, offset, size, !writable)
}

// AddFirmware registers the running firmware partition read-only under
// currentName and, when a distinct update partition exists, that
// partition writable under nextName.
func (d *Disk) AddFirmware(bank flash.Bank, currentName, nextName string) error {
	running := bank.Running()
	if running == nil {
		return fmt.Errorf("register firmware: no running partition: %w", pkg.ErrNotFound)
	}
	if _, err := d.register(currentName, nil, running, 0, running.Size(), true); err != nil {
		return err
	}
	next := bank.NextUpdate()
	if next == nil {
		return nil
	}
	_, err := d.register(nextName, nil, next, 0, next.Size(), false)
	return err
}

// register appends a file to the registry, deriving its 8.3 (and long)
// name and assigning its sector, cluster, and root-directory placement.
func (d *Disk) register(name string, content []byte, part flash.Partition, offset, size uint32, readOnly bool) (*File, error) {
	if d.presented {
		return nil, fmt.Errorf("register %q: disk already presented: %w", name, pkg.ErrConfig)
	}

	f := &File{
		printable: name,
		content:   content,
		part:      part,
		offset:    offset,
		size:      size,
		attrs:     attrArchive,
	}
	if readOnly {
		f.attrs |= attrReadOnly
	}

	f.name83 = shortName(name)
	if d.cfg.LongNames && len(name) > 12 {
		// The generated short name must be unique among registered
		// entries or FAT hosts resolve both names to one file.
		for seq := 1; ; seq++ {
			f.name83 = tildeName(name, seq)
			if !d.shortNameTaken(f.name83) {
				break
			}
		}
		f.lfn = encodeLongName(name)
	}
	f.checksum = shortNameChecksum(f.name83)

	// Contiguous placement immediately after the previous file.
	if len(d.files) == 0 {
		f.startSector = d.geo.ContentStart
		f.startClust = firstCluster
	} else {
		prev := d.files[len(d.files)-1]
		f.startSector = prev.endSector + 1
		f.startClust = prev.endClust + 1
	}
	span := size / d.geo.SectorSize
	f.endSector = f.startSector + span
	f.endClust = f.startClust + uint16(span)

	if f.endSector >= d.geo.SectorCount {
		return nil, fmt.Errorf("register %q: %d bytes exceed remaining content space: %w",
			name, size, pkg.ErrCapacity)
	}

	// First root-directory sector with room for the LFN chain plus the
	// short entry.
	needed := uint32(1 + len(f.lfn))
	if needed > d.geo.EntriesPerSector {
		return nil, fmt.Errorf("register %q: name needs %d directory entries, sector holds %d: %w",
			name, needed, d.geo.EntriesPerSector, pkg.ErrCapacity)
	}
	assigned := false
	for s := range d.dirFree {
		if d.dirFree[s] >= needed {
			d.dirFree[s] -= needed
			f.dirSector = uint32(s)
			assigned = true
			break
		}
	}
	if !assigned {
		return nil, fmt.Errorf("register %q: root directory full: %w", name, pkg.ErrCapacity)
	}

	d.files = append(d.files, f)
	pkg.LogInfo(pkg.ComponentRegistry, "file registered",
		"name", f.printable,
		"short", f.ShortName(),
		"sectors", fmt.Sprintf("%d-%d", f.startSector, f.endSector),
		"clusters", fmt.Sprintf("%d-%d", f.startClust, f.endClust),
		"bytes", size,
		"readOnly", readOnly)
	return f, nil
}

// Files returns the registered files in registration order.
func (d *Disk) Files() []*File {
	out := make([]*File, len(d.files))
	copy(out, d.files)
	return out
}

// fileForBlock returns the file whose sector range contains lba, or nil.
// Ranges are non-overlapping by construction, so the first hit is the
// only hit.
func (d *Disk) fileForBlock(lba uint32) *File {
	for _, f := range d.files {
		if lba >= f.startSector && lba <= f.endSector {
			return f
		}
	}
	return nil
}

// shortName derives a space-padded, upper-cased 8.3 name: the base is
// taken up to the last dot and truncated to eight characters, the
// extension to three.
func shortName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base := name
	ext := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base = name[:dot]
		ext = name[dot+1:]
	}
	copy(out[:8], sanitize83(base, 8))
	copy(out[8:], sanitize83(ext, 3))
	return out
}

// tildeName derives the generated short name that anchors a long-name
// chain: the leading usable base characters followed by "~<seq>", plus
// the regular three-character extension. The stem shrinks to make room
// for multi-digit sequence numbers.
func tildeName(name string, seq int) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base := name
	ext := ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base = name[:dot]
		ext = name[dot+1:]
	}
	suffix := fmt.Sprintf("~%d", seq)
	stem := sanitize83(base, 8-len(suffix))
	n := copy(out[:], stem)
	copy(out[n:n+len(suffix)], suffix)
	copy(out[8:], sanitize83(ext, 3))
	return out
}

// shortNameTaken reports whether a registered file already carries the
// given 8.3 name.
func (d *Disk) shortNameTaken(name83 [11]byte) bool {
	for _, f := range d.files {
		if f.name83 == name83 {
			return true
		}
	}
	return false
}

// sanitize83 upper-cases s, strips characters not representable in an
// 8.3 name, and truncates to max bytes.
func sanitize83(s string, max int) []byte {
	out := make([]byte, 0, max)
	for i := 0; i < len(s) && len(out) < max; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		case strings.IndexByte("$%'-_@~`!(){}^#&", c) >= 0:
			out = append(out, c)
		}
	}
	return out
}
