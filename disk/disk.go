package disk

import (
	"fmt"

	"github.com/ardnew/softdisk/pkg"
)

// Sink receives content-range block writes that the emulator does not
// serve itself: writes into unregistered content space and writes to
// partition-backed writable files. The firmware update state machine
// implements this interface.
type Sink interface {
	// HandleWrite observes one block write. It returns the number of
	// bytes consumed (normally len(data)) or an error, which the
	// emulator propagates to the host stack as a failed transfer.
	HandleWrite(lba, offset uint32, data []byte) (int, error)
}

// DirectoryObserver is notified when the host writes a plausible new
// directory entry into a root-directory sector. Directory writes are
// never persisted; the observer exists so the application can log or
// react to the name of an incoming file.
type DirectoryObserver func(name string, size uint32)

// Disk is a virtual FAT16 volume. It owns the geometry, the file
// registry, and the block read/write dispatch. Construct with New,
// register files with the Add* methods, then call Present before handing
// block callbacks to the host stack.
type Disk struct {
	cfg Config
	geo Geometry

	files   []*File
	dirFree []uint32 // free directory entry slots per root-dir sector

	sink    Sink
	dirObs  DirectoryObserver
	scratch []byte // sector render buffer for partial reads

	presented bool

	// SCSI sense state for the most recent failed command.
	senseKey  uint8
	senseASC  uint8
	senseASCQ uint8
}

// New creates a virtual disk from cfg. Geometry is derived once here;
// a configuration that cannot produce a valid FAT16 layout is rejected
// and no disk is created.
func New(cfg Config) (*Disk, error) {
	cfg = cfg.withDefaults()
	geo, err := newGeometry(cfg)
	if err != nil {
		return nil, err
	}

	d := &Disk{
		cfg:     cfg,
		geo:     geo,
		dirFree: make([]uint32, geo.RootDirSectors),
		scratch: make([]byte, geo.SectorSize),
	}
	for s := range d.dirFree {
		d.dirFree[s] = geo.EntriesPerSector
	}
	// The volume label occupies the first slot of sector 0.
	d.dirFree[0]--

	return d, nil
}

// Geometry returns the derived volume layout.
func (d *Disk) Geometry() Geometry { return d.geo }

// SetUpdateSink installs the receiver for firmware-territory writes.
func (d *Disk) SetUpdateSink(s Sink) { d.sink = s }

// SetDirectoryObserver installs the root-directory write observer.
func (d *Disk) SetDirectoryObserver(obs DirectoryObserver) { d.dirObs = obs }

// Present seals the registry and logs the final layout. Registration
// calls fail afterward; the disk may now be exposed to the host stack.
func (d *Disk) Present() {
	d.presented = true
	pkg.LogInfo(pkg.ComponentDisk, "virtual disk presented",
		"label", d.cfg.VolumeLabel,
		"sectors", d.geo.SectorCount,
		"bytes", d.geo.SectorCount*d.geo.SectorSize,
		"sectorsPerFAT", d.geo.SectorsPerFAT,
		"fat0", d.geo.FATCopy0Start,
		"fat1", d.geo.FATCopy1Start,
		"rootDir", d.geo.RootDirStart,
		"rootDirEntries", d.geo.RootDirEntries,
		"content", d.geo.ContentStart,
		"files", len(d.files))
}

// ReadBlock serves a block read at lba, starting offset bytes into the
// sector. buf is fully zero-filled before any content is written, so
// regions with no backing data read as zero. The returned count is
// always len(buf) on success.
func (d *Disk) ReadBlock(lba, offset uint32, buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}

	if lba >= d.geo.SectorCount {
		return 0, fmt.Errorf("read lba %d beyond %d sectors: %w",
			lba, d.geo.SectorCount, pkg.ErrOutOfRange)
	}

	switch {
	case lba == 0:
		d.marshalBootSector(d.scratch)
		copySector(buf, d.scratch, offset)

	case lba < d.geo.FATCopy0Start:
		// Reserved sectors after the boot sector carry no content.

	case lba < d.geo.RootDirStart:
		fatSector := lba - d.geo.FATCopy0Start
		if fatSector >= d.geo.SectorsPerFAT {
			fatSector -= d.geo.SectorsPerFAT
		}
		d.marshalFATSector(fatSector, d.scratch)
		copySector(buf, d.scratch, offset)

	case lba < d.geo.ContentStart:
		d.marshalRootDirSector(lba-d.geo.RootDirStart, d.scratch)
		copySector(buf, d.scratch, offset)

	default:
		if err := d.readContent(lba, offset, buf); err != nil {
			return 0, err
		}
	}

	return len(buf), nil
}

// readContent fills buf from the file containing lba, clamped to the
// recorded file size. Sectors outside any file read as zero.
func (d *Disk) readContent(lba, offset uint32, buf []byte) error {
	f := d.fileForBlock(lba)
	if f == nil {
		return nil
	}

	pos := (lba-f.startSector)*d.geo.SectorSize + offset
	if pos >= f.size {
		return nil
	}
	n := uint32(len(buf))
	if n > f.size-pos {
		n = f.size - pos
	}

	if f.part != nil {
		if _, err := f.part.ReadAt(buf[:n], int64(f.offset+pos)); err != nil {
			pkg.LogError(pkg.ComponentDisk, "partition read failed",
				"file", f.printable, "lba", lba, "error", err)
			return fmt.Errorf("read %q at %d: %w", f.printable, pos, pkg.ErrIO)
		}
		return nil
	}
	copy(buf[:n], f.content[pos:])
	return nil
}

// WriteBlock serves a block write at lba. Metadata writes are accepted
// and discarded (the synthesized layout is immutable), root-directory
// writes are inspected but not persisted, and content writes are applied
// or forwarded per the file's backing. The returned count is len(data)
// on success.
func (d *Disk) WriteBlock(lba, offset uint32, data []byte) (int, error) {
	if lba >= d.geo.SectorCount {
		return 0, fmt.Errorf("write lba %d beyond %d sectors: %w",
			lba, d.geo.SectorCount, pkg.ErrOutOfRange)
	}

	switch {
	case lba == 0:
		pkg.LogDebug(pkg.ComponentDisk, "boot sector write discarded")

	case lba < d.geo.FATCopy0Start:
		pkg.LogDebug(pkg.ComponentDisk, "reserved sector write discarded", "lba", lba)

	case lba < d.geo.RootDirStart:
		pkg.LogDebug(pkg.ComponentDisk, "FAT write discarded", "lba", lba)

	case lba < d.geo.ContentStart:
		d.inspectDirectoryWrite(data)

	default:
		return d.writeContent(lba, offset, data)
	}

	return len(data), nil
}

// writeContent dispatches a content-range write: memory-backed writable
// files are updated in place, read-only files reject the write, and
// everything else belongs to the update sink.
func (d *Disk) writeContent(lba, offset uint32, data []byte) (int, error) {
	f := d.fileForBlock(lba)

	if f != nil && f.ReadOnly() {
		pkg.LogWarn(pkg.ComponentDisk, "write to read-only file rejected",
			"file", f.printable, "lba", lba)
		return 0, fmt.Errorf("write %q: %w", f.printable, pkg.ErrReadOnly)
	}

	if f != nil && f.content != nil {
		pos := (lba-f.startSector)*d.geo.SectorSize + offset
		if pos >= f.size {
			return len(data), nil
		}
		n := uint32(len(data))
		if n > f.size-pos {
			n = f.size - pos
		}
		copy(f.content[pos:], data[:n])
		return len(data), nil
	}

	// Partition-backed writable files and unregistered content space are
	// firmware update territory.
	if d.sink != nil {
		return d.sink.HandleWrite(lba, offset, data)
	}

	if f != nil && f.part != nil {
		pos := (lba-f.startSector)*d.geo.SectorSize + offset
		if pos >= f.size {
			return len(data), nil
		}
		n := uint32(len(data))
		if n > f.size-pos {
			n = f.size - pos
		}
		if _, err := f.part.WriteAt(data[:n], int64(f.offset+pos)); err != nil {
			pkg.LogError(pkg.ComponentDisk, "partition write failed",
				"file", f.printable, "lba", lba, "error", err)
			return 0, fmt.Errorf("write %q at %d: %w", f.printable, pos, pkg.ErrIO)
		}
		return len(data), nil
	}

	pkg.LogDebug(pkg.ComponentDisk, "unclaimed content write discarded", "lba", lba)
	return len(data), nil
}

// copySector copies the rendered sector into the caller's buffer,
// honoring the intra-sector offset the host stack may use for short
// transfers.
func copySector(dst, sector []byte, offset uint32) {
	if offset >= uint32(len(sector)) {
		return
	}
	copy(dst, sector[offset:])
}
