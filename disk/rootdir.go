package disk

import (
	"encoding/binary"
	"strings"

	"github.com/ardnew/softdisk/pkg"
)

// marshalRootDirSector renders one root-directory sector into buf.
// Sector 0 leads with the volume-label entry; each file assigned to the
// sector emits its long-name chain (highest fragment first) followed by
// its 32-byte short entry.
func (d *Disk) marshalRootDirSector(sector uint32, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}

	pos := 0
	if sector == 0 {
		spacePaddedCopy(buf[0:11], d.cfg.VolumeLabel)
		buf[11] = attrArchive | attrVolumeLabel
		pos = DirEntrySize
	}

	for _, f := range d.files {
		if f.dirSector != sector {
			continue
		}
		for _, frag := range f.lfn {
			if pos+DirEntrySize > len(buf) {
				return
			}
			marshalLFNEntry(buf[pos:pos+DirEntrySize], frag, f.checksum)
			pos += DirEntrySize
		}
		if pos+DirEntrySize > len(buf) {
			return
		}
		marshalShortEntry(buf[pos:pos+DirEntrySize], f)
		pos += DirEntrySize
	}
}

// marshalShortEntry writes the 32-byte 8.3 directory entry for f.
func marshalShortEntry(buf []byte, f *File) {
	copy(buf[0:11], f.name83[:])
	buf[11] = f.attrs
	binary.LittleEndian.PutUint16(buf[14:], dirEntryTime) // create time
	binary.LittleEndian.PutUint16(buf[16:], dirEntryDate) // create date
	binary.LittleEndian.PutUint16(buf[22:], dirEntryTime) // update time
	binary.LittleEndian.PutUint16(buf[24:], dirEntryDate) // update date
	binary.LittleEndian.PutUint16(buf[26:], f.startClust)
	binary.LittleEndian.PutUint32(buf[28:], f.size)
}

// inspectDirectoryWrite decodes a host write to a root-directory sector
// and reports plausible new short entries to the directory observer.
// The write itself is never persisted: the synthesized directory is
// fully determined by the registry.
func (d *Disk) inspectDirectoryWrite(data []byte) {
	for pos := 0; pos+DirEntrySize <= len(data); pos += DirEntrySize {
		entry := data[pos : pos+DirEntrySize]
		switch {
		case entry[0] == 0x00, entry[0] == 0xE5:
			// Free or deleted slot.
			continue
		case entry[11] == attrLongName:
			// Long-name fragment; the short entry follows.
			continue
		case entry[11]&attrVolumeLabel != 0:
			continue
		}

		name := decode83(entry[0:11])
		size := binary.LittleEndian.Uint32(entry[28:])
		pkg.LogDebug(pkg.ComponentDisk, "host directory entry observed",
			"name", name, "bytes", size)
		if d.dirObs != nil {
			d.dirObs(name, size)
		}
	}
}

// decode83 converts a raw 11-byte 8.3 name field to "NAME.EXT".
func decode83(raw []byte) string {
	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
