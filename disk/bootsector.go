package disk

import "encoding/binary"

// marshalBootSector renders the boot sector (BIOS parameter block plus
// extended boot record) into buf, which must be one full sector. All
// multi-byte fields are little endian; the 0x55 0xAA signature occupies
// the final two bytes of the sector regardless of sector size.
func (d *Disk) marshalBootSector(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}

	buf[0], buf[1], buf[2] = 0xEB, 0x3C, 0x90 // x86 jump stub
	copy(buf[3:11], "MSDOS5.0")

	binary.LittleEndian.PutUint16(buf[11:], uint16(d.geo.SectorSize))
	buf[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(buf[14:], uint16(d.geo.ReservedSectors))
	buf[16] = fatCopies
	binary.LittleEndian.PutUint16(buf[17:], uint16(d.geo.RootDirEntries))
	binary.LittleEndian.PutUint16(buf[19:], uint16(d.geo.SectorCount))
	buf[21] = mediaDescriptor
	binary.LittleEndian.PutUint16(buf[22:], uint16(d.geo.SectorsPerFAT))
	binary.LittleEndian.PutUint16(buf[24:], 1) // sectors per track
	binary.LittleEndian.PutUint16(buf[26:], 1) // heads
	binary.LittleEndian.PutUint32(buf[28:], 0) // hidden sectors
	binary.LittleEndian.PutUint32(buf[32:], 0) // total sectors (32-bit form unused)

	buf[36] = 0x80 // physical drive number
	buf[38] = 0x29 // extended boot signature
	binary.LittleEndian.PutUint32(buf[39:], d.cfg.SerialNumber)
	spacePaddedCopy(buf[43:54], d.cfg.VolumeLabel)
	copy(buf[54:62], "FAT16   ")

	buf[len(buf)-2] = 0x55
	buf[len(buf)-1] = 0xAA
}

// spacePaddedCopy copies s into dst, padding the remainder with spaces.
func spacePaddedCopy(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}
