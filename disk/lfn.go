package disk

import (
	"encoding/binary"
	"unicode/utf16"
)

// Long-filename entry layout constants.
const (
	lfnUnitsPerEntry = 13   // UTF-16 code units carried per entry
	lfnLastMarker    = 0x40 // Sequence flag on the final (highest) fragment
)

// lfnFragment is one long-filename pseudo-directory entry: a sequence
// number (with lfnLastMarker on the chain head) and thirteen UTF-16 code
// units of the name. Fragments are stored in on-disk order, highest
// sequence first, immediately preceding their 8.3 short entry.
type lfnFragment struct {
	seq   uint8
	units [lfnUnitsPerEntry]uint16
}

// shortNameChecksum computes the checksum over an 11-byte 8.3 name that
// ties long-filename entries to their short entry: rotate right by one
// bit, then add the next name byte.
func shortNameChecksum(name [11]byte) uint8 {
	var sum uint8
	for _, c := range name {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// encodeLongName splits name into long-filename fragments in on-disk
// order. The final fragment is terminated with a single 0x0000 unit when
// space remains, and any slack after the terminator is filled with
// 0xFFFF; a name that exactly fills its fragments carries neither.
func encodeLongName(name string) []lfnFragment {
	units := utf16.Encode([]rune(name))
	count := (len(units) + lfnUnitsPerEntry - 1) / lfnUnitsPerEntry

	frags := make([]lfnFragment, 0, count)
	for i := count - 1; i >= 0; i-- {
		f := lfnFragment{seq: uint8(i + 1)}
		if i == count-1 {
			f.seq |= lfnLastMarker
		}

		chunk := units[i*lfnUnitsPerEntry:]
		if len(chunk) > lfnUnitsPerEntry {
			chunk = chunk[:lfnUnitsPerEntry]
		}
		n := copy(f.units[:], chunk)
		if n < lfnUnitsPerEntry {
			f.units[n] = 0x0000
			for j := n + 1; j < lfnUnitsPerEntry; j++ {
				f.units[j] = 0xFFFF
			}
		}
		frags = append(frags, f)
	}
	return frags
}

// marshalLFNEntry writes one long-filename directory entry into the
// 32-byte slice buf. The thirteen code units are scattered across three
// runs mandated by the on-disk format.
func marshalLFNEntry(buf []byte, f lfnFragment, checksum uint8) {
	buf[0] = f.seq
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(buf[1+2*i:], f.units[i])
	}
	buf[11] = attrLongName
	buf[12] = 0 // entry type: name component
	buf[13] = checksum
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(buf[14+2*i:], f.units[5+i])
	}
	buf[26] = 0 // first cluster, always zero for LFN entries
	buf[27] = 0
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(buf[28+2*i:], f.units[11+i])
	}
}
