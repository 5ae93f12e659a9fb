package disk

import "encoding/binary"

// marshalFATSector renders one sector of the cluster-chain table into
// buf. fatSector is relative to the start of a single FAT copy; both
// copies render identically. Cluster 0 carries the media descriptor,
// cluster 1 is the reserved end marker, and every registered file chains
// its cluster range with next+1 entries ending in the end-of-chain
// marker. Clusters belonging to no file stay zero (free).
func (d *Disk) marshalFATSector(fatSector uint32, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}

	entriesPerSector := d.geo.SectorSize / 2
	base := fatSector * entriesPerSector

	put := func(cluster uint32, value uint16) {
		idx := (cluster - base) * 2
		if int(idx)+2 <= len(buf) {
			binary.LittleEndian.PutUint16(buf[idx:], value)
		}
	}

	if base == 0 {
		put(0, 0xFF00|uint16(mediaDescriptor))
		put(1, endOfChain)
	}

	for _, f := range d.files {
		lo := uint32(f.startClust)
		hi := uint32(f.endClust)
		if hi < base || lo >= base+entriesPerSector {
			continue
		}
		if lo < base {
			lo = base
		}
		if hi > base+entriesPerSector-1 {
			hi = base + entriesPerSector - 1
		}
		for c := lo; c <= hi; c++ {
			if c < uint32(f.endClust) {
				put(c, uint16(c)+1)
			} else {
				put(c, endOfChain)
			}
		}
	}
}
