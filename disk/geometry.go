package disk

import (
	"fmt"

	"github.com/ardnew/softdisk/pkg"
)

// FAT16 layout constants.
const (
	DirEntrySize    = 32     // Size of one directory entry in bytes
	mediaDescriptor = 0xF8   // Fixed disk media descriptor
	fatCopies       = 2      // Number of FAT tables
	firstCluster    = 2      // First data cluster number
	maxClusters     = 65524  // Usable cluster ceiling for FAT16
	endOfChain      = 0xFFFF // FAT16 end-of-chain marker
)

// Directory entry attribute flags.
const (
	attrReadOnly    = 0x01
	attrHidden      = 0x02
	attrSystem      = 0x04
	attrVolumeLabel = 0x08
	attrDirectory   = 0x10
	attrArchive     = 0x20
	attrLongName    = attrReadOnly | attrHidden | attrSystem | attrVolumeLabel
)

// Config holds the tunable parameters of a virtual disk.
// The zero value of a numeric field selects its default.
type Config struct {
	SectorSize      uint32 // Bytes per sector (default 512)
	SectorCount     uint32 // Total sectors (default 8192)
	ReservedSectors uint32 // Sectors before FAT copy 0 (default 1)
	MaxFiles        uint32 // Root directory entries, incl. volume label (default 64)

	VolumeLabel  string // Up to 11 characters
	SerialNumber uint32

	// SCSI INQUIRY identity.
	Vendor   string // Up to 8 characters
	Product  string // Up to 16 characters
	Revision string // Up to 4 characters

	// LongNames enables long-filename encoding for registered files
	// whose names do not fit the 8.3 format.
	LongNames bool
}

// withDefaults returns cfg with zero numeric fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.SectorSize == 0 {
		cfg.SectorSize = 512
	}
	if cfg.SectorCount == 0 {
		cfg.SectorCount = 8192
	}
	if cfg.ReservedSectors == 0 {
		cfg.ReservedSectors = 1
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = 64
	}
	return cfg
}

// Geometry holds every sector offset derived from a Config. It is
// computed once during construction and never changes afterward.
type Geometry struct {
	SectorSize       uint32 // Bytes per sector
	SectorCount      uint32 // Total sectors on the volume
	ReservedSectors  uint32 // Sectors preceding FAT copy 0
	SectorsPerFAT    uint32 // Sectors occupied by one FAT copy
	FATCopy0Start    uint32 // First sector of FAT copy 0
	FATCopy1Start    uint32 // First sector of FAT copy 1
	RootDirStart     uint32 // First sector of the root directory
	RootDirSectors   uint32 // Sectors occupied by the root directory
	RootDirEntries   uint32 // Total root directory entry slots
	ContentStart     uint32 // First sector of file content
	EntriesPerSector uint32 // Directory entries per sector
}

// newGeometry derives the volume layout from cfg. cfg must already have
// defaults applied.
func newGeometry(cfg Config) (Geometry, error) {
	var g Geometry

	if cfg.SectorSize < DirEntrySize || cfg.SectorSize%DirEntrySize != 0 {
		return g, fmt.Errorf("sector size %d is not a multiple of the %d-byte directory entry: %w",
			cfg.SectorSize, DirEntrySize, pkg.ErrConfig)
	}

	g.SectorSize = cfg.SectorSize
	g.SectorCount = cfg.SectorCount
	g.ReservedSectors = cfg.ReservedSectors
	g.EntriesPerSector = cfg.SectorSize / DirEntrySize

	if cfg.MaxFiles == 0 || cfg.MaxFiles%g.EntriesPerSector != 0 {
		return g, fmt.Errorf("max file count %d is not a multiple of %d entries per sector: %w",
			cfg.MaxFiles, g.EntriesPerSector, pkg.ErrConfig)
	}

	// One cluster per sector, so the sector count bounds the cluster count.
	if cfg.SectorCount > maxClusters {
		return g, fmt.Errorf("sector count %d exceeds the FAT16 cluster ceiling %d: %w",
			cfg.SectorCount, uint32(maxClusters), pkg.ErrConfig)
	}

	g.SectorsPerFAT = (cfg.SectorCount*2 + cfg.SectorSize - 1) / cfg.SectorSize
	g.FATCopy0Start = g.ReservedSectors
	g.FATCopy1Start = g.FATCopy0Start + g.SectorsPerFAT
	g.RootDirStart = g.FATCopy1Start + g.SectorsPerFAT
	g.RootDirEntries = cfg.MaxFiles
	g.RootDirSectors = cfg.MaxFiles / g.EntriesPerSector
	g.ContentStart = g.RootDirStart + g.RootDirSectors

	if g.ContentStart >= g.SectorCount {
		return g, fmt.Errorf("layout overhead (%d sectors) leaves no content space on %d sectors: %w",
			g.ContentStart, g.SectorCount, pkg.ErrConfig)
	}

	return g, nil
}
