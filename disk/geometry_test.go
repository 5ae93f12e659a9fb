package disk

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softdisk/pkg"
)

func TestNewGeometry_Defaults(t *testing.T) {
	got, err := newGeometry(Config{}.withDefaults())
	if err != nil {
		t.Fatalf("newGeometry() error = %v", err)
	}

	want := Geometry{
		SectorSize:       512,
		SectorCount:      8192,
		ReservedSectors:  1,
		SectorsPerFAT:    32,
		FATCopy0Start:    1,
		FATCopy1Start:    33,
		RootDirStart:     65,
		RootDirSectors:   4,
		RootDirEntries:   64,
		ContentStart:     69,
		EntriesPerSector: 16,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("geometry mismatch (-want +got):\n%s", diff)
	}
}

func TestNewGeometry_SmallSectors(t *testing.T) {
	// 128-byte sectors hold 4 directory entries and 64 FAT entries each.
	got, err := newGeometry(Config{
		SectorSize:  128,
		SectorCount: 1024,
		MaxFiles:    8,
	}.withDefaults())
	if err != nil {
		t.Fatalf("newGeometry() error = %v", err)
	}

	if got.SectorsPerFAT != 16 {
		t.Errorf("SectorsPerFAT = %d, want 16", got.SectorsPerFAT)
	}
	if got.RootDirSectors != 2 {
		t.Errorf("RootDirSectors = %d, want 2", got.RootDirSectors)
	}
	if got.ContentStart != 1+16+16+2 {
		t.Errorf("ContentStart = %d, want %d", got.ContentStart, 1+16+16+2)
	}
}

func TestNewGeometry_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "sector size not entry multiple",
			cfg:  Config{SectorSize: 500},
		},
		{
			name: "sector size below entry size",
			cfg:  Config{SectorSize: 16},
		},
		{
			name: "max files not sector multiple",
			cfg:  Config{MaxFiles: 17},
		},
		{
			name: "cluster ceiling exceeded",
			cfg:  Config{SectorCount: 65525},
		},
		{
			name: "no content space",
			cfg:  Config{SectorCount: 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGeometry(tt.cfg.withDefaults())
			if !errors.Is(err, pkg.ErrConfig) {
				t.Errorf("newGeometry() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{SectorSize: 100}); !errors.Is(err, pkg.ErrConfig) {
		t.Errorf("New() error = %v, want ErrConfig", err)
	}
}
