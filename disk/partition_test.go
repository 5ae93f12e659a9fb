package disk

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/ardnew/softdisk/flash"
	"github.com/ardnew/softdisk/pkg"
)

func partitionBank(t *testing.T) *flash.MemBank {
	t.Helper()
	b, err := flash.NewMemBank([]flash.PartitionSpec{
		{Name: "ota_0", Type: flash.TypeApp, Size: 4096},
		{Name: "ota_1", Type: flash.TypeApp, Size: 4096},
		{Name: "nvs", Type: flash.TypeData, Size: 2048},
	}, "ota_0")
	if err != nil {
		t.Fatalf("NewMemBank() error = %v", err)
	}
	return b
}

func TestAddFirmware_ReadThrough(t *testing.T) {
	bank := partitionBank(t)

	// Fill the running partition with a recognizable pattern.
	running := bank.Running()
	pattern := make([]byte, running.Size())
	for i := range pattern {
		pattern[i] = byte(i)
	}
	if _, err := running.WriteAt(pattern, 0); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	d := testDisk(t, Config{})
	if err := d.AddFirmware(bank, "FIRMWARE.BIN", "UPDATE.BIN"); err != nil {
		t.Fatalf("AddFirmware() error = %v", err)
	}

	files := d.Files()
	if len(files) != 2 {
		t.Fatalf("Files() = %d entries, want 2", len(files))
	}
	fw, up := files[0], files[1]
	if fw.Name() != "FIRMWARE.BIN" || !fw.ReadOnly() {
		t.Errorf("file 0 = %q readOnly=%v, want read-only FIRMWARE.BIN", fw.Name(), fw.ReadOnly())
	}
	if up.Name() != "UPDATE.BIN" || up.ReadOnly() {
		t.Errorf("file 1 = %q readOnly=%v, want writable UPDATE.BIN", up.Name(), up.ReadOnly())
	}

	// Sector reads serve the partition bytes at the equivalent offset.
	start, _ := fw.Sectors()
	for s := uint32(0); s < fw.Size()/512; s++ {
		got := readSector(t, d, start+s)
		want := pattern[s*512 : (s+1)*512]
		if !bytes.Equal(got, want) {
			t.Fatalf("sector %d differs from partition content", start+s)
		}
	}

	// Writes to the running-firmware file are rejected.
	if _, err := d.WriteBlock(start, 0, make([]byte, 512)); !errors.Is(err, pkg.ErrReadOnly) {
		t.Errorf("WriteBlock(firmware) error = %v, want ErrReadOnly", err)
	}
}

func TestAddPartitionFile_WriteThrough(t *testing.T) {
	bank := partitionBank(t)
	d := testDisk(t, Config{})

	f, err := d.AddPartitionFile(bank, "nvs", "NVS.BIN", true)
	if err != nil {
		t.Fatalf("AddPartitionFile() error = %v", err)
	}
	if f.Size() != 2048 {
		t.Errorf("Size() = %d, want the full partition (2048)", f.Size())
	}

	// No update sink installed: writable partition files write straight
	// through to the partition and read back.
	start, _ := f.Sectors()
	payload := bytes.Repeat([]byte{0x3C}, 512)
	if n, err := d.WriteBlock(start+1, 0, payload); err != nil || n != len(payload) {
		t.Fatalf("WriteBlock() = %d, %v; want %d, nil", n, err, len(payload))
	}
	if got := readSector(t, d, start+1); !bytes.Equal(got, payload) {
		t.Errorf("read after write differs from written payload")
	}

	got := make([]byte, 512)
	if _, err := bank.Find("nvs").ReadAt(got, 512); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("partition content differs from written payload")
	}

	if _, err := d.AddPartitionFile(bank, "missing", "GONE.BIN", false); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("AddPartitionFile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAddPartitionRange_Window(t *testing.T) {
	bank := partitionBank(t)
	part := bank.Find("nvs")

	// Mark the window so reads can be traced back to the right offset.
	if _, err := part.WriteAt(bytes.Repeat([]byte{0xB7}, 512), 1024); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}

	d := testDisk(t, Config{})
	f, err := d.AddPartitionRange("WINDOW.BIN", part, 1024, 512, false)
	if err != nil {
		t.Fatalf("AddPartitionRange() error = %v", err)
	}

	start, _ := f.Sectors()
	if got := readSector(t, d, start); !bytes.Equal(got, bytes.Repeat([]byte{0xB7}, 512)) {
		t.Errorf("windowed read differs from partition bytes at offset 1024")
	}

	if _, err := d.AddPartitionRange("WIDE.BIN", part, 1024, 2048, false); !errors.Is(err, pkg.ErrConfig) {
		t.Errorf("AddPartitionRange(beyond end) error = %v, want ErrConfig", err)
	}
}

func TestPartitionFailure_SurfacesAsIO(t *testing.T) {
	d := testDisk(t, Config{})
	f, err := d.AddPartitionRange("BAD.BIN", brokenPartition{}, 0, 1024, true)
	if err != nil {
		t.Fatalf("AddPartitionRange() error = %v", err)
	}
	start, _ := f.Sectors()

	buf := make([]byte, 512)
	if _, err := d.ReadBlock(start, 0, buf); !errors.Is(err, pkg.ErrIO) {
		t.Errorf("ReadBlock(broken) error = %v, want ErrIO", err)
	}
	if _, err := d.WriteBlock(start, 0, buf); !errors.Is(err, pkg.ErrIO) {
		t.Errorf("WriteBlock(broken) error = %v, want ErrIO", err)
	}
}

// brokenPartition fails every transfer, standing in for a damaged
// flash region.
type brokenPartition struct{}

func (brokenPartition) Name() string     { return "broken" }
func (brokenPartition) Type() flash.Type { return flash.TypeData }
func (brokenPartition) Size() uint32     { return 4096 }

func (brokenPartition) ReadAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("flash bus fault at %d", off)
}

func (brokenPartition) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("flash bus fault at %d", off)
}
