package disk

import "testing"

func TestShortNameChecksum(t *testing.T) {
	tests := []struct {
		name string
		want uint8
	}{
		{"README  TXT", 0x73},
		{"AVERYL~1TXT", 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw [11]byte
			copy(raw[:], tt.name)
			if got := shortNameChecksum(raw); got != tt.want {
				t.Errorf("shortNameChecksum(%q) = 0x%02X, want 0x%02X",
					tt.name, got, tt.want)
			}
		})
	}
}

func TestEncodeLongName(t *testing.T) {
	// 21 characters: fragment 2 carries units 14-21, fragment 1 units 1-13.
	name := "averylongfilename.txt"
	frags := encodeLongName(name)

	if len(frags) != 2 {
		t.Fatalf("encodeLongName(%q) = %d fragments, want 2", name, len(frags))
	}

	// On-disk order is highest sequence first, with the last marker set.
	if frags[0].seq != 2|lfnLastMarker {
		t.Errorf("head fragment seq = 0x%02X, want 0x%02X", frags[0].seq, 2|lfnLastMarker)
	}
	if frags[1].seq != 1 {
		t.Errorf("tail fragment seq = 0x%02X, want 0x01", frags[1].seq)
	}

	// First fragment of the name (sequence 1) carries its first 13 units.
	for i, r := range name[:lfnUnitsPerEntry] {
		if frags[1].units[i] != uint16(r) {
			t.Errorf("seq 1 unit %d = 0x%04X, want %q", i, frags[1].units[i], r)
		}
	}

	// The head fragment holds the remaining 8 units, a NUL terminator,
	// then 0xFFFF padding.
	rest := name[lfnUnitsPerEntry:]
	for i, r := range rest {
		if frags[0].units[i] != uint16(r) {
			t.Errorf("seq 2 unit %d = 0x%04X, want %q", i, frags[0].units[i], r)
		}
	}
	if frags[0].units[len(rest)] != 0x0000 {
		t.Errorf("terminator unit = 0x%04X, want 0x0000", frags[0].units[len(rest)])
	}
	for i := len(rest) + 1; i < lfnUnitsPerEntry; i++ {
		if frags[0].units[i] != 0xFFFF {
			t.Errorf("padding unit %d = 0x%04X, want 0xFFFF", i, frags[0].units[i])
		}
	}
}

func TestEncodeLongName_ExactFill(t *testing.T) {
	// Exactly 13 units: one fragment, no terminator, no padding.
	name := "exactly13.txt"
	frags := encodeLongName(name)

	if len(frags) != 1 {
		t.Fatalf("encodeLongName(%q) = %d fragments, want 1", name, len(frags))
	}
	if frags[0].seq != 1|lfnLastMarker {
		t.Errorf("seq = 0x%02X, want 0x%02X", frags[0].seq, 1|lfnLastMarker)
	}
	for i, r := range name {
		if frags[0].units[i] != uint16(r) {
			t.Errorf("unit %d = 0x%04X, want %q", i, frags[0].units[i], r)
		}
	}
}

func TestMarshalLFNEntry(t *testing.T) {
	var f lfnFragment
	f.seq = 1 | lfnLastMarker
	for i := range f.units {
		f.units[i] = uint16('a' + i)
	}

	buf := make([]byte, DirEntrySize)
	marshalLFNEntry(buf, f, 0x73)

	if buf[0] != 1|lfnLastMarker {
		t.Errorf("sequence byte = 0x%02X, want 0x%02X", buf[0], 1|lfnLastMarker)
	}
	if buf[11] != attrLongName {
		t.Errorf("attribute byte = 0x%02X, want 0x%02X", buf[11], attrLongName)
	}
	if buf[12] != 0 {
		t.Errorf("entry type byte = 0x%02X, want 0x00", buf[12])
	}
	if buf[13] != 0x73 {
		t.Errorf("checksum byte = 0x%02X, want 0x73", buf[13])
	}
	if buf[26] != 0 || buf[27] != 0 {
		t.Errorf("cluster field = %02X %02X, want zero", buf[26], buf[27])
	}

	// Units scatter into offsets 1-10, 14-25, and 28-31.
	unitAt := func(off int) uint16 {
		return uint16(buf[off]) | uint16(buf[off+1])<<8
	}
	offsets := []int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}
	for i, off := range offsets {
		if got := unitAt(off); got != f.units[i] {
			t.Errorf("unit %d at offset %d = 0x%04X, want 0x%04X",
				i, off, got, f.units[i])
		}
	}
}
