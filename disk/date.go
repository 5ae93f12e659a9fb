package disk

import "time"

// encodeFATDate packs a date into the 16-bit FAT directory entry format:
// bits 0-4 day of month, bits 5-8 month, bits 9-15 years since 1980.
func encodeFATDate(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	if year > 127 {
		year = 127
	}
	return uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

// encodeFATTime packs a time into the 16-bit FAT directory entry format:
// bits 0-4 two-second count, bits 5-10 minutes, bits 11-15 hours.
func encodeFATTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
}

// dirEntryStamp is the fixed timestamp carried by every directory entry.
// The volume is synthesized, so there is no meaningful modification time
// to report; a constant keeps reads idempotent.
var dirEntryStamp = time.Date(2018, time.December, 25, 0, 0, 0, 0, time.UTC)

var (
	dirEntryDate = encodeFATDate(dirEntryStamp)
	dirEntryTime = encodeFATTime(dirEntryStamp)
)
