// Package update implements the firmware update state machine driven by
// mass-storage block writes.
//
// The mass-storage protocol has no end-of-file event visible at block
// level, so the machine recognizes an incoming firmware image by its
// header, streams subsequent writes into an open flash update session,
// and finalizes the session when an idle timer expires with no further
// writes. The fixed worst-case latency between the last byte and
// finalization is the accepted cost of that technique.
package update

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softdisk/pkg"
)

// Firmware image framing constants.
const (
	ImageMagic        = 0xE9       // First byte of a firmware image
	ImageHeaderSize   = 24         // Fixed image header length
	SegmentHeaderSize = 8          // Per-segment header length
	AppDescMagic      = 0xABCD5432 // Application descriptor magic word
	AppDescSize       = 256        // Application descriptor length

	// AppDescOffset is where the application descriptor of the first
	// segment begins within the image.
	AppDescOffset = ImageHeaderSize + SegmentHeaderSize

	// RecognizeLen is the minimum payload length needed to recognize and
	// validate an incoming image.
	RecognizeLen = AppDescOffset + AppDescSize
)

// ChipID identifies the target chip of a firmware image.
type ChipID uint16

// Known chip identifiers.
const (
	ChipESP32   ChipID = 0x0000
	ChipESP32S2 ChipID = 0x0002
	ChipESP32C3 ChipID = 0x0005
	ChipESP32S3 ChipID = 0x0009
	ChipESP32C2 ChipID = 0x000C
	ChipESP32C6 ChipID = 0x000D
	ChipESP32H2 ChipID = 0x0010
)

// String returns the conventional chip name.
func (c ChipID) String() string {
	switch c {
	case ChipESP32:
		return "esp32"
	case ChipESP32S2:
		return "esp32s2"
	case ChipESP32C3:
		return "esp32c3"
	case ChipESP32S3:
		return "esp32s3"
	case ChipESP32C2:
		return "esp32c2"
	case ChipESP32C6:
		return "esp32c6"
	case ChipESP32H2:
		return "esp32h2"
	default:
		return fmt.Sprintf("chip(0x%04X)", uint16(c))
	}
}

// ImageHeader is the fixed header at the start of a firmware image.
type ImageHeader struct {
	Magic        uint8    // Must be ImageMagic
	SegmentCount uint8    // Number of segments following the header
	SPIMode      uint8    // Flash interface mode
	SPISpeedSize uint8    // Flash speed (low nibble) and size (high nibble)
	EntryAddr    uint32   // Application entry point
	WPPin        uint8    // Write-protect pin configuration
	SPIPinDrv    [3]uint8 // Flash pin drive settings
	ChipID       ChipID   // Target chip identifier
	MinChipRev   uint8    // Minimum supported chip revision
	HashAppended uint8    // Nonzero when a SHA-256 trails the image
}

// MarshalTo writes the header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *ImageHeader) MarshalTo(buf []byte) int {
	if len(buf) < ImageHeaderSize {
		return 0
	}

	buf[0] = h.Magic
	buf[1] = h.SegmentCount
	buf[2] = h.SPIMode
	buf[3] = h.SPISpeedSize
	binary.LittleEndian.PutUint32(buf[4:8], h.EntryAddr)
	buf[8] = h.WPPin
	copy(buf[9:12], h.SPIPinDrv[:])
	binary.LittleEndian.PutUint16(buf[12:14], uint16(h.ChipID))
	buf[14] = h.MinChipRev
	for i := 15; i < 23; i++ {
		buf[i] = 0 // reserved
	}
	buf[23] = h.HashAppended

	return ImageHeaderSize
}

// parseImageHeader parses the fixed image header from data.
func parseImageHeader(data []byte, out *ImageHeader) bool {
	if len(data) < ImageHeaderSize {
		return false
	}

	out.Magic = data[0]
	if out.Magic != ImageMagic {
		return false
	}
	out.SegmentCount = data[1]
	out.SPIMode = data[2]
	out.SPISpeedSize = data[3]
	out.EntryAddr = binary.LittleEndian.Uint32(data[4:8])
	out.WPPin = data[8]
	copy(out.SPIPinDrv[:], data[9:12])
	out.ChipID = ChipID(binary.LittleEndian.Uint16(data[12:14]))
	out.MinChipRev = data[14]
	out.HashAppended = data[23]

	return true
}

// AppDescriptor is the application descriptor embedded at the start of
// the first image segment.
type AppDescriptor struct {
	MagicWord     uint32   // Must be AppDescMagic
	SecureVersion uint32   // Anti-rollback counter
	Version       string   // Application version (up to 32 bytes)
	ProjectName   string   // Project name (up to 32 bytes)
	BuildTime     string   // Compile time (up to 16 bytes)
	BuildDate     string   // Compile date (up to 16 bytes)
	IDFVersion    string   // SDK version (up to 32 bytes)
	ELFSHA256     [32]byte // SHA-256 of the application ELF
}

// MarshalTo writes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (a *AppDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < AppDescSize {
		return 0
	}

	for i := 0; i < AppDescSize; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], a.MagicWord)
	binary.LittleEndian.PutUint32(buf[4:8], a.SecureVersion)
	copy(buf[16:48], a.Version)
	copy(buf[48:80], a.ProjectName)
	copy(buf[80:96], a.BuildTime)
	copy(buf[96:112], a.BuildDate)
	copy(buf[112:144], a.IDFVersion)
	copy(buf[144:176], a.ELFSHA256[:])

	return AppDescSize
}

// parseAppDescriptor parses the application descriptor from data.
func parseAppDescriptor(data []byte, out *AppDescriptor) bool {
	if len(data) < AppDescSize {
		return false
	}

	out.MagicWord = binary.LittleEndian.Uint32(data[0:4])
	if out.MagicWord != AppDescMagic {
		return false
	}
	out.SecureVersion = binary.LittleEndian.Uint32(data[4:8])
	out.Version = cstr(data[16:48])
	out.ProjectName = cstr(data[48:80])
	out.BuildTime = cstr(data[80:96])
	out.BuildDate = cstr(data[96:112])
	out.IDFVersion = cstr(data[112:144])
	copy(out.ELFSHA256[:], data[144:176])

	return true
}

// ImageInfo is the parsed identity of a recognized firmware image.
type ImageInfo struct {
	Header ImageHeader
	Desc   AppDescriptor
}

// ParseImage recognizes a firmware image from the first bytes of a
// write payload. It validates the image magic, the header layout, and
// the application descriptor magic word. A payload that is not a
// firmware image (or is too short to tell) returns pkg.ErrInvalidImage.
func ParseImage(data []byte) (*ImageInfo, error) {
	var info ImageInfo
	if !parseImageHeader(data, &info.Header) {
		return nil, fmt.Errorf("no image header: %w", pkg.ErrInvalidImage)
	}
	if len(data) < RecognizeLen {
		return nil, fmt.Errorf("payload too short (%d < %d): %w",
			len(data), RecognizeLen, pkg.ErrInvalidImage)
	}
	if !parseAppDescriptor(data[AppDescOffset:], &info.Desc) {
		return nil, fmt.Errorf("no application descriptor: %w", pkg.ErrInvalidImage)
	}
	return &info, nil
}

// cstr converts a NUL-padded byte field to a string.
func cstr(raw []byte) string {
	for i, c := range raw {
		if c == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
