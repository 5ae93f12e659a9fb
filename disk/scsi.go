package disk

import (
	"encoding/binary"

	"github.com/ardnew/softdisk/pkg"
)

// SCSI operation codes handled outside the dedicated read/write path.
const (
	SCSITestUnitReady       = 0x00 // Test if unit is ready
	SCSIRequestSense        = 0x03 // Request sense data
	SCSIInquiry             = 0x12 // Get device information
	SCSIModeSense6          = 0x1A // Get mode parameters (6-byte)
	SCSIPreventAllowRemoval = 0x1E // Prevent/allow medium removal
	SCSIReadCapacity10      = 0x25 // Read capacity (10-byte)
	SCSIRead10              = 0x28 // Read blocks (10-byte)
	SCSIWrite10             = 0x2A // Write blocks (10-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseIllegalRequest = 0x05 // Illegal request
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo = 0x00 // No additional sense information
	ASCInvalidCommand   = 0x20 // Invalid command operation code
)

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType       uint8    // Peripheral device type
	RMB              uint8    // Removable media bit (bit 7)
	Version          uint8    // SCSI version
	ResponseFormat   uint8    // Response data format
	AdditionalLength uint8    // Additional length (n-4)
	Flags            [3]uint8 // Various flags
	VendorID         [8]byte  // Vendor identification (ASCII)
	ProductID        [16]byte // Product identification (ASCII)
	ProductRev       [4]byte  // Product revision (ASCII)
}

// InquiryStandardSize is the standard INQUIRY data length.
const InquiryStandardSize = 36

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = r.AdditionalLength
	copy(buf[5:8], r.Flags[:])
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// RequestSenseResponse represents REQUEST SENSE response (fixed format).
type RequestSenseResponse struct {
	ResponseCode     uint8 // Response code (0x70 = current errors)
	SenseKey         uint8 // Sense key (bits 0-3)
	AdditionalLength uint8 // Additional sense length (n-7)
	ASC              uint8 // Additional sense code
	ASCQ             uint8 // Additional sense code qualifier
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *RequestSenseResponse) MarshalTo(buf []byte) int {
	const senseSize = 18
	if len(buf) < senseSize {
		return 0
	}

	for i := 0; i < senseSize; i++ {
		buf[i] = 0
	}
	buf[0] = r.ResponseCode
	buf[2] = r.SenseKey & 0x0F
	buf[7] = r.AdditionalLength
	buf[12] = r.ASC
	buf[13] = r.ASCQ

	return senseSize
}

// InquiryData returns the static INQUIRY response derived from the disk
// configuration. The medium is reported as a removable direct-access
// device so host operating systems treat it like a flash drive.
func (d *Disk) InquiryData() *InquiryResponse {
	r := &InquiryResponse{
		RMB:              0x80, // removable
		Version:          0x02,
		ResponseFormat:   0x02,
		AdditionalLength: InquiryStandardSize - 5,
	}
	spacePaddedCopy(r.VendorID[:], d.cfg.Vendor)
	spacePaddedCopy(r.ProductID[:], d.cfg.Product)
	spacePaddedCopy(r.ProductRev[:], d.cfg.Revision)
	return r
}

// Capacity returns the block count and block size reported to READ
// CAPACITY and READ FORMAT CAPACITIES.
func (d *Disk) Capacity() (blockCount, blockSize uint32) {
	return d.geo.SectorCount, d.geo.SectorSize
}

// TestUnitReady reports whether the medium is ready. The synthesized
// volume is always present.
func (d *Disk) TestUnitReady() bool { return true }

// Sense returns the sense data recorded by the last failed command.
func (d *Disk) Sense() *RequestSenseResponse {
	return &RequestSenseResponse{
		ResponseCode:     0x70,
		SenseKey:         d.senseKey,
		AdditionalLength: 10,
		ASC:              d.senseASC,
		ASCQ:             d.senseASCQ,
	}
}

// setSense records sense data for the next REQUEST SENSE command.
func (d *Disk) setSense(key, asc, ascq uint8) {
	d.senseKey = key
	d.senseASC = asc
	d.senseASCQ = ascq
}

// HandleSCSI processes a SCSI command outside the handled built-in set
// (INQUIRY, capacity, sense, mode sense, and the dedicated READ/WRITE
// paths). It writes any response into buf and returns the response
// length, or a negative length to make the host stack stall the
// transfer. Unrecognized commands record illegal-request sense data.
func (d *Disk) HandleSCSI(cmd []byte, buf []byte) int {
	if len(cmd) == 0 {
		d.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
		return -1
	}

	switch cmd[0] {
	case SCSIPreventAllowRemoval:
		// Host is about to read/write; nothing to latch, no data phase.
		d.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return 0

	default:
		pkg.LogWarn(pkg.ComponentSCSI, "unsupported SCSI command",
			"opcode", cmd[0])
		d.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
		return -1
	}
}

// ReadCapacityData marshals the 8-byte READ CAPACITY (10) response
// (last LBA and block size, big endian) into buf and returns the number
// of bytes written.
func (d *Disk) ReadCapacityData(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], d.geo.SectorCount-1)
	binary.BigEndian.PutUint32(buf[4:8], d.geo.SectorSize)
	return 8
}
