package telemetry

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Frame layout on the wire, in front of the application payload:
//
//	magic:2  flags:1  crc32:4 LE  len:2 LE  data
//
// The checksum is IEEE CRC-32 over the payload bytes alone, so the three
// copies of a critical send carry the same checksum and differ only in
// their flags byte.
const (
	headerSize = 9

	magic0 = 'W'
	magic1 = 'C'
)

// Flags carried in every frame. The top two bits tag which of the
// redundant copies this frame is.
const (
	FlagCritical uint8 = 0x01

	copyShift = 6
)

// Redundancy is how many copies a critical send transmits.
const Redundancy = 3

var (
	// ErrShortFrame is returned for buffers smaller than the header.
	ErrShortFrame = errors.New("telemetry: frame shorter than header")

	// ErrBadMagic is returned when the frame does not start with the
	// telemetry marker.
	ErrBadMagic = errors.New("telemetry: bad frame magic")

	// ErrLengthMismatch is returned when the length field disagrees with
	// the bytes actually present.
	ErrLengthMismatch = errors.New("telemetry: length field does not match payload")

	// ErrDataTooLong is returned for payloads exceeding the 16-bit
	// length field.
	ErrDataTooLong = errors.New("telemetry: payload too long for frame")
)

// Frame is one parsed telemetry frame. Checksum is the value claimed on
// the wire; Verify recomputes it, so a corrupted frame still parses and
// can take part in majority voting.
type Frame struct {
	Flags    uint8
	Checksum uint32
	Data     []byte
}

// Critical reports whether the frame belongs to a redundant send.
func (f Frame) Critical() bool { return f.Flags&FlagCritical != 0 }

// Copy returns the redundancy tag, 0 for the first or only copy.
func (f Frame) Copy() uint8 { return f.Flags >> copyShift }

// Verify recomputes the payload checksum against the claimed one.
func (f Frame) Verify() bool { return crc32.ChecksumIEEE(f.Data) == f.Checksum }

// EncodeFrame wraps data in a telemetry frame with the given flags.
func EncodeFrame(flags uint8, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, ErrDataTooLong
	}
	p := make([]byte, headerSize+len(data))
	p[0] = magic0
	p[1] = magic1
	p[2] = flags
	binary.LittleEndian.PutUint32(p[3:7], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint16(p[7:9], uint16(len(data)))
	copy(p[headerSize:], data)
	return p, nil
}

// ParseFrame validates the structure of raw and splits it. It does not
// verify the checksum; callers branch on Verify so corrupted copies can
// still be collected.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < headerSize {
		return Frame{}, ErrShortFrame
	}
	if raw[0] != magic0 || raw[1] != magic1 {
		return Frame{}, ErrBadMagic
	}
	length := binary.LittleEndian.Uint16(raw[7:9])
	if int(length) != len(raw)-headerSize {
		return Frame{}, ErrLengthMismatch
	}
	return Frame{
		Flags:    raw[2],
		Checksum: binary.LittleEndian.Uint32(raw[3:7]),
		Data:     raw[headerSize:],
	}, nil
}
