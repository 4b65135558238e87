package mesh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Broadcast is the destination sentinel addressing every node in range.
const Broadcast uint8 = 0xFF

// Packet types carried on the mesh port.
const (
	typeBeacon uint8 = 0x01
	typeData   uint8 = 0x02
)

const (
	// headerSize is the fixed packet preamble length.
	headerSize = 8

	// nameSize is the on-wire length of a node name, including at least
	// one terminating zero byte.
	nameSize = 16

	// maxNeighbors caps the neighbor ids a beacon advertises.
	maxNeighbors = 8

	// beaconFixedSize is the beacon payload length before neighbor ids:
	// node id, name and neighbor count.
	beaconFixedSize = 1 + nameSize + 1

	// maxPayload is the largest data payload a single packet can carry,
	// bounded by the socket layer's length field less the mesh header.
	maxPayload = 0xFFFF - headerSize
)

var (
	// ErrShortPacket is returned when a packet is smaller than its
	// declared or minimum length.
	ErrShortPacket = errors.New("mesh: packet too short")

	// ErrBadBeacon is returned when a beacon payload is inconsistent.
	ErrBadBeacon = errors.New("mesh: malformed beacon")

	// ErrPayloadTooLong is returned when a payload exceeds what one
	// packet can carry.
	ErrPayloadTooLong = errors.New("mesh: payload too long")
)

// header is the fixed preamble of every mesh packet. Multi-byte fields
// are little-endian on the wire.
type header struct {
	Type       uint8
	Src        uint8
	Dst        uint8
	HopCount   uint8
	Seq        uint16
	PayloadLen uint16
}

func encodeHeader(h header) []byte {
	b := make([]byte, headerSize)
	b[0] = h.Type
	b[1] = h.Src
	b[2] = h.Dst
	b[3] = h.HopCount
	binary.LittleEndian.PutUint16(b[4:6], h.Seq)
	binary.LittleEndian.PutUint16(b[6:8], h.PayloadLen)
	return b
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("%w: %d byte packet", ErrShortPacket, len(b))
	}
	return header{
		Type:       b[0],
		Src:        b[1],
		Dst:        b[2],
		HopCount:   b[3],
		Seq:        binary.LittleEndian.Uint16(b[4:6]),
		PayloadLen: binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// beacon is the decoded payload of a discovery broadcast.
type beacon struct {
	NodeID    uint8
	Name      string
	Neighbors []uint8
}

// encodeBeaconPayload lays out a beacon body: node id, zero-padded name,
// neighbor count, then the neighbor ids. The name field always keeps a
// terminating zero byte, truncating longer names.
func encodeBeaconPayload(b beacon) []byte {
	if len(b.Neighbors) > maxNeighbors {
		b.Neighbors = b.Neighbors[:maxNeighbors]
	}
	p := make([]byte, beaconFixedSize+len(b.Neighbors))
	p[0] = b.NodeID
	name := p[1 : 1+nameSize]
	copy(name[:len(name)-1], b.Name)
	p[1+nameSize] = uint8(len(b.Neighbors))
	copy(p[beaconFixedSize:], b.Neighbors)
	return p
}

func parseBeaconPayload(p []byte) (beacon, error) {
	if len(p) < beaconFixedSize {
		return beacon{}, fmt.Errorf("%w: %d byte beacon", ErrShortPacket, len(p))
	}
	count := int(p[1+nameSize])
	if count > maxNeighbors {
		return beacon{}, fmt.Errorf("%w: %d neighbors", ErrBadBeacon, count)
	}
	if beaconFixedSize+count > len(p) {
		return beacon{}, fmt.Errorf("%w: %d neighbors in %d bytes", ErrBadBeacon, count, len(p))
	}

	name := p[1 : 1+nameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return beacon{
		NodeID:    p[0],
		Name:      string(name),
		Neighbors: append([]uint8(nil), p[beaconFixedSize:beaconFixedSize+count]...),
	}, nil
}
