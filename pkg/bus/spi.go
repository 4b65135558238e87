package bus

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/wincmesh/winc-go/pkg/trace"
)

// Command bytes of the serial protocol. The chip echoes the command byte
// back in its response, so they double as response markers.
const (
	cmdInternalRead = 0xC4 // clockless register read
	cmdWriteData    = 0xC7 // block write
	cmdReadData     = 0xC8 // block read
	cmdSingleWrite  = 0xC9 // register write
	cmdSingleRead   = 0xCA // register read
)

// Registers at or below clocklessLimit are reachable before the chip's main
// clock runs. They use the internal-read command and a shifted address with
// the clockless flag set.
const (
	clocklessLimit = 0x30
	clocklessFlag  = 1 << 15
)

const (
	dataMarker      = 0xF3 // prefixes every block-write payload
	writeDoneMarker = 0xC3 // chip signals block-write completion

	// readyTries bounds the idle clocks spent waiting for a block
	// transfer marker.
	readyTries = 10
)

// maxBlockSize is the largest count expressible in the 3-byte length field
// of the block commands.
const maxBlockSize = 1<<24 - 1

// crcOff is the raw command that turns off CRC framing. It must be the
// first traffic after reset; every other method assumes CRC is off.
var crcOff = []byte{0xC9, 0x00, 0xE8, 0x24, 0x00, 0x00, 0x00, 0x52, 0x5C, 0x00, 0x00}

// SPI implements Bus on top of a raw full-duplex connection using the
// chip's native command set.
//
// SPI is not safe for concurrent use. The device layer serializes access.
type SPI struct {
	conn    Conn
	logger  trace.Logger
	session string
}

var _ Bus = (*SPI)(nil)

// NewSPI returns a Bus speaking the chip's SPI command set over conn.
func NewSPI(conn Conn) *SPI {
	return &SPI{conn: conn, logger: trace.NoopLogger{}}
}

// SetLogger directs frame-level trace events for block transfers to l.
// Events are tagged with the given session id.
func (s *SPI) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	s.logger = l
	s.session = session
}

// DisableCRC turns off CRC framing on the wire.
func (s *SPI) DisableCRC() error {
	if _, err := s.transfer(crcOff, 0); err != nil {
		return fmt.Errorf("disable crc: %w", err)
	}
	return nil
}

// ReadReg reads a 32-bit register. Addresses at or below the clockless
// limit are read with the internal-read command.
func (s *SPI) ReadReg(addr uint32) (uint32, error) {
	cmd := byte(cmdSingleRead)
	wire := addr
	if addr <= clocklessLimit {
		cmd = cmdInternalRead
		wire = (addr | clocklessFlag) << 8
	}

	out := make([]byte, 4)
	out[0] = cmd
	putUint24(out[1:], wire)
	in, err := s.transfer(out, 7)
	if err != nil {
		return 0, fmt.Errorf("read reg %#x: %w", addr, err)
	}

	rsp := in[len(out):]
	if rsp[0] != cmd || rsp[1] != 0 || rsp[2]&0xF0 != 0xF0 {
		return 0, fmt.Errorf("read reg %#x: %w", addr, ErrBadResponse)
	}
	return binary.LittleEndian.Uint32(rsp[3:]), nil
}

// WriteReg writes a 32-bit register.
func (s *SPI) WriteReg(addr, val uint32) error {
	out := make([]byte, 8)
	out[0] = cmdSingleWrite
	putUint24(out[1:], addr)
	binary.BigEndian.PutUint32(out[4:], val)
	in, err := s.transfer(out, 2)
	if err != nil {
		return fmt.Errorf("write reg %#x: %w", addr, err)
	}

	rsp := in[len(out):]
	if rsp[0] != cmdSingleWrite || rsp[1] != 0 {
		return fmt.Errorf("write reg %#x: %w", addr, ErrBadResponse)
	}
	return nil
}

// ReadBlock reads len(buf) bytes of shared memory starting at addr. The
// chip signals readiness by echoing the read command after a run of idle
// bytes; two spacing clocks precede the payload.
func (s *SPI) ReadBlock(addr uint32, buf []byte) error {
	if len(buf) > maxBlockSize {
		return fmt.Errorf("read block %#x (%d bytes): %w", addr, len(buf), ErrDataTooLarge)
	}

	out := make([]byte, 7)
	out[0] = cmdReadData
	putUint24(out[1:], addr)
	putUint24(out[4:], uint32(len(buf)))
	if _, err := s.transfer(out, 0); err != nil {
		return fmt.Errorf("read block %#x: %w", addr, err)
	}

	marker, err := s.pollMarker(func(b byte) bool { return b != 0 })
	if err != nil {
		return fmt.Errorf("read block %#x: %w", addr, err)
	}
	if marker == 0 {
		return fmt.Errorf("read block %#x: %w", addr, ErrNotReady)
	}
	if marker != cmdReadData {
		return fmt.Errorf("read block %#x: got marker %#x: %w", addr, marker, ErrBadResponse)
	}

	if _, err := s.clock(2); err != nil {
		return fmt.Errorf("read block %#x: %w", addr, err)
	}
	if err := s.conn.Tx(make([]byte, len(buf)), buf); err != nil {
		return fmt.Errorf("read block %#x: %w", addr, err)
	}

	s.logFrame(trace.DirectionIn, addr, buf)
	return nil
}

// WriteBlock writes data to shared memory starting at addr. The payload is
// sent in its own chip-select window behind a data marker; the chip then
// raises a completion marker, followed by one idle clock.
func (s *SPI) WriteBlock(addr uint32, data []byte) error {
	if len(data) > maxBlockSize {
		return fmt.Errorf("write block %#x (%d bytes): %w", addr, len(data), ErrDataTooLarge)
	}

	out := make([]byte, 7)
	out[0] = cmdWriteData
	putUint24(out[1:], addr)
	putUint24(out[4:], uint32(len(data)))
	in, err := s.transfer(out, 2)
	if err != nil {
		return fmt.Errorf("write block %#x: %w", addr, err)
	}
	if in[len(out)] != cmdWriteData {
		return fmt.Errorf("write block %#x: %w", addr, ErrBadResponse)
	}

	payload := make([]byte, len(data)+1)
	payload[0] = dataMarker
	copy(payload[1:], data)
	if _, err := s.transfer(payload, 0); err != nil {
		return fmt.Errorf("write block %#x: %w", addr, err)
	}

	marker, err := s.pollMarker(func(b byte) bool { return b == writeDoneMarker })
	if err != nil {
		return fmt.Errorf("write block %#x: %w", addr, err)
	}
	if marker != writeDoneMarker {
		return fmt.Errorf("write block %#x: %w", addr, ErrNotReady)
	}
	if _, err := s.clock(1); err != nil {
		return fmt.Errorf("write block %#x: %w", addr, err)
	}

	s.logFrame(trace.DirectionOut, addr, data)
	return nil
}

// transfer clocks out followed by extra idle bytes in one chip-select
// window and returns everything the chip drove back.
func (s *SPI) transfer(out []byte, extra int) ([]byte, error) {
	tx := make([]byte, len(out)+extra)
	copy(tx, out)
	rx := make([]byte, len(tx))
	if err := s.conn.Tx(tx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

// clock shifts n idle bytes in their own chip-select window.
func (s *SPI) clock(n int) ([]byte, error) {
	in := make([]byte, n)
	if err := s.conn.Tx(make([]byte, n), in); err != nil {
		return nil, err
	}
	return in, nil
}

// pollMarker clocks single idle bytes until done accepts one or the try
// budget runs out, and returns the last byte seen.
func (s *SPI) pollMarker(done func(byte) bool) (byte, error) {
	var b byte
	for try := 0; try < readyTries && !done(b); try++ {
		in, err := s.clock(1)
		if err != nil {
			return 0, err
		}
		b = in[0]
	}
	return b, nil
}

func (s *SPI) logFrame(dir trace.Direction, addr uint32, data []byte) {
	s.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: s.session,
		Direction: dir,
		Layer:     trace.LayerBus,
		Category:  trace.CategoryFrame,
		Frame:     trace.NewFrame(addr, data),
	})
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
