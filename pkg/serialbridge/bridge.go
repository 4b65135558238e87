// Package serialbridge drives the chip through a UART register bridge: a
// small adapter that forwards register and block operations to the chip's
// native bus and reports the interrupt line. Each exchange is one request
// frame (op, 3-byte address, 2-byte length, payload) answered by a
// status-prefixed response.
package serialbridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/trace"
)

// Bridge operations. The response to every op is a status byte followed
// by the op's fixed payload.
const (
	opReadReg    = 0x01 // -> status + 4 value bytes
	opWriteReg   = 0x02 // -> status
	opReadBlock  = 0x03 // -> status + requested bytes
	opWriteBlock = 0x04 // -> status
	opIRQ        = 0x05 // -> status + line level
	opReset      = 0x06 // -> status
)

const statusOK = 0x00

// headerSize is op + 3 address bytes + 2 length bytes.
const headerSize = 6

// maxBlockSize is the largest count expressible in the 2-byte length
// field of the bridge framing.
const maxBlockSize = 1<<16 - 1

var (
	// ErrTimeout is returned when the bridge stops answering within the
	// configured read deadline. The bridge and chip state are unknown.
	ErrTimeout = errors.New("serialbridge: response timeout")

	// ErrBadStatus is returned when the bridge answers with a non-zero
	// status byte.
	ErrBadStatus = errors.New("serialbridge: bridge reported failure")
)

// Port is the slice of a serial port the bridge needs. Satisfied by
// go.bug.st/serial.Port.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Config configures the bridge connection.
type Config struct {
	// Baud is the UART line rate.
	Baud int

	// ReadTimeout bounds each wait for response bytes.
	ReadTimeout time.Duration
}

// DefaultConfig returns the rates the stock bridge firmware runs at.
func DefaultConfig() Config {
	return Config{
		Baud:        115200,
		ReadTimeout: 500 * time.Millisecond,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("serialbridge: baud rate %d", c.Baud)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("serialbridge: read timeout %v", c.ReadTimeout)
	}
	return nil
}

// Bus speaks the bridge protocol over a serial port. It implements the
// register bus, the interrupt line and the reset control, so a Device can
// run over it unchanged.
//
// A mutex serializes exchanges; the bridge answers one request at a time.
type Bus struct {
	mu      sync.Mutex
	port    Port
	logger  trace.Logger
	session string
}

var (
	_ bus.Bus      = (*Bus)(nil)
	_ bus.IRQLine  = (*Bus)(nil)
	_ bus.Resetter = (*Bus)(nil)
)

// Open connects to the bridge on the named serial device.
func Open(device string, cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serialbridge: open %s: %w", device, err)
	}
	b, err := NewBus(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

// NewBus wraps an already opened port. Tests inject fakes here.
func NewBus(port Port, cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("serialbridge: set read timeout: %w", err)
	}
	return &Bus{port: port, logger: trace.NoopLogger{}}, nil
}

// SetLogger directs frame-level trace events for block transfers to l.
// Events are tagged with the given session id.
func (b *Bus) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	b.mu.Lock()
	b.logger = l
	b.session = session
	b.mu.Unlock()
}

// Close releases the serial port.
func (b *Bus) Close() error {
	return b.port.Close()
}

// ReadReg reads a 32-bit register through the bridge.
func (b *Bus) ReadReg(addr uint32) (uint32, error) {
	rsp, err := b.exchange(opReadReg, addr, nil, 4)
	if err != nil {
		return 0, fmt.Errorf("read reg %#x: %w", addr, err)
	}
	return uint32(rsp[0])<<24 | uint32(rsp[1])<<16 | uint32(rsp[2])<<8 | uint32(rsp[3]), nil
}

// WriteReg writes a 32-bit register through the bridge.
func (b *Bus) WriteReg(addr, val uint32) error {
	payload := []byte{byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)}
	if _, err := b.exchange(opWriteReg, addr, payload, 0); err != nil {
		return fmt.Errorf("write reg %#x: %w", addr, err)
	}
	return nil
}

// ReadBlock reads len(buf) bytes of shared memory starting at addr.
func (b *Bus) ReadBlock(addr uint32, buf []byte) error {
	if len(buf) > maxBlockSize {
		return fmt.Errorf("read block %#x (%d bytes): %w", addr, len(buf), bus.ErrDataTooLarge)
	}
	rsp, err := b.exchangeN(opReadBlock, addr, uint16(len(buf)), nil, len(buf))
	if err != nil {
		return fmt.Errorf("read block %#x: %w", addr, err)
	}
	copy(buf, rsp)
	b.logFrame(trace.DirectionIn, addr, buf)
	return nil
}

// WriteBlock writes data to shared memory starting at addr.
func (b *Bus) WriteBlock(addr uint32, data []byte) error {
	if len(data) > maxBlockSize {
		return fmt.Errorf("write block %#x (%d bytes): %w", addr, len(data), bus.ErrDataTooLarge)
	}
	if _, err := b.exchange(opWriteBlock, addr, data, 0); err != nil {
		return fmt.Errorf("write block %#x: %w", addr, err)
	}
	b.logFrame(trace.DirectionOut, addr, data)
	return nil
}

// Asserted reports the level of the chip's interrupt line as sampled by
// the bridge.
func (b *Bus) Asserted() (bool, error) {
	rsp, err := b.exchange(opIRQ, 0, nil, 1)
	if err != nil {
		return false, fmt.Errorf("irq: %w", err)
	}
	return rsp[0] != 0, nil
}

// Reset pulses the chip's reset input. Any response bytes left over from
// an interrupted exchange are flushed first, so the reply to the reset op
// is read in isolation.
func (b *Bus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if _, err := b.exchangeLocked(opReset, 0, 0, nil, 0); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// exchange runs one request/response with the payload length taken from
// the payload itself.
func (b *Bus) exchange(op byte, addr uint32, payload []byte, respLen int) ([]byte, error) {
	return b.exchangeN(op, addr, uint16(len(payload)), payload, respLen)
}

// exchangeN runs one request/response with an explicit length field, used
// by block reads where the length names the response size instead.
func (b *Bus) exchangeN(op byte, addr uint32, count uint16, payload []byte, respLen int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchangeLocked(op, addr, count, payload, respLen)
}

func (b *Bus) exchangeLocked(op byte, addr uint32, count uint16, payload []byte, respLen int) ([]byte, error) {
	frame := make([]byte, headerSize+len(payload))
	frame[0] = op
	frame[1] = byte(addr >> 16)
	frame[2] = byte(addr >> 8)
	frame[3] = byte(addr)
	frame[4] = byte(count >> 8)
	frame[5] = byte(count)
	copy(frame[headerSize:], payload)

	if _, err := b.port.Write(frame); err != nil {
		return nil, err
	}

	rsp := make([]byte, 1+respLen)
	if err := b.readFull(rsp); err != nil {
		return nil, err
	}
	if rsp[0] != statusOK {
		return nil, fmt.Errorf("%w (status %#x)", ErrBadStatus, rsp[0])
	}
	return rsp[1:], nil
}

// readFull fills buf from the port. The serial library signals a read
// deadline by returning zero bytes without an error.
func (b *Bus) readFull(buf []byte) error {
	for got := 0; got < len(buf); {
		n, err := b.port.Read(buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		got += n
	}
	return nil
}

func (b *Bus) logFrame(dir trace.Direction, addr uint32, data []byte) {
	b.mu.Lock()
	logger, session := b.logger, b.session
	b.mu.Unlock()
	logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: session,
		Direction: dir,
		Layer:     trace.LayerBus,
		Category:  trace.CategoryFrame,
		Frame:     trace.NewFrame(addr, data),
	})
}
