package bus

import "errors"

var (
	// ErrBadResponse is returned when the chip answers a command with an
	// echo, status or marker byte it is not allowed to send.
	ErrBadResponse = errors.New("bus: malformed command response")

	// ErrNotReady is returned when the chip fails to raise a data-ready
	// marker within the bounded number of polling clocks.
	ErrNotReady = errors.New("bus: chip not ready")

	// ErrDataTooLarge is returned for block transfers that exceed the
	// 3-byte count field of the wire format.
	ErrDataTooLarge = errors.New("bus: block exceeds maximum transfer size")
)

// Conn is a single full-duplex serial transaction. One call covers one
// chip-select window: len(out) bytes are clocked out while the same number
// of bytes are captured into in. Implementations must require
// len(out) == len(in).
type Conn interface {
	Tx(out, in []byte) error
}

// Bus is the register-level view of the chip that the upper driver layers
// are written against.
type Bus interface {
	// ReadReg reads a 32-bit register.
	ReadReg(addr uint32) (uint32, error)

	// WriteReg writes a 32-bit register.
	WriteReg(addr, val uint32) error

	// ReadBlock reads len(buf) bytes of shared memory starting at addr.
	ReadBlock(addr uint32, buf []byte) error

	// WriteBlock writes data to shared memory starting at addr.
	WriteBlock(addr uint32, data []byte) error
}

// IRQLine reports the level of the chip's interrupt output. Polled by the
// device layer; a true result means at least one event is pending.
type IRQLine interface {
	Asserted() (bool, error)
}

// Resetter is implemented by buses that control the chip's reset input.
// Optional: callers type-assert for it.
type Resetter interface {
	Reset() error
}
