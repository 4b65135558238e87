package trace

import (
	"time"
)

// MaxFrameDataSize caps the raw bytes stored in a FrameEvent. Larger frames
// are truncated and flagged so trace files stay bounded.
const MaxFrameDataSize = 4096

// Event represents one protocol event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the device session that produced the event (UUID,
	// assigned once per device open).
	SessionID string `cbor:"2,keyasint"`

	// NodeID is the mesh node id, when the device has one configured.
	NodeID uint8 `cbor:"3,keyasint,omitempty"`

	// Direction indicates transfer direction relative to the host.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// Type-specific payload (exactly one is set).
	Frame       *FrameEvent       `cbor:"7,keyasint,omitempty"`  // raw bus/HIF bytes
	Message     *MessageEvent     `cbor:"8,keyasint,omitempty"`  // decoded HIF or mesh message
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`  // chip/link/socket/route state
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"` // errors at any layer
}

// Direction indicates the direction of a transfer relative to the host.
type Direction uint8

const (
	// DirectionIn indicates chip-to-host.
	DirectionIn Direction = 0
	// DirectionOut indicates host-to-chip.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which driver layer captured the event.
type Layer uint8

const (
	// LayerBus is the serial-bus register/block tier.
	LayerBus Layer = 0
	// LayerHIF is the host-interface framing tier.
	LayerHIF Layer = 1
	// LayerSocket is the socket pool and command tier.
	LayerSocket Layer = 2
	// LayerMesh is the routing and beacon tier.
	LayerMesh Layer = 3
	// LayerLink is the WiFi association and lease tier.
	LayerLink Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerBus:
		return "BUS"
	case LayerHIF:
		return "HIF"
	case LayerSocket:
		return "SOCKET"
	case LayerMesh:
		return "MESH"
	case LayerLink:
		return "LINK"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates raw bytes on the wire.
	CategoryFrame Category = 0
	// CategoryMessage indicates a decoded protocol message.
	CategoryMessage Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the bus or HIF layer.
type FrameEvent struct {
	// Addr is the device-side address involved, when applicable.
	Addr uint32 `cbor:"1,keyasint,omitempty"`

	// Size is the full transfer size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data holds the frame bytes (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates that Data was truncated to MaxFrameDataSize.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewFrame builds a FrameEvent from raw bytes, truncating oversized payloads.
func NewFrame(addr uint32, data []byte) *FrameEvent {
	fe := &FrameEvent{Addr: addr, Size: len(data)}
	if len(data) > MaxFrameDataSize {
		fe.Data = append([]byte(nil), data[:MaxFrameDataSize]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// MessageEvent captures a decoded message. HIF events populate Group/Op;
// mesh events additionally populate the routing fields.
type MessageEvent struct {
	// Group is the HIF group id (wifi or ip).
	Group uint8 `cbor:"1,keyasint,omitempty"`

	// Op is the HIF operation id.
	Op uint8 `cbor:"2,keyasint,omitempty"`

	// Length is the declared payload length in bytes.
	Length int `cbor:"3,keyasint,omitempty"`

	// Socket is the pool index the message applies to.
	Socket *uint8 `cbor:"4,keyasint,omitempty"`

	// Session is the socket session id carried by the message.
	Session *uint16 `cbor:"5,keyasint,omitempty"`

	// Mesh header fields, set for mesh-layer events.
	Src      *uint8  `cbor:"6,keyasint,omitempty"`
	Dst      *uint8  `cbor:"7,keyasint,omitempty"`
	HopCount *uint8  `cbor:"8,keyasint,omitempty"`
	Sequence *uint16 `cbor:"9,keyasint,omitempty"`
}

// StateChangeEvent captures chip, link, socket and route lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityChip indicates a boot state machine transition.
	StateEntityChip StateEntity = 0
	// StateEntityLink indicates a WiFi link state transition.
	StateEntityLink StateEntity = 1
	// StateEntitySocket indicates a socket state transition.
	StateEntitySocket StateEntity = 2
	// StateEntityRoute indicates a routing-table change.
	StateEntityRoute StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityChip:
		return "CHIP"
	case StateEntityLink:
		return "LINK"
	case StateEntitySocket:
		return "SOCKET"
	case StateEntityRoute:
		return "ROUTE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures error details at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context describes what was being attempted.
	Context string `cbor:"3,keyasint,omitempty"`

	// Code is the chip-reported code, when one exists.
	Code *int `cbor:"4,keyasint,omitempty"`
}
