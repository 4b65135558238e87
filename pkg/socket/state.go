package socket

// State is the lifecycle state of a socket slot.
type State uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type=State -trimprefix=State

const (
	// StateClosed marks a free slot.
	StateClosed State = iota
	// StateBinding means a bind is pending or deferred until the link is
	// ready.
	StateBinding
	// StateBound means the firmware acknowledged the bind. UDP sockets
	// receive in this state; TCP sockets listen.
	StateBound
	// StateAccepted is kept for wire compatibility; the driver moves
	// accepted connections straight to StateConnected.
	StateAccepted
	// StateConnected means a TCP connection is established.
	StateConnected
)

// Kind selects the transport of a socket slot.
type Kind uint8

const (
	TCP Kind = iota
	UDP
)

func (k Kind) String() string {
	if k == TCP {
		return "tcp"
	}
	return "udp"
}

// Slot pool layout. TCP slots come first, UDP slots after.
const (
	MaxSockets = 10
	maxTCP     = 7 // TCP slots are [0, maxTCP), UDP slots [maxTCP, MaxSockets)
)
