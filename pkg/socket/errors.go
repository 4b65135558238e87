package socket

import (
	"errors"
	"strconv"
)

var (
	// ErrInvalidSocket is returned for out-of-range socket numbers or
	// slots that are not open.
	ErrInvalidSocket = errors.New("socket: invalid socket")

	// ErrInvalidState is returned when an operation does not fit the
	// socket's current state.
	ErrInvalidState = errors.New("socket: operation not valid in this state")

	// ErrTooManySockets is returned when no slot of the requested kind is
	// free.
	ErrTooManySockets = errors.New("socket: no free socket slot")

	// ErrNoData is returned by ReadData outside a receive callback or for
	// reads past the received payload.
	ErrNoData = errors.New("socket: no received data pending")

	// ErrDataTooLong is returned for payloads exceeding the wire length
	// field.
	ErrDataTooLong = errors.New("socket: payload too long")

	// ErrShortMessage is returned for undersized firmware notifications.
	ErrShortMessage = errors.New("socket: notification body too short")
)

// SockError is a firmware error code, reported as a negative receive
// length.
type SockError int16

// Firmware error codes.
const (
	SockErrInvalidAddress  SockError = -1
	SockErrAddressInUse    SockError = -2
	SockErrTooManyTCP      SockError = -3
	SockErrTooManyUDP      SockError = -4
	SockErrInvalidArg      SockError = -6
	SockErrTooManyListen   SockError = -7
	SockErrInvalidOp       SockError = -9
	SockErrAddressRequired SockError = -11
	SockErrClosed          SockError = -12
	SockErrTimeout         SockError = -13
	SockErrBufferFull      SockError = -14
)

var sockErrNames = map[SockError]string{
	SockErrInvalidAddress:  "invalid address",
	SockErrAddressInUse:    "address in use",
	SockErrTooManyTCP:      "too many tcp sockets",
	SockErrTooManyUDP:      "too many udp sockets",
	SockErrInvalidArg:      "invalid argument",
	SockErrTooManyListen:   "too many listening sockets",
	SockErrInvalidOp:       "invalid operation",
	SockErrAddressRequired: "address required",
	SockErrClosed:          "peer closed",
	SockErrTimeout:         "timeout",
	SockErrBufferFull:      "buffer full",
}

func (e SockError) Error() string {
	if name, ok := sockErrNames[e]; ok {
		return "socket: " + name
	}
	return "socket: firmware error " + strconv.Itoa(int(e))
}

// ResultError maps a receive callback length to an error: nil for n >= 0,
// the firmware error otherwise.
func ResultError(n int) error {
	if n >= 0 {
		return nil
	}
	return SockError(n)
}
