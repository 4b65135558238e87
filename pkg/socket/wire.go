package socket

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// ipFamily is the only address family the firmware speaks.
const ipFamily = 2

// recvTimeoutForever parks a receive until data arrives.
const recvTimeoutForever = 0xFFFFFFFF

// Payload offsets into the message body for data-bearing sends. The
// firmware reads control fields below them.
const (
	udpDataOffset = 68
	tcpDataOffset = 80
)

// Broadcast is the all-ones destination address.
var Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Addr is a socket endpoint. The zero value means "any address, any port"
// and triggers the firmware-side defaults on send.
type Addr struct {
	IP   netip.Addr
	Port uint16
}

func (a Addr) String() string {
	if !a.IP.IsValid() {
		return fmt.Sprintf("0.0.0.0:%d", a.Port)
	}
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// putAddr encodes the 8-byte wire form: family and port, then the address
// with the first octet in the first byte. The port travels in network
// order.
func putAddr(b []byte, a Addr) {
	binary.LittleEndian.PutUint16(b[0:], ipFamily)
	binary.BigEndian.PutUint16(b[2:], a.Port)
	if a.IP.IsValid() {
		ip := a.IP.As4()
		copy(b[4:8], ip[:])
	}
}

func parseAddr(b []byte) Addr {
	var ip [4]byte
	copy(ip[:], b[4:8])
	return Addr{
		IP:   netip.AddrFrom4(ip),
		Port: binary.BigEndian.Uint16(b[2:4]),
	}
}

// encodeBind builds the bind command: wildcard address on the given port.
func encodeBind(port uint16, sock uint8, session uint16) []byte {
	buf := make([]byte, 12)
	putAddr(buf[0:8], Addr{Port: port})
	buf[8] = sock
	binary.LittleEndian.PutUint16(buf[10:], session)
	return buf
}

func encodeListen(sock uint8, session uint16) []byte {
	buf := make([]byte, 4)
	buf[0] = sock
	binary.LittleEndian.PutUint16(buf[2:], session)
	return buf
}

// encodeRecv builds the receive arm command, shared by the stream and
// datagram forms.
func encodeRecv(sock uint8, session uint16) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], recvTimeoutForever)
	buf[4] = sock
	binary.LittleEndian.PutUint16(buf[6:], session)
	return buf
}

// encodeSendTo builds the control block for both send forms.
func encodeSendTo(sock uint8, n int, dest Addr, session uint16) []byte {
	buf := make([]byte, 16)
	buf[0] = sock
	binary.LittleEndian.PutUint16(buf[2:], uint16(n))
	putAddr(buf[4:12], dest)
	binary.LittleEndian.PutUint16(buf[12:], session)
	return buf
}

func encodeClose(sock uint8, session uint16) []byte {
	buf := make([]byte, 4)
	buf[0] = sock
	binary.LittleEndian.PutUint16(buf[2:], session)
	return buf
}

// bindResp is the firmware's answer to a bind command.
type bindResp struct {
	sock    uint8
	status  uint8
	session uint16
}

func parseBindResp(b []byte) (bindResp, error) {
	if len(b) < 4 {
		return bindResp{}, fmt.Errorf("bind response: %w", ErrShortMessage)
	}
	return bindResp{
		sock:    b[0],
		status:  b[1],
		session: binary.LittleEndian.Uint16(b[2:]),
	}, nil
}

// acceptResp announces an inbound TCP connection.
type acceptResp struct {
	peer   Addr
	listen uint8
	conn   uint8
	oset   uint16
}

func parseAcceptResp(b []byte) (acceptResp, error) {
	if len(b) < 12 {
		return acceptResp{}, fmt.Errorf("accept response: %w", ErrShortMessage)
	}
	return acceptResp{
		peer:   parseAddr(b[0:8]),
		listen: b[8],
		conn:   b[9],
		oset:   binary.LittleEndian.Uint16(b[10:]),
	}, nil
}

// recvResp announces received data (dlen > 0) or a receive error
// (dlen < 0). The payload sits oset bytes into the message body.
type recvResp struct {
	peer    Addr
	dlen    int16
	oset    uint16
	sock    uint8
	session uint16
}

func parseRecvResp(b []byte) (recvResp, error) {
	if len(b) < 16 {
		return recvResp{}, fmt.Errorf("receive response: %w", ErrShortMessage)
	}
	return recvResp{
		peer:    parseAddr(b[0:8]),
		dlen:    int16(binary.LittleEndian.Uint16(b[8:])),
		oset:    binary.LittleEndian.Uint16(b[10:]),
		sock:    b[12],
		session: binary.LittleEndian.Uint16(b[14:]),
	}, nil
}
