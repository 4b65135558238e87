package sim

import (
	"encoding/binary"
	"net/netip"

	"github.com/wincmesh/winc-go/pkg/hif"
)

// execute runs one host command against the emulated firmware. It is
// called without the chip lock held, so notifications and air traffic can
// take their own locks.
func (c *Chip) execute(cmd command) {
	switch cmd.group {
	case hif.GroupWiFi:
		c.wifiCommand(cmd.op, cmd.body)
	case hif.GroupIP:
		c.socketCommand(cmd.op, cmd.body)
	}
}

func (c *Chip) wifiCommand(op uint8, body []byte) {
	switch op {
	case hif.OpConnectNew:
		if len(body) < 44 {
			return
		}
		n := int(body[4])
		if n > 39 {
			return
		}
		c.joinNetwork(string(body[5 : 5+n]))

	case hif.OpConnectOld:
		if len(body) < 102 {
			return
		}
		c.joinNetwork(cString(body[70:102]))

	case hif.OpApEnable:
		if len(body) < 34 {
			return
		}
		ssid := cString(body[0:33])
		ip, err := c.air.startAP(c, ssid)
		if err != nil {
			c.enqueue(stateChange(0))
			return
		}
		c.setLink(ip, gatewayIP, true)
		c.enqueue(inbound{group: hif.GroupWiFi, op: hif.OpApEnable, ctrl: leaseBytes(ip, ip)})

	case hif.OpApDisable:
		stations := c.air.stopAP(c)
		c.clearLink()
		for _, s := range stations {
			if s.dropLink() {
				s.enqueue(stateChange(0))
			}
		}
	}
}

func (c *Chip) joinNetwork(ssid string) {
	ip, gw, err := c.air.join(c, ssid)
	if err != nil {
		c.enqueue(stateChange(0))
		return
	}
	c.setLink(ip, gw, false)
	c.enqueue(stateChange(1))
	c.enqueue(inbound{group: hif.GroupWiFi, op: hif.OpDHCPConf, ctrl: leaseBytes(ip, gw)})
}

func (c *Chip) socketCommand(op uint8, body []byte) {
	switch op {
	case hif.OpBind:
		if len(body) < 12 {
			return
		}
		sock := body[8]
		if int(sock) >= len(c.socks) {
			return
		}
		port := binary.BigEndian.Uint16(body[2:4])
		session := binary.LittleEndian.Uint16(body[10:12])

		c.mu.Lock()
		c.socks[sock] = fwSocket{open: true, port: port, session: session}
		c.mu.Unlock()

		ack := make([]byte, 4)
		ack[0] = sock
		binary.LittleEndian.PutUint16(ack[2:], session)
		c.enqueue(inbound{group: hif.GroupIP, op: hif.OpBind, ctrl: ack})

	case hif.OpListen:
		// Nothing connects to stream sockets in the emulation; the bind
		// ack already moved the driver on.

	case hif.OpRecv, hif.OpRecvFrom:
		if len(body) < 8 {
			return
		}
		sock := body[4]
		if int(sock) >= len(c.socks) {
			return
		}

		c.mu.Lock()
		s := &c.socks[sock]
		if !s.open {
			c.mu.Unlock()
			return
		}
		var queued *datagram
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			queued = &d
		} else {
			s.armed = true
		}
		session := s.session
		c.mu.Unlock()

		if queued != nil {
			c.enqueue(recvNotification(op, sock, session, queued.from, queued.data))
		}

	case hif.OpSendTo:
		if len(body) < 16 {
			return
		}
		sock := body[0]
		if int(sock) >= len(c.socks) {
			return
		}
		dlen := int(binary.LittleEndian.Uint16(body[2:4]))
		if len(body) < udpDataOffset+dlen {
			return
		}
		dest := endpoint{
			ip:   netip.AddrFrom4([4]byte(body[8:12])),
			port: binary.BigEndian.Uint16(body[6:8]),
		}

		c.mu.Lock()
		up := c.linkUp
		from := endpoint{ip: c.ip, port: c.socks[sock].port}
		c.mu.Unlock()
		if !up {
			return
		}

		c.air.sendDatagram(c, dest, from, body[udpDataOffset:udpDataOffset+dlen])

	case hif.OpSend:
		// No stream peers exist in the emulation.

	case hif.OpClose:
		if len(body) < 1 {
			return
		}
		sock := body[0]
		if int(sock) >= len(c.socks) {
			return
		}
		c.mu.Lock()
		c.socks[sock] = fwSocket{}
		c.mu.Unlock()
	}
}

func (c *Chip) setLink(ip, gw netip.Addr, ap bool) {
	c.mu.Lock()
	c.linkUp = true
	c.apMode = ap
	c.ip = ip
	c.gw = gw
	c.mu.Unlock()
}

func (c *Chip) clearLink() {
	c.mu.Lock()
	c.linkUp = false
	c.apMode = false
	c.ip = netip.Addr{}
	c.gw = netip.Addr{}
	c.mu.Unlock()
}

// dropLink clears the link and reports whether it was up.
func (c *Chip) dropLink() bool {
	c.mu.Lock()
	was := c.linkUp
	c.linkUp = false
	c.apMode = false
	c.ip = netip.Addr{}
	c.gw = netip.Addr{}
	c.mu.Unlock()
	return was
}

// udpDataOffset mirrors the datagram payload offset the driver stages
// behind the send control block.
const udpDataOffset = 68

// recvOffset places delivered payloads right behind the receive response.
const recvOffset = 16

func stateChange(state byte) inbound {
	return inbound{
		group: hif.GroupWiFi,
		op:    hif.OpStateChange,
		ctrl:  []byte{state, 0, 0, 0},
	}
}

// leaseBytes encodes the five word lease notification, first octet in the
// low byte.
func leaseBytes(ip, gw netip.Addr) []byte {
	b := make([]byte, 20)
	self := ip.As4()
	gateway := gw.As4()
	copy(b[0:4], self[:])
	copy(b[4:8], gateway[:])
	// The DNS server mirrors the gateway; the pool is a /24.
	copy(b[8:12], gateway[:])
	copy(b[12:16], []byte{255, 255, 255, 0})
	binary.LittleEndian.PutUint32(b[16:], 86400)
	return b
}

// recvNotification builds the receive response with the payload placed at
// recvOffset past the control head.
func recvNotification(op, sock uint8, session uint16, from endpoint, payload []byte) inbound {
	ctrl := make([]byte, 16)
	binary.LittleEndian.PutUint16(ctrl[0:], 2) // address family
	binary.BigEndian.PutUint16(ctrl[2:], from.port)
	if from.ip.IsValid() {
		ip := from.ip.As4()
		copy(ctrl[4:8], ip[:])
	}
	binary.LittleEndian.PutUint16(ctrl[8:], uint16(int16(len(payload))))
	binary.LittleEndian.PutUint16(ctrl[10:], recvOffset)
	ctrl[12] = sock
	binary.LittleEndian.PutUint16(ctrl[14:], session)

	return inbound{
		group:      hif.GroupIP,
		op:         op,
		ctrl:       ctrl,
		payload:    append([]byte(nil), payload...),
		payloadOff: recvOffset,
	}
}

// cString trims a NUL padded field.
func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
