package sim

import (
	"encoding/binary"
	"net/netip"
	"sync"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/chip"
	"github.com/wincmesh/winc-go/pkg/hif"
)

// Fixed shared-memory layout of the emulated chip.
const (
	txStage    = 0x037800 // staging area granted for outbound messages
	rxBase     = 0x20000  // inbound mailbox
	gp2Offset  = 0x1160   // descriptor table offset published in GP2
	macOffset  = 0x0100   // factory MAC inside the shared region
	infoOffset = 0x0140   // firmware info block inside the shared region
)

// Identity the emulation reports.
const (
	chipID   = 0x1002B1
	revision = 3
)

var firmware = [3]byte{19, 6, 1}

const efuseLoaded = 1 << 31

// fwSocket is the firmware-side view of one socket slot.
type fwSocket struct {
	open    bool
	port    uint16
	session uint16
	armed   bool
	pending []datagram
}

type datagram struct {
	from endpoint
	data []byte
}

// pendingCap bounds buffered datagrams per socket; the oldest is dropped
// beyond it, like firmware under memory pressure.
const pendingCap = 32

// inbound is one notification waiting in the mailbox.
type inbound struct {
	group      hif.Group
	op         uint8
	ctrl       []byte
	payload    []byte
	payloadOff int
}

func (m inbound) bodyLen() int {
	if len(m.payload) > 0 {
		return m.payloadOff + len(m.payload)
	}
	return len(m.ctrl)
}

// Chip emulates one WiFi chip. It implements bus.Bus, bus.IRQLine and
// bus.Resetter, so it plugs in wherever the SPI transport would.
type Chip struct {
	air *Air
	mac [6]byte

	mu   sync.Mutex
	regs map[uint32]uint32
	mem  map[uint32]byte

	fwActive bool
	kickWord uint32

	queue   []inbound
	current bool

	linkUp bool
	apMode bool
	ip     netip.Addr
	gw     netip.Addr

	socks [10]fwSocket
}

var (
	_ bus.Bus      = (*Chip)(nil)
	_ bus.IRQLine  = (*Chip)(nil)
	_ bus.Resetter = (*Chip)(nil)
)

func newChip(a *Air, mac [6]byte) *Chip {
	c := &Chip{air: a, mac: mac}
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	return c
}

// MAC returns the chip's factory address.
func (c *Chip) MAC() [6]byte { return c.mac }

// Addr returns the chip's leased address while the link is up.
func (c *Chip) Addr() (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip, c.linkUp
}

// Reset powers the chip back to the bootrom state.
func (c *Chip) Reset() error {
	c.air.leave(c)
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	return nil
}

func (c *Chip) resetLocked() {
	c.regs = map[uint32]uint32{
		chip.RegChipID:   chipID,
		chip.RegRevID:    revision,
		chip.RegEFuse:    efuseLoaded,
		chip.RegHostWait: 0,
		chip.RegBootROM:  chip.FinishBoot,
		chip.RegGP2:      gp2Offset,
	}
	c.mem = make(map[uint32]byte)
	c.fwActive = false
	c.kickWord = 0
	c.queue = nil
	c.current = false
	c.linkUp = false
	c.apMode = false
	c.ip = netip.Addr{}
	c.gw = netip.Addr{}
	c.socks = [10]fwSocket{}

	// Descriptor chain served to chip.Info.
	table := uint32(chip.SharedBase | gp2Offset)
	c.mem[table+2] = byte(macOffset & 0xff)
	c.mem[table+3] = byte(macOffset >> 8)
	c.mem[table+4] = byte(infoOffset & 0xff)
	c.mem[table+5] = byte(infoOffset >> 8)
	for i, b := range c.mac {
		c.mem[uint32(chip.SharedBase|macOffset)+uint32(i)] = b
	}
	for i, b := range firmware {
		c.mem[uint32(chip.SharedBase|infoOffset)+4+uint32(i)] = b
	}
}

// Asserted reports whether a notification waits in the mailbox.
func (c *Chip) Asserted() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, nil
}

// ReadReg implements bus.Bus.
func (c *Chip) ReadReg(addr uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr], nil
}

// WriteReg implements bus.Bus. Control register writes drive the
// emulation: the bootrom launch, send grants and the mailbox handshake.
func (c *Chip) WriteReg(addr, val uint32) error {
	var cmd *command

	c.mu.Lock()
	switch addr {
	case chip.RegNMIState:
		if c.fwActive {
			c.kickWord = val
		} else {
			c.regs[addr] = val
		}

	case chip.RegBootROM:
		c.regs[addr] = val
		if val == chip.StartFirmware {
			c.fwActive = true
			c.regs[chip.RegNMIState] = chip.FinishInit
		}

	case chip.RegRxCtrl2:
		// Send kick. Grant the staging area immediately.
		if val&2 != 0 {
			c.regs[chip.RegRxCtrl4] = txStage
			c.regs[addr] = val &^ 2
		} else {
			c.regs[addr] = val
		}

	case chip.RegRxCtrl3:
		c.regs[addr] = val
		if val&2 != 0 {
			cmd = c.extractCommandLocked(val >> 2)
		}

	case chip.RegRxCtrl0:
		if val&2 != 0 {
			// Receive done: release the mailbox, promote the next
			// notification.
			c.current = false
			c.regs[addr] = 0
			c.promoteLocked()
		} else {
			c.regs[addr] = val
		}

	default:
		c.regs[addr] = val
	}
	c.mu.Unlock()

	if cmd != nil {
		c.execute(*cmd)
	}
	return nil
}

// ReadBlock implements bus.Bus.
func (c *Chip) ReadBlock(addr uint32, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range buf {
		buf[i] = c.mem[addr+uint32(i)]
	}
	return nil
}

// WriteBlock implements bus.Bus.
func (c *Chip) WriteBlock(addr uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range data {
		c.mem[addr+uint32(i)] = b
	}
	return nil
}

// command is one staged host message, captured at the doorbell write.
type command struct {
	group hif.Group
	op    uint8
	body  []byte
}

func (c *Chip) extractCommandLocked(addr uint32) *command {
	group := hif.Group(c.mem[addr])
	total := int(binary.LittleEndian.Uint16([]byte{c.mem[addr+2], c.mem[addr+3]}))
	if total < hif.HeaderSize {
		return nil
	}
	body := make([]byte, total-hif.HeaderSize)
	for i := range body {
		body[i] = c.mem[addr+hif.HeaderSize+uint32(i)]
	}
	return &command{
		group: group,
		op:    uint8(c.kickWord>>8) &^ hif.DataFlag,
		body:  body,
	}
}

// enqueue hands a notification to the mailbox.
func (c *Chip) enqueue(m inbound) {
	c.mu.Lock()
	c.queue = append(c.queue, m)
	c.promoteLocked()
	c.mu.Unlock()
}

// promoteLocked surfaces the next queued notification when the mailbox is
// free: the message bytes appear in shared memory and the pending bit
// goes up.
func (c *Chip) promoteLocked() {
	if c.current || len(c.queue) == 0 {
		return
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	c.current = true

	mlen := hif.HeaderSize + m.bodyLen()
	c.mem[rxBase] = byte(m.group)
	c.mem[rxBase+1] = m.op
	c.mem[rxBase+2] = byte(mlen)
	c.mem[rxBase+3] = byte(mlen >> 8)
	for i, b := range m.ctrl {
		c.mem[rxBase+hif.HeaderSize+uint32(i)] = b
	}
	for i, b := range m.payload {
		c.mem[rxBase+hif.HeaderSize+uint32(m.payloadOff)+uint32(i)] = b
	}

	c.regs[chip.RegRxCtrl0] = 1 | uint32(mlen)<<2
	c.regs[chip.RegRxCtrl1] = rxBase
}

// linkSnapshot reads the link state without holding the medium lock.
func (c *Chip) linkSnapshot() (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip, c.linkUp
}

// deliverDatagram hands a datagram to the socket bound on port. With a
// receive armed it surfaces immediately; otherwise it waits in the
// firmware buffer until the next receive command.
func (c *Chip) deliverDatagram(port uint16, from endpoint, payload []byte) {
	c.mu.Lock()
	if !c.linkUp {
		c.mu.Unlock()
		return
	}
	idx := -1
	for i := range c.socks {
		if c.socks[i].open && c.socks[i].port == port {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	s := &c.socks[idx]
	if !s.armed {
		if len(s.pending) >= pendingCap {
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, datagram{from, append([]byte(nil), payload...)})
		c.mu.Unlock()
		return
	}
	s.armed = false
	session := s.session
	c.mu.Unlock()

	c.enqueue(recvNotification(hif.OpRecvFrom, uint8(idx), session, from, payload))
}
