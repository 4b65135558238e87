// Package sim emulates the WiFi chip at the register level: the boot
// handshake, the host interface mailboxes and enough of the firmware's
// WiFi and socket behavior to run the full driver stack against it. An
// Air instance is the shared medium; every chip created from it can reach
// the others once an access point is up.
//
// The emulation is synchronous. Commands take effect inside the doorbell
// write, and their notifications wait in the chip's mailbox until the
// host polls them out. That keeps multi node tests deterministic without
// sleeps.
package sim

import (
	"errors"
	"net/netip"
	"sync"
)

var (
	// ErrNoNetwork is reported when a station joins while no access point
	// is serving, or the SSID does not match.
	ErrNoNetwork = errors.New("sim: no matching network")

	// ErrAPBusy is reported when a second chip starts an access point.
	ErrAPBusy = errors.New("sim: access point already serving")
)

// maxDatagram drops absurd payloads instead of wedging a mailbox.
const maxDatagram = 1500

// broadcastIP is the limited broadcast address stations send to.
var broadcastIP = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// gatewayIP is the address the access point serves from.
var gatewayIP = netip.AddrFrom4([4]byte{192, 168, 1, 1})

type endpoint struct {
	ip   netip.Addr
	port uint16
}

// DropFilter shapes the topology: the medium swallows any datagram for
// which it returns true. Association and leases are not affected, only
// the datagram fabric, so two chips can share an access point without
// hearing each other.
type DropFilter func(from, to *Chip) bool

// Air is the shared medium connecting simulated chips.
type Air struct {
	mu      sync.Mutex
	members []*Chip
	ap      *Chip
	apSSID  string
	filter  DropFilter
	nextMAC uint8
	nextIP  uint8
}

// NewAir returns an empty medium.
func NewAir() *Air {
	return &Air{nextIP: 2}
}

// NewChip adds a powered-off chip to the medium.
func (a *Air) NewChip() *Chip {
	a.mu.Lock()
	a.nextMAC++
	mac := [6]byte{0xF8, 0xF0, 0x05, 0x20, 0x00, a.nextMAC}
	a.mu.Unlock()

	c := newChip(a, mac)

	a.mu.Lock()
	a.members = append(a.members, c)
	a.mu.Unlock()
	return c
}

// startAP claims the medium for c and returns its serving address.
func (a *Air) startAP(c *Chip, ssid string) (netip.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ap != nil && a.ap != c {
		return netip.Addr{}, ErrAPBusy
	}
	a.ap = c
	a.apSSID = ssid
	return gatewayIP, nil
}

// stopAP releases the medium and returns the stations that lose their
// link with it.
func (a *Air) stopAP(c *Chip) []*Chip {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ap != c {
		return nil
	}
	a.ap = nil
	a.apSSID = ""

	var stations []*Chip
	for _, m := range a.members {
		if m != c {
			stations = append(stations, m)
		}
	}
	return stations
}

// join hands out a lease when an access point serves the requested SSID.
func (a *Air) join(c *Chip, ssid string) (addr, gateway netip.Addr, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ap == nil || a.apSSID != ssid {
		return netip.Addr{}, netip.Addr{}, ErrNoNetwork
	}
	ip := netip.AddrFrom4([4]byte{192, 168, 1, a.nextIP})
	a.nextIP++
	return ip, gatewayIP, nil
}

// leave removes any medium state held for c.
func (a *Air) leave(c *Chip) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ap == c {
		a.ap = nil
		a.apSSID = ""
	}
}

// SetDropFilter installs f as the link shaper. A nil f restores full
// connectivity.
func (a *Air) SetDropFilter(f DropFilter) {
	a.mu.Lock()
	a.filter = f
	a.mu.Unlock()
}

// sendDatagram routes one datagram. The limited broadcast address reaches
// every linked chip except the sender; anything else is unicast.
func (a *Air) sendDatagram(src *Chip, dest endpoint, from endpoint, payload []byte) {
	if len(payload) > maxDatagram {
		return
	}

	a.mu.Lock()
	filter := a.filter
	targets := make([]*Chip, 0, len(a.members))
	for _, m := range a.members {
		if m == src {
			continue
		}
		ip, up := m.linkSnapshot()
		if !up {
			continue
		}
		if filter != nil && filter(src, m) {
			continue
		}
		if dest.ip == broadcastIP || ip == dest.ip {
			targets = append(targets, m)
		}
	}
	a.mu.Unlock()

	for _, m := range targets {
		m.deliverDatagram(dest.port, from, payload)
	}
}
