// Package wifi manages the chip's WiFi link: joining a network as a
// station, running the built-in access point, and tracking link state from
// the chip's notifications.
//
// The Manager is driven from the device poll goroutine. Getters are safe
// to call from other goroutines; watcher callbacks run on the poll
// goroutine and must not block.
package wifi

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/wincmesh/winc-go/pkg/hif"
	"github.com/wincmesh/winc-go/pkg/trace"
)

var (
	// ErrInvalidCredentials is returned for out-of-range SSIDs or
	// passphrases.
	ErrInvalidCredentials = errors.New("wifi: invalid credentials")

	// ErrShortMessage is returned when a chip notification is too small
	// for its payload.
	ErrShortMessage = errors.New("wifi: notification body too short")
)

// LinkState is the station or access point link state.
type LinkState uint8

const (
	// LinkDown means no association and no usable address.
	LinkDown LinkState = iota
	// LinkJoining means a join or access point start is in flight.
	LinkJoining
	// LinkUp means associated but without an address yet.
	LinkUp
	// LinkReady means the link is usable: a lease arrived, or the access
	// point is serving.
	LinkReady
)

func (s LinkState) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkJoining:
		return "joining"
	case LinkUp:
		return "up"
	case LinkReady:
		return "ready"
	}
	return "unknown"
}

// Lease is the address configuration assigned to the station, or the fixed
// configuration the access point serves from.
type Lease struct {
	Addr      netip.Addr
	Gateway   netip.Addr
	DNS       netip.Addr
	Mask      netip.Addr
	LeaseTime uint32
}

// Sender posts host interface commands. Satisfied by *hif.Engine.
type Sender interface {
	Send(g hif.Group, op uint8, ctrl, data []byte, dataOffset int) error
}

// Watcher observes link state transitions. Callbacks run on the poll
// goroutine, after the state is updated.
type Watcher func(old, new LinkState)

// apAddr is the address the access point serves itself on.
var apAddr = netip.AddrFrom4([4]byte{192, 168, 1, 1})

// Manager owns the WiFi link.
type Manager struct {
	sender  Sender
	logger  trace.Logger
	session string

	mu       sync.Mutex
	state    LinkState
	apMode   bool
	lease    Lease
	watchers []Watcher
}

// New returns a Manager posting commands through s.
func New(s Sender) *Manager {
	return &Manager{sender: s, logger: trace.NoopLogger{}}
}

// SetLogger directs link trace events to l, tagged with session.
func (m *Manager) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	m.logger = l
	m.session = session
}

// Watch registers w for link state transitions.
func (m *Manager) Watch(w Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, w)
}

// State returns the current link state.
func (m *Manager) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the link is usable for socket traffic.
func (m *Manager) Ready() bool {
	return m.State() == LinkReady
}

// APMode reports whether the chip is running as an access point.
func (m *Manager) APMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apMode
}

// Lease returns the current address configuration. Only meaningful once
// the link is ready.
func (m *Manager) Lease() Lease {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lease
}

// Join connects to a network using the credential-block request.
func (m *Manager) Join(c Credentials) error {
	ctrl, data, err := encodeConnectNew(c)
	if err != nil {
		return err
	}
	op := uint8(hif.OpConnectNew)
	if data != nil {
		op |= hif.DataFlag
	}
	if err := m.sender.Send(hif.GroupWiFi, op, ctrl, data, len(ctrl)); err != nil {
		return fmt.Errorf("wifi: join: %w", err)
	}
	m.transition(LinkJoining, false, Lease{}, "join "+c.SSID)
	return nil
}

// JoinLegacy connects using the flat request layout older firmware expects.
func (m *Manager) JoinLegacy(c Credentials) error {
	ctrl, err := encodeConnectOld(c)
	if err != nil {
		return err
	}
	if err := m.sender.Send(hif.GroupWiFi, hif.OpConnectOld, ctrl, nil, 0); err != nil {
		return fmt.Errorf("wifi: join: %w", err)
	}
	m.transition(LinkJoining, false, Lease{}, "join "+c.SSID)
	return nil
}

// StartAP brings up the built-in access point with its DHCP server. The
// link becomes ready once the chip confirms.
func (m *Manager) StartAP(cfg APConfig) error {
	ctrl, err := encodeAPConfig(cfg)
	if err != nil {
		return err
	}
	if err := m.sender.Send(hif.GroupWiFi, hif.OpApEnable, ctrl, nil, 0); err != nil {
		return fmt.Errorf("wifi: start ap: %w", err)
	}
	m.transition(LinkJoining, true, Lease{}, "start ap "+cfg.SSID)
	return nil
}

// StopAP shuts the access point down.
func (m *Manager) StopAP() error {
	if err := m.sender.Send(hif.GroupWiFi, hif.OpApDisable, nil, nil, 0); err != nil {
		return fmt.Errorf("wifi: stop ap: %w", err)
	}
	m.transition(LinkDown, false, Lease{}, "stop ap")
	return nil
}

// HandleMessage consumes WiFi group notifications from the chip.
func (m *Manager) HandleMessage(msg hif.Message) error {
	switch msg.Op {
	case hif.OpStateChange:
		if len(msg.Body) < 4 {
			return fmt.Errorf("state change: %w", ErrShortMessage)
		}
		switch msg.Body[0] {
		case 1:
			// A repeat associate notification must not drop an existing
			// lease back to the up state.
			if m.State() != LinkReady {
				m.transition(LinkUp, m.APMode(), m.Lease(), "associated")
			}
		case 0:
			m.transition(LinkDown, false, Lease{}, "disassociated")
		}
		return nil

	case hif.OpDHCPConf:
		lease, err := parseLease(msg.Body)
		if err != nil {
			return err
		}
		m.transition(LinkReady, false, lease, "lease "+lease.Addr.String())
		return nil

	case hif.OpApEnable:
		m.transition(LinkReady, true, Lease{Addr: apAddr}, "access point serving")
		return nil

	case hif.OpApDHCPConf:
		// The DHCP server confirm may arrive before or after the enable
		// confirm; both leave the link ready.
		m.transition(LinkReady, true, Lease{Addr: apAddr}, "access point dhcp ready")
		return nil

	case hif.OpApAssocInfo:
		reason := "station association changed"
		if len(msg.Body) > 0 && msg.Body[0] == 1 {
			reason = "station associated"
		} else if len(msg.Body) > 0 {
			reason = "station left"
		}
		m.logState(m.State(), m.State(), reason)
		return nil
	}

	m.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: m.session,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerLink,
		Category:  trace.CategoryError,
		Error: &trace.ErrorEventData{
			Layer:   trace.LayerLink,
			Message: "unhandled wifi notification",
			Context: fmt.Sprintf("op %d", msg.Op),
		},
	})
	return nil
}

// transition updates the link state and fires watchers outside the lock.
func (m *Manager) transition(state LinkState, apMode bool, lease Lease, reason string) {
	m.mu.Lock()
	old := m.state
	m.state = state
	m.apMode = apMode
	m.lease = lease
	watchers := append([]Watcher(nil), m.watchers...)
	m.mu.Unlock()

	if old != state {
		m.logState(old, state, reason)
		for _, w := range watchers {
			w(old, state)
		}
	}
}

func (m *Manager) logState(old, new LinkState, reason string) {
	m.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: m.session,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerLink,
		Category:  trace.CategoryState,
		StateChange: &trace.StateChangeEvent{
			Entity:   trace.StateEntityLink,
			OldState: old.String(),
			NewState: new.String(),
			Reason:   reason,
		},
	})
}
