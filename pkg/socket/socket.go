// Package socket multiplexes the chip's fixed socket pool.
//
// The chip offers ten socket slots, seven for TCP and three for UDP. Binds
// are deferred until the WiFi link is ready; receives are armed
// immediately after a bind acknowledgment and re-armed after every
// delivery. Commands carry a session number that the firmware echoes in
// its responses, which lets the engine drop acknowledgments addressed to a
// previous occupant of the same slot.
//
// The engine is driven from the device poll goroutine: HandleMessage,
// handler callbacks and the send paths all run there. Getters are safe
// from other goroutines.
package socket

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/wincmesh/winc-go/pkg/hif"
	"github.com/wincmesh/winc-go/pkg/trace"
)

// DataHandler is called when a socket delivers data (n > 0) or a receive
// error (n < 0, convertible with ResultError). While the handler runs the
// payload is readable with ReadData; the reference is gone once it
// returns.
type DataHandler func(sock uint8, n int)

// HIF is the transport the engine drives. Satisfied by *hif.Engine.
type HIF interface {
	Send(g hif.Group, op uint8, ctrl, data []byte, dataOffset int) error
	ReadAt(addr uint32, buf []byte) error
}

type slot struct {
	state     State
	kind      Kind
	localPort uint16
	session   uint16
	handler   DataHandler
	peer      Addr
	dataAddr  uint32
	dataLen   int
}

// Engine owns the socket pool.
type Engine struct {
	hif          HIF
	logger       trace.Logger
	traceSession string

	mu          sync.Mutex
	slots       [MaxSockets]slot
	nextSession uint16
	linkReady   bool
}

// New returns an Engine sending through h.
func New(h HIF) *Engine {
	return &Engine{
		hif:         h,
		logger:      trace.NoopLogger{},
		nextSession: 1,
	}
}

// SetLogger directs socket trace events to l, tagged with session.
func (e *Engine) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	e.logger = l
	e.traceSession = session
}

// OnLinkReady informs the engine of link availability. A rising edge
// binds every socket waiting in StateBinding.
func (e *Engine) OnLinkReady(ready bool) {
	e.mu.Lock()
	rising := ready && !e.linkReady
	e.linkReady = ready
	e.mu.Unlock()
	if rising {
		e.bindPending()
	}
}

// Open claims a free slot of the given kind and starts binding it to
// port. The bind goes out immediately when the link is ready and is
// otherwise deferred until it becomes ready. The handler is retained for
// the life of the socket.
func (e *Engine) Open(kind Kind, port uint16, h DataHandler) (uint8, error) {
	lo, hi := uint8(0), uint8(maxTCP)
	if kind == UDP {
		lo, hi = maxTCP, MaxSockets
	}

	e.mu.Lock()
	var sock uint8
	found := false
	for s := lo; s < hi; s++ {
		if e.slots[s].state == StateClosed {
			sock, found = s, true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", kind, ErrTooManySockets)
	}

	e.slots[sock] = slot{
		state:     StateBinding,
		kind:      kind,
		localPort: port,
		session:   e.allocSessionLocked(),
		handler:   h,
	}
	session := e.slots[sock].session
	ready := e.linkReady
	e.mu.Unlock()

	e.logState(sock, StateClosed, StateBinding, fmt.Sprintf("open %s port %d", kind, port))

	if ready {
		if err := e.sendBind(sock, port, session); err != nil {
			e.mu.Lock()
			e.slots[sock] = slot{}
			e.mu.Unlock()
			return 0, err
		}
	}
	return sock, nil
}

// SendTo transmits a datagram from a bound UDP socket. A zero destination
// address broadcasts; a zero port sends to the socket's own port, which is
// the mesh convention.
func (e *Engine) SendTo(sock uint8, dest Addr, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("%d bytes: %w", len(data), ErrDataTooLong)
	}

	e.mu.Lock()
	if int(sock) >= MaxSockets {
		e.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	sl := &e.slots[sock]
	if sl.kind != UDP || sl.state != StateBound {
		state := sl.state
		e.mu.Unlock()
		return fmt.Errorf("sendto in state %s: %w", state, ErrInvalidState)
	}
	session := sl.session
	if !dest.IP.IsValid() || dest.IP == netip.AddrFrom4([4]byte{}) {
		dest.IP = Broadcast
	}
	if dest.Port == 0 {
		dest.Port = sl.localPort
	}
	e.mu.Unlock()

	cmd := encodeSendTo(sock, len(data), dest, session)
	if err := e.hif.Send(hif.GroupIP, hif.OpSendTo|hif.DataFlag, cmd, data, udpDataOffset); err != nil {
		return fmt.Errorf("socket: sendto: %w", err)
	}
	return nil
}

// Send transmits on a connected TCP socket.
func (e *Engine) Send(sock uint8, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("%d bytes: %w", len(data), ErrDataTooLong)
	}

	e.mu.Lock()
	if int(sock) >= MaxSockets {
		e.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	sl := &e.slots[sock]
	if sl.state != StateConnected {
		state := sl.state
		e.mu.Unlock()
		return fmt.Errorf("send in state %s: %w", state, ErrInvalidState)
	}
	dest := sl.peer
	session := sl.session
	e.mu.Unlock()

	cmd := encodeSendTo(sock, len(data), dest, session)
	if err := e.hif.Send(hif.GroupIP, hif.OpSend|hif.DataFlag, cmd, data, tcpDataOffset); err != nil {
		return fmt.Errorf("socket: send: %w", err)
	}
	return nil
}

// ReadData copies received payload bytes into buf. It is only valid
// inside a DataHandler invocation with n > 0, and allows partial reads up
// to the delivered length.
func (e *Engine) ReadData(sock uint8, buf []byte) error {
	e.mu.Lock()
	if int(sock) >= MaxSockets {
		e.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	sl := &e.slots[sock]
	if sl.dataLen == 0 || len(buf) > sl.dataLen {
		avail := sl.dataLen
		e.mu.Unlock()
		return fmt.Errorf("%d bytes requested, %d available: %w", len(buf), avail, ErrNoData)
	}
	addr := sl.dataAddr
	e.mu.Unlock()

	return e.hif.ReadAt(addr, buf)
}

// Close releases the slot and tells the firmware. Closing an already
// closed socket is a no-op. The slot is freed even when the close command
// cannot be sent.
func (e *Engine) Close(sock uint8) error {
	e.mu.Lock()
	if int(sock) >= MaxSockets {
		e.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	sl := &e.slots[sock]
	if sl.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	old := sl.state
	session := sl.session
	e.slots[sock] = slot{}
	e.mu.Unlock()

	e.logState(sock, old, StateClosed, "close")

	if err := e.hif.Send(hif.GroupIP, hif.OpClose, encodeClose(sock, session), nil, 0); err != nil {
		return fmt.Errorf("socket: close: %w", err)
	}
	return nil
}

// State returns the lifecycle state of a socket slot.
func (e *Engine) State(sock uint8) (State, error) {
	if int(sock) >= MaxSockets {
		return StateClosed, fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots[sock].state, nil
}

// LocalPort returns the port a socket was opened on.
func (e *Engine) LocalPort(sock uint8) (uint16, error) {
	if int(sock) >= MaxSockets {
		return 0, fmt.Errorf("socket %d: %w", sock, ErrInvalidSocket)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots[sock].localPort, nil
}

// HandleMessage consumes IP group notifications from the chip.
func (e *Engine) HandleMessage(m hif.Message) error {
	switch m.Op {
	case hif.OpBind:
		return e.handleBind(m)
	case hif.OpAccept:
		return e.handleAccept(m)
	case hif.OpRecvFrom:
		return e.handleRecv(m, UDP)
	case hif.OpRecv:
		return e.handleRecv(m, TCP)
	case hif.OpListen, hif.OpSend, hif.OpSendTo, hif.OpClose:
		// Plain acknowledgments, nothing to track.
		return nil
	}
	e.logError("unhandled socket notification", fmt.Sprintf("op %d", m.Op))
	return nil
}

func (e *Engine) handleBind(m hif.Message) error {
	resp, err := parseBindResp(m.Body)
	if err != nil {
		return err
	}
	if int(resp.sock) >= MaxSockets {
		return fmt.Errorf("bind ack for socket %d: %w", resp.sock, ErrInvalidSocket)
	}

	e.mu.Lock()
	sl := &e.slots[resp.sock]
	if sl.state != StateBinding {
		state := sl.state
		e.mu.Unlock()
		e.logError("bind ack in wrong state", fmt.Sprintf("socket %d state %s", resp.sock, state))
		return nil
	}
	if sl.session != resp.session {
		e.mu.Unlock()
		e.logError("stale bind ack", fmt.Sprintf("socket %d session %d", resp.sock, resp.session))
		return nil
	}
	if resp.status != 0 {
		e.slots[resp.sock] = slot{}
		e.mu.Unlock()
		e.logState(resp.sock, StateBinding, StateClosed, fmt.Sprintf("bind rejected, status %d", resp.status))
		return nil
	}
	sl.state = StateBound
	kind := sl.kind
	session := sl.session
	e.mu.Unlock()

	e.logState(resp.sock, StateBinding, StateBound, "bind acknowledged")

	// TCP sockets listen once bound; UDP sockets start receiving.
	if kind == TCP {
		return e.sendListen(resp.sock, session)
	}
	return e.sendRecvFrom(resp.sock, session)
}

func (e *Engine) handleAccept(m hif.Message) error {
	resp, err := parseAcceptResp(m.Body)
	if err != nil {
		return err
	}
	if int(resp.listen) >= MaxSockets || int(resp.conn) >= MaxSockets {
		return fmt.Errorf("accept with sockets %d,%d: %w", resp.listen, resp.conn, ErrInvalidSocket)
	}

	e.mu.Lock()
	ls := &e.slots[resp.listen]
	if ls.state != StateBound {
		state := ls.state
		e.mu.Unlock()
		e.logError("accept on unbound listener", fmt.Sprintf("socket %d state %s", resp.listen, state))
		return nil
	}
	cs := &e.slots[resp.conn]
	old := cs.state
	*cs = slot{
		state:     StateConnected,
		kind:      TCP,
		localPort: ls.localPort,
		session:   e.allocSessionLocked(),
		handler:   ls.handler,
		peer:      resp.peer,
	}
	session := cs.session
	e.mu.Unlock()

	e.logState(resp.conn, old, StateConnected, "accepted "+resp.peer.String())
	return e.sendRecv(resp.conn, session)
}

// handleRecv covers both receive forms. A negative receive code closes
// the slot after the handler has seen it; otherwise datagram sockets
// re-arm unconditionally and stream sockets only after data deliveries.
func (e *Engine) handleRecv(m hif.Message, kind Kind) error {
	resp, err := parseRecvResp(m.Body)
	if err != nil {
		return err
	}
	if int(resp.sock) >= MaxSockets {
		return fmt.Errorf("receive for socket %d: %w", resp.sock, ErrInvalidSocket)
	}

	wantState := StateBound
	if kind == TCP {
		wantState = StateConnected
	}

	e.mu.Lock()
	sl := &e.slots[resp.sock]
	if sl.state != wantState || sl.kind != kind {
		state := sl.state
		e.mu.Unlock()
		e.logError("receive in wrong state", fmt.Sprintf("socket %d state %s", resp.sock, state))
		return nil
	}
	if sl.session != resp.session {
		e.mu.Unlock()
		e.logError("stale receive", fmt.Sprintf("socket %d session %d", resp.sock, resp.session))
		return nil
	}
	sl.peer = resp.peer
	if resp.dlen > 0 {
		sl.dataAddr = m.Addr + uint32(resp.oset)
		sl.dataLen = int(resp.dlen)
	} else {
		sl.dataLen = 0
	}
	handler := sl.handler
	e.mu.Unlock()

	if handler != nil {
		handler(resp.sock, int(resp.dlen))
	}

	e.mu.Lock()
	sl.dataLen = 0
	stillThere := sl.state == wantState && sl.session == resp.session
	session := sl.session
	if stillThere && resp.dlen < 0 {
		e.slots[resp.sock] = slot{}
	}
	e.mu.Unlock()

	if !stillThere {
		return nil
	}
	if resp.dlen < 0 {
		e.logState(resp.sock, wantState, StateClosed, fmt.Sprintf("receive error: %v", SockError(resp.dlen)))
		return nil
	}
	if kind == UDP {
		return e.sendRecvFrom(resp.sock, session)
	}
	if resp.dlen > 0 {
		return e.sendRecv(resp.sock, session)
	}
	return nil
}

// bindPending sends binds for every socket deferred in StateBinding. Send
// failures are logged and the socket stays deferred for the next link
// event.
func (e *Engine) bindPending() {
	type pending struct {
		sock    uint8
		port    uint16
		session uint16
	}
	var binds []pending

	e.mu.Lock()
	for s := range e.slots {
		if e.slots[s].state == StateBinding {
			binds = append(binds, pending{uint8(s), e.slots[s].localPort, e.slots[s].session})
		}
	}
	e.mu.Unlock()

	for _, b := range binds {
		if err := e.sendBind(b.sock, b.port, b.session); err != nil {
			e.logError("deferred bind failed", fmt.Sprintf("socket %d: %v", b.sock, err))
		}
	}
}

func (e *Engine) allocSessionLocked() uint16 {
	s := e.nextSession
	e.nextSession++
	if e.nextSession == 0 {
		e.nextSession = 1
	}
	return s
}

func (e *Engine) sendBind(sock uint8, port, session uint16) error {
	if err := e.hif.Send(hif.GroupIP, hif.OpBind, encodeBind(port, sock, session), nil, 0); err != nil {
		return fmt.Errorf("socket: bind: %w", err)
	}
	return nil
}

func (e *Engine) sendListen(sock uint8, session uint16) error {
	if err := e.hif.Send(hif.GroupIP, hif.OpListen, encodeListen(sock, session), nil, 0); err != nil {
		return fmt.Errorf("socket: listen: %w", err)
	}
	return nil
}

func (e *Engine) sendRecv(sock uint8, session uint16) error {
	if err := e.hif.Send(hif.GroupIP, hif.OpRecv, encodeRecv(sock, session), nil, 0); err != nil {
		return fmt.Errorf("socket: recv: %w", err)
	}
	return nil
}

func (e *Engine) sendRecvFrom(sock uint8, session uint16) error {
	if err := e.hif.Send(hif.GroupIP, hif.OpRecvFrom, encodeRecv(sock, session), nil, 0); err != nil {
		return fmt.Errorf("socket: recvfrom: %w", err)
	}
	return nil
}

func (e *Engine) logState(sock uint8, old, new State, reason string) {
	e.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: e.traceSession,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerSocket,
		Category:  trace.CategoryState,
		StateChange: &trace.StateChangeEvent{
			Entity:   trace.StateEntitySocket,
			OldState: fmt.Sprintf("%d/%s", sock, old),
			NewState: fmt.Sprintf("%d/%s", sock, new),
			Reason:   reason,
		},
	})
}

func (e *Engine) logError(msg, context string) {
	e.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: e.traceSession,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerSocket,
		Category:  trace.CategoryError,
		Error: &trace.ErrorEventData{
			Layer:   trace.LayerSocket,
			Message: msg,
			Context: context,
		},
	})
}
