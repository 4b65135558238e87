// Package hif exchanges host interface messages with the chip firmware.
//
// Outbound messages are staged in chip shared memory behind a kick
// handshake; inbound ones are announced by interrupt, read out of shared
// memory and dispatched to the handler registered for their group.
package hif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/chip"
	"github.com/wincmesh/winc-go/pkg/trace"
)

var (
	// ErrBusy is returned when the chip does not accept a send kick
	// within the polling budget.
	ErrBusy = errors.New("hif: chip busy")

	// ErrBadHeader is returned for inbound messages whose header cannot
	// be valid.
	ErrBadHeader = errors.New("hif: malformed message header")
)

const (
	// stagingSize caps how much of an inbound body is read eagerly.
	// Control responses fit well below this; data-bearing messages carry
	// their payload past the control head and are read via ReadAt.
	stagingSize = 64

	kickTries = 100
	kickDelay = 10 * time.Microsecond
)

// Message is one inbound host interface message. Body holds the control
// head, at most stagingSize bytes; BodyLen is the full body length from the
// header. Addr is the shared-memory address of the body, so payloads that
// sit past a control offset can be read with ReadAt(Addr+offset, ...).
type Message struct {
	Group   Group
	Op      uint8
	Addr    uint32
	Body    []byte
	BodyLen int
}

// Handler consumes inbound messages for one group.
type Handler interface {
	HandleMessage(m Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Message) error

func (f HandlerFunc) HandleMessage(m Message) error { return f(m) }

// Engine moves messages between the host and the chip firmware.
//
// Engine is not safe for concurrent use. The device layer serializes all
// access, including handler callbacks, on one goroutine.
type Engine struct {
	bus      bus.Bus
	logger   trace.Logger
	session  string
	handlers map[Group]Handler
}

// New returns an Engine on b with no handlers registered.
func New(b bus.Bus) *Engine {
	return &Engine{
		bus:      b,
		logger:   trace.NoopLogger{},
		handlers: make(map[Group]Handler),
	}
}

// SetLogger directs message trace events to l, tagged with session.
func (e *Engine) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	e.logger = l
	e.session = session
}

// Register routes inbound messages of group g to h. A second registration
// for the same group replaces the first.
func (e *Engine) Register(g Group, h Handler) {
	e.handlers[g] = h
}

// Send writes one message to the chip. ctrl is the control block placed
// right after the header. A non-empty data payload is placed dataOffset
// bytes into the body, past the control block; op should carry DataFlag in
// that case.
func (e *Engine) Send(g Group, op uint8, ctrl, data []byte, dataOffset int) error {
	bodyLen := len(ctrl)
	if len(data) > 0 {
		bodyLen = dataOffset + len(data)
	}
	total := HeaderSize + bodyLen

	if err := e.start(g, op, total); err != nil {
		return err
	}

	addr, err := e.bus.ReadReg(chip.RegRxCtrl4)
	if err != nil {
		return fmt.Errorf("hif: stage address: %w", err)
	}

	var hdr [HeaderSize]byte
	hdr[0] = byte(g)
	hdr[1] = op &^ DataFlag
	binary.LittleEndian.PutUint16(hdr[2:], uint16(total))
	if err := e.bus.WriteBlock(addr, hdr[:]); err != nil {
		return fmt.Errorf("hif: write header: %w", err)
	}

	base := addr + HeaderSize
	if len(ctrl) > 0 {
		if err := e.bus.WriteBlock(base, ctrl); err != nil {
			return fmt.Errorf("hif: write control: %w", err)
		}
	}
	if len(data) > 0 {
		if err := e.bus.WriteBlock(base+uint32(dataOffset), data); err != nil {
			return fmt.Errorf("hif: write payload: %w", err)
		}
	}

	if err := e.bus.WriteReg(chip.RegRxCtrl3, addr<<2|2); err != nil {
		return fmt.Errorf("hif: ring doorbell: %w", err)
	}

	e.logMessage(trace.DirectionOut, g, op, total)
	return nil
}

// start announces a pending send of total bytes (header included) and
// waits for the chip to grant the staging area.
func (e *Engine) start(g Group, op uint8, total int) error {
	word := uint32(uint16(total+HeaderSize))<<16 | uint32(op)<<8 | uint32(g)
	if err := e.bus.WriteReg(chip.RegNMIState, word); err != nil {
		return fmt.Errorf("hif: announce send: %w", err)
	}
	if err := e.bus.WriteReg(chip.RegRxCtrl2, 2); err != nil {
		return fmt.Errorf("hif: kick: %w", err)
	}
	for i := 0; i < kickTries; i++ {
		val, err := e.bus.ReadReg(chip.RegRxCtrl2)
		if err != nil {
			return fmt.Errorf("hif: kick poll: %w", err)
		}
		if val&2 == 0 {
			return nil
		}
		time.Sleep(kickDelay)
	}
	return ErrBusy
}

// Service drains one pending inbound message, if any, and dispatches it.
// It returns nil when no message is pending. The receive slot is released
// even when the handler fails, so the chip can reuse it.
func (e *Engine) Service() error {
	val, err := e.bus.ReadReg(chip.RegRxCtrl0)
	if err != nil {
		return fmt.Errorf("hif: poll: %w", err)
	}
	if val&1 == 0 {
		return nil
	}
	size := (val >> 2) & 0xFFF
	if err := e.bus.WriteReg(chip.RegRxCtrl0, val&^1); err != nil {
		return fmt.Errorf("hif: clear pending: %w", err)
	}
	if size == 0 {
		// Empty announcement. Ack it so the interrupt does not stick.
		return e.done()
	}

	addr, err := e.bus.ReadReg(chip.RegRxCtrl1)
	if err != nil {
		return fmt.Errorf("hif: message address: %w", err)
	}
	if addr == 0 {
		if err := e.done(); err != nil {
			return err
		}
		return fmt.Errorf("hif: zero message address: %w", ErrBadHeader)
	}

	var hdr [4]byte
	if err := e.bus.ReadBlock(addr, hdr[:]); err != nil {
		return fmt.Errorf("hif: read header: %w", err)
	}
	group := Group(hdr[0])
	op := hdr[1]
	mlen := int(binary.LittleEndian.Uint16(hdr[2:]))
	if mlen < HeaderSize {
		if err := e.done(); err != nil {
			return err
		}
		return fmt.Errorf("hif: message length %d: %w", mlen, ErrBadHeader)
	}

	bodyLen := mlen - HeaderSize
	body := make([]byte, min(bodyLen, stagingSize))
	if len(body) > 0 {
		if err := e.bus.ReadBlock(addr+HeaderSize, body); err != nil {
			return fmt.Errorf("hif: read body: %w", err)
		}
	}

	msg := Message{
		Group:   group,
		Op:      op,
		Addr:    addr + HeaderSize,
		Body:    body,
		BodyLen: bodyLen,
	}
	e.logMessage(trace.DirectionIn, group, op, mlen)

	var handlerErr error
	if h, ok := e.handlers[group]; ok {
		handlerErr = h.HandleMessage(msg)
	} else {
		e.logError(fmt.Sprintf("no handler for group %s", group), fmt.Sprintf("op %d", op))
	}

	if err := e.done(); err != nil {
		return err
	}
	return handlerErr
}

// ReadAt copies payload bytes out of chip shared memory. Handlers use it
// for data that sits past the control head of a message.
func (e *Engine) ReadAt(addr uint32, buf []byte) error {
	return e.bus.ReadBlock(addr, buf)
}

// done releases the current receive slot back to the chip.
func (e *Engine) done() error {
	val, err := e.bus.ReadReg(chip.RegRxCtrl0)
	if err != nil {
		return fmt.Errorf("hif: receive done: %w", err)
	}
	if err := e.bus.WriteReg(chip.RegRxCtrl0, val|2); err != nil {
		return fmt.Errorf("hif: receive done: %w", err)
	}
	return nil
}

func (e *Engine) logMessage(dir trace.Direction, g Group, op uint8, length int) {
	e.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: e.session,
		Direction: dir,
		Layer:     trace.LayerHIF,
		Category:  trace.CategoryMessage,
		Message: &trace.MessageEvent{
			Group:  uint8(g),
			Op:     op &^ DataFlag,
			Length: length,
		},
	})
}

func (e *Engine) logError(msg, context string) {
	e.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: e.session,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerHIF,
		Category:  trace.CategoryError,
		Error: &trace.ErrorEventData{
			Layer:   trace.LayerHIF,
			Message: msg,
			Context: context,
		},
	})
}
