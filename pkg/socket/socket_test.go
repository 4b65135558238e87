package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wincmesh/winc-go/pkg/hif"
	"github.com/wincmesh/winc-go/pkg/trace"
)

type sentCmd struct {
	group  hif.Group
	op     uint8
	ctrl   []byte
	data   []byte
	offset int
}

type fakeHIF struct {
	sent    []sentCmd
	sendErr error
	mem     map[uint32][]byte
}

func (f *fakeHIF) Send(g hif.Group, op uint8, ctrl, data []byte, dataOffset int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCmd{
		group:  g,
		op:     op,
		ctrl:   append([]byte(nil), ctrl...),
		data:   append([]byte(nil), data...),
		offset: dataOffset,
	})
	return nil
}

func (f *fakeHIF) ReadAt(addr uint32, buf []byte) error {
	src, ok := f.mem[addr]
	if !ok || len(src) < len(buf) {
		return fmt.Errorf("no chip memory at %#x", addr)
	}
	copy(buf, src)
	return nil
}

func (f *fakeHIF) lastOp() uint8 {
	if len(f.sent) == 0 {
		return 0
	}
	return f.sent[len(f.sent)-1].op
}

type capturingLogger struct {
	events []trace.Event
}

func (c *capturingLogger) Log(ev trace.Event) { c.events = append(c.events, ev) }

func bindAck(sock, status uint8, session uint16) []byte {
	b := make([]byte, 4)
	b[0] = sock
	b[1] = status
	binary.LittleEndian.PutUint16(b[2:], session)
	return b
}

func recvNote(sock uint8, peer Addr, dlen int16, oset, session uint16) []byte {
	b := make([]byte, 16)
	putAddr(b[0:8], peer)
	binary.LittleEndian.PutUint16(b[8:], uint16(dlen))
	binary.LittleEndian.PutUint16(b[10:], oset)
	b[12] = sock
	binary.LittleEndian.PutUint16(b[14:], session)
	return b
}

func acceptNote(peer Addr, listen, conn uint8, oset uint16) []byte {
	b := make([]byte, 12)
	putAddr(b[0:8], peer)
	b[8] = listen
	b[9] = conn
	binary.LittleEndian.PutUint16(b[10:], oset)
	return b
}

func ipMessage(op uint8, addr uint32, body []byte) hif.Message {
	return hif.Message{
		Group:   hif.GroupIP,
		Op:      op,
		Addr:    addr,
		Body:    body,
		BodyLen: len(body),
	}
}

// bound returns a ready engine with one bound UDP socket on port. The
// bind and the first recvfrom are consumed from f.sent.
func bound(t *testing.T, f *fakeHIF, port uint16, h DataHandler) (*Engine, uint8) {
	t.Helper()
	e := New(f)
	e.OnLinkReady(true)
	sock, err := e.Open(UDP, port, h)
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 0, 1))))
	st, err := e.State(sock)
	require.NoError(t, err)
	require.Equal(t, StateBound, st)
	f.sent = nil
	return e, sock
}

func TestOpenAllocatesByKind(t *testing.T) {
	e := New(&fakeHIF{})

	tcp, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), tcp)

	udp, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), udp)

	st, err := e.State(tcp)
	require.NoError(t, err)
	assert.Equal(t, StateBinding, st)
}

func TestOpenExhaustsPool(t *testing.T) {
	e := New(&fakeHIF{})

	for i := 0; i < 7; i++ {
		_, err := e.Open(TCP, uint16(8000+i), nil)
		require.NoError(t, err)
	}
	_, err := e.Open(TCP, 9000, nil)
	assert.ErrorIs(t, err, ErrTooManySockets)

	for i := 0; i < 3; i++ {
		_, err := e.Open(UDP, uint16(7000+i), nil)
		require.NoError(t, err)
	}
	_, err = e.Open(UDP, 7100, nil)
	assert.ErrorIs(t, err, ErrTooManySockets)
}

func TestOpenDefersBindUntilLinkReady(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)

	sock, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	assert.Empty(t, f.sent, "no bind before the link is up")

	e.OnLinkReady(true)
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpBind), f.sent[0].op)
	assert.Equal(t, encodeBind(1025, sock, 1), f.sent[0].ctrl)

	// Link events without an edge must not repeat the bind.
	e.OnLinkReady(true)
	assert.Len(t, f.sent, 1)

	e.OnLinkReady(false)
	e.OnLinkReady(true)
	assert.Len(t, f.sent, 2, "a fresh rising edge retries sockets still binding")
}

func TestOpenBindsImmediatelyWhenReady(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	sock, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	assert.Equal(t, hif.GroupIP, f.sent[0].group)
	assert.Equal(t, encodeBind(80, sock, 1), f.sent[0].ctrl)
}

func TestOpenRollsBackWhenBindSendFails(t *testing.T) {
	f := &fakeHIF{sendErr: errors.New("bus wedged")}
	e := New(f)
	e.OnLinkReady(true)

	_, err := e.Open(TCP, 80, nil)
	require.Error(t, err)

	f.sendErr = nil
	sock, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), sock, "failed open releases its slot")
}

func TestBindAckArmsUDPReceive(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	sock, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	f.sent = nil

	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 0, 1))))

	st, err := e.State(sock)
	require.NoError(t, err)
	assert.Equal(t, StateBound, st)
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpRecvFrom), f.sent[0].op)
	assert.Equal(t, encodeRecv(sock, 1), f.sent[0].ctrl)
}

func TestBindAckStartsTCPListen(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	sock, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	f.sent = nil

	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 0, 1))))

	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpListen), f.sent[0].op)
	assert.Equal(t, encodeListen(sock, 1), f.sent[0].ctrl)
}

func TestBindAckStaleSessionIgnored(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	sock, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	f.sent = nil

	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 0, 99))))

	st, err := e.State(sock)
	require.NoError(t, err)
	assert.Equal(t, StateBinding, st, "mismatched session must not advance the socket")
	assert.Empty(t, f.sent)
}

func TestBindRejectedFreesSlot(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	sock, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)

	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 2, 1))))

	st, err := e.State(sock)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)

	again, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	assert.Equal(t, sock, again, "rejected slot is reusable")
}

func TestRecvFromDeliversAndRearms(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x42}
	f := &fakeHIF{mem: map[uint32][]byte{0x20000 + 32: payload}}

	var gotSock uint8
	var gotLen int
	var gotData []byte
	var e *Engine
	e, sock := bound(t, f, 1025, func(s uint8, n int) {
		gotSock, gotLen = s, n
		buf := make([]byte, n)
		require.NoError(t, e.ReadData(s, buf))
		gotData = buf
	})

	peer := Addr{IP: netip.AddrFrom4([4]byte{192, 168, 1, 7}), Port: 1025}
	note := recvNote(sock, peer, int16(len(payload)), 32, 1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecvFrom, 0x20000, note)))

	assert.Equal(t, sock, gotSock)
	assert.Equal(t, len(payload), gotLen)
	assert.Equal(t, payload, gotData)

	// The datagram socket re-arms after every delivery.
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpRecvFrom), f.sent[0].op)

	// Outside the handler the payload reference is gone.
	err := e.ReadData(sock, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRecvErrorClosesDatagramSocket(t *testing.T) {
	f := &fakeHIF{}
	var gotLen int
	e, sock := bound(t, f, 1025, func(s uint8, n int) { gotLen = n })

	note := recvNote(sock, Addr{}, int16(SockErrTimeout), 0, 1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecvFrom, 0x20000, note)))

	// The handler sees the code, then the slot returns to the pool.
	assert.Equal(t, int(SockErrTimeout), gotLen)
	st, err := e.State(sock)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)
	assert.Empty(t, f.sent, "no re-arm after an error")

	// The freed slot can be opened again.
	reopened, err := e.Open(UDP, 2000, nil)
	require.NoError(t, err)
	assert.Equal(t, sock, reopened)
}

func TestRecvStaleSessionIgnored(t *testing.T) {
	f := &fakeHIF{}
	called := false
	e, sock := bound(t, f, 1025, func(uint8, int) { called = true })

	note := recvNote(sock, Addr{}, 4, 16, 99)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecvFrom, 0x20000, note)))

	assert.False(t, called)
	assert.Empty(t, f.sent)
}

func TestAcceptClonesListener(t *testing.T) {
	payload := []byte("hello")
	f := &fakeHIF{mem: map[uint32][]byte{0x21000 + 16: payload}}
	e := New(f)
	e.OnLinkReady(true)

	var gotSock uint8
	var gotLen int
	listen, err := e.Open(TCP, 80, func(s uint8, n int) { gotSock, gotLen = s, n })
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(listen, 0, 1))))
	f.sent = nil

	peer := Addr{IP: netip.AddrFrom4([4]byte{192, 168, 1, 9}), Port: 40001}
	conn := uint8(1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpAccept, 0x21000, acceptNote(peer, listen, conn, 0))))

	st, err := e.State(conn)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, st)
	st, err = e.State(listen)
	require.NoError(t, err)
	assert.Equal(t, StateBound, st, "listener keeps accepting")

	// The connection is armed with its own session.
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpRecv), f.sent[0].op)
	assert.Equal(t, encodeRecv(conn, 2), f.sent[0].ctrl)
	f.sent = nil

	// Data on the connection reaches the listener's handler.
	note := recvNote(conn, peer, int16(len(payload)), 16, 2)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecv, 0x21000, note)))
	assert.Equal(t, conn, gotSock)
	assert.Equal(t, len(payload), gotLen)
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpRecv), f.sent[0].op)
}

func TestRecvErrorClosesStreamSocket(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	var gotLen int
	listen, err := e.Open(TCP, 80, func(s uint8, n int) { gotLen = n })
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(listen, 0, 1))))

	conn := uint8(1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpAccept, 0x21000, acceptNote(Addr{}, listen, conn, 0))))
	f.sent = nil

	note := recvNote(conn, Addr{}, int16(SockErrClosed), 0, 2)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecv, 0x21000, note)))

	assert.Equal(t, int(SockErrClosed), gotLen)
	assert.Empty(t, f.sent, "stream receive does not re-arm after errors")

	// The dead connection leaves the pool; the listener keeps going.
	st, err := e.State(conn)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st)
	st, err = e.State(listen)
	require.NoError(t, err)
	assert.Equal(t, StateBound, st)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := &fakeHIF{}
	e, sock := bound(t, f, 1025, nil)

	require.NoError(t, e.Close(sock))
	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpClose), f.sent[0].op)
	assert.Equal(t, encodeClose(sock, 1), f.sent[0].ctrl)

	require.NoError(t, e.Close(sock))
	assert.Len(t, f.sent, 1, "second close sends nothing")

	// A reopened slot gets a fresh session.
	again, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	assert.Equal(t, sock, again)
	require.Len(t, f.sent, 2)
	assert.Equal(t, encodeBind(1025, sock, 2), f.sent[1].ctrl)
}

func TestCloseInsideHandlerStopsRearm(t *testing.T) {
	f := &fakeHIF{}
	var e *Engine
	var sock uint8
	e, sock = bound(t, f, 1025, func(s uint8, n int) {
		require.NoError(t, e.Close(s))
	})

	note := recvNote(sock, Addr{}, 4, 16, 1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpRecvFrom, 0x20000, note)))

	require.Len(t, f.sent, 1)
	assert.Equal(t, uint8(hif.OpClose), f.sent[0].op, "only the close goes out, no re-arm")
}

func TestSendToSubstitutesDefaults(t *testing.T) {
	f := &fakeHIF{}
	e, sock := bound(t, f, 1025, nil)

	require.NoError(t, e.SendTo(sock, Addr{}, []byte{1, 2, 3}))

	require.Len(t, f.sent, 1)
	cmd := f.sent[0]
	assert.Equal(t, uint8(hif.OpSendTo|hif.DataFlag), cmd.op)
	assert.Equal(t, udpDataOffset, cmd.offset)
	assert.Equal(t, []byte{1, 2, 3}, cmd.data)

	dest := parseAddr(cmd.ctrl[4:12])
	assert.Equal(t, Broadcast, dest.IP, "zero address becomes broadcast")
	assert.Equal(t, uint16(1025), dest.Port, "zero port becomes the local port")
}

func TestSendToExplicitDestination(t *testing.T) {
	f := &fakeHIF{}
	e, sock := bound(t, f, 1025, nil)

	dest := Addr{IP: netip.AddrFrom4([4]byte{192, 168, 1, 8}), Port: 2000}
	require.NoError(t, e.SendTo(sock, dest, []byte{9}))

	require.Len(t, f.sent, 1)
	assert.Equal(t, dest, parseAddr(f.sent[0].ctrl[4:12]))
}

func TestSendToRequiresBoundUDP(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	tcp, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(tcp, 0, 1))))

	err = e.SendTo(tcp, Addr{}, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidState)

	udp, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	err = e.SendTo(udp, Addr{}, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidState, "still binding")
}

func TestSendRequiresConnected(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)
	e.OnLinkReady(true)

	listen, err := e.Open(TCP, 80, nil)
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(listen, 0, 1))))

	err = e.Send(listen, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidState)

	peer := Addr{IP: netip.AddrFrom4([4]byte{10, 0, 0, 2}), Port: 5555}
	conn := uint8(1)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpAccept, 0x21000, acceptNote(peer, listen, conn, 0))))
	f.sent = nil

	require.NoError(t, e.Send(conn, []byte{7, 8}))
	require.Len(t, f.sent, 1)
	cmd := f.sent[0]
	assert.Equal(t, uint8(hif.OpSend|hif.DataFlag), cmd.op)
	assert.Equal(t, tcpDataOffset, cmd.offset)
	assert.Equal(t, peer, parseAddr(cmd.ctrl[4:12]), "stream sends go to the accepted peer")
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	e, sock := bound(t, &fakeHIF{}, 1025, nil)
	err := e.SendTo(sock, Addr{}, make([]byte, 0x10000))
	assert.ErrorIs(t, err, ErrDataTooLong)
}

func TestInvalidSocketIndexes(t *testing.T) {
	e := New(&fakeHIF{})

	_, err := e.State(MaxSockets)
	assert.ErrorIs(t, err, ErrInvalidSocket)
	assert.ErrorIs(t, e.Close(MaxSockets), ErrInvalidSocket)
	assert.ErrorIs(t, e.Send(MaxSockets, nil), ErrInvalidSocket)
	assert.ErrorIs(t, e.ReadData(MaxSockets, nil), ErrInvalidSocket)

	err = e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(MaxSockets, 0, 1)))
	assert.ErrorIs(t, err, ErrInvalidSocket)
}

func TestShortNotificationBodies(t *testing.T) {
	e := New(&fakeHIF{})

	for _, op := range []uint8{hif.OpBind, hif.OpAccept, hif.OpRecv, hif.OpRecvFrom} {
		err := e.HandleMessage(ipMessage(op, 0, []byte{0}))
		assert.ErrorIs(t, err, ErrShortMessage, "op %d", op)
	}
}

func TestPlainAcksAreIgnored(t *testing.T) {
	f := &fakeHIF{}
	e := New(f)

	for _, op := range []uint8{hif.OpListen, hif.OpSend, hif.OpSendTo, hif.OpClose} {
		require.NoError(t, e.HandleMessage(ipMessage(op, 0, nil)))
	}
	assert.Empty(t, f.sent)
}

func TestStateChangesAreTraced(t *testing.T) {
	f := &fakeHIF{}
	log := &capturingLogger{}
	e := New(f)
	e.SetLogger(log, "test-session")
	e.OnLinkReady(true)

	sock, err := e.Open(UDP, 1025, nil)
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ipMessage(hif.OpBind, 0, bindAck(sock, 0, 1))))
	require.NoError(t, e.Close(sock))

	var transitions []string
	for _, ev := range log.events {
		if ev.Category != trace.CategoryState {
			continue
		}
		require.NotNil(t, ev.StateChange)
		assert.Equal(t, trace.StateEntitySocket, ev.StateChange.Entity)
		assert.Equal(t, "test-session", ev.SessionID)
		transitions = append(transitions, ev.StateChange.NewState)
	}
	assert.Equal(t, []string{"7/Binding", "7/Bound", "7/Closed"}, transitions)
}
