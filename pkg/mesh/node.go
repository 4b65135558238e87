// Package mesh implements node discovery and multi-hop routing on top of
// the driver's UDP sockets. Every node broadcasts a periodic beacon
// carrying its identity and direct neighbors; received beacons are folded
// into a fixed-size distance-vector table, and data packets are relayed
// hop by hop until they reach their destination or run out of hop budget.
//
// The layer is poll driven like the rest of the stack. Poll services the
// transport, emits due beacons and expires stale routes, all on the
// caller's goroutine; the receive callback runs inside Poll and must not
// block. There is no route discovery handshake: a destination without an
// established route is simply unreachable until its beacons arrive.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wincmesh/winc-go/pkg/socket"
	"github.com/wincmesh/winc-go/pkg/trace"
	"github.com/wincmesh/winc-go/pkg/wifi"
)

var (
	// ErrInvalidConfig is returned for out-of-range configuration.
	ErrInvalidConfig = errors.New("mesh: invalid configuration")

	// ErrAlreadyStarted is returned by Start on a started node.
	ErrAlreadyStarted = errors.New("mesh: node already started")

	// ErrNotStarted is returned for operations needing a started node.
	ErrNotStarted = errors.New("mesh: node not started")

	// ErrNoRoute is returned by Send when no active route covers the
	// destination.
	ErrNoRoute = errors.New("mesh: no route to destination")

	// ErrLinkTimeout is returned when the carrier network is not ready
	// within the configured budget.
	ErrLinkTimeout = errors.New("mesh: link not ready in time")

	// ErrBindTimeout is returned when the mesh socket bind is not
	// acknowledged within the configured budget.
	ErrBindTimeout = errors.New("mesh: socket bind not acknowledged in time")
)

// pollTick is the pause between transport polls in bounded waits.
const pollTick = 10 * time.Millisecond

// Transport is the slice of the device stack the mesh layer drives.
// Satisfied by *device.Device.
type Transport interface {
	// Poll services pending chip work, dispatching socket handlers.
	Poll() error
	// WiFi exposes the link manager used for role bring-up.
	WiFi() *wifi.Manager
	// Sockets exposes the pool the mesh port is opened on.
	Sockets() *socket.Engine
	// Session identifies the device session for tracing.
	Session() string
}

// ReceiveFunc handles a data payload addressed to this node or to the
// broadcast sentinel. src is the originating node id. The callback runs
// on the poll goroutine; the payload slice is the callback's to keep.
type ReceiveFunc func(src uint8, data []byte)

// Config carries the mesh node parameters. NodeID and Name identify the
// node; the network fields must match on every node of one mesh.
type Config struct {
	// NodeID is this node's mesh address. Required; must not be the
	// broadcast sentinel and must be unique within the mesh.
	NodeID uint8

	// Name is the node name carried in beacons, at most 15 bytes.
	Name string

	// SSID and Passphrase select the carrier network. The node whose id
	// equals APNodeID serves it, every other node joins it.
	SSID       string
	Passphrase string

	// Channel used when serving the carrier network.
	Channel uint8

	// APNodeID designates the node that brings up the access point.
	APNodeID uint8

	// Port is the well-known mesh UDP port.
	Port uint16

	// BeaconInterval is the period between discovery broadcasts.
	BeaconInterval time.Duration

	// RouteTimeout marks routes inactive when no beacon has refreshed
	// them within it.
	RouteTimeout time.Duration

	// MaxHops drops data packets that have been relayed this many times.
	MaxHops uint8

	// LinkTimeout bounds the wait for association and address lease
	// during Start.
	LinkTimeout time.Duration

	// BindTimeout bounds the wait for the mesh socket bind during Start.
	BindTimeout time.Duration

	// Logger receives debug logs. Nil disables logging.
	Logger *slog.Logger

	// Trace receives mesh protocol events.
	Trace trace.Logger
}

// DefaultConfig returns the network parameters every node of the stock
// mesh uses. NodeID and Name still have to be set.
func DefaultConfig() Config {
	return Config{
		SSID:           "CAPSULE-MESH",
		Passphrase:     "capsule123",
		Channel:        1,
		APNodeID:       1,
		Port:           1025,
		BeaconInterval: 5 * time.Second,
		RouteTimeout:   30 * time.Second,
		MaxHops:        4,
		LinkTimeout:    15 * time.Second,
		BindTimeout:    5 * time.Second,
	}
}

// Validate checks the configuration for a usable node.
func (c *Config) Validate() error {
	if c.NodeID == 0 || c.NodeID == Broadcast {
		return fmt.Errorf("%w: node id %d", ErrInvalidConfig, c.NodeID)
	}
	if len(c.Name) >= nameSize {
		return fmt.Errorf("%w: name %q too long", ErrInvalidConfig, c.Name)
	}
	if c.SSID == "" {
		return fmt.Errorf("%w: missing SSID", ErrInvalidConfig)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: missing port", ErrInvalidConfig)
	}
	if c.BeaconInterval <= 0 || c.RouteTimeout <= 0 {
		return fmt.Errorf("%w: non-positive interval", ErrInvalidConfig)
	}
	if c.MaxHops == 0 {
		return fmt.Errorf("%w: zero hop limit", ErrInvalidConfig)
	}
	if c.LinkTimeout <= 0 || c.BindTimeout <= 0 {
		return fmt.Errorf("%w: non-positive timeout", ErrInvalidConfig)
	}
	return nil
}

// Node is one mesh participant bound to a device.
type Node struct {
	transport Transport
	config    Config
	logger    *slog.Logger
	tracer    trace.Logger
	session   string

	mu         sync.Mutex
	starting   bool
	started    bool
	sock       uint8
	seq        uint16
	lastBeacon time.Time
	table      routeTable
	receive    ReceiveFunc
}

// New builds a node on t. Nothing is transmitted until Start.
func New(t Transport, config Config) (*Node, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tl := config.Trace
	if tl == nil {
		tl = trace.NoopLogger{}
	}
	return &Node{
		transport: t,
		config:    config,
		logger:    config.Logger,
		tracer:    tl,
		session:   t.Session(),
	}, nil
}

// NodeID returns the node's mesh address.
func (n *Node) NodeID() uint8 { return n.config.NodeID }

// Name returns the node name carried in beacons.
func (n *Node) Name() string { return n.config.Name }

// SetReceiveCallback registers fn for data packets addressed to this
// node or broadcast. Passing nil drops incoming data silently.
func (n *Node) SetReceiveCallback(fn ReceiveFunc) {
	n.mu.Lock()
	n.receive = fn
	n.mu.Unlock()
}

// Start brings the node onto the carrier network and opens the mesh
// socket. The node whose id equals APNodeID serves the network; all
// others join it. Start polls the transport while it waits, so the
// device must already be running. Exceeding a wait budget is a hard
// failure: the node is left stopped and nothing is retried.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started || n.starting {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.starting = true
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.starting = false
		n.mu.Unlock()
	}()

	link := n.transport.WiFi()
	if n.config.NodeID == n.config.APNodeID {
		n.debugLog("starting as access point", "ssid", n.config.SSID, "channel", n.config.Channel)
		err := link.StartAP(wifi.APConfig{
			SSID:     n.config.SSID,
			Password: n.config.Passphrase,
			Channel:  n.config.Channel,
		})
		if err != nil {
			return fmt.Errorf("mesh: access point start: %w", err)
		}
	} else {
		n.debugLog("joining as station", "ssid", n.config.SSID)
		err := link.Join(wifi.Credentials{
			SSID:       n.config.SSID,
			Passphrase: n.config.Passphrase,
		})
		if err != nil {
			return fmt.Errorf("mesh: join: %w", err)
		}
	}

	if err := n.waitFor(ctx, n.config.LinkTimeout, ErrLinkTimeout, link.Ready); err != nil {
		return err
	}
	n.debugLog("carrier link ready", "lease", link.Lease().Addr)

	sockets := n.transport.Sockets()
	sock, err := sockets.Open(socket.UDP, n.config.Port, n.handlePacket)
	if err != nil {
		return fmt.Errorf("mesh: socket open: %w", err)
	}
	bound := func() bool {
		st, err := sockets.State(sock)
		return err == nil && st == socket.StateBound
	}
	if err := n.waitFor(ctx, n.config.BindTimeout, ErrBindTimeout, bound); err != nil {
		if cerr := sockets.Close(sock); cerr != nil {
			n.debugLog("close failed", "socket", sock, "error", cerr)
		}
		return err
	}

	n.mu.Lock()
	n.started = true
	n.sock = sock
	n.lastBeacon = time.Now()
	n.mu.Unlock()

	n.debugLog("mesh node up", "node", n.config.NodeID, "name", n.config.Name, "socket", sock)
	return nil
}

// Stop closes the mesh socket. The carrier link stays up; stopping the
// device tears that down.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.started = false
	sock := n.sock
	n.mu.Unlock()
	return n.transport.Sockets().Close(sock)
}

// Poll services the transport and runs the mesh timers: a beacon goes
// out when the interval has elapsed, and routes unseen for longer than
// the route timeout become inactive. Call it at least a few times per
// beacon interval; routing failures never abort the poll, only a
// transport error is reported back.
func (n *Node) Poll() error {
	err := n.transport.Poll()

	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return err
	}
	now := time.Now()
	due := now.Sub(n.lastBeacon) > n.config.BeaconInterval
	if due {
		n.lastBeacon = now
	}
	expired := n.table.sweep(now, n.config.RouteTimeout)
	n.mu.Unlock()

	for _, id := range expired {
		n.debugLog("route expired", "node", id)
		n.logRoute(id, "active", "inactive", "route timeout")
	}
	if due {
		if berr := n.sendBeacon(); berr != nil {
			n.debugLog("beacon send failed", "error", berr)
		}
	}
	return err
}

// Send routes data to dst. There is no route discovery: without an
// active route the call fails immediately and nothing is transmitted.
func (n *Node) Send(dst uint8, data []byte) error {
	if len(data) > maxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(data))
	}

	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	sock := n.sock
	nextHop, ok := n.table.lookup(dst)
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrNoRoute, dst)
	}
	seq := n.seq
	n.seq++
	n.mu.Unlock()

	h := header{
		Type:       typeData,
		Src:        n.config.NodeID,
		Dst:        dst,
		Seq:        seq,
		PayloadLen: uint16(len(data)),
	}
	n.logMessage(trace.DirectionOut, h)
	if err := n.transport.Sockets().SendTo(sock, socket.Addr{}, append(encodeHeader(h), data...)); err != nil {
		return fmt.Errorf("mesh: send to node %d: %w", dst, err)
	}
	n.debugLog("data sent", "dst", dst, "via", nextHop, "len", len(data), "seq", seq)
	return nil
}

// RouteCount returns the number of active routes.
func (n *Node) RouteCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.count()
}

// Routes returns a snapshot of the active routing table. Ages are
// measured at call time.
func (n *Node) Routes() []Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.snapshot(time.Now())
}

// ForEachRoute calls fn for every active route until fn returns false.
func (n *Node) ForEachRoute(fn func(Route) bool) {
	for _, r := range n.Routes() {
		if !fn(r) {
			return
		}
	}
}

// sendBeacon broadcasts this node's identity and direct neighbors. Best
// effort, no delivery confirmation.
func (n *Node) sendBeacon() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	sock := n.sock
	seq := n.seq
	n.seq++
	ids := n.table.neighbors()
	n.mu.Unlock()

	payload := encodeBeaconPayload(beacon{
		NodeID:    n.config.NodeID,
		Name:      n.config.Name,
		Neighbors: ids,
	})
	h := header{
		Type:       typeBeacon,
		Src:        n.config.NodeID,
		Dst:        Broadcast,
		Seq:        seq,
		PayloadLen: uint16(len(payload)),
	}
	n.logMessage(trace.DirectionOut, h)
	if err := n.transport.Sockets().SendTo(sock, socket.Addr{}, append(encodeHeader(h), payload...)); err != nil {
		return fmt.Errorf("mesh: beacon send: %w", err)
	}
	n.debugLog("beacon sent", "neighbors", len(ids), "seq", seq)
	return nil
}

// handlePacket is the mesh socket's data handler, called by the socket
// layer inside Poll with the datagram length, or a non-positive code
// when nothing usable arrived.
func (n *Node) handlePacket(sock uint8, rxlen int) {
	if rxlen <= 0 {
		if rxlen < 0 {
			n.debugLog("mesh socket error", "code", rxlen)
		}
		return
	}
	buf := make([]byte, rxlen)
	if err := n.transport.Sockets().ReadData(sock, buf); err != nil {
		n.logError("datagram fetch failed", err.Error())
		return
	}
	n.processPacket(buf)
}

// processPacket validates one datagram and dispatches it by type.
// Malformed input is dropped before any table or pool access.
func (n *Node) processPacket(buf []byte) {
	h, err := parseHeader(buf)
	if err != nil {
		n.logError("malformed packet", err.Error())
		return
	}
	body := buf[headerSize:]
	if int(h.PayloadLen) > len(body) {
		n.logError("malformed packet",
			fmt.Sprintf("declares %d payload bytes, carries %d", h.PayloadLen, len(body)))
		return
	}
	body = body[:h.PayloadLen]

	n.logMessage(trace.DirectionIn, h)

	switch h.Type {
	case typeBeacon:
		n.handleBeacon(body)
	case typeData:
		n.handleData(h, body)
	default:
		n.debugLog("unknown packet type", "type", h.Type, "src", h.Src)
	}
}

// handleBeacon folds a neighbor advertisement into the routing table:
// a direct route to the sender, and a two-hop route through the sender
// for every advertised neighbor other than this node.
func (n *Node) handleBeacon(body []byte) {
	b, err := parseBeaconPayload(body)
	if err != nil {
		n.logError("malformed beacon", err.Error())
		return
	}

	now := time.Now()
	var added []uint8
	n.mu.Lock()
	if n.table.update(b.NodeID, b.NodeID, 1, now) == routeAdded {
		added = append(added, b.NodeID)
	}
	for _, id := range b.Neighbors {
		if id == n.config.NodeID {
			continue
		}
		if n.table.update(id, b.NodeID, 2, now) == routeAdded {
			added = append(added, id)
		}
	}
	n.mu.Unlock()

	for _, id := range added {
		n.debugLog("new route", "node", id, "via", b.NodeID)
		n.logRoute(id, "", "active", "beacon")
	}
	n.debugLog("beacon received", "node", b.NodeID, "name", b.Name, "neighbors", len(b.Neighbors))
}

// handleData delivers a payload addressed to this node or broadcast, and
// relays everything else while hop budget remains.
func (n *Node) handleData(h header, body []byte) {
	if h.Dst == n.config.NodeID || h.Dst == Broadcast {
		n.mu.Lock()
		fn := n.receive
		n.mu.Unlock()
		if fn != nil {
			fn(h.Src, body)
		}
		return
	}
	n.forward(h, body)
}

// forward relays a data packet one hop. Packets at the hop limit or
// without an active route to their destination are dropped silently.
func (n *Node) forward(h header, body []byte) {
	if h.HopCount >= n.config.MaxHops {
		n.debugLog("hop limit reached, dropping", "dst", h.Dst, "src", h.Src)
		return
	}

	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	sock := n.sock
	nextHop, ok := n.table.lookup(h.Dst)
	n.mu.Unlock()

	if !ok {
		n.debugLog("no route, dropping", "dst", h.Dst, "src", h.Src)
		return
	}

	h.HopCount++
	n.logMessage(trace.DirectionOut, h)
	if err := n.transport.Sockets().SendTo(sock, socket.Addr{}, append(encodeHeader(h), body...)); err != nil {
		n.debugLog("forward failed", "dst", h.Dst, "via", nextHop, "error", err)
		return
	}
	n.debugLog("forwarded", "dst", h.Dst, "via", nextHop, "hops", h.HopCount)
}

// waitFor polls the transport until cond holds. Budget exhaustion fails
// with failure; a transport error or context cancellation fails with
// that error.
func (n *Node) waitFor(ctx context.Context, budget time.Duration, failure error, cond func() bool) error {
	deadline := time.Now().Add(budget)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.transport.Poll(); err != nil {
			return err
		}
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return failure
		}
		time.Sleep(pollTick)
	}
}

func (n *Node) debugLog(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}

func (n *Node) logMessage(dir trace.Direction, h header) {
	src, dst, hop, seq := h.Src, h.Dst, h.HopCount, h.Seq
	n.tracer.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: n.session,
		NodeID:    n.config.NodeID,
		Direction: dir,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryMessage,
		Message: &trace.MessageEvent{
			Length:   int(h.PayloadLen),
			Src:      &src,
			Dst:      &dst,
			HopCount: &hop,
			Sequence: &seq,
		},
	})
}

func (n *Node) logRoute(node uint8, old, new, reason string) {
	if old != "" {
		old = fmt.Sprintf("%d/%s", node, old)
	}
	n.tracer.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: n.session,
		NodeID:    n.config.NodeID,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryState,
		StateChange: &trace.StateChangeEvent{
			Entity:   trace.StateEntityRoute,
			OldState: old,
			NewState: fmt.Sprintf("%d/%s", node, new),
			Reason:   reason,
		},
	})
}

func (n *Node) logError(msg, detail string) {
	n.tracer.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: n.session,
		NodeID:    n.config.NodeID,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryError,
		Error: &trace.ErrorEventData{
			Layer:   trace.LayerMesh,
			Message: msg,
			Context: detail,
		},
	})
}
