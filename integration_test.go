package winc_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wincmesh/winc-go/pkg/device"
	"github.com/wincmesh/winc-go/pkg/mesh"
	"github.com/wincmesh/winc-go/pkg/sim"
	"github.com/wincmesh/winc-go/pkg/socket"
	"github.com/wincmesh/winc-go/pkg/wifi"
)

// TestE2E_DeviceBringup boots a simulated chip through the full handshake
// and checks the identity the driver reads back.
func TestE2E_DeviceBringup(t *testing.T) {
	air := sim.NewAir()
	chip := air.NewChip()

	cfg := device.DefaultConfig()
	cfg.IRQ = chip
	dev, err := device.New(chip, cfg)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}

	if dev.State() != device.StateIdle {
		t.Errorf("Expected idle state before start, got %s", dev.State())
	}

	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start device: %v", err)
	}

	if dev.State() != device.StateRunning {
		t.Errorf("Expected running state, got %s", dev.State())
	}
	if dev.Session() == "" {
		t.Error("Expected a generated session id")
	}

	info := dev.Info()
	if info.ChipID != 0x1002B1 {
		t.Errorf("Chip id mismatch: expected 0x1002B1, got %#x", info.ChipID)
	}
	if info.Revision != 3 {
		t.Errorf("Revision mismatch: expected 3, got %d", info.Revision)
	}
	if got := info.Firmware.String(); got != "19.6.1" {
		t.Errorf("Firmware mismatch: expected 19.6.1, got %s", got)
	}
	if info.MAC != chip.MAC() {
		t.Errorf("MAC mismatch: expected % x, got % x", chip.MAC(), info.MAC)
	}

	// Second start must be rejected while running.
	if err := dev.Start(context.Background()); !errors.Is(err, device.ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := dev.Stop(); err != nil {
		t.Fatalf("Failed to stop device: %v", err)
	}
	if dev.State() != device.StateStopped {
		t.Errorf("Expected stopped state, got %s", dev.State())
	}
	if err := dev.Poll(); !errors.Is(err, device.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted from poll after stop, got %v", err)
	}

	t.Logf("Bringup successful - chip %#x rev %d firmware %s", info.ChipID, info.Revision, info.Firmware)
}

// TestE2E_NetworkAndSockets brings up an access point and a station and
// exchanges UDP datagrams between them, without the mesh layer.
func TestE2E_NetworkAndSockets(t *testing.T) {
	air := sim.NewAir()
	_, ap := bootDevice(t, air)
	_, sta := bootDevice(t, air)

	// Access point side up first so the station has something to join.
	apCfg := wifi.APConfig{SSID: "WINC-E2E", Password: "secret123", Channel: 6}
	if err := ap.WiFi().StartAP(apCfg); err != nil {
		t.Fatalf("Failed to start AP: %v", err)
	}
	pollDevice(t, ap, ap.WiFi().Ready)
	if !ap.WiFi().APMode() {
		t.Error("Expected AP mode after StartAP")
	}
	if got := ap.WiFi().Lease().Addr.String(); got != "192.168.1.1" {
		t.Errorf("AP address mismatch: expected 192.168.1.1, got %s", got)
	}

	creds := wifi.Credentials{SSID: "WINC-E2E", Passphrase: "secret123"}
	if err := sta.WiFi().Join(creds); err != nil {
		t.Fatalf("Failed to join: %v", err)
	}
	pollDevice(t, sta, sta.WiFi().Ready)

	lease := sta.WiFi().Lease()
	if lease.Addr.String() != "192.168.1.2" {
		t.Errorf("Station address mismatch: expected 192.168.1.2, got %s", lease.Addr)
	}
	if lease.Gateway.String() != "192.168.1.1" {
		t.Errorf("Gateway mismatch: expected 192.168.1.1, got %s", lease.Gateway)
	}

	// UDP endpoint on each side. The AP answers every ping with a pong.
	var apGot, staGot [][]byte

	apSock, err := ap.Sockets().Open(socket.UDP, 7777, func(s uint8, rxlen int) {
		if rxlen <= 0 {
			return
		}
		buf := make([]byte, rxlen)
		if err := ap.Sockets().ReadData(s, buf); err != nil {
			t.Errorf("AP read failed: %v", err)
			return
		}
		apGot = append(apGot, buf)
		if err := ap.Sockets().SendTo(s, socket.Addr{}, []byte("pong")); err != nil {
			t.Errorf("AP reply failed: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Failed to open AP socket: %v", err)
	}
	pollDevice(t, ap, func() bool { return boundState(ap, apSock) })

	staSock, err := sta.Sockets().Open(socket.UDP, 7777, func(s uint8, rxlen int) {
		if rxlen <= 0 {
			return
		}
		buf := make([]byte, rxlen)
		if err := sta.Sockets().ReadData(s, buf); err != nil {
			t.Errorf("Station read failed: %v", err)
			return
		}
		staGot = append(staGot, buf)
	})
	if err != nil {
		t.Fatalf("Failed to open station socket: %v", err)
	}
	pollDevice(t, sta, func() bool { return boundState(sta, staSock) })

	// Empty destination falls back to broadcast on the local port, the
	// only addressing the datagram fabric carries.
	if err := sta.Sockets().SendTo(staSock, socket.Addr{}, []byte("ping")); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	pump(t, 2*time.Second, func() bool {
		return len(apGot) > 0 && len(staGot) > 0
	}, ap, sta)

	if string(apGot[0]) != "ping" {
		t.Errorf("AP received wrong payload: expected %q, got %q", "ping", apGot[0])
	}
	if string(staGot[0]) != "pong" {
		t.Errorf("Station received wrong payload: expected %q, got %q", "pong", staGot[0])
	}

	t.Logf("Socket exchange successful - ping/pong over UDP broadcast")
}

// TestE2E_MeshConvergenceAndDelivery stands up a three node mesh, waits
// for beacons to populate every routing table, and delivers application
// data across it.
func TestE2E_MeshConvergenceAndDelivery(t *testing.T) {
	air := sim.NewAir()
	gateway := startMeshNode(t, air, 1, "gateway")
	sensorA := startMeshNode(t, air, 2, "sensor-a")
	sensorB := startMeshNode(t, air, 3, "sensor-b")
	all := []*meshHarness{gateway, sensorA, sensorB}

	pump(t, 2*time.Second, func() bool {
		for _, m := range all {
			if m.node.RouteCount() != 2 {
				return false
			}
		}
		return true
	}, gateway, sensorA, sensorB)

	// Everyone shares one medium, so every route is direct.
	for _, m := range all {
		m.node.ForEachRoute(func(r mesh.Route) bool {
			if r.NextHop != r.NodeID {
				t.Errorf("Node %d: route to %d via %d, expected direct", m.node.NodeID(), r.NodeID, r.NextHop)
			}
			if r.HopCount != 1 {
				t.Errorf("Node %d: route to %d has %d hops, expected 1", m.node.NodeID(), r.NodeID, r.HopCount)
			}
			return true
		})
	}

	// Relay nodes rebroadcast unicasts they overhear, so the destination
	// may see the same payload more than once. Delivery, source and
	// content are what the layer guarantees.
	type rx struct {
		src  uint8
		data []byte
	}
	var got []rx
	gateway.node.SetReceiveCallback(func(src uint8, data []byte) {
		got = append(got, rx{src, bytes.Clone(data)})
	})

	report := []byte("temp:21.4C")
	if err := sensorA.node.Send(1, report); err != nil {
		t.Fatalf("Failed to send report: %v", err)
	}

	pump(t, 2*time.Second, func() bool { return len(got) > 0 }, gateway, sensorA, sensorB)
	pump(t, 50*time.Millisecond, nil, gateway, sensorA, sensorB)

	for i, r := range got {
		if r.src != 2 {
			t.Errorf("Delivery %d: expected source 2, got %d", i, r.src)
		}
		if !bytes.Equal(r.data, report) {
			t.Errorf("Delivery %d: payload mismatch: expected %q, got %q", i, report, r.data)
		}
	}

	t.Logf("Mesh delivery successful - %d copies received over the shared medium", len(got))
}

// TestE2E_MeshMultiHopRelay shapes the medium so the far node cannot hear
// the gateway directly and verifies that traffic crosses the relay: the
// two-hop route is learned from the relay's neighbor advertisements and
// the relay rebroadcasts data with the hop count bumped.
func TestE2E_MeshMultiHopRelay(t *testing.T) {
	air := sim.NewAir()
	gateway := newMeshHarness(t, air, 1, "gateway")
	relay := newMeshHarness(t, air, 2, "relay")
	far := newMeshHarness(t, air, 3, "far")

	// Datagrams between the gateway and the far node are swallowed;
	// association still works, so the far node keeps its lease.
	air.SetDropFilter(func(from, to *sim.Chip) bool {
		return (from == gateway.chip && to == far.chip) ||
			(from == far.chip && to == gateway.chip)
	})

	for _, m := range []*meshHarness{gateway, relay, far} {
		if err := m.node.Start(context.Background()); err != nil {
			t.Fatalf("Failed to start mesh node %d: %v", m.node.NodeID(), err)
		}
	}

	pump(t, 2*time.Second, func() bool {
		toFar, ok1 := routeTo(gateway.node, 3)
		toGw, ok2 := routeTo(far.node, 1)
		return ok1 && ok2 && toFar.HopCount == 2 && toGw.HopCount == 2
	}, gateway, relay, far)

	toFar, _ := routeTo(gateway.node, 3)
	if toFar.NextHop != 2 {
		t.Errorf("Gateway route to far via %d, expected the relay", toFar.NextHop)
	}
	toGw, _ := routeTo(far.node, 1)
	if toGw.NextHop != 2 {
		t.Errorf("Far route to gateway via %d, expected the relay", toGw.NextHop)
	}

	type rx struct {
		src  uint8
		data []byte
	}
	var got []rx
	gateway.node.SetReceiveCallback(func(src uint8, data []byte) {
		got = append(got, rx{src, bytes.Clone(data)})
	})

	report := []byte("hops:2")
	if err := far.node.Send(1, report); err != nil {
		t.Fatalf("Failed to send across the relay: %v", err)
	}
	pump(t, 2*time.Second, func() bool { return len(got) > 0 }, gateway, relay, far)

	for i, r := range got {
		if r.src != 3 {
			t.Errorf("Delivery %d: expected source 3, got %d", i, r.src)
		}
		if !bytes.Equal(r.data, report) {
			t.Errorf("Delivery %d: payload mismatch: expected %q, got %q", i, report, r.data)
		}
	}

	// And back the other way.
	var farGot []rx
	far.node.SetReceiveCallback(func(src uint8, data []byte) {
		farGot = append(farGot, rx{src, bytes.Clone(data)})
	})
	if err := gateway.node.Send(3, []byte("ack")); err != nil {
		t.Fatalf("Failed to send from gateway: %v", err)
	}
	pump(t, 2*time.Second, func() bool { return len(farGot) > 0 }, gateway, relay, far)

	if farGot[0].src != 1 || string(farGot[0].data) != "ack" {
		t.Errorf("Reply mismatch: got src %d payload %q", farGot[0].src, farGot[0].data)
	}

	t.Logf("Multi-hop relay successful - both directions crossed node 2")
}

// TestE2E_MeshLateJoinerAndExpiry checks that a node appearing after the
// network converged is learned, and that routes to a silenced node age
// out and stop carrying traffic.
func TestE2E_MeshLateJoinerAndExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	air := sim.NewAir()
	gateway := startMeshNode(t, air, 1, "gateway")
	sensorA := startMeshNode(t, air, 2, "sensor-a")

	pump(t, 2*time.Second, func() bool {
		return gateway.node.RouteCount() == 1 && sensorA.node.RouteCount() == 1
	}, gateway, sensorA)

	// A third node joins the running network.
	sensorB := startMeshNode(t, air, 3, "sensor-b")
	pump(t, 2*time.Second, func() bool {
		return gateway.node.RouteCount() == 2 &&
			sensorA.node.RouteCount() == 2 &&
			sensorB.node.RouteCount() == 2
	}, gateway, sensorA, sensorB)

	if !hasRoute(sensorA.node, 3) {
		t.Fatal("Expected sensor-a to have learned the late joiner")
	}

	// Silence the late joiner. Its beacons stop, the others keep
	// polling, and the route ages past the timeout.
	if err := sensorB.node.Stop(); err != nil {
		t.Fatalf("Failed to stop node: %v", err)
	}

	pump(t, 2*time.Second, func() bool {
		return gateway.node.RouteCount() == 1 && sensorA.node.RouteCount() == 1
	}, gateway, sensorA)

	if hasRoute(sensorA.node, 3) {
		t.Error("Expected route to silenced node to expire")
	}
	if err := sensorA.node.Send(3, []byte("late")); !errors.Is(err, mesh.ErrNoRoute) {
		t.Errorf("Expected ErrNoRoute after expiry, got %v", err)
	}

	// The survivors still reach each other.
	var got [][]byte
	gateway.node.SetReceiveCallback(func(src uint8, data []byte) {
		got = append(got, bytes.Clone(data))
	})
	if err := sensorA.node.Send(1, []byte("still here")); err != nil {
		t.Fatalf("Failed to send after expiry: %v", err)
	}
	pump(t, 2*time.Second, func() bool { return len(got) > 0 }, gateway, sensorA)

	if string(got[0]) != "still here" {
		t.Errorf("Payload mismatch: expected %q, got %q", "still here", got[0])
	}

	t.Logf("Expiry test successful - late joiner learned, silenced node aged out")
}

// Helpers

type poller interface{ Poll() error }

// pump polls until cond holds or the budget elapses. A nil cond just
// runs the budget down.
func pump(t *testing.T, budget time.Duration, cond func() bool, nodes ...poller) {
	t.Helper()
	deadline := time.Now().Add(budget)
	for {
		for _, p := range nodes {
			if err := p.Poll(); err != nil {
				t.Fatalf("Poll failed: %v", err)
			}
		}
		if cond != nil && cond() {
			return
		}
		if time.Now().After(deadline) {
			if cond != nil {
				t.Fatal("Timeout waiting for condition")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// bootDevice attaches a driver to a fresh simulated chip and starts it.
func bootDevice(t *testing.T, air *sim.Air) (*sim.Chip, *device.Device) {
	t.Helper()
	c := air.NewChip()
	cfg := device.DefaultConfig()
	cfg.IRQ = c
	dev, err := device.New(c, cfg)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start device: %v", err)
	}
	return c, dev
}

type meshHarness struct {
	chip *sim.Chip
	dev  *device.Device
	node *mesh.Node
}

func (m *meshHarness) Poll() error { return m.node.Poll() }

// newMeshHarness boots a device and builds an unstarted mesh node on it,
// with intervals shrunk to test scale. Node 1 hosts the access point.
func newMeshHarness(t *testing.T, air *sim.Air, id uint8, name string) *meshHarness {
	t.Helper()
	c, dev := bootDevice(t, air)

	cfg := mesh.DefaultConfig()
	cfg.NodeID = id
	cfg.Name = name
	cfg.BeaconInterval = 20 * time.Millisecond
	cfg.RouteTimeout = 150 * time.Millisecond
	node, err := mesh.New(dev, cfg)
	if err != nil {
		t.Fatalf("Failed to create mesh node %d: %v", id, err)
	}
	return &meshHarness{chip: c, dev: dev, node: node}
}

func startMeshNode(t *testing.T, air *sim.Air, id uint8, name string) *meshHarness {
	t.Helper()
	m := newMeshHarness(t, air, id, name)
	if err := m.node.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start mesh node %d: %v", id, err)
	}
	return m
}

func pollDevice(t *testing.T, d *device.Device, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := d.Poll(); err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Timeout waiting for condition")
}

func boundState(d *device.Device, sock uint8) bool {
	st, err := d.Sockets().State(sock)
	return err == nil && st == socket.StateBound
}

func routeTo(n *mesh.Node, id uint8) (mesh.Route, bool) {
	var route mesh.Route
	found := false
	n.ForEachRoute(func(r mesh.Route) bool {
		if r.NodeID == id {
			route, found = r, true
			return false
		}
		return true
	})
	return route, found
}

func hasRoute(n *mesh.Node, id uint8) bool {
	_, ok := routeTo(n, id)
	return ok
}
