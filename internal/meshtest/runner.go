package meshtest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wincmesh/winc-go/pkg/device"
	"github.com/wincmesh/winc-go/pkg/mesh"
	"github.com/wincmesh/winc-go/pkg/sim"
)

// Test-scale timing. Beacons fly often and routes age out fast so a
// scenario converges in milliseconds instead of minutes.
const (
	testBeaconInterval = 20 * time.Millisecond
	testRouteTimeout   = 150 * time.Millisecond
)

// harness couples one simulated chip with its driver and mesh node.
type harness struct {
	spec NodeSpec
	chip *sim.Chip
	dev  *device.Device
	node *mesh.Node
}

// Run stands the scenario's topology up on a simulated medium and
// drives it until every expectation holds or the budget runs out.
func Run(t testing.TB, sc *Scenario) {
	t.Helper()

	air := sim.NewAir()
	apID := mesh.DefaultConfig().APNodeID

	// The access point host comes up first so stations have a carrier
	// network to join.
	ordered := make([]NodeSpec, 0, len(sc.Nodes))
	for _, n := range sc.Nodes {
		if n.ID == apID {
			ordered = append(ordered, n)
		}
	}
	if len(ordered) == 0 {
		t.Fatalf("Scenario %q has no node with the access point id %d", sc.Name, apID)
	}
	for _, n := range sc.Nodes {
		if n.ID != apID {
			ordered = append(ordered, n)
		}
	}

	byID := make(map[uint8]*harness, len(ordered))
	chipID := make(map[*sim.Chip]uint8, len(ordered))
	var all []*harness
	for _, spec := range ordered {
		h := newHarness(t, air, spec)
		byID[spec.ID] = h
		chipID[h.chip] = spec.ID
		all = append(all, h)
	}

	if len(sc.BlockedLinks) > 0 {
		blocked := make(map[[2]uint8]bool, len(sc.BlockedLinks))
		for _, l := range sc.BlockedLinks {
			blocked[linkKey(l.From, l.To)] = true
		}
		air.SetDropFilter(func(from, to *sim.Chip) bool {
			a, aok := chipID[from]
			b, bok := chipID[to]
			return aok && bok && blocked[linkKey(a, b)]
		})
	}

	for _, h := range all {
		if err := h.node.Start(context.Background()); err != nil {
			t.Fatalf("Scenario %q: failed to start node %d: %v", sc.Name, h.spec.ID, err)
		}
	}

	budget := sc.timeout()

	// Collect deliveries before any send so nothing slips past the
	// callback registration.
	deliveries := make(map[uint8][]delivery)
	for _, snd := range sc.Sends {
		dst := snd.To
		if _, registered := deliveries[dst]; registered {
			continue
		}
		deliveries[dst] = nil
		byID[dst].node.SetReceiveCallback(func(src uint8, data []byte) {
			deliveries[dst] = append(deliveries[dst], delivery{src, bytes.Clone(data)})
		})
	}

	// Convergence: every expected route present with the right shape.
	pump(t, sc.Name, budget, func() bool {
		for _, want := range sc.ExpectRoutes {
			r, ok := routeTo(byID[want.Node].node, want.To)
			if !ok {
				return false
			}
			if want.Hops != 0 && r.HopCount != want.Hops {
				return false
			}
			if want.Via != 0 && r.NextHop != want.Via {
				return false
			}
		}
		return true
	}, all)

	for _, want := range sc.ExpectNoRoute {
		n := byID[want.Node].node
		if _, ok := routeTo(n, want.To); ok {
			t.Errorf("Scenario %q: node %d has an unexpected route to %d", sc.Name, want.Node, want.To)
		}
		if err := n.Send(want.To, []byte("probe")); !errors.Is(err, mesh.ErrNoRoute) {
			t.Errorf("Scenario %q: expected ErrNoRoute from %d to %d, got %v", sc.Name, want.Node, want.To, err)
		}
	}

	for _, snd := range sc.Sends {
		payload := []byte(snd.Payload)
		if err := byID[snd.From].node.Send(snd.To, payload); err != nil {
			t.Fatalf("Scenario %q: send %d->%d failed: %v", sc.Name, snd.From, snd.To, err)
		}

		dst := snd.To
		pump(t, sc.Name, budget, func() bool {
			for _, d := range deliveries[dst] {
				if d.src == snd.From && bytes.Equal(d.data, payload) {
					return true
				}
			}
			return false
		}, all)
	}
}

// RunDirectory loads every scenario in dir and runs each as a subtest.
func RunDirectory(t *testing.T, dir string) {
	t.Helper()
	scenarios, err := LoadDirectory(dir)
	if err != nil {
		t.Fatalf("Failed to load scenarios: %v", err)
	}
	if len(scenarios) == 0 {
		t.Fatalf("No scenarios found in %s", dir)
	}
	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			Run(t, sc)
		})
	}
}

type delivery struct {
	src  uint8
	data []byte
}

// newHarness boots a driver on a fresh simulated chip and builds its
// mesh node with test-scale intervals.
func newHarness(t testing.TB, air *sim.Air, spec NodeSpec) *harness {
	t.Helper()

	c := air.NewChip()
	dcfg := device.DefaultConfig()
	dcfg.IRQ = c
	dev, err := device.New(c, dcfg)
	if err != nil {
		t.Fatalf("Failed to create device for node %d: %v", spec.ID, err)
	}
	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start device for node %d: %v", spec.ID, err)
	}

	cfg := mesh.DefaultConfig()
	cfg.NodeID = spec.ID
	cfg.Name = spec.Name
	cfg.BeaconInterval = testBeaconInterval
	cfg.RouteTimeout = testRouteTimeout
	node, err := mesh.New(dev, cfg)
	if err != nil {
		t.Fatalf("Failed to create mesh node %d: %v", spec.ID, err)
	}

	return &harness{spec: spec, chip: c, dev: dev, node: node}
}

// pump polls every node until cond holds or the budget elapses.
func pump(t testing.TB, name string, budget time.Duration, cond func() bool, nodes []*harness) {
	t.Helper()
	deadline := time.Now().Add(budget)
	for {
		for _, h := range nodes {
			if err := h.node.Poll(); err != nil {
				t.Fatalf("Scenario %q: poll of node %d failed: %v", name, h.spec.ID, err)
			}
		}
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Scenario %q: timeout waiting for condition", name)
		}
		time.Sleep(time.Millisecond)
	}
}

func linkKey(a, b uint8) [2]uint8 {
	if a > b {
		a, b = b, a
	}
	return [2]uint8{a, b}
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
