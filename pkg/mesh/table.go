package mesh

import "time"

// MaxRoutes is the routing table capacity. One mesh can hold at most this
// many reachable destinations per node.
const MaxRoutes = 8

// Route is one routing table entry as reported to callers.
type Route struct {
	// NodeID is the destination.
	NodeID uint8

	// NextHop is the neighbor packets for NodeID are relayed through.
	// Equal to NodeID for direct neighbors.
	NextHop uint8

	// HopCount is the advertised path length. 1 for direct neighbors.
	HopCount uint8

	// Age is the time since the route was last refreshed by a beacon.
	Age time.Duration
}

// routeChange reports what a route advertisement did to the table.
type routeChange uint8

const (
	// routeIgnored means the advertisement was worse than the stored
	// path, or the table had no slot for a new destination.
	routeIgnored routeChange = iota
	// routeRefreshed means an existing entry was refreshed, possibly
	// moving its next hop.
	routeRefreshed
	// routeAdded means a new destination entered the table.
	routeAdded
)

// routeEntry is the stored form of a route. Inactive entries keep their
// contents but are invisible to lookups until overwritten.
type routeEntry struct {
	nodeID   uint8
	nextHop  uint8
	hopCount uint8
	lastSeen time.Time
	active   bool
}

// routeTable is a fixed-capacity distance-vector table. It is not
// synchronized; the Node serializes access. Methods take the current time
// explicitly so sweeps and ages stay deterministic under test.
type routeTable struct {
	entries [MaxRoutes]routeEntry
}

// update applies one route advertisement. An existing entry is refreshed,
// and its next hop overwritten, only when the advertised hop count is
// equal to or better than the stored one; strictly worse paths are
// ignored so a stale long route can never displace a live short one. A
// new destination takes the first free or inactive slot, or is dropped
// when the table is full.
func (t *routeTable) update(nodeID, nextHop, hops uint8, now time.Time) routeChange {
	existing := -1
	free := -1
	for i := range t.entries {
		e := &t.entries[i]
		if e.active && e.nodeID == nodeID {
			existing = i
			break
		}
		if !e.active && free < 0 {
			free = i
		}
	}

	if existing >= 0 {
		e := &t.entries[existing]
		if hops <= e.hopCount {
			e.nextHop = nextHop
			e.hopCount = hops
			e.lastSeen = now
			return routeRefreshed
		}
		return routeIgnored
	}

	if free < 0 {
		return routeIgnored
	}
	t.entries[free] = routeEntry{
		nodeID:   nodeID,
		nextHop:  nextHop,
		hopCount: hops,
		lastSeen: now,
		active:   true,
	}
	return routeAdded
}

// lookup returns the next hop of the best active route to dst.
func (t *routeTable) lookup(dst uint8) (uint8, bool) {
	best := -1
	min := uint8(0xFF)
	for i := range t.entries {
		e := &t.entries[i]
		if e.active && e.nodeID == dst && e.hopCount < min {
			best = i
			min = e.hopCount
		}
	}
	if best < 0 {
		return 0, false
	}
	return t.entries[best].nextHop, true
}

// sweep marks entries unseen for longer than timeout inactive and returns
// their node ids.
func (t *routeTable) sweep(now time.Time, timeout time.Duration) []uint8 {
	var expired []uint8
	for i := range t.entries {
		e := &t.entries[i]
		if e.active && now.Sub(e.lastSeen) > timeout {
			e.active = false
			expired = append(expired, e.nodeID)
		}
	}
	return expired
}

// neighbors lists the active direct destinations, capped at what one
// beacon can advertise.
func (t *routeTable) neighbors() []uint8 {
	var ids []uint8
	for i := range t.entries {
		e := &t.entries[i]
		if e.active && e.hopCount == 1 {
			ids = append(ids, e.nodeID)
			if len(ids) == maxNeighbors {
				break
			}
		}
	}
	return ids
}

// count returns the number of active routes.
func (t *routeTable) count() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].active {
			n++
		}
	}
	return n
}

// snapshot copies the active routes with ages measured from now.
func (t *routeTable) snapshot(now time.Time) []Route {
	var routes []Route
	for i := range t.entries {
		e := &t.entries[i]
		if !e.active {
			continue
		}
		routes = append(routes, Route{
			NodeID:   e.nodeID,
			NextHop:  e.nextHop,
			HopCount: e.hopCount,
			Age:      now.Sub(e.lastSeen),
		})
	}
	return routes
}
