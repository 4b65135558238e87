package telemetry

import "sync"

// Snapshot is a point-in-time copy of the telemetry counters.
type Snapshot struct {
	// Sent counts frames handed to the mesh, copies included.
	Sent uint64

	// Delivered counts logical messages released by the collector
	// after de-duplication.
	Delivered uint64

	// CRCFailures counts frames dropped or quarantined for a bad
	// checksum or broken framing.
	CRCFailures uint64

	// Duplicates counts frames folded into an already delivered
	// message.
	Duplicates uint64

	// Votes counts deliveries reconstructed by majority vote rather
	// than received intact.
	Votes uint64
}

// Stats accumulates counters shared by the sender and the collector.
// All methods are safe for concurrent use.
type Stats struct {
	mu sync.Mutex
	s  Snapshot
}

// Snapshot returns the current counter values.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func (st *Stats) addSent(n uint64) {
	st.mu.Lock()
	st.s.Sent += n
	st.mu.Unlock()
}

func (st *Stats) addDelivered() {
	st.mu.Lock()
	st.s.Delivered++
	st.mu.Unlock()
}

func (st *Stats) addCRCFailure() {
	st.mu.Lock()
	st.s.CRCFailures++
	st.mu.Unlock()
}

func (st *Stats) addDuplicate() {
	st.mu.Lock()
	st.s.Duplicates++
	st.mu.Unlock()
}

func (st *Stats) addVote() {
	st.mu.Lock()
	st.s.Votes++
	st.mu.Unlock()
}
