package telemetry

import (
	"bytes"
	"time"
)

// DefaultWindow is how long the collector remembers a message. Within it,
// further copies are duplicates; after it, an identical payload counts as
// a new message, so periodic senders repeating the same reading still get
// through.
const DefaultWindow = 500 * time.Millisecond

// groupKey identifies one logical message: all copies of a send carry the
// same claimed checksum.
type groupKey struct {
	src uint8
	crc uint32
}

type group struct {
	firstSeen time.Time
	delivered bool
	copies    [][]byte
}

// Collector folds redundant frame copies into single deliveries. Intact
// frames deliver immediately and later copies are absorbed; corrupted
// copies are quarantined per message and replayed through a byte-wise
// majority vote as siblings arrive.
//
// A Collector is driven from one goroutine, the one polling the node.
type Collector struct {
	window time.Duration
	stats  *Stats
	groups map[groupKey]*group
}

// NewCollector returns a collector with the given dedupe window. Counters
// land in stats; a nil stats gets a private set.
func NewCollector(window time.Duration, stats *Stats) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Collector{
		window: window,
		stats:  stats,
		groups: make(map[groupKey]*group),
	}
}

// Ingest processes one raw frame from src. It returns the payload and
// true when a logical message becomes deliverable, either because an
// intact copy arrived or because enough corrupted copies agreed.
func (c *Collector) Ingest(src uint8, raw []byte, now time.Time) ([]byte, bool) {
	c.expire(now)

	f, err := ParseFrame(raw)
	if err != nil {
		c.stats.addCRCFailure()
		return nil, false
	}

	key := groupKey{src: src, crc: f.Checksum}
	g := c.groups[key]
	if g == nil {
		g = &group{firstSeen: now}
		c.groups[key] = g
	}

	if g.delivered {
		c.stats.addDuplicate()
		return nil, false
	}

	if f.Verify() {
		g.delivered = true
		g.copies = nil
		c.stats.addDelivered()
		return f.Data, true
	}

	// Corrupted copy. Quarantine it and try to reconstruct the payload
	// from everything seen so far.
	c.stats.addCRCFailure()
	if len(g.copies) > 0 && len(g.copies[0]) != len(f.Data) {
		return nil, false
	}
	g.copies = append(g.copies, bytes.Clone(f.Data))
	if len(g.copies) < 2 {
		return nil, false
	}

	voted := voteBytes(g.copies)
	if !(Frame{Checksum: key.crc, Data: voted}).Verify() {
		return nil, false
	}
	g.delivered = true
	g.copies = nil
	c.stats.addVote()
	c.stats.addDelivered()
	return voted, true
}

// expire drops groups older than the window. Undelivered quarantined
// copies are lost with them.
func (c *Collector) expire(now time.Time) {
	for key, g := range c.groups {
		if now.Sub(g.firstSeen) > c.window {
			delete(c.groups, key)
		}
	}
}

// voteBytes builds a candidate payload from equal-length copies, taking
// the most frequent value at every position. Ties keep the earliest
// copy's byte.
func voteBytes(copies [][]byte) []byte {
	out := bytes.Clone(copies[0])
	for i := range out {
		best, bestCount := out[i], 0
		for j := range copies {
			count := 0
			for k := range copies {
				if copies[k][i] == copies[j][i] {
					count++
				}
			}
			if count > bestCount {
				best, bestCount = copies[j][i], count
			}
		}
		out[i] = best
	}
	return out
}
