package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wincmesh/winc-go/pkg/trace"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[trace.Layer]int
	EventsByCategory  map[trace.Category]int
	EventsByDirection map[trace.Direction]int
	EventsByOp        map[opKey]int
	Sessions          map[string]*SessionStats
	BytesIn           int
	BytesOut          int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// opKey identifies a HIF operation by group and id.
type opKey struct {
	Group uint8
	Op    uint8
}

// SessionStats holds statistics for a single device session.
type SessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	NodeID    uint8
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := trace.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[trace.Layer]int),
		EventsByCategory:  make(map[trace.Category]int),
		EventsByDirection: make(map[trace.Direction]int),
		EventsByOp:        make(map[opKey]int),
		Sessions:          make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		// Track time range
		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		// Byte totals come from raw frames only, so decoded message
		// events do not double-count their frames.
		if event.Frame != nil {
			if event.Direction == trace.DirectionIn {
				stats.BytesIn += event.Frame.Size
			} else {
				stats.BytesOut += event.Frame.Size
			}
		}

		if event.Message != nil && (event.Message.Group != 0 || event.Message.Op != 0) {
			stats.EventsByOp[opKey{event.Message.Group, event.Message.Op}]++
		}

		// Track session stats
		sess, ok := stats.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		if event.NodeID != 0 && sess.NodeID == 0 {
			sess.NodeID = event.NodeID
		}

		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== WINC Protocol Trace Statistics ===")
	fmt.Fprintln(w)

	// Time range
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	// Total events
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	// Events by layer
	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []trace.Layer{trace.LayerBus, trace.LayerHIF, trace.LayerSocket, trace.LayerMesh, trace.LayerLink} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Events by category
	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []trace.Category{trace.CategoryFrame, trace.CategoryMessage, trace.CategoryState, trace.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Events by direction
	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []trace.Direction{trace.DirectionIn, trace.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	// Byte totals
	if stats.BytesIn > 0 || stats.BytesOut > 0 {
		fmt.Fprintf(w, "Bytes In:  %d\n", stats.BytesIn)
		fmt.Fprintf(w, "Bytes Out: %d\n", stats.BytesOut)
		fmt.Fprintln(w)
	}

	// Operations
	if len(stats.EventsByOp) > 0 {
		fmt.Fprintln(w, "Operations:")
		ops := make([]opKey, 0, len(stats.EventsByOp))
		for k := range stats.EventsByOp {
			ops = append(ops, k)
		}
		sort.Slice(ops, func(i, j int) bool {
			if ops[i].Group != ops[j].Group {
				return ops[i].Group < ops[j].Group
			}
			return ops[i].Op < ops[j].Op
		})
		for _, k := range ops {
			fmt.Fprintf(w, "  group %d op %-3d %d\n", k.Group, k.Op, stats.EventsByOp[k])
		}
		fmt.Fprintln(w)
	}

	// Sessions
	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			shortID := s.id
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortID, s.stats.Events, duration)
			if s.stats.NodeID != 0 {
				fmt.Fprintf(w, "           Node: %d\n", s.stats.NodeID)
			}
		}
	}

	// Errors
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
