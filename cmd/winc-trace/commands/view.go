// Package commands implements the winc-trace CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/wincmesh/winc-go/pkg/trace"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	NodeID    *uint8
	Layer     *trace.Layer
	Direction *trace.Direction
	Category  *trace.Category
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event trace.Event) {
	// Header line: timestamp [session:id] node DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := shortenSessionID(event.SessionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Message != nil:
		typeLabel = "Message"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	if event.NodeID != 0 {
		fmt.Fprintf(w, "%s [sess:%s] node:%d %-3s %s %s\n", ts, session, event.NodeID, dir, event.Layer, typeLabel)
	} else {
		fmt.Fprintf(w, "%s [sess:%s] %-3s %s %s\n", ts, session, dir, event.Layer, typeLabel)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatFrameDetails writes frame-specific details.
func formatFrameDetails(w io.Writer, frame *trace.FrameEvent) {
	if frame.Addr != 0 {
		fmt.Fprintf(w, "  Addr: %#08x\n", frame.Addr)
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// formatMessageDetails writes message-specific details.
func formatMessageDetails(w io.Writer, msg *trace.MessageEvent) {
	if msg.Group != 0 || msg.Op != 0 {
		fmt.Fprintf(w, "  Group: %d  Op: %d\n", msg.Group, msg.Op)
	}
	if msg.Length != 0 {
		fmt.Fprintf(w, "  Length: %d bytes\n", msg.Length)
	}
	if msg.Socket != nil {
		fmt.Fprintf(w, "  Socket: %d", *msg.Socket)
		if msg.Session != nil {
			fmt.Fprintf(w, "  Session: %d", *msg.Session)
		}
		fmt.Fprintln(w)
	}
	if msg.Src != nil && msg.Dst != nil {
		fmt.Fprintf(w, "  Route: %d -> %d", *msg.Src, *msg.Dst)
		if msg.HopCount != nil {
			fmt.Fprintf(w, "  Hops: %d", *msg.HopCount)
		}
		if msg.Sequence != nil {
			fmt.Fprintf(w, "  Seq: %d", *msg.Sequence)
		}
		fmt.Fprintln(w)
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *trace.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *trace.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (trace.Layer, error) {
	return parseLayer(s)
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (trace.Layer, error) {
	switch strings.ToLower(s) {
	case "bus":
		return trace.LayerBus, nil
	case "hif":
		return trace.LayerHIF, nil
	case "socket":
		return trace.LayerSocket, nil
	case "mesh":
		return trace.LayerMesh, nil
	case "link":
		return trace.LayerLink, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be bus, hif, socket, mesh, or link)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (trace.Direction, error) {
	return parseDirection(s)
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (trace.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return trace.DirectionIn, nil
	case "out":
		return trace.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (trace.Category, error) {
	return parseCategory(s)
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (trace.Category, error) {
	switch strings.ToLower(s) {
	case "frame":
		return trace.CategoryFrame, nil
	case "message":
		return trace.CategoryMessage, nil
	case "state":
		return trace.CategoryState, nil
	case "error":
		return trace.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be frame, message, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := trace.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		// Apply filter
		if filter.NodeID != nil && event.NodeID != *filter.NodeID {
			continue
		}
		if filter.Layer != nil && event.Layer != *filter.Layer {
			continue
		}
		if filter.Direction != nil && event.Direction != *filter.Direction {
			continue
		}
		if filter.Category != nil && event.Category != *filter.Category {
			continue
		}

		formatEvent(output, event)
	}

	return nil
}
