package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wincmesh/winc-go/pkg/trace"
)

func TestFormatFrameEvent(t *testing.T) {
	ts := time.Date(2026, 8, 21, 10, 15, 32, 123456000, time.UTC)
	event := trace.Event{
		Timestamp: ts,
		SessionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction: trace.DirectionOut,
		Layer:     trace.LayerBus,
		Category:  trace.CategoryFrame,
		Frame: &trace.FrameEvent{
			Addr:      0x1508,
			Size:      128,
			Data:      []byte{0xa1, 0x01, 0x02, 0x03},
			Truncated: false,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "2026-08-21T10:15:32.123456Z") {
		t.Errorf("expected microsecond timestamp, got: %s", output)
	}
	if !strings.Contains(output, "[sess:abc12345]") {
		t.Errorf("expected shortened session ID, got: %s", output)
	}
	if !strings.Contains(output, "OUT") {
		t.Errorf("expected OUT direction, got: %s", output)
	}
	if !strings.Contains(output, "BUS") {
		t.Errorf("expected BUS layer, got: %s", output)
	}
	if !strings.Contains(output, "Frame") {
		t.Errorf("expected Frame label, got: %s", output)
	}
	if !strings.Contains(output, "128 bytes") {
		t.Errorf("expected frame size, got: %s", output)
	}
	if !strings.Contains(output, "a1010203") {
		t.Errorf("expected hex data, got: %s", output)
	}
}

func TestFormatMeshMessageEvent(t *testing.T) {
	src := uint8(3)
	dst := uint8(1)
	hops := uint8(2)
	seq := uint16(17)
	event := trace.Event{
		Timestamp: time.Now(),
		SessionID: "abc12345",
		NodeID:    3,
		Direction: trace.DirectionOut,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryMessage,
		Message: &trace.MessageEvent{
			Length:   10,
			Src:      &src,
			Dst:      &dst,
			HopCount: &hops,
			Sequence: &seq,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "node:3") {
		t.Errorf("expected node id in header, got: %s", output)
	}
	if !strings.Contains(output, "MESH") {
		t.Errorf("expected MESH layer, got: %s", output)
	}
	if !strings.Contains(output, "Route: 3 -> 1") {
		t.Errorf("expected route line, got: %s", output)
	}
	if !strings.Contains(output, "Hops: 2") {
		t.Errorf("expected hop count, got: %s", output)
	}
	if !strings.Contains(output, "Seq: 17") {
		t.Errorf("expected sequence, got: %s", output)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := trace.Event{
		Timestamp: time.Now(),
		SessionID: "abc12345",
		Direction: trace.DirectionIn,
		Layer:     trace.LayerLink,
		Category:  trace.CategoryState,
		StateChange: &trace.StateChangeEvent{
			Entity:   trace.StateEntityLink,
			OldState: "connecting",
			NewState: "connected",
			Reason:   "join complete",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Entity: LINK") {
		t.Errorf("expected entity, got: %s", output)
	}
	if !strings.Contains(output, "connecting -> connected") {
		t.Errorf("expected transition, got: %s", output)
	}
	if !strings.Contains(output, "Reason: join complete") {
		t.Errorf("expected reason, got: %s", output)
	}
}

func TestFormatErrorEvent(t *testing.T) {
	code := -9
	event := trace.Event{
		Timestamp: time.Now(),
		SessionID: "abc12345",
		Direction: trace.DirectionIn,
		Layer:     trace.LayerSocket,
		Category:  trace.CategoryError,
		Error: &trace.ErrorEventData{
			Layer:   trace.LayerSocket,
			Message: "bind failed",
			Context: "udp open",
			Code:    &code,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Message: bind failed") {
		t.Errorf("expected error message, got: %s", output)
	}
	if !strings.Contains(output, "Code: -9") {
		t.Errorf("expected chip code, got: %s", output)
	}
	if !strings.Contains(output, "Context: udp open") {
		t.Errorf("expected context, got: %s", output)
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Mesh"); err != nil || l != trace.LayerMesh {
		t.Errorf("ParseLayerFlag(Mesh) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("IN"); err != nil || d != trace.DirectionIn {
		t.Errorf("ParseDirectionFlag(IN) = %v, %v", d, err)
	}
	if _, err := ParseDirectionFlag("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
	if c, err := ParseCategoryFlag("frame"); err != nil || c != trace.CategoryFrame {
		t.Errorf("ParseCategoryFlag(frame) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("control"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestRunViewAppliesFilter(t *testing.T) {
	path := writeTestTrace(t)

	layer := trace.LayerMesh
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "MESH") {
		t.Errorf("expected mesh events in output, got: %s", output)
	}
	if strings.Contains(output, "BUS") {
		t.Errorf("expected bus events filtered out, got: %s", output)
	}
}

// writeTestTrace writes a small trace file with one event per layer and
// returns its path.
func writeTestTrace(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wtrc")
	logger, err := trace.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create trace file: %v", err)
	}
	defer logger.Close()

	base := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	src, dst := uint8(2), uint8(1)

	logger.Log(trace.Event{
		Timestamp: base,
		SessionID: "sess-aaaa-bbbb",
		Direction: trace.DirectionOut,
		Layer:     trace.LayerBus,
		Category:  trace.CategoryFrame,
		Frame:     trace.NewFrame(0x1508, []byte{0x01, 0x02, 0x03, 0x04}),
	})
	logger.Log(trace.Event{
		Timestamp: base.Add(time.Millisecond),
		SessionID: "sess-aaaa-bbbb",
		Direction: trace.DirectionIn,
		Layer:     trace.LayerHIF,
		Category:  trace.CategoryMessage,
		Message:   &trace.MessageEvent{Group: 2, Op: 13, Length: 24},
	})
	logger.Log(trace.Event{
		Timestamp: base.Add(2 * time.Millisecond),
		SessionID: "sess-aaaa-bbbb",
		NodeID:    2,
		Direction: trace.DirectionOut,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryMessage,
		Message:   &trace.MessageEvent{Length: 10, Src: &src, Dst: &dst},
	})
	logger.Log(trace.Event{
		Timestamp: base.Add(3 * time.Millisecond),
		SessionID: "sess-aaaa-bbbb",
		Direction: trace.DirectionIn,
		Layer:     trace.LayerSocket,
		Category:  trace.CategoryError,
		Error:     &trace.ErrorEventData{Layer: trace.LayerSocket, Message: "bind failed"},
	})

	return path
}
