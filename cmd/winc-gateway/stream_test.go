package main

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/wincmesh/winc-go/pkg/trace"
)

func newTestServer(t *testing.T) *StreamServer {
	t.Helper()
	s := NewStreamServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// dialAndWait connects a client and waits for the server to register it.
func dialAndWait(t *testing.T, s *StreamServer, want int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %d clients, have %d", want, s.ClientCount())
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestStreamServerDeliversEvents(t *testing.T) {
	s := newTestServer(t)
	conn := dialAndWait(t, s, 1)

	sent := trace.Event{
		Timestamp: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
		SessionID: "stream-test",
		NodeID:    1,
		Direction: trace.DirectionOut,
		Layer:     trace.LayerMesh,
		Category:  trace.CategoryMessage,
		Message:   &trace.MessageEvent{Length: 12},
	}
	s.Log(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got trace.Event
	if err := trace.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("Failed to decode streamed event: %v", err)
	}

	if got.SessionID != sent.SessionID {
		t.Errorf("Session mismatch: expected %q, got %q", sent.SessionID, got.SessionID)
	}
	if got.Layer != trace.LayerMesh || got.Category != trace.CategoryMessage {
		t.Errorf("Classification mismatch: got layer %s category %s", got.Layer, got.Category)
	}
	if got.Message == nil || got.Message.Length != 12 {
		t.Errorf("Payload mismatch: got %+v", got.Message)
	}
}

func TestStreamServerFansOut(t *testing.T) {
	s := newTestServer(t)
	a := dialAndWait(t, s, 1)
	b := dialAndWait(t, s, 2)

	s.Log(trace.Event{SessionID: "fanout", Timestamp: time.Now()})

	for i, conn := range []net.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got trace.Event
		if err := trace.NewDecoder(conn).Decode(&got); err != nil {
			t.Fatalf("Client %d failed to decode: %v", i, err)
		}
		if got.SessionID != "fanout" {
			t.Errorf("Client %d: session mismatch, got %q", i, got.SessionID)
		}
	}
}

func TestStreamServerDropsDeadClients(t *testing.T) {
	s := newTestServer(t)
	conn := dialAndWait(t, s, 1)
	conn.Close()

	// Writes to the closed connection eventually error, and the server
	// forgets the client rather than propagating the failure.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() > 0 {
		s.Log(trace.Event{SessionID: "dead", Timestamp: time.Now()})
		if time.Now().After(deadline) {
			t.Fatalf("Client was never dropped, count %d", s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamServerCloseIdempotent(t *testing.T) {
	s := newTestServer(t)
	dialAndWait(t, s, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if s.ClientCount() != 0 {
		t.Errorf("Expected no clients after close, got %d", s.ClientCount())
	}

	// Logging after close is a no-op.
	s.Log(trace.Event{SessionID: "late", Timestamp: time.Now()})
}
