package main

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wincmesh/winc-go/pkg/trace"
)

// writeTimeout bounds one event write per client. A client that cannot
// keep up is dropped rather than allowed to stall the stream.
const writeTimeout = 2 * time.Second

// StreamServer serves the live trace stream over TCP. It implements
// trace.Logger, so it plugs into the driver exactly like a file logger:
// every captured event is encoded as a CBOR record to each connected
// client, in the same format winc-trace reads from files.
type StreamServer struct {
	logger *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	clients map[net.Conn]*cbor.Encoder
	closed  bool
}

// NewStreamServer creates a stream server. Call Listen before use.
func NewStreamServer(logger *slog.Logger) *StreamServer {
	return &StreamServer{
		logger:  logger,
		clients: make(map[net.Conn]*cbor.Encoder),
	}
}

// Listen binds addr and starts accepting clients.
func (s *StreamServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address.
func (s *StreamServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ClientCount returns the number of connected clients.
func (s *StreamServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *StreamServer) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[conn] = trace.NewEncoder(conn)
		count := len(s.clients)
		s.mu.Unlock()

		s.logger.Info("trace client connected", "remote", conn.RemoteAddr(), "clients", count)
	}
}

// Log fans the event out to every client. Implements trace.Logger; it
// must never fail, so write errors just drop the offending client.
func (s *StreamServer) Log(event trace.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn, enc := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := enc.Encode(event); err != nil {
			delete(s.clients, conn)
			conn.Close()
			s.logger.Info("trace client dropped", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// Close stops accepting and disconnects every client.
func (s *StreamServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	return err
}

// Compile-time interface satisfaction check.
var _ trace.Logger = (*StreamServer)(nil)
