package device

import (
	"errors"
	"log/slog"
	"time"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/trace"
)

var (
	ErrNotStarted     = errors.New("device not started")
	ErrAlreadyStarted = errors.New("device already started")
	ErrInvalidConfig  = errors.New("invalid device config")
)

// State represents the device lifecycle state.
type State uint8

const (
	// StateIdle - device created but not started.
	StateIdle State = iota

	// StateStarting - boot handshake in progress.
	StateStarting

	// StateRunning - chip booted, poll loop may run.
	StateRunning

	// StateStopped - device stopped.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Config configures a Device.
type Config struct {
	// Session tags trace events from this device. A random id is
	// generated when empty.
	Session string

	// IRQ is the chip interrupt line. When set, Poll services the chip
	// only while the line is asserted; when nil, every Poll services it.
	IRQ bus.IRQLine

	// BootTimeout bounds the firmware boot handshake.
	BootTimeout time.Duration

	// PollInterval is the idle delay between polls in Run.
	PollInterval time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Trace is the optional protocol event logger.
	Trace trace.Logger
}

// DefaultConfig returns a config with the usual timings.
func DefaultConfig() Config {
	return Config{
		BootTimeout:  5 * time.Second,
		PollInterval: 2 * time.Millisecond,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.BootTimeout < 0 || c.PollInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}
