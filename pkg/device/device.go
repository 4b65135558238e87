// Package device assembles the driver stack for one WiFi chip: bus, boot
// handshake, host interface engine, link manager and socket pool.
//
// A Device is poll driven. After Start boots the firmware, the owner
// calls Poll whenever the chip may have raised its interrupt line, or
// hands a goroutine to Run to do that on a fixed interval. All chip
// traffic happens on the polling goroutine.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/chip"
	"github.com/wincmesh/winc-go/pkg/hif"
	"github.com/wincmesh/winc-go/pkg/socket"
	"github.com/wincmesh/winc-go/pkg/trace"
	"github.com/wincmesh/winc-go/pkg/wifi"
)

// crcControl is implemented by buses whose framing carries a CRC that can
// be turned off, like the SPI codec.
type crcControl interface {
	DisableCRC() error
}

// traceable is implemented by buses that can log frame-level trace
// events.
type traceable interface {
	SetLogger(l trace.Logger, session string)
}

// Device owns one chip and the protocol engines above it.
type Device struct {
	mu    sync.Mutex
	state State

	config  Config
	session string

	bus     bus.Bus
	chip    *chip.Chip
	hif     *hif.Engine
	wifi    *wifi.Manager
	sockets *socket.Engine

	info chip.Info

	logger *slog.Logger
}

// New wires the protocol engines on top of b. The device is idle until
// Start boots the chip.
func New(b bus.Bus, config Config) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	session := config.Session
	if session == "" {
		session = uuid.NewString()
	}
	tl := config.Trace
	if tl == nil {
		tl = trace.NoopLogger{}
	}

	d := &Device{
		config:  config,
		session: session,
		bus:     b,
		logger:  config.Logger,
	}

	if tb, ok := b.(traceable); ok {
		tb.SetLogger(tl, session)
	}

	d.chip = chip.New(b)
	d.chip.SetLogger(tl, session)

	d.hif = hif.New(b)
	d.hif.SetLogger(tl, session)

	d.wifi = wifi.New(d.hif)
	d.wifi.SetLogger(tl, session)

	d.sockets = socket.New(d.hif)
	d.sockets.SetLogger(tl, session)

	d.hif.Register(hif.GroupWiFi, d.wifi)
	d.hif.Register(hif.GroupIP, d.sockets)

	// Deferred binds go out as soon as the link can carry traffic.
	d.wifi.Watch(func(old, new wifi.LinkState) {
		d.sockets.OnLinkReady(new == wifi.LinkReady)
	})

	return d, nil
}

// Start resets and boots the chip. It returns once the firmware runs and
// interrupts are enabled.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle && d.state != StateStopped {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.state = StateStarting
	d.mu.Unlock()

	fail := func(err error) error {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return err
	}

	if r, ok := d.bus.(bus.Resetter); ok {
		if err := r.Reset(); err != nil {
			return fail(fmt.Errorf("device: reset: %w", err))
		}
	}
	if c, ok := d.bus.(crcControl); ok {
		if err := c.DisableCRC(); err != nil {
			return fail(fmt.Errorf("device: disable crc: %w", err))
		}
	}

	if d.config.BootTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.BootTimeout)
		defer cancel()
	}
	if err := d.chip.Boot(ctx); err != nil {
		return fail(fmt.Errorf("device: boot: %w", err))
	}

	info, err := d.chip.Info()
	if err != nil {
		return fail(fmt.Errorf("device: chip info: %w", err))
	}
	if err := d.chip.EnableInterrupts(); err != nil {
		return fail(fmt.Errorf("device: enable interrupts: %w", err))
	}

	d.mu.Lock()
	d.info = info
	d.state = StateRunning
	d.mu.Unlock()

	d.debugLog("device started",
		"session", d.session,
		"chip", fmt.Sprintf("%#x", info.ChipID),
		"firmware", info.Firmware.String(),
		"mac", fmt.Sprintf("% x", info.MAC))
	return nil
}

// Poll services one pending chip event, if any. With an IRQ line
// configured, an unasserted line makes Poll a cheap no-op.
func (d *Device) Poll() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.mu.Unlock()

	if d.config.IRQ != nil {
		asserted, err := d.config.IRQ.Asserted()
		if err != nil {
			return fmt.Errorf("device: irq: %w", err)
		}
		if !asserted {
			return nil
		}
	}
	return d.hif.Service()
}

// Run polls until ctx is done. Poll errors are logged and polling
// continues; only ctx ends the loop.
func (d *Device) Run(ctx context.Context) error {
	interval := d.config.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if err := d.Poll(); err != nil {
			d.debugLog("poll failed", "error", err)
		}
	}
}

// Stop closes open sockets and shuts the access point down, best effort.
func (d *Device) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.state = StateStopped
	d.mu.Unlock()

	for s := uint8(0); s < socket.MaxSockets; s++ {
		st, err := d.sockets.State(s)
		if err != nil || st == socket.StateClosed {
			continue
		}
		if err := d.sockets.Close(s); err != nil {
			d.debugLog("close failed", "socket", s, "error", err)
		}
	}
	if d.wifi.APMode() {
		if err := d.wifi.StopAP(); err != nil {
			d.debugLog("ap stop failed", "error", err)
		}
	}
	return nil
}

// WiFi exposes the link manager.
func (d *Device) WiFi() *wifi.Manager { return d.wifi }

// Sockets exposes the socket pool.
func (d *Device) Sockets() *socket.Engine { return d.sockets }

// Info returns the identity read during Start.
func (d *Device) Info() chip.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Session returns the trace session id of this device.
func (d *Device) Session() string { return d.session }

// State returns the lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) debugLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
