// Package chip boots the wireless companion chip and reads its identity.
//
// The boot sequence is a fixed register handshake: wait for the OTP fuses,
// wait for the bootrom, announce the driver version, start the firmware and
// wait for it to come up. All waits are bounded and honor the context.
package chip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/trace"
)

// ErrTimeout is returned when a register fails to reach its expected value
// within the bounded number of attempts.
var ErrTimeout = errors.New("chip: timed out waiting for register")

// Attempt budgets and delays of the boot handshake.
const (
	efuseTries = 10
	efuseDelay = time.Millisecond
	bootTries  = 3
	bootDelay  = time.Millisecond
	runTries   = 20
	runDelay   = 10 * time.Millisecond
)

// Version is a firmware version triple.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Info describes the chip after boot.
type Info struct {
	ChipID   uint32
	Revision uint32
	Firmware Version
	MAC      [6]byte
}

// Chip drives the boot handshake over a register bus.
type Chip struct {
	bus     bus.Bus
	logger  trace.Logger
	session string
}

// New returns a Chip on b.
func New(b bus.Bus) *Chip {
	return &Chip{bus: b, logger: trace.NoopLogger{}}
}

// SetLogger directs state-change trace events to l, tagged with session.
func (c *Chip) SetLogger(l trace.Logger, session string) {
	if l == nil {
		l = trace.NoopLogger{}
	}
	c.logger = l
	c.session = session
}

// ID reads the chip identification register.
func (c *Chip) ID() (uint32, error) {
	return c.bus.ReadReg(RegChipID)
}

// Boot runs the firmware start handshake. It returns once the firmware
// reports itself running and host interrupts are enabled.
func (c *Chip) Boot(ctx context.Context) error {
	err := c.waitReg(ctx, RegEFuse, efuseTries, efuseDelay, func(v uint32) bool {
		return v&efuseLoadedBit != 0
	})
	if err != nil {
		return fmt.Errorf("efuse load: %w", err)
	}

	hostWait, err := c.bus.ReadReg(RegHostWait)
	if err != nil {
		return fmt.Errorf("host wait: %w", err)
	}
	if hostWait&hostWaitBit == 0 {
		err := c.waitReg(ctx, RegBootROM, bootTries, bootDelay, func(v uint32) bool {
			return v == FinishBoot
		})
		if err != nil {
			return fmt.Errorf("bootrom: %w", err)
		}
	}

	if err := c.bus.WriteReg(RegNMIState, DriverVersion); err != nil {
		return fmt.Errorf("driver version: %w", err)
	}
	if err := c.bus.WriteReg(RegGP1, ConfValue); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := c.bus.WriteReg(RegBootROM, StartFirmware); err != nil {
		return fmt.Errorf("start firmware: %w", err)
	}

	err = c.waitReg(ctx, RegNMIState, runTries, runDelay, func(v uint32) bool {
		return v == FinishInit
	})
	if err != nil {
		return fmt.Errorf("firmware start: %w", err)
	}
	if err := c.bus.WriteReg(RegNMIState, 0); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}

	if err := c.EnableInterrupts(); err != nil {
		return err
	}

	c.logger.Log(trace.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: trace.DirectionIn,
		Layer:     trace.LayerBus,
		Category:  trace.CategoryState,
		StateChange: &trace.StateChangeEvent{
			Entity:   trace.StateEntityChip,
			OldState: "bootrom",
			NewState: "running",
			Reason:   "boot handshake complete",
		},
	})
	return nil
}

// EnableInterrupts routes the chip's interrupt to the host pin and sets the
// master enable bit.
func (c *Chip) EnableInterrupts() error {
	val, err := c.bus.ReadReg(RegPinMux0)
	if err != nil {
		return fmt.Errorf("pin mux: %w", err)
	}
	if err := c.bus.WriteReg(RegPinMux0, val|irqPinMuxBit); err != nil {
		return fmt.Errorf("pin mux: %w", err)
	}
	val, err = c.bus.ReadReg(RegIntrEn)
	if err != nil {
		return fmt.Errorf("interrupt enable: %w", err)
	}
	if err := c.bus.WriteReg(RegIntrEn, val|irqEnableBit); err != nil {
		return fmt.Errorf("interrupt enable: %w", err)
	}
	return nil
}

// Info reads the chip id, revision, firmware version and factory MAC
// address. The firmware publishes a descriptor table in shared memory whose
// location is taken from the GP2 register.
func (c *Chip) Info() (Info, error) {
	var info Info

	id, err := c.bus.ReadReg(RegChipID)
	if err != nil {
		return info, fmt.Errorf("chip id: %w", err)
	}
	rev, err := c.bus.ReadReg(RegRevID)
	if err != nil {
		return info, fmt.Errorf("revision: %w", err)
	}
	info.ChipID = id
	info.Revision = rev

	gp2, err := c.bus.ReadReg(RegGP2)
	if err != nil {
		return info, fmt.Errorf("descriptor table: %w", err)
	}
	var table [8]byte
	if err := c.bus.ReadBlock(gp2|SharedBase, table[:]); err != nil {
		return info, fmt.Errorf("descriptor table: %w", err)
	}

	macAddr := uint32(binary.LittleEndian.Uint16(table[2:4])) | SharedBase
	infoAddr := uint32(binary.LittleEndian.Uint16(table[4:6])) | SharedBase

	var fw [40]byte
	if err := c.bus.ReadBlock(infoAddr, fw[:]); err != nil {
		return info, fmt.Errorf("firmware info: %w", err)
	}
	info.Firmware = Version{Major: fw[4], Minor: fw[5], Patch: fw[6]}

	if err := c.bus.ReadBlock(macAddr, info.MAC[:]); err != nil {
		return info, fmt.Errorf("mac address: %w", err)
	}
	return info, nil
}

// waitReg polls addr until ok accepts its value. It reads up to tries
// times with delay between attempts and fails with ErrTimeout once the
// budget is spent.
func (c *Chip) waitReg(ctx context.Context, addr uint32, tries int, delay time.Duration, ok func(uint32) bool) error {
	for i := 0; ; i++ {
		val, err := c.bus.ReadReg(addr)
		if err != nil {
			return err
		}
		if ok(val) {
			return nil
		}
		if i+1 >= tries {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
