// Command winc-node runs one mesh node on a WINC1500-class WiFi chip.
//
// The node brings the chip up over the serial bridge (or the built-in
// simulator), joins the mesh carrier network, and exchanges telemetry
// with its peers. An interactive console exposes the routing table and
// lets the operator inject payloads.
//
// Usage:
//
//	winc-node [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-id uint           Mesh node id (1-254)
//	-name string       Node display name (max 15 bytes)
//	-serial string     Serial bridge device, e.g. /dev/ttyACM0
//	-baud int          Serial line rate (default 115200)
//	-ssid string       Carrier network SSID
//	-pass string       Carrier network passphrase
//	-channel uint      WiFi channel when hosting the access point
//	-sim               Run against the built-in simulator with an echo peer
//	-trace string      Write protocol trace to file
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Sensor node 3 on real hardware
//	winc-node -id 3 -name bench -serial /dev/ttyACM0
//
//	# Node from a config file, with protocol tracing
//	winc-node -config node.yaml -trace node.wtrc
//
//	# Simulated two-node mesh, no hardware required
//	winc-node -id 2 -name demo -sim -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/config"
	"github.com/wincmesh/winc-go/pkg/device"
	"github.com/wincmesh/winc-go/pkg/mesh"
	"github.com/wincmesh/winc-go/pkg/serialbridge"
	"github.com/wincmesh/winc-go/pkg/sim"
	"github.com/wincmesh/winc-go/pkg/telemetry"
	"github.com/wincmesh/winc-go/pkg/trace"
)

var (
	configFile = flag.String("config", "", "Configuration file path (YAML)")
	nodeID     = flag.Uint("id", 0, "Mesh node id (1-254)")
	nodeName   = flag.String("name", "", "Node display name (max 15 bytes)")
	serialDev  = flag.String("serial", "", "Serial bridge device, e.g. /dev/ttyACM0")
	baud       = flag.Int("baud", 0, "Serial line rate")
	ssid       = flag.String("ssid", "", "Carrier network SSID")
	pass       = flag.String("pass", "", "Carrier network passphrase")
	channel    = flag.Uint("channel", 0, "WiFi channel when hosting the access point")
	simMode    = flag.Bool("sim", false, "Run against the built-in simulator with an echo peer")
	traceFile  = flag.String("trace", "", "Write protocol trace to file")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	setLevel(level, cfg.Trace.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tracer, closeTrace, err := setupTrace(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open trace file: %v\n", err)
		os.Exit(1)
	}
	defer closeTrace()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := uuid.NewString()

	var peer *simPeer
	var line busLine
	if *simMode {
		air := sim.NewAir()
		line = air.NewChip()
		peer = newSimPeer(air, cfg, logger)
	} else {
		if cfg.SerialDevice == "" {
			fmt.Fprintln(os.Stderr, "Either -serial (or serial_device in the config) or -sim is required")
			os.Exit(1)
		}
		sb, err := serialbridge.Open(cfg.SerialDevice, serialbridge.Config{Baud: cfg.Baud})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open serial bridge: %v\n", err)
			os.Exit(1)
		}
		defer sb.Close()
		sb.SetLogger(tracer, session)
		line = sb
	}

	apID := mesh.DefaultConfig().APNodeID

	// When the simulated peer hosts the access point it has to be up
	// before our station tries to join.
	if peer != nil && cfg.NodeID != apID {
		if err := peer.start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start simulated peer: %v\n", err)
			os.Exit(1)
		}
	}

	node, dev, err := bringUp(ctx, line, cfg, session, logger, tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer dev.Stop()
	defer node.Stop()

	if peer != nil && cfg.NodeID == apID {
		if err := peer.start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start simulated peer: %v\n", err)
			os.Exit(1)
		}
	}

	worker := telemetry.NewWorker(node, telemetry.WorkerConfig{Logger: logger})
	go worker.Run(ctx)

	logger.Info("node up",
		"id", cfg.NodeID,
		"name", cfg.Name,
		"chip", fmt.Sprintf("%#x", dev.Info().ChipID),
		"firmware", dev.Info().Firmware.String(),
		"session", session)

	console, err := NewConsole(cfg, dev, node, worker, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start console: %v\n", err)
		os.Exit(1)
	}

	go printDeliveries(ctx, worker, console)

	// A signal ends the session the same way "quit" does.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		console.Close()
	}()

	console.Run(ctx, cancel)
	logger.Info("shutting down")
}

// loadConfig merges defaults, the optional config file, and explicit
// flag overrides, in that order.
func loadConfig() (config.Node, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return config.Node{}, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.NodeID = uint8(*nodeID)
		case "name":
			cfg.Name = *nodeName
		case "serial":
			cfg.SerialDevice = *serialDev
		case "baud":
			cfg.Baud = *baud
		case "ssid":
			cfg.SSID = *ssid
		case "pass":
			cfg.Passphrase = *pass
		case "channel":
			cfg.Channel = uint8(*channel)
		case "trace":
			cfg.Trace.File = *traceFile
		case "log-level":
			cfg.Trace.Level = *logLevel
		}
	})

	if *nodeID > 254 {
		return config.Node{}, fmt.Errorf("node id must be 1-254, got %d", *nodeID)
	}
	if err := cfg.Validate(); err != nil {
		return config.Node{}, err
	}
	return cfg, nil
}

func setLevel(level *slog.LevelVar, name string) {
	switch name {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// setupTrace assembles the protocol trace sink: the trace file when one
// is configured, plus a mirror into the log at debug level.
func setupTrace(cfg config.Node, logger *slog.Logger) (trace.Logger, func(), error) {
	var sinks []trace.Logger
	closeFn := func() {}

	if cfg.Trace.File != "" {
		fl, err := trace.NewFileLogger(cfg.Trace.File)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fl)
		closeFn = func() { fl.Close() }
	}
	if cfg.Trace.Level == "debug" {
		sinks = append(sinks, trace.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		return trace.NoopLogger{}, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return trace.NewMultiLogger(sinks...), closeFn, nil
	}
}

// busLine is a bus that also exposes the chip's interrupt line. Both
// the simulator chip and the serial bridge satisfy it.
type busLine interface {
	bus.Bus
	bus.IRQLine
}

// bringUp boots the driver and starts the mesh node on it.
func bringUp(ctx context.Context, line busLine, cfg config.Node, session string, logger *slog.Logger, tracer trace.Logger) (*mesh.Node, *device.Device, error) {
	dcfg := device.DefaultConfig()
	dcfg.Session = session
	dcfg.IRQ = line
	dcfg.Logger = logger
	dcfg.Trace = tracer

	dev, err := device.New(line, dcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := dev.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start device: %w", err)
	}

	mcfg := cfg.MeshConfig()
	mcfg.Logger = logger
	mcfg.Trace = tracer

	node, err := mesh.New(dev, mcfg)
	if err != nil {
		dev.Stop()
		return nil, nil, fmt.Errorf("failed to create mesh node: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		dev.Stop()
		return nil, nil, fmt.Errorf("failed to start mesh node: %w", err)
	}
	return node, dev, nil
}

// printDeliveries forwards incoming payloads to the console without
// clobbering the prompt.
func printDeliveries(ctx context.Context, worker *telemetry.Worker, console *Console) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-worker.Deliveries():
			console.PrintDelivery(d.Src, d.Data)
		}
	}
}

// simPeer is the in-process counterpart a -sim node talks to. It echoes
// every payload back to its sender.
type simPeer struct {
	cfg    config.Node
	chip   *sim.Chip
	logger *slog.Logger
}

// newSimPeer builds the peer on the shared medium. If the operator's
// node hosts the access point the peer joins as a station, otherwise
// the peer takes the AP role.
func newSimPeer(air *sim.Air, cfg config.Node, logger *slog.Logger) *simPeer {
	apID := mesh.DefaultConfig().APNodeID

	peerCfg := cfg
	peerCfg.SerialDevice = ""
	peerCfg.Trace.File = ""
	if cfg.NodeID == apID {
		peerCfg.NodeID = 200
		peerCfg.Name = "sim-peer"
	} else {
		peerCfg.NodeID = apID
		peerCfg.Name = "sim-gateway"
	}

	return &simPeer{
		cfg:    peerCfg,
		chip:   air.NewChip(),
		logger: logger.With("peer", peerCfg.Name),
	}
}

func (p *simPeer) start(ctx context.Context) error {
	node, _, err := bringUp(ctx, p.chip, p.cfg, uuid.NewString(), p.logger, trace.NoopLogger{})
	if err != nil {
		return err
	}

	worker := telemetry.NewWorker(node, telemetry.WorkerConfig{Logger: p.logger})
	go worker.Run(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-worker.Deliveries():
				p.logger.Debug("echoing", "src", d.Src, "len", len(d.Data))
				if err := worker.Submit(ctx, telemetry.SendRequest{Dst: d.Src, Data: d.Data}); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// parseNodeID parses a console argument as a mesh address.
func parseNodeID(s string) (uint8, error) {
	id, err := strconv.ParseUint(s, 10, 8)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return uint8(id), nil
}
