// Command winc-gateway runs the access point node that bridges the mesh
// onto the host network.
//
// The gateway hosts the mesh carrier network, serves the live protocol
// trace stream over TCP, and announces itself over mDNS so tooling can
// find it without configuration. Incoming telemetry is logged.
//
// Usage:
//
//	winc-gateway [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-id uint           Mesh node id (default 1, the access point id)
//	-name string       Node display name (default "gateway")
//	-serial string     Serial bridge device, e.g. /dev/ttyACM0
//	-baud int          Serial line rate (default 115200)
//	-sim               Run against the built-in simulator
//	-trace string      Also write the protocol trace to a file
//	-trace-port uint   TCP port for the live trace stream (default 9555)
//	-advertise         Announce the gateway over mDNS (default true)
//	-discover          List gateways on the local network and exit
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Gateway on real hardware, discoverable on the LAN
//	winc-gateway -serial /dev/ttyACM0
//
//	# Simulated gateway with a trace file
//	winc-gateway -sim -trace gateway.wtrc
//
//	# Find running gateways
//	winc-gateway -discover
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/wincmesh/winc-go/pkg/bus"
	"github.com/wincmesh/winc-go/pkg/config"
	"github.com/wincmesh/winc-go/pkg/device"
	"github.com/wincmesh/winc-go/pkg/discovery"
	"github.com/wincmesh/winc-go/pkg/mesh"
	"github.com/wincmesh/winc-go/pkg/serialbridge"
	"github.com/wincmesh/winc-go/pkg/sim"
	"github.com/wincmesh/winc-go/pkg/telemetry"
	"github.com/wincmesh/winc-go/pkg/trace"
)

var (
	configFile = flag.String("config", "", "Configuration file path (YAML)")
	nodeID     = flag.Uint("id", 0, "Mesh node id")
	nodeName   = flag.String("name", "", "Node display name")
	serialDev  = flag.String("serial", "", "Serial bridge device, e.g. /dev/ttyACM0")
	baud       = flag.Int("baud", 0, "Serial line rate")
	simMode    = flag.Bool("sim", false, "Run against the built-in simulator")
	traceFile  = flag.String("trace", "", "Also write the protocol trace to a file")
	tracePort  = flag.Uint("trace-port", 0, "TCP port for the live trace stream")
	advertise  = flag.Bool("advertise", true, "Announce the gateway over mDNS")
	discover   = flag.Bool("discover", false, "List gateways on the local network and exit")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if *discover {
		if err := runDiscover(); err != nil {
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	switch cfg.Trace.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The stream server is a trace.Logger; chain a file logger behind it
	// when one is configured.
	stream := NewStreamServer(logger)
	if err := stream.Listen(fmt.Sprintf(":%d", cfg.Gateway.TracePort)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind trace stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	tracer := trace.Logger(stream)
	if cfg.Trace.File != "" {
		fl, err := trace.NewFileLogger(cfg.Trace.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open trace file: %v\n", err)
			os.Exit(1)
		}
		defer fl.Close()
		tracer = trace.NewMultiLogger(stream, fl)
	}

	session := uuid.NewString()

	var line busLine
	if *simMode {
		line = sim.NewAir().NewChip()
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

	node, dev, err := bringUp(ctx, line, cfg, session, logger, tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer dev.Stop()
	defer node.Stop()

	logger.Info("gateway up",
		"id", cfg.NodeID,
		"name", cfg.Name,
		"firmware", dev.Info().Firmware.String(),
		"trace_port", cfg.Gateway.TracePort,
		"session", session)

	if cfg.Gateway.Advertise {
		adv := discovery.NewAdvertiser(discovery.DefaultAdvertiserConfig())
		role := discovery.RoleStation
		if dev.WiFi().APMode() {
			role = discovery.RoleAP
		}
		inst := &discovery.Instance{
			NodeID:     cfg.NodeID,
			Name:       cfg.Name,
			Firmware:   dev.Info().Firmware.String(),
			Role:       role,
			Port:       cfg.Gateway.TracePort,
			InstanceID: uuid.NewString(),
		}
		if err := adv.Advertise(ctx, inst); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
			logger.Info("advertising", "service", discovery.ServiceType, "instance", inst.InstanceName)
		}
	}

	worker := telemetry.NewWorker(node, telemetry.WorkerConfig{Logger: logger})
	go worker.Run(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-worker.Deliveries():
				logger.Info("telemetry", "src", d.Src, "len", len(d.Data), "payload", string(d.Data))
			}
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())
}

// loadConfig merges defaults, the optional config file, and explicit
// flag overrides. The gateway defaults to the access point id.
func loadConfig() (config.Node, error) {
	cfg := config.Default()
	cfg.NodeID = mesh.DefaultConfig().APNodeID
	cfg.Name = "gateway"
	cfg.Gateway.TracePort = discovery.DefaultTracePort
	cfg.Gateway.Advertise = true

	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return config.Node{}, err
		}
		cfg = loaded
		if cfg.Gateway.TracePort == 0 {
			cfg.Gateway.TracePort = discovery.DefaultTracePort
		}
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
		case "trace":
			cfg.Trace.File = *traceFile
		case "trace-port":
			cfg.Gateway.TracePort = uint16(*tracePort)
		case "advertise":
			cfg.Gateway.Advertise = *advertise
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

// busLine is a bus that also exposes the chip's interrupt line.
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

// runDiscover browses the local network and prints every gateway found.
func runDiscover() error {
	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	fmt.Printf("Browsing %s for %s...\n", discovery.ServiceType, discovery.BrowseTimeout)

	found, err := browser.Browse(context.Background(), discovery.BrowseTimeout)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No gateways found")
		return nil
	}

	fmt.Printf("\nFound %d gateway(s):\n\n", len(found))
	for _, inst := range found {
		fmt.Printf("  %s\n", inst.InstanceName)
		fmt.Printf("      Node:      %d (%s)\n", inst.NodeID, inst.Name)
		fmt.Printf("      Role:      %s\n", inst.Role)
		if inst.Firmware != "" {
			fmt.Printf("      Firmware:  %s\n", inst.Firmware)
		}
		fmt.Printf("      Trace:     %s:%d\n", inst.Host, inst.Port)
		if len(inst.Addresses) > 0 {
			fmt.Printf("      Addresses: %s\n", strings.Join(inst.Addresses, ", "))
		}
		fmt.Println()
	}
	return nil
}
