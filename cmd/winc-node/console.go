package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/wincmesh/winc-go/pkg/config"
	"github.com/wincmesh/winc-go/pkg/device"
	"github.com/wincmesh/winc-go/pkg/mesh"
	"github.com/wincmesh/winc-go/pkg/telemetry"
)

// Console is the interactive operator interface. The telemetry worker
// owns the node; the console only submits requests and reads the
// mutex-guarded views, so it never touches the bus itself.
type Console struct {
	cfg    config.Node
	dev    *device.Device
	node   *mesh.Node
	worker *telemetry.Worker
	level  *slog.LevelVar
	rl     *readline.Instance

	verbose bool
}

// NewConsole creates the interactive console.
func NewConsole(cfg config.Node, dev *device.Device, node *mesh.Node, worker *telemetry.Worker, level *slog.LevelVar) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("node-%d> ", cfg.NodeID),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		cfg:    cfg,
		dev:    dev,
		node:   node,
		worker: worker,
		level:  level,
		rl:     rl,
	}, nil
}

// Close releases the terminal.
func (c *Console) Close() {
	c.rl.Close()
}

// PrintDelivery shows an incoming payload without clobbering the prompt.
func (c *Console) PrintDelivery(src uint8, data []byte) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] from %d: %q\n",
		time.Now().Format("15:04:05"), src, data)
	c.rl.Refresh()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "send", "s":
			c.cmdSend(ctx, args)

		case "routes", "r":
			c.cmdRoutes()

		case "status":
			c.cmdStatus()

		case "stats":
			c.cmdStats()

		case "verbose", "v":
			c.cmdVerbose()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
WINC Node Commands:
  send <id> <text>   - Send a payload to a mesh node (id 255 = broadcast)
  routes             - Show the routing table
  status             - Show device, link and mesh status
  stats              - Show telemetry traffic counters
  verbose            - Toggle debug logging
  help               - Show this help
  quit               - Exit node`)
}

// cmdSend queues one payload for the worker to transmit.
func (c *Console) cmdSend(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <id> <text>")
		return
	}

	dst, err := parseNodeID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	text := strings.Join(args[1:], " ")
	if err := c.worker.Submit(ctx, telemetry.SendRequest{Dst: dst, Data: []byte(text)}); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Queued %d bytes to node %d\n", len(text), dst)
}

// cmdRoutes prints the routing table.
func (c *Console) cmdRoutes() {
	count := c.node.RouteCount()
	if count == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No routes")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\nRoutes (%d):\n", count)
	fmt.Fprintln(c.rl.Stdout(), "  dest  via   hops  age")
	fmt.Fprintln(c.rl.Stdout(), "  ----  ----  ----  -------")
	c.node.ForEachRoute(func(r mesh.Route) bool {
		fmt.Fprintf(c.rl.Stdout(), "  %-4d  %-4d  %-4d  %s\n",
			r.NodeID, r.NextHop, r.HopCount, r.Age.Round(time.Millisecond))
		return true
	})
	fmt.Fprintln(c.rl.Stdout())
}

// cmdStatus prints device, link and mesh state.
func (c *Console) cmdStatus() {
	info := c.dev.Info()
	lease := c.dev.WiFi().Lease()

	role := "station"
	if c.dev.WiFi().APMode() {
		role = "ap"
	}

	fmt.Fprintln(c.rl.Stdout(), "\nNode Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Node:      %d (%s)\n", c.cfg.NodeID, c.cfg.Name)
	fmt.Fprintf(c.rl.Stdout(), "  Device:    %s\n", c.dev.State())
	fmt.Fprintf(c.rl.Stdout(), "  Chip:      %#x rev %d, firmware %s\n", info.ChipID, info.Revision, info.Firmware)
	fmt.Fprintf(c.rl.Stdout(), "  MAC:       % x\n", info.MAC)
	fmt.Fprintf(c.rl.Stdout(), "  Session:   %s\n", c.dev.Session())
	fmt.Fprintf(c.rl.Stdout(), "  Link:      %s (%s)\n", c.dev.WiFi().State(), role)
	if lease.Addr.IsValid() {
		fmt.Fprintf(c.rl.Stdout(), "  Address:   %s (gw %s)\n", lease.Addr, lease.Gateway)
	}
	fmt.Fprintf(c.rl.Stdout(), "  Routes:    %d\n", c.node.RouteCount())
	fmt.Fprintln(c.rl.Stdout())
}

// cmdStats prints the telemetry counters.
func (c *Console) cmdStats() {
	snap := c.worker.Stats()
	fmt.Fprintln(c.rl.Stdout(), "\nTraffic Counters")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Sent:         %d\n", snap.Sent)
	fmt.Fprintf(c.rl.Stdout(), "  Delivered:    %d\n", snap.Delivered)
	fmt.Fprintf(c.rl.Stdout(), "  CRC failures: %d\n", snap.CRCFailures)
	fmt.Fprintf(c.rl.Stdout(), "  Duplicates:   %d\n", snap.Duplicates)
	fmt.Fprintf(c.rl.Stdout(), "  Votes:        %d\n", snap.Votes)
	fmt.Fprintln(c.rl.Stdout())
}

// cmdVerbose toggles debug logging.
func (c *Console) cmdVerbose() {
	c.verbose = !c.verbose
	if c.verbose {
		c.level.Set(slog.LevelDebug)
		fmt.Fprintln(c.rl.Stdout(), "Verbose logging on")
	} else {
		c.level.Set(slog.LevelInfo)
		fmt.Fprintln(c.rl.Stdout(), "Verbose logging off")
	}
}
