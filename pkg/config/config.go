package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wincmesh/winc-go/pkg/mesh"
)

var (
	// ErrInvalid is returned by Validate for out-of-range values.
	ErrInvalid = errors.New("config: invalid value")
)

// Duration wraps time.Duration so YAML files can write "5s" or "2m30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Mesh holds the timing and addressing overrides for the mesh layer.
// Zero fields fall back to the stock network parameters.
type Mesh struct {
	// Port is the well-known mesh UDP port.
	Port uint16 `yaml:"port"`

	// BeaconInterval is the period between discovery broadcasts.
	BeaconInterval Duration `yaml:"beacon_interval"`

	// RouteTimeout ages unrefreshed routes out of the table.
	RouteTimeout Duration `yaml:"route_timeout"`

	// MaxHops is the relay budget for data packets.
	MaxHops uint8 `yaml:"max_hops"`
}

// Trace configures protocol event capture.
type Trace struct {
	// File receives CBOR trace records. Empty disables file tracing.
	File string `yaml:"file"`

	// Level is the debug log level: debug, info, warn or error.
	Level string `yaml:"level"`
}

// Gateway configures the gateway-only surfaces.
type Gateway struct {
	// TracePort serves the live trace stream over TCP.
	TracePort uint16 `yaml:"trace_port"`

	// Advertise announces the gateway over mDNS.
	Advertise bool `yaml:"advertise"`
}

// Node is one node's configuration file.
type Node struct {
	// NodeID is the mesh address, unique within the network.
	NodeID uint8 `yaml:"node_id"`

	// Name is the display name carried in beacons, at most 15 bytes.
	Name string `yaml:"name"`

	// SerialDevice is the UART bridge port, e.g. /dev/ttyACM0. Empty
	// selects the simulated chip.
	SerialDevice string `yaml:"serial_device"`

	// Baud is the UART line rate.
	Baud int `yaml:"baud"`

	// SSID and Passphrase select the carrier network.
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`

	// Channel used when this node serves the access point.
	Channel uint8 `yaml:"channel"`

	Mesh    Mesh    `yaml:"mesh"`
	Trace   Trace   `yaml:"trace"`
	Gateway Gateway `yaml:"gateway"`
}

// Default returns a Node seeded with the stock network parameters.
// NodeID and Name still have to be set.
func Default() Node {
	m := mesh.DefaultConfig()
	return Node{
		SSID:       m.SSID,
		Passphrase: m.Passphrase,
		Channel:    m.Channel,
		Baud:       115200,
		Mesh: Mesh{
			Port:           m.Port,
			BeaconInterval: Duration(m.BeaconInterval),
			RouteTimeout:   Duration(m.RouteTimeout),
			MaxHops:        m.MaxHops,
		},
		Trace: Trace{Level: "info"},
	}
}

// Parse decodes a Node from YAML bytes, rejecting unknown keys. Fields
// absent from the document keep the Default values.
func Parse(data []byte) (Node, error) {
	n := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&n); err != nil && !errors.Is(err, io.EOF) {
		return Node{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := n.Validate(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// Load reads and parses the file at path.
func Load(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Node{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	n, err := Parse(data)
	if err != nil {
		return Node{}, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Validate checks the configuration for a usable node.
func (n *Node) Validate() error {
	if n.NodeID == 0 || n.NodeID == mesh.Broadcast {
		return fmt.Errorf("%w: node_id %d", ErrInvalid, n.NodeID)
	}
	if len(n.Name) > 15 {
		return fmt.Errorf("%w: name %q longer than 15 bytes", ErrInvalid, n.Name)
	}
	if n.SSID == "" {
		return fmt.Errorf("%w: missing ssid", ErrInvalid)
	}
	if n.SerialDevice != "" && n.Baud <= 0 {
		return fmt.Errorf("%w: baud %d", ErrInvalid, n.Baud)
	}
	if n.Mesh.Port == 0 {
		return fmt.Errorf("%w: mesh port 0", ErrInvalid)
	}
	if n.Mesh.BeaconInterval <= 0 || n.Mesh.RouteTimeout <= 0 {
		return fmt.Errorf("%w: non-positive mesh interval", ErrInvalid)
	}
	if n.Mesh.MaxHops == 0 {
		return fmt.Errorf("%w: zero hop limit", ErrInvalid)
	}
	switch n.Trace.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: trace level %q", ErrInvalid, n.Trace.Level)
	}
	return nil
}

// MeshConfig maps the node file onto the mesh layer's configuration.
func (n *Node) MeshConfig() mesh.Config {
	cfg := mesh.DefaultConfig()
	cfg.NodeID = n.NodeID
	cfg.Name = n.Name
	cfg.SSID = n.SSID
	cfg.Passphrase = n.Passphrase
	cfg.Channel = n.Channel
	cfg.Port = n.Mesh.Port
	cfg.BeaconInterval = n.Mesh.BeaconInterval.Std()
	cfg.RouteTimeout = n.Mesh.RouteTimeout.Std()
	cfg.MaxHops = n.Mesh.MaxHops
	return cfg
}
