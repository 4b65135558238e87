package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullDoc = `
node_id: 3
name: pump-room
serial_device: /dev/ttyACM0
baud: 921600
ssid: PLANT-MESH
passphrase: hunter22
channel: 6
mesh:
  port: 2050
  beacon_interval: 2s
  route_timeout: 12s
  max_hops: 3
trace:
  file: /var/log/pump.wtrace
  level: debug
gateway:
  trace_port: 9555
  advertise: true
`

func TestParseFullDocument(t *testing.T) {
	n, err := Parse([]byte(fullDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if n.NodeID != 3 || n.Name != "pump-room" {
		t.Errorf("identity mismatch: id %d name %q", n.NodeID, n.Name)
	}
	if n.SerialDevice != "/dev/ttyACM0" || n.Baud != 921600 {
		t.Errorf("serial mismatch: %q @ %d", n.SerialDevice, n.Baud)
	}
	if n.SSID != "PLANT-MESH" || n.Passphrase != "hunter22" || n.Channel != 6 {
		t.Errorf("network mismatch: %q/%q ch %d", n.SSID, n.Passphrase, n.Channel)
	}
	if n.Mesh.Port != 2050 || n.Mesh.MaxHops != 3 {
		t.Errorf("mesh mismatch: port %d hops %d", n.Mesh.Port, n.Mesh.MaxHops)
	}
	if n.Mesh.BeaconInterval.Std() != 2*time.Second {
		t.Errorf("beacon interval: expected 2s, got %s", n.Mesh.BeaconInterval.Std())
	}
	if n.Mesh.RouteTimeout.Std() != 12*time.Second {
		t.Errorf("route timeout: expected 12s, got %s", n.Mesh.RouteTimeout.Std())
	}
	if n.Trace.File != "/var/log/pump.wtrace" || n.Trace.Level != "debug" {
		t.Errorf("trace mismatch: %+v", n.Trace)
	}
	if n.Gateway.TracePort != 9555 || !n.Gateway.Advertise {
		t.Errorf("gateway mismatch: %+v", n.Gateway)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	n, err := Parse([]byte("node_id: 2\nname: sensor\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	def := Default()
	if n.SSID != def.SSID || n.Passphrase != def.Passphrase {
		t.Errorf("expected default credentials, got %q/%q", n.SSID, n.Passphrase)
	}
	if n.Mesh.Port != def.Mesh.Port {
		t.Errorf("expected default port %d, got %d", def.Mesh.Port, n.Mesh.Port)
	}
	if n.Mesh.BeaconInterval != def.Mesh.BeaconInterval {
		t.Errorf("expected default beacon interval, got %s", n.Mesh.BeaconInterval.Std())
	}
	if n.Baud != def.Baud {
		t.Errorf("expected default baud %d, got %d", def.Baud, n.Baud)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("node_id: 2\nname: x\nbecon_interval: 5s\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "becon_interval") {
		t.Errorf("error should name the unknown key, got: %v", err)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("node_id: 2\nname: x\nmesh:\n  beacon_interval: fast\n"))
	if err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Node)
	}{
		{"zero node id", func(n *Node) { n.NodeID = 0 }},
		{"broadcast node id", func(n *Node) { n.NodeID = 0xFF }},
		{"name too long", func(n *Node) { n.Name = "a-very-long-node-name" }},
		{"missing ssid", func(n *Node) { n.SSID = "" }},
		{"serial without baud", func(n *Node) { n.SerialDevice = "/dev/ttyACM0"; n.Baud = 0 }},
		{"zero port", func(n *Node) { n.Mesh.Port = 0 }},
		{"zero beacon interval", func(n *Node) { n.Mesh.BeaconInterval = 0 }},
		{"zero hop limit", func(n *Node) { n.Mesh.MaxHops = 0 }},
		{"bad trace level", func(n *Node) { n.Trace.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Default()
			n.NodeID = 2
			n.Name = "ok"
			tt.mutate(&n)
			if err := n.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("node_id: 7\nname: relay\n"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n.NodeID != 7 || n.Name != "relay" {
		t.Errorf("loaded wrong node: %+v", n)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMeshConfigMapping(t *testing.T) {
	n, err := Parse([]byte(fullDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg := n.MeshConfig()
	if cfg.NodeID != 3 || cfg.Name != "pump-room" {
		t.Errorf("identity not mapped: %+v", cfg)
	}
	if cfg.Port != 2050 || cfg.BeaconInterval != 2*time.Second || cfg.RouteTimeout != 12*time.Second || cfg.MaxHops != 3 {
		t.Errorf("mesh parameters not mapped: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("mapped config should validate: %v", err)
	}
}
