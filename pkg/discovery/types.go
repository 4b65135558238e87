package discovery

import (
	"errors"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the mDNS service type gateways register under.
	ServiceType = "_wincmesh._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultTracePort is the default port of the gateway trace stream.
	DefaultTracePort = 9555
)

// TXT record key constants.
const (
	TXTKeyNodeID     = "id"   // mesh node id, decimal
	TXTKeyName       = "name" // node display name
	TXTKeyFirmware   = "fw"   // chip firmware version (optional)
	TXTKeyRole       = "role" // "ap" or "station"
	TXTKeyInstanceID = "uuid" // process instance id (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Discovery errors.
var (
	ErrMissingRequired  = errors.New("missing required field")
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrNotFound         = errors.New("service not found")
)

// Role is the gateway's position in the mesh.
type Role uint8

const (
	// RoleStation joined the carrier network as a client.
	RoleStation Role = iota

	// RoleAP serves the carrier network.
	RoleAP
)

// String returns the role's TXT record form.
func (r Role) String() string {
	if r == RoleAP {
		return "ap"
	}
	return "station"
}

// parseRole is the inverse of Role.String.
func parseRole(s string) (Role, error) {
	switch s {
	case "ap":
		return RoleAP, nil
	case "station":
		return RoleStation, nil
	default:
		return 0, ErrInvalidTXTRecord
	}
}

// Instance describes one advertised gateway. The mesh fields come from
// TXT records; the host fields from mDNS resolution.
type Instance struct {
	// InstanceName is the mDNS instance name (e.g. "WINC-001").
	InstanceName string

	// Host is the hostname (e.g. "gateway.local").
	Host string

	// Port is the trace stream port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// NodeID is the gateway's mesh address (from TXT "id").
	NodeID uint8

	// Name is the node display name (from TXT "name").
	Name string

	// Firmware is the chip firmware version (from TXT "fw").
	Firmware string

	// Role is the gateway's carrier-network role (from TXT "role").
	Role Role

	// InstanceID distinguishes restarts of the same node (from TXT "uuid").
	InstanceID string
}
