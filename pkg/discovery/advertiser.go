package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       120 * time.Second,
	}
}

// Advertiser registers one gateway instance over mDNS. A gateway has at
// most one registration at a time; Advertise replaces any previous one.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *Advertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise registers inst under the _wincmesh._tcp service type. The
// registration stays live until Stop or until ctx ends.
func (a *Advertiser) Advertise(ctx context.Context, inst *Instance) error {
	if inst.NodeID == 0 {
		return fmt.Errorf("%w: node id", ErrMissingRequired)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Replace any existing registration.
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instanceName := inst.InstanceName
	if instanceName == "" {
		instanceName = fmt.Sprintf("WINC-%03d", inst.NodeID)
	}
	if len(instanceName) > MaxInstanceNameLen {
		instanceName = instanceName[:MaxInstanceNameLen]
	}
	inst.InstanceName = instanceName

	txtStrings := TXTRecordsToStrings(EncodeInstanceTXT(inst))

	port := int(inst.Port)
	if port == 0 {
		port = DefaultTracePort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		txtStrings,
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register gateway service: %w", err)
	}

	a.server = server

	// Tear the registration down with the caller's context.
	go func() {
		<-ctx.Done()
		_ = a.Stop()
	}()

	return nil
}

// Stop withdraws the registration. Safe to call repeatedly.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
