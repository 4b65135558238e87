package discovery

import (
	"context"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browse behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to browse on.
	// Empty string means all interfaces.
	Interface string
}

// Browser finds gateway instances over mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates an mDNS browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse collects gateway instances for the given timeout. Entries seen
// on several interfaces are aggregated by instance name with their
// addresses merged. Entries whose TXT records do not parse are skipped.
func (b *Browser) Browse(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	if timeout <= 0 {
		timeout = BrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	done := make(chan []Instance, 1)
	go func() {
		byName := make(map[string]*Instance)
		var order []string
		ent, rem := entries, removed
		for {
			select {
			case entry, ok := <-ent:
				if !ok {
					ent = nil
					continue
				}
				inst := entryToInstance(entry)
				if inst == nil {
					continue
				}
				if existing, found := byName[inst.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, inst.Addresses)
					continue
				}
				byName[inst.InstanceName] = inst
				order = append(order, inst.InstanceName)

			case entry, ok := <-rem:
				if !ok {
					rem = nil
					continue
				}
				delete(byName, entry.Instance)

			case <-ctx.Done():
				var found []Instance
				for _, name := range order {
					if inst, ok := byName[name]; ok {
						found = append(found, *inst)
					}
				}
				done <- found
				return
			}
		}
	}()

	// Browse blocks until ctx ends.
	err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	found := <-done
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return found, nil
}

// FindByNodeID browses until the gateway with the given mesh id appears.
func (b *Browser) FindByNodeID(ctx context.Context, nodeID uint8, timeout time.Duration) (*Instance, error) {
	found, err := b.Browse(ctx, timeout)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].NodeID == nodeID {
			return &found[i], nil
		}
	}
	return nil, ErrNotFound
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToInstance converts a zeroconf entry to an Instance.
func entryToInstance(entry *zeroconf.ServiceEntry) *Instance {
	inst, err := DecodeInstanceTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	inst.InstanceName = entry.Instance
	inst.Host = entry.HostName
	inst.Port = uint16(entry.Port)
	inst.Addresses = addrs
	return inst
}

// mergeAddresses adds new addresses to the existing list, avoiding
// duplicates.
func mergeAddresses(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range more {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}
