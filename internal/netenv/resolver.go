// Package netenv detects which private subnets the host is attached to.
package netenv

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/go-logr/logr"
	"github.com/jackpal/gateway"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// FallbackPrefixes are used when no private interface is found
var FallbackPrefixes = []string{"192.168.1", "192.168.0", "10.0.0"}

// Interface is the subset of interface data the resolver needs
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []string // CIDR notation, e.g. "192.168.1.42/24"
}

// InterfaceSource lists host network interfaces
type InterfaceSource interface {
	Interfaces(ctx context.Context) ([]Interface, error)
}

// GatewaySource returns the default gateway address
type GatewaySource interface {
	Gateway() (net.IP, error)
}

// Resolver produces the ordered list of subnet prefixes to scan
type Resolver struct {
	interfaces InterfaceSource
	gateway    GatewaySource
	extra      []string
	log        logr.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithInterfaceSource replaces OS interface enumeration
func WithInterfaceSource(src InterfaceSource) Option {
	return func(r *Resolver) { r.interfaces = src }
}

// WithGatewaySource replaces default gateway detection; nil disables it
func WithGatewaySource(src GatewaySource) Option {
	return func(r *Resolver) { r.gateway = src }
}

// WithExtraPrefixes appends configured prefixes after detected ones
func WithExtraPrefixes(prefixes ...string) Option {
	return func(r *Resolver) { r.extra = append(r.extra, prefixes...) }
}

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates a resolver reading the OS configuration
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		interfaces: SystemInterfaces{},
		gateway:    SystemGateway{},
		log:        logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefixes returns private three-octet prefixes, gateway subnet first.
// It never fails: when nothing qualifies the fallback list is returned.
func (r *Resolver) Prefixes(ctx context.Context) []string {
	var prefixes []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}

	if r.gateway != nil {
		if ip, err := r.gateway.Gateway(); err == nil {
			if p, ok := PrivatePrefix(ip); ok {
				r.log.V(1).Info("Default gateway on private subnet", "gateway", ip.String(), "prefix", p)
				add(p)
			}
		} else {
			r.log.V(1).Info("Gateway detection failed", "error", err.Error())
		}
	}

	ifaces, err := r.interfaces.Interfaces(ctx)
	if err != nil {
		r.log.Error(err, "Interface enumeration failed, using fallback prefixes")
	}
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop || isVirtual(iface.Name) {
			continue
		}
		for _, cidr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(cidr)
			if err != nil {
				ip = net.ParseIP(cidr)
			}
			if p, ok := PrivatePrefix(ip); ok {
				r.log.V(1).Info("Private interface", "name", iface.Name, "addr", cidr)
				add(p)
			}
		}
	}

	for _, p := range r.extra {
		add(strings.TrimSuffix(strings.TrimSpace(p), "."))
	}

	if len(prefixes) == 0 {
		r.log.Info("No private subnet detected, using fallback prefixes", "prefixes", FallbackPrefixes)
		return append([]string(nil), FallbackPrefixes...)
	}
	return prefixes
}

// PrivatePrefix returns the three-octet prefix when ip is in 192.168/16 or 10/8
func PrivatePrefix(ip net.IP) (string, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", false
	}
	if (ip4[0] == 192 && ip4[1] == 168) || ip4[0] == 10 {
		return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), true
	}
	return "", false
}

// isVirtual skips interfaces commonly created by container runtimes
func isVirtual(name string) bool {
	for _, p := range []string{"veth", "docker", "br-", "cni", "flannel"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// SystemInterfaces enumerates interfaces through gopsutil
type SystemInterfaces struct{}

// Interfaces implements InterfaceSource
func (SystemInterfaces) Interfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	out := make([]Interface, 0, len(stats))
	for _, st := range stats {
		iface := Interface{Name: st.Name}
		for _, f := range st.Flags {
			switch f {
			case "up":
				iface.Up = true
			case "loopback":
				iface.Loop = true
			}
		}
		for _, a := range st.Addrs {
			iface.Addrs = append(iface.Addrs, a.Addr)
		}
		out = append(out, iface)
	}
	return out, nil
}

// SystemGateway discovers the default gateway from the routing table
type SystemGateway struct{}

// Gateway implements GatewaySource
func (SystemGateway) Gateway() (net.IP, error) {
	return gateway.DiscoverGateway()
}
