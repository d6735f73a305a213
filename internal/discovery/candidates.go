package discovery

import (
	"context"

	"espdeploy/internal/domain"
)

// CandidateProvider produces an ordered list of addresses to probe
type CandidateProvider interface {
	Candidates(ctx context.Context, prefixes []string) []domain.NetworkAddress
}

// ProviderFunc adapts a function to CandidateProvider
type ProviderFunc func(ctx context.Context, prefixes []string) []domain.NetworkAddress

// Candidates implements CandidateProvider
func (f ProviderFunc) Candidates(ctx context.Context, prefixes []string) []domain.NetworkAddress {
	return f(ctx, prefixes)
}

// DefaultKnownAddresses are addresses where boards on common home routers have
// historically been found
var DefaultKnownAddresses = []string{
	"192.168.0.238", "192.168.1.238",
	"192.168.0.200", "192.168.1.200",
	"192.168.0.100", "192.168.1.100",
}

// DefaultLikelyHosts are round-number host parts tried on every prefix
var DefaultLikelyHosts = []int{238, 200, 201, 100, 101, 150, 180, 120}

// DefaultPriorityRanges cover where DHCP servers usually hand out leases
var DefaultPriorityRanges = []Range{{100, 150}, {200, 254}, {10, 99}, {151, 199}}

// FullRange is the comprehensive sweep
var FullRange = []Range{{1, 254}}

// Static returns fixed addresses regardless of prefixes
type Static struct {
	Addresses []domain.NetworkAddress
}

// NewStatic parses address strings, skipping invalid ones
func NewStatic(addrs ...string) Static {
	var s Static
	for _, a := range addrs {
		if addr, err := domain.ParseAddress(a); err == nil {
			s.Addresses = append(s.Addresses, addr)
		}
	}
	return s
}

// Candidates implements CandidateProvider
func (s Static) Candidates(context.Context, []string) []domain.NetworkAddress {
	return append([]domain.NetworkAddress(nil), s.Addresses...)
}

// LikelyHosts applies the same host parts to every prefix, prefix-major
type LikelyHosts struct {
	Hosts []int
	Port  int
}

// Candidates implements CandidateProvider
func (l LikelyHosts) Candidates(_ context.Context, prefixes []string) []domain.NetworkAddress {
	var out []domain.NetworkAddress
	for _, p := range prefixes {
		for _, h := range l.Hosts {
			if addr, err := domain.AddressInPrefix(p, h); err == nil {
				out = append(out, withPort(addr, l.Port))
			}
		}
	}
	return out
}

// Range is an inclusive host-part range
type Range struct {
	From, To int
}

// HostRanges expands host-part ranges over every prefix, prefix-major
type HostRanges struct {
	Ranges []Range
	Port   int
}

// Candidates implements CandidateProvider
func (h HostRanges) Candidates(_ context.Context, prefixes []string) []domain.NetworkAddress {
	var out []domain.NetworkAddress
	for _, p := range prefixes {
		for _, r := range h.Ranges {
			for host := r.From; host <= r.To; host++ {
				if addr, err := domain.AddressInPrefix(p, host); err == nil {
					out = append(out, withPort(addr, h.Port))
				}
			}
		}
	}
	return out
}

// Chain concatenates providers in order, dropping duplicates
type Chain []CandidateProvider

// Candidates implements CandidateProvider
func (c Chain) Candidates(ctx context.Context, prefixes []string) []domain.NetworkAddress {
	var out []domain.NetworkAddress
	for _, p := range c {
		if p == nil {
			continue
		}
		out = append(out, p.Candidates(ctx, prefixes)...)
	}
	return Dedupe(out)
}

// Dedupe removes repeated addresses keeping first occurrence
func Dedupe(addrs []domain.NetworkAddress) []domain.NetworkAddress {
	seen := make(map[domain.NetworkAddress]bool, len(addrs))
	out := addrs[:0:0]
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func withPort(addr domain.NetworkAddress, port int) domain.NetworkAddress {
	if port == 0 {
		return addr
	}
	return addr.WithPort(port)
}
