package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/go-logr/logr"

	"espdeploy/internal/domain"
)

// Sweeper reports hosts with an open port across whole subnets
type Sweeper interface {
	Available(ctx context.Context) bool
	OpenHosts(ctx context.Context, prefixes []string) ([]domain.NetworkAddress, error)
}

// NmapSweeper runs a port sweep through the nmap binary
type NmapSweeper struct {
	ports             string
	timeout           time.Duration
	skipHostDiscovery bool
	log               logr.Logger
}

// NewNmapSweeper creates a sweeper for the device web port
func NewNmapSweeper(opts ...NmapOption) *NmapSweeper {
	s := &NmapSweeper{
		ports:             "80",
		timeout:           30 * time.Second,
		skipHostDiscovery: true,
		log:               logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available checks that the nmap binary runs
func (s *NmapSweeper) Available(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	)
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// OpenHosts sweeps each prefix as a /24 and returns hosts with the port open
func (s *NmapSweeper) OpenHosts(ctx context.Context, prefixes []string) ([]domain.NetworkAddress, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	targets := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		targets = append(targets, p+".0/24")
	}

	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPorts(s.ports),
	}
	if s.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	s.log.V(1).Info("Running nmap sweep", "targets", targets, "ports", s.ports)
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.log.V(1).Info("Nmap warnings", "warnings", *warnings)
	}

	return openHosts(result), nil
}

// openHosts extracts up IPv4 hosts that report at least one open port
func openHosts(result *nmap.Run) []domain.NetworkAddress {
	if result == nil {
		return nil
	}

	var out []domain.NetworkAddress
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}

		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			continue
		}

		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			if addr, err := domain.ParseAddress(ip); err == nil {
				out = append(out, addr.WithPort(int(port.ID)))
			}
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// NmapOrdered moves hosts the sweep found open to the front of the inner
// provider's list. Without nmap the inner order is kept.
type NmapOrdered struct {
	Inner   CandidateProvider
	Sweeper Sweeper
	Log     logr.Logger
}

// Candidates implements CandidateProvider
func (n NmapOrdered) Candidates(ctx context.Context, prefixes []string) []domain.NetworkAddress {
	base := n.Inner.Candidates(ctx, prefixes)
	if n.Sweeper == nil || !n.Sweeper.Available(ctx) {
		return base
	}

	open, err := n.Sweeper.OpenHosts(ctx, prefixes)
	if err != nil {
		n.Log.V(1).Info("Nmap sweep failed, using plain order", "error", err.Error())
		return base
	}

	hot := make(map[domain.NetworkAddress]bool, len(open))
	for _, a := range open {
		hot[a] = true
	}

	out := make([]domain.NetworkAddress, 0, len(base))
	for _, a := range base {
		if hot[a] {
			out = append(out, a)
		}
	}
	for _, a := range base {
		if !hot[a] {
			out = append(out, a)
		}
	}
	return out
}

// parsePorts validates a port list like "80,443" or "80-90"
func parsePorts(portRange string) (string, error) {
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return "", fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", bounds[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil || end < start || end > 65535 {
				return "", fmt.Errorf("invalid port number: %s", bounds[1])
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
