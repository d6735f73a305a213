// Package discovery finds a freshly flashed board on the local network.
//
// Candidates are probed in tiers, cheapest and most likely first. A candidate
// counts as found only when port 80 accepts a connection and the device
// identifier confirms the firmware. Outside exhaustive mode the first
// confirmation ends the scan and outstanding probes are abandoned.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"espdeploy/internal/device"
	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
)

// Tier names
const (
	TierKnown         = "known"
	TierPriority      = "priority"
	TierComprehensive = "comprehensive"
)

// Dialer performs the transport-level check
type Dialer interface {
	DialTCP(ctx context.Context, addr domain.NetworkAddress, timeout time.Duration) domain.ProbeResult
}

// Confirmer performs the identity check
type Confirmer interface {
	Identify(ctx context.Context, addr domain.NetworkAddress) (*device.Identification, error)
}

// PrefixSource supplies subnet prefixes to expand candidates over
type PrefixSource interface {
	Prefixes(ctx context.Context) []string
}

// Tier is one bounded phase of the scan
type Tier struct {
	Name string
	// Timeout bounds each TCP connect
	Timeout time.Duration
	// Budget bounds the whole tier; zero means only the caller's context applies
	Budget     time.Duration
	Candidates CandidateProvider
}

// Config holds scanner settings
type Config struct {
	// Workers bounds parallel probes within a tier
	Workers int
	// IdentifyTimeout bounds the identity check after a successful connect
	IdentifyTimeout time.Duration
}

// DefaultConfig returns the scanner defaults
func DefaultConfig() Config {
	return Config{
		Workers:         16,
		IdentifyTimeout: 3 * time.Second,
	}
}

// Found is a confirmed device
type Found struct {
	Address        domain.NetworkAddress
	Tier           string
	Identification *device.Identification
	Latency        time.Duration
}

// Result summarizes a scan
type Result struct {
	Devices  []Found
	Prefixes []string
	// Probed counts addresses probed per tier
	Probed   map[string]int
	Tiers    []string
	Duration time.Duration
}

// Addresses returns confirmed addresses in discovery order
func (r *Result) Addresses() []domain.NetworkAddress {
	out := make([]domain.NetworkAddress, 0, len(r.Devices))
	for _, d := range r.Devices {
		out = append(out, d.Address)
	}
	return out
}

// ScanOptions adjusts one scan
type ScanOptions struct {
	// Known addresses are probed first, ahead of the known tier's candidates
	Known []domain.NetworkAddress
	// Exhaustive keeps scanning every tier after the first confirmation
	Exhaustive bool
}

// Scanner runs tiered discovery
type Scanner struct {
	config    Config
	tiers     []Tier
	prefixes  PrefixSource
	dialer    Dialer
	confirmer Confirmer
	metrics   metrics.Collector
	publisher EventPublisher
	log       logr.Logger

	mu       sync.Mutex
	scanning bool
}

// NewScanner creates a scanner over the given tiers
func NewScanner(config Config, tiers []Tier, prefixes PrefixSource, dialer Dialer, confirmer Confirmer) *Scanner {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.IdentifyTimeout <= 0 {
		config.IdentifyTimeout = DefaultConfig().IdentifyTimeout
	}
	return &Scanner{
		config:    config,
		tiers:     tiers,
		prefixes:  prefixes,
		dialer:    dialer,
		confirmer: confirmer,
		metrics:   metrics.Nop{},
		log:       logr.Discard(),
	}
}

// SetMetrics sets the metrics collector
func (s *Scanner) SetMetrics(m metrics.Collector) {
	s.metrics = m
}

// SetEventPublisher sets the event publisher for progress updates
func (s *Scanner) SetEventPublisher(pub EventPublisher) {
	s.publisher = pub
}

// SetLogger sets the logger
func (s *Scanner) SetLogger(log logr.Logger) {
	s.log = log
}

func (s *Scanner) publish(eventType string, payload map[string]interface{}) {
	if s.publisher != nil {
		s.publisher.PublishDiscoveryEvent(eventType, payload)
	}
}

// Scan probes tiers in order until a device is confirmed. An empty result is
// not an error; errors are reserved for a concurrent scan or a cancelled context.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*Result, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	s.scanning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	start := time.Now()
	result := &Result{Probed: make(map[string]int)}
	if s.prefixes != nil {
		result.Prefixes = s.prefixes.Prefixes(ctx)
	}

	s.log.Info("Starting discovery", "prefixes", result.Prefixes, "tiers", len(s.tiers), "exhaustive", opts.Exhaustive)
	s.publish(EventStarted, map[string]interface{}{
		"prefixes": result.Prefixes,
		"message":  fmt.Sprintf("Scanning %d subnet(s)", len(result.Prefixes)),
	})

	probed := make(map[domain.NetworkAddress]bool)

	for i, tier := range s.tiers {
		if ctx.Err() != nil {
			break
		}

		var candidates []domain.NetworkAddress
		if i == 0 {
			candidates = append(candidates, opts.Known...)
		}
		if tier.Candidates != nil {
			candidates = append(candidates, tier.Candidates.Candidates(ctx, result.Prefixes)...)
		}
		candidates = unprobed(Dedupe(candidates), probed)

		result.Tiers = append(result.Tiers, tier.Name)
		s.log.V(1).Info("Tier started", "tier", tier.Name, "candidates", len(candidates), "timeout", tier.Timeout)
		s.publish(EventTierStarted, map[string]interface{}{
			"tier":       tier.Name,
			"candidates": len(candidates),
			"message":    fmt.Sprintf("Tier %s: %d candidates", tier.Name, len(candidates)),
		})

		found, count := s.runTier(ctx, tier, candidates, opts.Exhaustive)
		result.Probed[tier.Name] += count
		result.Devices = append(result.Devices, found...)

		s.publish(EventTierComplete, map[string]interface{}{
			"tier":   tier.Name,
			"probed": count,
			"found":  len(found),
		})

		if len(result.Devices) > 0 && !opts.Exhaustive {
			break
		}
	}

	result.Duration = time.Since(start)
	s.log.Info("Discovery finished", "found", len(result.Devices), "duration", result.Duration.Round(time.Millisecond))
	s.publish(EventComplete, map[string]interface{}{
		"found":    len(result.Devices),
		"duration": result.Duration.String(),
	})

	if err := ctx.Err(); err != nil && len(result.Devices) == 0 {
		return result, err
	}
	return result, nil
}

// runTier probes candidates with bounded parallelism. Results are collected by
// this goroutine only. Outside exhaustive mode it returns on the first
// confirmation and leaves cancelled probes to wind down on their own.
func (s *Scanner) runTier(ctx context.Context, tier Tier, candidates []domain.NetworkAddress, exhaustive bool) ([]Found, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	parent := ctx
	if tier.Budget > 0 {
		var stop context.CancelFunc
		parent, stop = context.WithTimeout(ctx, tier.Budget)
		defer stop()
	}
	tierCtx, cancel := context.WithCancel(parent)
	defer cancel()

	found := make(chan Found)
	allDone := make(chan struct{})

	var mu sync.Mutex
	probed := 0

	g, gctx := errgroup.WithContext(tierCtx)
	g.SetLimit(s.config.Workers)

	go func() {
		defer close(allDone)
		for _, addr := range candidates {
			if gctx.Err() != nil {
				break
			}
			addr := addr
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				mu.Lock()
				probed++
				mu.Unlock()

				f, ok := s.probe(gctx, tier, addr)
				if !ok {
					return nil
				}
				select {
				case found <- f:
				case <-gctx.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return probed
	}

	var results []Found
	for {
		select {
		case f := <-found:
			results = append(results, f)
			s.metrics.DeviceConfirmed(tier.Name)
			s.log.Info("Device confirmed", "address", f.Address.String(), "tier", tier.Name)
			s.publish(EventConfirmed, map[string]interface{}{
				"address": f.Address.String(),
				"tier":    tier.Name,
				"message": fmt.Sprintf("ESP8266 confirmed at %s", f.Address),
			})
			if !exhaustive {
				cancel()
				return results, count()
			}
		case <-allDone:
			return results, count()
		case <-tierCtx.Done():
			if ctx.Err() == nil {
				s.log.V(1).Info("Tier budget exhausted", "tier", tier.Name, "budget", tier.Budget)
			}
			return results, count()
		}
	}
}

// probe applies the confirmation bar: TCP success on the device port and
// identity confirmation
func (s *Scanner) probe(ctx context.Context, tier Tier, addr domain.NetworkAddress) (Found, bool) {
	s.metrics.CandidateScanned(tier.Name)

	res := s.dialer.DialTCP(ctx, addr, tier.Timeout)
	if !res.TransportReachable {
		return Found{}, false
	}

	idCtx, cancel := context.WithTimeout(ctx, s.config.IdentifyTimeout)
	defer cancel()

	id, err := s.confirmer.Identify(idCtx, addr)
	if err != nil {
		s.log.V(2).Info("Reachable host not confirmed", "address", addr.String(), "reason", err.Error())
		return Found{}, false
	}

	return Found{Address: addr, Tier: tier.Name, Identification: id, Latency: res.Latency}, true
}

// unprobed drops addresses already probed by earlier tiers and marks the rest
func unprobed(addrs []domain.NetworkAddress, probed map[domain.NetworkAddress]bool) []domain.NetworkAddress {
	out := addrs[:0:0]
	for _, a := range addrs {
		if probed[a] {
			continue
		}
		probed[a] = true
		out = append(out, a)
	}
	return out
}
