package discovery

import (
	"time"

	"github.com/go-logr/logr"
)

// NmapOption is a functional option for configuring NmapSweeper
type NmapOption func(*NmapSweeper)

// WithSweepTimeout bounds the whole sweep
func WithSweepTimeout(d time.Duration) NmapOption {
	return func(s *NmapSweeper) {
		s.timeout = d
	}
}

// WithPortRange sets the ports to sweep
// Format: "80,443,8080" or "1-1000"
func WithPortRange(ports string) NmapOption {
	return func(s *NmapSweeper) {
		if validated, err := parsePorts(ports); err == nil {
			s.ports = validated
		}
	}
}

// WithSkipHostDiscovery sets whether to treat all hosts as online (-Pn).
// Boards often ignore ICMP while serving HTTP.
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(s *NmapSweeper) {
		s.skipHostDiscovery = skip
	}
}

// WithSweepLogger sets the logger
func WithSweepLogger(log logr.Logger) NmapOption {
	return func(s *NmapSweeper) {
		s.log = log
	}
}
