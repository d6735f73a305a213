package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"

	"espdeploy/internal/domain"
)

// Announcement is one mDNS service instance
type Announcement struct {
	Instance string
	Host     string
	IPv4     []string
	Port     int
	Text     []string
}

// Browser lists mDNS announcements for a service type
type Browser interface {
	Browse(ctx context.Context, service string) ([]Announcement, error)
}

// ZeroconfBrowser browses the local link with multicast DNS
type ZeroconfBrowser struct {
	Domain string
}

// Browse collects announcements until ctx ends
func (z ZeroconfBrowser) Browse(ctx context.Context, service string) ([]Announcement, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	domainName := z.Domain
	if domainName == "" {
		domainName = "local."
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var out []Announcement
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			a := Announcement{
				Instance: e.Instance,
				Host:     e.HostName,
				Port:     e.Port,
				Text:     e.Text,
			}
			for _, ip := range e.AddrIPv4 {
				a.IPv4 = append(a.IPv4, ip.String())
			}
			out = append(out, a)
		}
	}()

	if err := resolver.Browse(ctx, service, domainName, entries); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", service, err)
	}
	<-ctx.Done()
	<-done
	return out, nil
}

// MDNS turns announcements of the device's HTTP service into candidates.
// Only instances whose name or TXT records mention a known board are kept.
type MDNS struct {
	Browser Browser
	Service string
	Window  time.Duration
	Log     logr.Logger
}

// boardHints are matched case-insensitively against instance names and TXT records
var boardHints = []string{"esp8266", "esp-", "esp_", "nodemcu", "esp32"}

// Candidates implements CandidateProvider
func (m MDNS) Candidates(ctx context.Context, _ []string) []domain.NetworkAddress {
	if m.Browser == nil {
		return nil
	}
	service := m.Service
	if service == "" {
		service = "_http._tcp"
	}
	window := m.Window
	if window <= 0 {
		window = 1500 * time.Millisecond
	}

	bctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	found, err := m.Browser.Browse(bctx, service)
	if err != nil {
		m.Log.V(1).Info("mDNS browse failed", "error", err.Error())
		return nil
	}

	var out []domain.NetworkAddress
	for _, a := range found {
		if !looksLikeBoard(a) {
			continue
		}
		for _, ip := range a.IPv4 {
			addr, err := domain.ParseAddress(ip)
			if err != nil {
				continue
			}
			if a.Port > 0 {
				addr = addr.WithPort(a.Port)
			}
			m.Log.V(1).Info("mDNS candidate", "instance", a.Instance, "address", addr.String())
			out = append(out, addr)
		}
	}
	return Dedupe(out)
}

func looksLikeBoard(a Announcement) bool {
	fields := append([]string{a.Instance, a.Host}, a.Text...)
	for _, f := range fields {
		f = strings.ToLower(f)
		for _, hint := range boardHints {
			if strings.Contains(f, hint) {
				return true
			}
		}
	}
	return false
}
