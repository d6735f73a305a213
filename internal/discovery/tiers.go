package discovery

import (
	"time"

	"espdeploy/internal/domain"
)

// TierSettings are the per-tier knobs exposed in configuration
type TierSettings struct {
	Timeout time.Duration
	Budget  time.Duration
}

// TierPlan describes the standard three tiers
type TierPlan struct {
	Known         TierSettings
	Priority      TierSettings
	Comprehensive TierSettings

	// KnownAddresses seed the first tier
	KnownAddresses []string
	// LikelyHosts are host parts tried on each prefix in the first tier
	LikelyHosts []int
	// Port overrides the device port, zero for 80
	Port int

	// MDNS, when set, adds announced boards to the first tier
	MDNS CandidateProvider
	// Sweeper, when set, reorders the comprehensive tier by open port
	Sweeper Sweeper
}

// DefaultDiscoveryBudget bounds a full scan of all three tiers with the
// default budgets
const DefaultDiscoveryBudget = 15 * time.Second

// DefaultTierPlan returns the standard timeouts and budgets
func DefaultTierPlan() TierPlan {
	return TierPlan{
		Known:          TierSettings{Timeout: 500 * time.Millisecond, Budget: 3 * time.Second},
		Priority:       TierSettings{Timeout: 1500 * time.Millisecond, Budget: 5 * time.Second},
		Comprehensive:  TierSettings{Timeout: 800 * time.Millisecond, Budget: 7 * time.Second},
		KnownAddresses: DefaultKnownAddresses,
		LikelyHosts:    DefaultLikelyHosts,
	}
}

// TotalBudget is the longest a non-exhaustive scan that finds nothing can take
func (p TierPlan) TotalBudget() time.Duration {
	return p.Known.Budget + p.Priority.Budget + p.Comprehensive.Budget
}

// Tiers builds the known, priority and comprehensive tiers
func (p TierPlan) Tiers() []Tier {
	known := Chain{
		withPortProvider(NewStatic(p.KnownAddresses...), p.Port),
		LikelyHosts{Hosts: p.LikelyHosts, Port: p.Port},
	}
	if p.MDNS != nil {
		known = append(known, p.MDNS)
	}

	var comprehensive CandidateProvider = HostRanges{Ranges: FullRange, Port: p.Port}
	if p.Sweeper != nil {
		comprehensive = NmapOrdered{Inner: comprehensive, Sweeper: p.Sweeper}
	}

	return []Tier{
		{Name: TierKnown, Timeout: p.Known.Timeout, Budget: p.Known.Budget, Candidates: known},
		{
			Name:       TierPriority,
			Timeout:    p.Priority.Timeout,
			Budget:     p.Priority.Budget,
			Candidates: HostRanges{Ranges: DefaultPriorityRanges, Port: p.Port},
		},
		{Name: TierComprehensive, Timeout: p.Comprehensive.Timeout, Budget: p.Comprehensive.Budget, Candidates: comprehensive},
	}
}

func withPortProvider(s Static, port int) Static {
	if port == 0 {
		return s
	}
	out := Static{Addresses: make([]domain.NetworkAddress, 0, len(s.Addresses))}
	for _, a := range s.Addresses {
		out.Addresses = append(out.Addresses, a.WithPort(port))
	}
	return out
}
