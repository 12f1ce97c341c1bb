/*
tiers.go - Share percentage resolution

PURPOSE:
  Decides what percentage of the insurer commission the policy's source
  receives. Every path (tier, fallback tier, own percentage, org default)
  goes through ShareResolver so defaults are data, not magic numbers.

LOOKUP ORDER:
  employee: org default EmployeePercent
  agent:    agent tier -> tier named AgentFallbackTierName -> agent's own
            percentage -> org default AgentPercent
  misp:     misp tier -> misp's own percentage -> org default MispPercent
  direct:   0 (everything stays with the broker)

DEFAULTS:
  DefaultTierConfig is versioned per org. The newest version whose
  EffectiveFrom is not after the run's as-of time applies. Orgs without
  any record use StandardDefaults().
*/
package commission

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DEFAULT TIER CONFIGURATION
// =============================================================================

// DefaultTierConfig holds the auditable per-org fallbacks.
type DefaultTierConfig struct {
	OrgID                 string
	Version               int
	EffectiveFrom         time.Time
	EmployeePercent       decimal.Decimal
	AgentPercent          decimal.Decimal
	MispPercent           decimal.Decimal
	AgentFallbackTierName string
}

// StandardDefaults is the baseline applied when an org has no configuration.
func StandardDefaults() DefaultTierConfig {
	return DefaultTierConfig{
		Version:               0,
		EmployeePercent:       decimal.NewFromInt(60),
		AgentPercent:          decimal.NewFromInt(70),
		MispPercent:           decimal.NewFromInt(50),
		AgentFallbackTierName: "Bronze",
	}
}

// Validate checks every percentage is within [0, 100].
func (c DefaultTierConfig) Validate() error {
	for _, p := range []decimal.Decimal{c.EmployeePercent, c.AgentPercent, c.MispPercent} {
		if p.IsNegative() || p.GreaterThan(hundred) {
			return ErrInvalidShare
		}
	}
	return nil
}

// EffectiveDefaults picks the newest config effective at asOf.
func EffectiveDefaults(configs []DefaultTierConfig, asOf time.Time) DefaultTierConfig {
	sorted := make([]DefaultTierConfig, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version > sorted[j].Version
	})
	for _, c := range sorted {
		if !c.EffectiveFrom.After(asOf) {
			return c
		}
	}
	d := StandardDefaults()
	if len(configs) > 0 {
		d.OrgID = configs[0].OrgID
	}
	return d
}

// =============================================================================
// SHARE RESOLVER
// =============================================================================

// Share is a resolved source share.
type Share struct {
	Percent decimal.Decimal
	Basis   ShareBasis
	TierID  string
}

// ShareResolver walks the tier lookup path for one source.
type ShareResolver struct {
	Sources  SourceStore
	Tiers    TierStore
	Defaults DefaultsStore
}

// EffectiveDefaults loads the org's effective default tier configuration.
func (s *ShareResolver) EffectiveDefaults(ctx context.Context, org OrgContext) (DefaultTierConfig, error) {
	if s.Defaults == nil {
		return StandardDefaults(), nil
	}
	configs, err := s.Defaults.DefaultTierConfigs(ctx, org.OrgID)
	if err != nil {
		return DefaultTierConfig{}, err
	}
	return EffectiveDefaults(configs, org.Now()), nil
}

// Resolve returns the share for a policy's source. A missing source record
// (ErrNotFound) falls through to the org default; any other store failure is
// returned so the caller can degrade.
func (s *ShareResolver) Resolve(ctx context.Context, org OrgContext, defaults DefaultTierConfig, typ SourceType, sourceID *string) (Share, error) {
	switch typ {
	case SourceEmployee:
		return Share{Percent: defaults.EmployeePercent, Basis: BasisOrgDefault}, nil
	case SourceAgent:
		return s.resolveTiered(ctx, org, typ, sourceID, defaults.AgentFallbackTierName, defaults.AgentPercent)
	case SourceMisp:
		return s.resolveTiered(ctx, org, typ, sourceID, "", defaults.MispPercent)
	default:
		return Share{Percent: decimal.Zero, Basis: BasisDirect}, nil
	}
}

func (s *ShareResolver) resolveTiered(ctx context.Context, org OrgContext, typ SourceType, sourceID *string, fallbackTier string, orgDefault decimal.Decimal) (Share, error) {
	var src *Source
	if sourceID != nil && *sourceID != "" {
		found, err := s.Sources.GetSource(ctx, org.OrgID, typ, *sourceID)
		switch {
		case err == nil:
			src = found
		case errors.Is(err, ErrNotFound):
		default:
			return Share{}, &LookupError{Lookup: "source", Err: err}
		}
	}

	if src != nil && src.TierID != nil && *src.TierID != "" {
		tier, err := s.Tiers.GetTier(ctx, org.OrgID, *src.TierID)
		switch {
		case err == nil:
			return Share{Percent: tier.BasePercentage, Basis: BasisTier, TierID: tier.ID}, nil
		case errors.Is(err, ErrNotFound):
		default:
			return Share{}, &LookupError{Lookup: "tier", Err: err}
		}
	}

	if fallbackTier != "" {
		tier, err := s.Tiers.FindTierByName(ctx, org.OrgID, fallbackTier)
		switch {
		case err == nil:
			return Share{Percent: tier.BasePercentage, Basis: BasisFallbackTier, TierID: tier.ID}, nil
		case errors.Is(err, ErrNotFound):
		default:
			return Share{}, &LookupError{Lookup: "tier", Err: err}
		}
	}

	if src != nil && src.Percentage != nil {
		return Share{Percent: *src.Percentage, Basis: BasisSourcePercentage}, nil
	}
	return Share{Percent: orgDefault, Basis: BasisOrgDefault}, nil
}
