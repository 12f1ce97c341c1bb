/*
Package commission provides the brokerage commission engine.

PURPOSE:
  Given a policy, the payout grid row that applies to it, and the channel
  that sourced it (agent, MISP, employee or direct), the engine computes the
  insurer's gross commission and splits it between the source and the
  brokerage. Results are plain data; persistence is behind store interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy: read-only input record, tagged with an explicit ProductLine
  - GridRow: one payout grid entry (base / reward / bonus rates)
  - Tier, Source: who gets what share of the insurer commission
  - Result: the derived calculation for one policy
  - OrgContext: org identity resolved once per run and passed explicitly

INVARIANTS:
  1. InsurerCommission == Agent + Misp + Employee + BrokerShare, always
  2. At most one of the three source commissions is non-zero
  3. The engine never mutates a Policy; results go to a separate sink

USAGE:
  calc := commission.NewCalculator(deps, logger)
  batch, err := calc.Calculate(ctx, commission.OrgContext{OrgID: "org-1"})

SEE ALSO:
  - grid.go: Rate grid resolution
  - split.go: Commission splitting
  - tiers.go: Share percentage resolution and org defaults
  - calculator.go: Batch orchestration (calculate, sync, summarize)
*/
package commission

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)

	// Tolerance is the comparison slack used for money invariants.
	Tolerance = decimal.New(1, -6)
)

// Percent returns value * pct / 100.
func Percent(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred)
}

// ApproxEqual reports whether a and b differ by at most Tolerance.
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// =============================================================================
// ORG CONTEXT
// =============================================================================

// OrgContext identifies the organisation a run operates on. It is resolved
// once (from the authenticated request or the scheduler config) and passed to
// every component call instead of being re-derived per lookup.
type OrgContext struct {
	OrgID    string
	TenantID string
	ActorID  string
	AsOf     time.Time
}

// Now returns AsOf, or the wall clock when AsOf is unset.
func (o OrgContext) Now() time.Time {
	if o.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return o.AsOf
}

// =============================================================================
// PRODUCT LINES & GRID TABLES
// =============================================================================

type ProductLine string

const (
	LineMotor  ProductLine = "motor"
	LineLife   ProductLine = "life"
	LineHealth ProductLine = "health"
	LineOther  ProductLine = "other"
)

// ClassifyProductLine maps a free-text product category or name to a line.
// It runs once when a policy is ingested; the resolver only ever sees the tag.
func ClassifyProductLine(category string) ProductLine {
	c := strings.ToLower(category)
	switch {
	case strings.Contains(c, "motor"):
		return LineMotor
	case strings.Contains(c, "life"):
		return LineLife
	case strings.Contains(c, "health"):
		return LineHealth
	default:
		return LineOther
	}
}

// ParseProductLine accepts an explicit tag, falling back to classification.
func ParseProductLine(s string) ProductLine {
	switch ProductLine(strings.ToLower(strings.TrimSpace(s))) {
	case LineMotor:
		return LineMotor
	case LineLife:
		return LineLife
	case LineHealth:
		return LineHealth
	case LineOther:
		return LineOther
	}
	return ClassifyProductLine(s)
}

type GridTable string

const (
	TableMotor  GridTable = "motor_payout_grid"
	TableHealth GridTable = "health_payout_grid"
	TableLife   GridTable = "life_payout_grid"
)

// GridTables lists every payout grid table.
var GridTables = []GridTable{TableMotor, TableHealth, TableLife}

// Valid reports whether t is a known grid table.
func (t GridTable) Valid() bool {
	for _, known := range GridTables {
		if t == known {
			return true
		}
	}
	return false
}

// =============================================================================
// SOURCES
// =============================================================================

type SourceType string

const (
	SourceAgent    SourceType = "agent"
	SourceMisp     SourceType = "misp"
	SourceEmployee SourceType = "employee"
	SourceDirect   SourceType = "direct"
)

// ParseSourceType normalises a stored source type. Unknown or empty values
// are treated as direct business.
func ParseSourceType(s string) SourceType {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourceAgent:
		return SourceAgent
	case SourceMisp:
		return SourceMisp
	case SourceEmployee:
		return SourceEmployee
	default:
		return SourceDirect
	}
}

// Source is an agent, MISP or employee record.
type Source struct {
	ID         string
	OrgID      string
	Type       SourceType
	Name       string
	Percentage *decimal.Decimal // own flat share, used when no tier applies
	TierID     *string
}

// Tier is a named percentage bracket (Bronze, Silver, Gold...).
type Tier struct {
	ID             string
	OrgID          string
	Name           string
	BasePercentage decimal.Decimal
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyDraft     PolicyStatus = "draft"
	PolicyCancelled PolicyStatus = "cancelled"
	PolicyLapsed    PolicyStatus = "lapsed"
)

// Policy is the read-only input to a calculation.
type Policy struct {
	ID              string
	OrgID           string
	Number          string
	CustomerID      string
	CustomerName    string
	Premium         decimal.Decimal
	Provider        string
	ProductCategory string
	Line            ProductLine
	SourceType      SourceType
	SourceID        *string
	Status          PolicyStatus
	CreatedAt       time.Time
}

// =============================================================================
// GRID ROW
// =============================================================================

// GridRow is a payout grid entry. A nil Provider is a wildcard row.
type GridRow struct {
	ID             string
	OrgID          string
	Table          GridTable
	Provider       *string
	CommissionRate decimal.Decimal
	RewardRate     decimal.Decimal
	BonusRate      decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
}

// CoversDate reports whether t lies in the row's validity window.
// Open-ended bounds always match.
func (g GridRow) CoversDate(t time.Time) bool {
	if g.EffectiveFrom != nil && t.Before(*g.EffectiveFrom) {
		return false
	}
	if g.EffectiveTo != nil && t.After(*g.EffectiveTo) {
		return false
	}
	return true
}

// Rates is the rate triple carried by a grid row.
type Rates struct {
	Base   decimal.Decimal
	Reward decimal.Decimal
	Bonus  decimal.Decimal
}

func (g GridRow) Rates() Rates {
	return Rates{Base: g.CommissionRate, Reward: g.RewardRate, Bonus: g.BonusRate}
}

// =============================================================================
// RESULT
// =============================================================================

type Status string

const (
	StatusCalculated  Status = "calculated"
	StatusNoGridMatch Status = "no_grid_match"
)

// ShareBasis records which step of the tier lookup produced the share.
type ShareBasis string

const (
	BasisTier             ShareBasis = "tier"
	BasisFallbackTier     ShareBasis = "fallback_tier"
	BasisSourcePercentage ShareBasis = "source_percentage"
	BasisOrgDefault       ShareBasis = "org_default"
	BasisDirect           ShareBasis = "direct"
)

// Result is the derived commission calculation for one policy.
type Result struct {
	PolicyID        string
	OrgID           string
	PolicyNumber    string
	CustomerName    string
	ProductCategory string
	Line            ProductLine
	Provider        string
	Premium         decimal.Decimal
	SourceType      SourceType
	SourceID        *string

	GridTable GridTable
	GridID    string

	BaseRate   decimal.Decimal
	RewardRate decimal.Decimal
	BonusRate  decimal.Decimal

	BaseCommission   decimal.Decimal
	RewardCommission decimal.Decimal
	BonusCommission  decimal.Decimal

	InsurerCommission  decimal.Decimal
	AgentCommission    decimal.Decimal
	MispCommission     decimal.Decimal
	EmployeeCommission decimal.Decimal
	BrokerShare        decimal.Decimal

	SharePercent decimal.Decimal
	ShareBasis   ShareBasis

	Status   Status
	Degraded bool   // a lookup failed and the result fell back to zero share
	Note     string // reason for degradation, if any

	CalculatedAt time.Time
}

// SourceCommission returns whichever of the three source commissions applies.
func (r Result) SourceCommission() decimal.Decimal {
	return r.AgentCommission.Add(r.MispCommission).Add(r.EmployeeCommission)
}

// Balanced checks the insurer == sources + broker invariant.
func (r Result) Balanced() bool {
	return ApproxEqual(r.InsurerCommission, r.SourceCommission().Add(r.BrokerShare))
}
