/*
Package allocation splits earned commission across organisational scopes.

PURPOSE:
  An Earning is a recorded commission amount. An allocation Rule says how
  that amount is divided between tenant, branch, team, agent and partner.
  The Allocator picks the rule that applies to an earning, previews the
  split, and applies it as append-only ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rule: scope-prioritised, time-bounded split percentages (sum to 100)
  - Earning: amount to allocate plus the parties that receive it
  - Preview: the computed split, fingerprinted
  - Entry: one committed ledger line per org type

FLOW:
  CreateRule -> (validated, persisted)
  Preview(earning) -> match rule -> lines -> persist preview
  Apply(earning)   -> recompute preview -> must equal stored preview
                   -> append entries atomically (idempotent per earning)

SEE ALSO:
  - validate.go: Rule validation
  - match.go: Rule selection
  - allocator.go: Preview and Apply
  - dispatch.go: Action-dispatch entry point
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type ScopeLevel string

const (
	ScopeTenant  ScopeLevel = "tenant"
	ScopeOrg     ScopeLevel = "org"
	ScopeProduct ScopeLevel = "product"
	ScopeLOB     ScopeLevel = "lob"
)

// Specificity ranks scopes: lob/product > org > tenant.
func (s ScopeLevel) Specificity() int {
	switch s {
	case ScopeLOB, ScopeProduct:
		return 3
	case ScopeOrg:
		return 2
	case ScopeTenant:
		return 1
	default:
		return 0
	}
}

type RuleStatus string

const (
	StatusActive   RuleStatus = "Active"
	StatusInactive RuleStatus = "Inactive"
	StatusDraft    RuleStatus = "Draft"
)

// OrgType is a recipient class of an allocation.
type OrgType string

const (
	OrgTenant  OrgType = "tenant"
	OrgBranch  OrgType = "branch"
	OrgTeam    OrgType = "team"
	OrgAgent   OrgType = "agent"
	OrgPartner OrgType = "partner"
)

// OrgTypes is the fixed order allocations are listed in.
var OrgTypes = []OrgType{OrgTenant, OrgBranch, OrgTeam, OrgAgent, OrgPartner}

// =============================================================================
// RULE
// =============================================================================

// Splits are the five percentages of a rule. They must sum to 100.
type Splits struct {
	Tenant  decimal.Decimal `json:"tenant_percent" validate:"gte=0,lte=100"`
	Branch  decimal.Decimal `json:"branch_percent" validate:"gte=0,lte=100"`
	Team    decimal.Decimal `json:"team_percent" validate:"gte=0,lte=100"`
	Agent   decimal.Decimal `json:"agent_percent" validate:"gte=0,lte=100"`
	Partner decimal.Decimal `json:"partner_percent" validate:"gte=0,lte=100"`
}

// Sum adds the five percentages.
func (s Splits) Sum() decimal.Decimal {
	return s.Tenant.Add(s.Branch).Add(s.Team).Add(s.Agent).Add(s.Partner)
}

// For returns the percentage for one org type.
func (s Splits) For(t OrgType) decimal.Decimal {
	switch t {
	case OrgTenant:
		return s.Tenant
	case OrgBranch:
		return s.Branch
	case OrgTeam:
		return s.Team
	case OrgAgent:
		return s.Agent
	case OrgPartner:
		return s.Partner
	default:
		return decimal.Zero
	}
}

type RuleID string

// Rule is an allocation rule.
type Rule struct {
	ID            RuleID
	TenantID      string     `validate:"required"`
	Name          string
	ScopeLevel    ScopeLevel `validate:"required,oneof=tenant org product lob"`
	ScopeRef      *string
	EffectiveFrom time.Time  `validate:"required"`
	EffectiveTo   *time.Time
	Splits        Splits
	Priority      int        `validate:"gte=0"`
	Status        RuleStatus `validate:"required,oneof=Active Inactive Draft"`
	CreatedAt     time.Time
}

// ActiveAt reports whether the rule is Active and its window contains t.
func (r Rule) ActiveAt(t time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && t.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// EARNING
// =============================================================================

// OrgRef identifies a recipient.
type OrgRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Earning is a recorded commission amount awaiting allocation.
type Earning struct {
	ID              string
	TenantID        string
	PolicyID        string
	OrgID           string
	ProductID       string
	LOB             string
	TotalCommission decimal.Decimal
	Parties         map[OrgType]OrgRef
	RecordedAt      time.Time
}

// Context returns the matching context derived from the earning.
func (e Earning) Context() Context {
	return Context{TenantID: e.TenantID, OrgID: e.OrgID, ProductID: e.ProductID, LOB: e.LOB}
}

// Context is what rules are matched against.
type Context struct {
	TenantID  string
	OrgID     string
	ProductID string
	LOB       string
}

// =============================================================================
// PREVIEW & LEDGER
// =============================================================================

// Line is one recipient's share in a preview.
type Line struct {
	OrgID           string
	OrgName         string
	OrgType         OrgType
	AllocatedAmount decimal.Decimal
	Percentage      decimal.Decimal
}

// Preview is a computed, not yet committed, allocation.
type Preview struct {
	EarningID       string
	RuleID          RuleID
	TotalCommission decimal.Decimal
	Lines           []Line
	Fingerprint     string
	CreatedAt       time.Time
}

// Allocated sums the preview lines.
func (p Preview) Allocated() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range p.Lines {
		sum = sum.Add(l.AllocatedAmount)
	}
	return sum
}

// Entry is a committed allocation ledger line. Entries are append-only.
type Entry struct {
	ID             string
	EarningID      string
	RuleID         RuleID
	OrgType        OrgType
	OrgID          string
	OrgName        string
	Amount         decimal.Decimal
	Percentage     decimal.Decimal
	IdempotencyKey string
	CreatedAt      time.Time
}

// Applied is the outcome of a successful apply.
type Applied struct {
	Preview Preview
	Entries []Entry
}
