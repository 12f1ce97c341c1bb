/*
Package factory converts JSON brokerage configuration into engine records.

PURPOSE:
  Payout grids, commission tiers, sources, default tier configs, policies,
  allocation rules and earnings are maintained by admins as JSON (admin UI
  payloads, import files, demo scenarios). The factory turns those payloads
  into commission and allocation types, filling defaults and rejecting
  records the engine could not use.

JSON SCHEMA (bundle):
  {
    "org_id": "org-1",
    "tenant_id": "tenant-1",
    "tiers":   [{"id": "gold", "name": "Gold", "base_percentage": "70"}],
    "sources": [{"id": "a1", "type": "agent", "name": "Asha", "tier_id": "gold"}],
    "grids": [
      {"line": "motor", "provider": "Acme", "commission_rate": "10",
       "reward_rate": "2", "bonus_commission_rate": "0"}
    ],
    "defaults": [{"version": 1, "effective_from": "2025-01-01",
                  "employee_percent": "60", "agent_percent": "70",
                  "misp_percent": "50", "agent_fallback_tier": "Bronze"}],
    "policies": [{"id": "p1", "policy_number": "POL-1", "premium": "100000",
                  "provider": "Acme Insurance", "product_category": "Motor",
                  "source_type": "agent", "source_id": "a1"}],
    "allocation_rules": [{"scope_level": "tenant", "effective_from": "2025-01-01",
                          "tenant_percent": "10", "branch_percent": "20",
                          "team_percent": "20", "agent_percent": "40",
                          "partner_percent": "10", "status": "Active"}],
    "earnings": [{"id": "e1", "total_commission": "3600", "lob": "motor"}]
  }

  Amounts accept JSON numbers or strings. Dates are YYYY-MM-DD or RFC3339.

USAGE:
  f := factory.New()
  bundle, err := f.ParseBundle(data)
  err = bundle.Load(ctx, store)

SEE ALSO:
  - commission/types.go: Grid, tier, source and policy types
  - allocation/types.go: Rule and earning types
  - api/scenarios.go: Demo scenarios built from bundles
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// GridJSON is a payout grid row. Either Table or Line selects the table.
type GridJSON struct {
	ID             string          `json:"id,omitempty"`
	Table          string          `json:"table,omitempty"`
	Line           string          `json:"line,omitempty"`
	Provider       *string         `json:"provider,omitempty"` // omitted or null = wildcard
	CommissionRate decimal.Decimal `json:"commission_rate"`
	RewardRate     decimal.Decimal `json:"reward_rate"`
	BonusRate      decimal.Decimal `json:"bonus_commission_rate"`
	IsActive       *bool           `json:"is_active,omitempty"` // default true
	EffectiveFrom  string          `json:"effective_from,omitempty"`
	EffectiveTo    string          `json:"effective_to,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

type TierJSON struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	BasePercentage decimal.Decimal `json:"base_percentage"`
}

type SourceJSON struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Name       string           `json:"name,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	TierID     *string          `json:"tier_id,omitempty"`
}

type DefaultsJSON struct {
	Version           int             `json:"version"`
	EffectiveFrom     string          `json:"effective_from,omitempty"`
	EmployeePercent   decimal.Decimal `json:"employee_percent"`
	AgentPercent      decimal.Decimal `json:"agent_percent"`
	MispPercent       decimal.Decimal `json:"misp_percent"`
	AgentFallbackTier string          `json:"agent_fallback_tier,omitempty"`
}

type PolicyJSON struct {
	ID              string          `json:"id,omitempty"`
	Number          string          `json:"policy_number"`
	CustomerID      string          `json:"customer_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Premium         decimal.Decimal `json:"premium"`
	Provider        string          `json:"provider,omitempty"`
	ProductCategory string          `json:"product_category,omitempty"`
	Line            string          `json:"line,omitempty"`
	SourceType      string          `json:"source_type,omitempty"`
	SourceID        *string         `json:"source_id,omitempty"`
	Status          string          `json:"status,omitempty"`
}

type RuleJSON struct {
	ID             string          `json:"id,omitempty"`
	TenantID       string          `json:"tenant_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	ScopeLevel     string          `json:"scope_level"`
	ScopeRef       *string         `json:"scope_ref,omitempty"`
	EffectiveFrom  string          `json:"effective_from"`
	EffectiveTo    string          `json:"effective_to,omitempty"`
	TenantPercent  decimal.Decimal `json:"tenant_percent"`
	BranchPercent  decimal.Decimal `json:"branch_percent"`
	TeamPercent    decimal.Decimal `json:"team_percent"`
	AgentPercent   decimal.Decimal `json:"agent_percent"`
	PartnerPercent decimal.Decimal `json:"partner_percent"`
	Priority       int             `json:"priority"`
	Status         string          `json:"status,omitempty"`
}

type EarningJSON struct {
	ID              string                       `json:"id,omitempty"`
	TenantID        string                       `json:"tenant_id,omitempty"`
	PolicyID        string                       `json:"policy_id,omitempty"`
	OrgID           string                       `json:"org_id,omitempty"`
	ProductID       string                       `json:"product_id,omitempty"`
	LOB             string                       `json:"lob,omitempty"`
	TotalCommission decimal.Decimal              `json:"total_commission"`
	Parties         map[string]allocation.OrgRef `json:"parties,omitempty"`
}

type CustomerJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BundleJSON is a full org configuration.
type BundleJSON struct {
	OrgID     string         `json:"org_id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Tiers     []TierJSON     `json:"tiers,omitempty"`
	Sources   []SourceJSON   `json:"sources,omitempty"`
	Grids     []GridJSON     `json:"grids,omitempty"`
	Defaults  []DefaultsJSON `json:"defaults,omitempty"`
	Customers []CustomerJSON `json:"customers,omitempty"`
	Policies  []PolicyJSON   `json:"policies,omitempty"`
	Rules     []RuleJSON     `json:"allocation_rules,omitempty"`
	Earnings  []EarningJSON  `json:"earnings,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON records to engine types.
type Factory struct {
	NewID func() string
	Clock func() time.Time
}

// New creates a factory that assigns UUIDs and stamps records with UTC now.
func New() *Factory {
	return &Factory{
		NewID: uuid.NewString,
		Clock: func() time.Time { return time.Now().UTC() },
	}
}

func (f *Factory) id(given string) string {
	if given != "" {
		return given
	}
	return f.NewID()
}

// Grid converts a grid row for an org.
func (f *Factory) Grid(orgID string, gj GridJSON) (commission.GridRow, error) {
	table, err := parseGridTable(gj.Table, gj.Line)
	if err != nil {
		return commission.GridRow{}, err
	}
	for _, r := range []decimal.Decimal{gj.CommissionRate, gj.RewardRate, gj.BonusRate} {
		if r.IsNegative() {
			return commission.GridRow{}, fmt.Errorf("grid %s: %w", gj.ID, commission.ErrNegativeAmount)
		}
	}

	g := commission.GridRow{
		ID:             f.id(gj.ID),
		OrgID:          orgID,
		Table:          table,
		Provider:       normaliseProvider(gj.Provider),
		CommissionRate: gj.CommissionRate,
		RewardRate:     gj.RewardRate,
		BonusRate:      gj.BonusRate,
		IsActive:       gj.IsActive == nil || *gj.IsActive,
		CreatedAt:      f.Clock(),
	}
	if g.EffectiveFrom, err = parseOptionalDate(gj.EffectiveFrom); err != nil {
		return commission.GridRow{}, fmt.Errorf("grid effective_from: %w", err)
	}
	if g.EffectiveTo, err = parseOptionalDate(gj.EffectiveTo); err != nil {
		return commission.GridRow{}, fmt.Errorf("grid effective_to: %w", err)
	}
	if g.EffectiveFrom != nil && g.EffectiveTo != nil && g.EffectiveTo.Before(*g.EffectiveFrom) {
		return commission.GridRow{}, fmt.Errorf("grid %s: effective_to before effective_from", g.ID)
	}
	if gj.CreatedAt != "" {
		created, err := parseDate(gj.CreatedAt)
		if err != nil {
			return commission.GridRow{}, fmt.Errorf("grid created_at: %w", err)
		}
		g.CreatedAt = created
	}
	return g, nil
}

// Tier converts a commission tier.
func (f *Factory) Tier(orgID string, tj TierJSON) (commission.Tier, error) {
	if strings.TrimSpace(tj.Name) == "" {
		return commission.Tier{}, fmt.Errorf("tier name is required")
	}
	if !validPercent(tj.BasePercentage) {
		return commission.Tier{}, fmt.Errorf("tier %s: %w", tj.Name, commission.ErrInvalidShare)
	}
	return commission.Tier{
		ID:             f.id(tj.ID),
		OrgID:          orgID,
		Name:           tj.Name,
		BasePercentage: tj.BasePercentage,
	}, nil
}

// Source converts an agent, MISP or employee record.
func (f *Factory) Source(orgID string, sj SourceJSON) (commission.Source, error) {
	typ := commission.ParseSourceType(sj.Type)
	if typ == commission.SourceDirect {
		return commission.Source{}, fmt.Errorf("source %s: unknown source type %q", sj.ID, sj.Type)
	}
	if sj.ID == "" {
		return commission.Source{}, fmt.Errorf("source id is required")
	}
	if sj.Percentage != nil && !validPercent(*sj.Percentage) {
		return commission.Source{}, fmt.Errorf("source %s: %w", sj.ID, commission.ErrInvalidShare)
	}
	return commission.Source{
		ID:         sj.ID,
		OrgID:      orgID,
		Type:       typ,
		Name:       sj.Name,
		Percentage: sj.Percentage,
		TierID:     sj.TierID,
	}, nil
}

// Defaults converts a default tier configuration version.
func (f *Factory) Defaults(orgID string, dj DefaultsJSON) (commission.DefaultTierConfig, error) {
	c := commission.DefaultTierConfig{
		OrgID:                 orgID,
		Version:               dj.Version,
		EmployeePercent:       dj.EmployeePercent,
		AgentPercent:          dj.AgentPercent,
		MispPercent:           dj.MispPercent,
		AgentFallbackTierName: dj.AgentFallbackTier,
	}
	if c.AgentFallbackTierName == "" {
		c.AgentFallbackTierName = commission.StandardDefaults().AgentFallbackTierName
	}
	if dj.EffectiveFrom != "" {
		from, err := parseDate(dj.EffectiveFrom)
		if err != nil {
			return commission.DefaultTierConfig{}, fmt.Errorf("defaults effective_from: %w", err)
		}
		c.EffectiveFrom = from
	}
	if err := c.Validate(); err != nil {
		return commission.DefaultTierConfig{}, err
	}
	return c, nil
}

// Policy converts a policy. The product line is classified here, once.
func (f *Factory) Policy(orgID string, pj PolicyJSON) (commission.Policy, error) {
	if pj.Premium.IsNegative() {
		return commission.Policy{}, fmt.Errorf("policy %s: %w", pj.Number, commission.ErrNegativeAmount)
	}
	p := commission.Policy{
		ID:              f.id(pj.ID),
		OrgID:           orgID,
		Number:          pj.Number,
		CustomerID:      pj.CustomerID,
		CustomerName:    pj.CustomerName,
		Premium:         pj.Premium,
		Provider:        pj.Provider,
		ProductCategory: pj.ProductCategory,
		SourceType:      commission.ParseSourceType(pj.SourceType),
		SourceID:        pj.SourceID,
		Status:          parsePolicyStatus(pj.Status),
		CreatedAt:       f.Clock(),
	}
	if pj.Line != "" {
		p.Line = commission.ParseProductLine(pj.Line)
	} else {
		p.Line = commission.ClassifyProductLine(pj.ProductCategory)
	}
	if p.SourceType == commission.SourceDirect {
		p.SourceID = nil
	}
	return p, nil
}

// Rule converts and validates an allocation rule. A non-empty tenantID is
// authoritative; the record's own tenant_id is read only without one.
func (f *Factory) Rule(tenantID string, rj RuleJSON) (allocation.Rule, error) {
	r := allocation.Rule{
		ID:         allocation.RuleID(f.id(rj.ID)),
		TenantID:   rj.TenantID,
		Name:       rj.Name,
		ScopeLevel: allocation.ScopeLevel(strings.ToLower(rj.ScopeLevel)),
		ScopeRef:   rj.ScopeRef,
		Splits: allocation.Splits{
			Tenant:  rj.TenantPercent,
			Branch:  rj.BranchPercent,
			Team:    rj.TeamPercent,
			Agent:   rj.AgentPercent,
			Partner: rj.PartnerPercent,
		},
		Priority:  rj.Priority,
		Status:    parseRuleStatus(rj.Status),
		CreatedAt: f.Clock(),
	}
	if tenantID != "" {
		r.TenantID = tenantID
	}
	if rj.EffectiveFrom != "" {
		from, err := parseDate(rj.EffectiveFrom)
		if err != nil {
			return allocation.Rule{}, fmt.Errorf("rule effective_from: %w", err)
		}
		r.EffectiveFrom = from
	}
	to, err := parseOptionalDate(rj.EffectiveTo)
	if err != nil {
		return allocation.Rule{}, fmt.Errorf("rule effective_to: %w", err)
	}
	r.EffectiveTo = to

	if err := allocation.ValidateRule(r); err != nil {
		return allocation.Rule{}, err
	}
	return r, nil
}

// Earning converts an earning awaiting allocation. Tenant resolution
// follows Rule.
func (f *Factory) Earning(tenantID string, ej EarningJSON) (allocation.Earning, error) {
	if ej.TotalCommission.IsNegative() {
		return allocation.Earning{}, fmt.Errorf("earning %s: negative total commission", ej.ID)
	}
	e := allocation.Earning{
		ID:              f.id(ej.ID),
		TenantID:        ej.TenantID,
		PolicyID:        ej.PolicyID,
		OrgID:           ej.OrgID,
		ProductID:       ej.ProductID,
		LOB:             ej.LOB,
		TotalCommission: ej.TotalCommission,
		RecordedAt:      f.Clock(),
	}
	if tenantID != "" {
		e.TenantID = tenantID
	}
	if e.TenantID == "" {
		return allocation.Earning{}, fmt.Errorf("earning %s: tenant_id is required", e.ID)
	}
	if len(ej.Parties) > 0 {
		e.Parties = make(map[allocation.OrgType]allocation.OrgRef, len(ej.Parties))
		for k, ref := range ej.Parties {
			e.Parties[allocation.OrgType(strings.ToLower(k))] = ref
		}
	}
	return e, nil
}

// =============================================================================
// BUNDLES
// =============================================================================

// Bundle is a converted org configuration, ready to load into a store.
type Bundle struct {
	OrgID     string
	TenantID  string
	Tiers     []commission.Tier
	Sources   []commission.Source
	Grids     []commission.GridRow
	Defaults  []commission.DefaultTierConfig
	Customers []CustomerJSON
	Policies  []commission.Policy
	Rules     []allocation.Rule
	Earnings  []allocation.Earning
}

// ParseBundle parses and converts a JSON bundle.
func (f *Factory) ParseBundle(data []byte) (*Bundle, error) {
	var bj BundleJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		return nil, fmt.Errorf("failed to parse bundle JSON: %w", err)
	}
	return f.FromJSON(bj)
}

// FromJSON converts every record of a bundle, stopping at the first error.
func (f *Factory) FromJSON(bj BundleJSON) (*Bundle, error) {
	if bj.OrgID == "" {
		return nil, commission.ErrOrgRequired
	}
	tenant := bj.TenantID
	if tenant == "" {
		tenant = bj.OrgID
	}
	b := &Bundle{OrgID: bj.OrgID, TenantID: tenant, Customers: bj.Customers}

	for _, tj := range bj.Tiers {
		t, err := f.Tier(bj.OrgID, tj)
		if err != nil {
			return nil, err
		}
		b.Tiers = append(b.Tiers, t)
	}
	for _, sj := range bj.Sources {
		s, err := f.Source(bj.OrgID, sj)
		if err != nil {
			return nil, err
		}
		b.Sources = append(b.Sources, s)
	}
	for _, gj := range bj.Grids {
		g, err := f.Grid(bj.OrgID, gj)
		if err != nil {
			return nil, err
		}
		b.Grids = append(b.Grids, g)
	}
	for _, dj := range bj.Defaults {
		d, err := f.Defaults(bj.OrgID, dj)
		if err != nil {
			return nil, err
		}
		b.Defaults = append(b.Defaults, d)
	}
	for _, pj := range bj.Policies {
		p, err := f.Policy(bj.OrgID, pj)
		if err != nil {
			return nil, err
		}
		b.Policies = append(b.Policies, p)
	}
	for _, rj := range bj.Rules {
		r, err := f.Rule(tenant, rj)
		if err != nil {
			return nil, err
		}
		b.Rules = append(b.Rules, r)
	}
	for _, ej := range bj.Earnings {
		e, err := f.Earning(tenant, ej)
		if err != nil {
			return nil, err
		}
		b.Earnings = append(b.Earnings, e)
	}
	return b, nil
}

// Sink receives bundle records. Both store/memory and store/sqlite satisfy it.
type Sink interface {
	SaveTier(ctx context.Context, t commission.Tier) error
	SaveSource(ctx context.Context, s commission.Source) error
	SaveGrid(ctx context.Context, g commission.GridRow) error
	SaveDefaultTierConfig(ctx context.Context, c commission.DefaultTierConfig) error
	SaveCustomer(ctx context.Context, orgID, id, name string) error
	SavePolicy(ctx context.Context, p commission.Policy) error
	SaveRule(ctx context.Context, r allocation.Rule) error
	SaveEarning(ctx context.Context, e allocation.Earning) error
}

// Load writes every record of the bundle to the sink.
func (b *Bundle) Load(ctx context.Context, sink Sink) error {
	for _, t := range b.Tiers {
		if err := sink.SaveTier(ctx, t); err != nil {
			return fmt.Errorf("save tier %s: %w", t.ID, err)
		}
	}
	for _, s := range b.Sources {
		if err := sink.SaveSource(ctx, s); err != nil {
			return fmt.Errorf("save source %s: %w", s.ID, err)
		}
	}
	for _, g := range b.Grids {
		if err := sink.SaveGrid(ctx, g); err != nil {
			return fmt.Errorf("save grid %s: %w", g.ID, err)
		}
	}
	for _, d := range b.Defaults {
		if err := sink.SaveDefaultTierConfig(ctx, d); err != nil {
			return fmt.Errorf("save defaults v%d: %w", d.Version, err)
		}
	}
	for _, c := range b.Customers {
		if err := sink.SaveCustomer(ctx, b.OrgID, c.ID, c.Name); err != nil {
			return fmt.Errorf("save customer %s: %w", c.ID, err)
		}
	}
	for _, p := range b.Policies {
		if err := sink.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy %s: %w", p.ID, err)
		}
	}
	for _, r := range b.Rules {
		if err := sink.SaveRule(ctx, r); err != nil {
			return fmt.Errorf("save rule %s: %w", r.ID, err)
		}
	}
	for _, e := range b.Earnings {
		if err := sink.SaveEarning(ctx, e); err != nil {
			return fmt.Errorf("save earning %s: %w", e.ID, err)
		}
	}
	return nil
}

// =============================================================================
// TO JSON
// =============================================================================

// RuleToJSON converts a rule back to its JSON form.
func RuleToJSON(r allocation.Rule) RuleJSON {
	rj := RuleJSON{
		ID:             string(r.ID),
		TenantID:       r.TenantID,
		Name:           r.Name,
		ScopeLevel:     string(r.ScopeLevel),
		ScopeRef:       r.ScopeRef,
		EffectiveFrom:  r.EffectiveFrom.Format(time.RFC3339),
		TenantPercent:  r.Splits.Tenant,
		BranchPercent:  r.Splits.Branch,
		TeamPercent:    r.Splits.Team,
		AgentPercent:   r.Splits.Agent,
		PartnerPercent: r.Splits.Partner,
		Priority:       r.Priority,
		Status:         string(r.Status),
	}
	if r.EffectiveTo != nil {
		rj.EffectiveTo = r.EffectiveTo.Format(time.RFC3339)
	}
	return rj
}

// GridToJSON converts a grid row back to its JSON form.
func GridToJSON(g commission.GridRow) GridJSON {
	active := g.IsActive
	gj := GridJSON{
		ID:             g.ID,
		Table:          string(g.Table),
		Provider:       g.Provider,
		CommissionRate: g.CommissionRate,
		RewardRate:     g.RewardRate,
		BonusRate:      g.BonusRate,
		IsActive:       &active,
		CreatedAt:      g.CreatedAt.Format(time.RFC3339),
	}
	if g.EffectiveFrom != nil {
		gj.EffectiveFrom = g.EffectiveFrom.Format(time.RFC3339)
	}
	if g.EffectiveTo != nil {
		gj.EffectiveTo = g.EffectiveTo.Format(time.RFC3339)
	}
	return gj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseGridTable(table, line string) (commission.GridTable, error) {
	if table != "" {
		t := commission.GridTable(strings.ToLower(table))
		if !t.Valid() {
			return "", fmt.Errorf("%w: %q", commission.ErrUnknownGridTable, table)
		}
		return t, nil
	}
	if t, ok := commission.LineTables[commission.ParseProductLine(line)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: no table for line %q", commission.ErrUnknownGridTable, line)
}

func normaliseProvider(p *string) *string {
	if p == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*p)
	if trimmed == "" || trimmed == "*" {
		return nil
	}
	return &trimmed
}

func parsePolicyStatus(s string) commission.PolicyStatus {
	switch commission.PolicyStatus(strings.ToLower(s)) {
	case commission.PolicyDraft:
		return commission.PolicyDraft
	case commission.PolicyCancelled:
		return commission.PolicyCancelled
	case commission.PolicyLapsed:
		return commission.PolicyLapsed
	default:
		return commission.PolicyActive
	}
}

func parseRuleStatus(s string) allocation.RuleStatus {
	switch strings.ToLower(s) {
	case "active":
		return allocation.StatusActive
	case "inactive":
		return allocation.StatusInactive
	case "draft", "":
		return allocation.StatusDraft
	default:
		return allocation.RuleStatus(s)
	}
}

func validPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(decimal.NewFromInt(100))
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
