package factory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/memory"
)

var fixedNow = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

func newTestFactory() *Factory {
	n := 0
	return &Factory{
		NewID: func() string { n++; return fmt.Sprintf("id-%d", n) },
		Clock: func() time.Time { return fixedNow },
	}
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

const bundleJSON = `{
  "org_id": "org-1",
  "tiers": [{"id": "gold", "name": "Gold", "base_percentage": "70"}],
  "sources": [{"id": "a1", "type": "agent", "name": "Asha", "tier_id": "gold"}],
  "grids": [
    {"line": "motor", "provider": "Acme", "commission_rate": 10, "reward_rate": "2", "bonus_commission_rate": "0"},
    {"table": "life_payout_grid", "provider": "*", "commission_rate": "8", "reward_rate": "0", "bonus_commission_rate": "0", "is_active": false}
  ],
  "defaults": [{"version": 1, "effective_from": "2025-01-01", "employee_percent": "60", "agent_percent": "65", "misp_percent": "50"}],
  "customers": [{"id": "c1", "name": "Ravi"}],
  "policies": [
    {"id": "p1", "policy_number": "POL-1", "customer_id": "c1", "premium": "100000", "provider": "acme",
     "product_category": "Private Car Motor", "source_type": "agent", "source_id": "a1"},
    {"id": "p2", "policy_number": "POL-2", "premium": "5000", "product_category": "Travel", "source_id": "ignored"}
  ],
  "allocation_rules": [
    {"id": "r1", "scope_level": "tenant", "effective_from": "2025-01-01", "tenant_percent": "10",
     "branch_percent": "20", "team_percent": "20", "agent_percent": "40", "partner_percent": "10", "status": "active"}
  ],
  "earnings": [{"id": "e1", "total_commission": "3600", "lob": "motor", "parties": {"Agent": {"id": "a1", "name": "Asha"}}}]
}`

func TestFactory_ParseBundle(t *testing.T) {
	f := newTestFactory()

	b, err := f.ParseBundle([]byte(bundleJSON))
	require.NoError(t, err)

	assert.Equal(t, "org-1", b.OrgID)
	assert.Equal(t, "org-1", b.TenantID, "tenant defaults to org")

	require.Len(t, b.Grids, 2)
	motor := b.Grids[0]
	assert.Equal(t, commission.TableMotor, motor.Table)
	assert.Equal(t, "id-1", motor.ID)
	require.NotNil(t, motor.Provider)
	assert.Equal(t, "Acme", *motor.Provider)
	assert.True(t, motor.CommissionRate.Equal(decimalOf(t, "10")), "numbers and strings both parse")
	assert.True(t, motor.IsActive)
	assert.Equal(t, fixedNow, motor.CreatedAt)

	life := b.Grids[1]
	assert.Equal(t, commission.TableLife, life.Table)
	assert.Nil(t, life.Provider, "* is a wildcard")
	assert.False(t, life.IsActive)

	require.Len(t, b.Policies, 2)
	assert.Equal(t, commission.LineMotor, b.Policies[0].Line)
	assert.Equal(t, commission.PolicyActive, b.Policies[0].Status)
	assert.Equal(t, commission.LineOther, b.Policies[1].Line)
	assert.Equal(t, commission.SourceDirect, b.Policies[1].SourceType)
	assert.Nil(t, b.Policies[1].SourceID, "direct policies carry no source")

	require.Len(t, b.Defaults, 1)
	assert.Equal(t, "Bronze", b.Defaults[0].AgentFallbackTierName)

	require.Len(t, b.Rules, 1)
	assert.Equal(t, allocation.StatusActive, b.Rules[0].Status)
	assert.Equal(t, "org-1", b.Rules[0].TenantID)

	require.Len(t, b.Earnings, 1)
	assert.Equal(t, "Asha", b.Earnings[0].Parties[allocation.OrgAgent].Name)
}

func TestFactory_LoadedBundleCalculates(t *testing.T) {
	// GIVEN: A bundle loaded into a store
	// WHEN: The calculator runs
	// THEN: The motor policy uses the Gold tier and the travel policy has no grid

	f := newTestFactory()
	b, err := f.ParseBundle([]byte(bundleJSON))
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, b.Load(context.Background(), store))

	calc := commission.NewCalculator(commission.StoresFrom(store), nil)
	batch, err := calc.Calculate(context.Background(), commission.OrgContext{OrgID: "org-1", AsOf: fixedNow})
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)

	p1 := batch.Results[0]
	assert.Equal(t, "Ravi", p1.CustomerName)
	assert.Equal(t, "12000.00", p1.InsurerCommission.StringFixed(2))
	assert.Equal(t, "8400.00", p1.AgentCommission.StringFixed(2))
	assert.Equal(t, commission.StatusNoGridMatch, batch.Results[1].Status)
}

func TestFactory_RejectsBadRecords(t *testing.T) {
	f := newTestFactory()

	tests := []struct {
		name string
		json string
	}{
		{"missing org", `{"tiers": []}`},
		{"unknown table", `{"org_id": "o", "grids": [{"table": "travel_payout_grid", "commission_rate": "1", "reward_rate": "0", "bonus_commission_rate": "0"}]}`},
		{"line without table", `{"org_id": "o", "grids": [{"line": "travel", "commission_rate": "1", "reward_rate": "0", "bonus_commission_rate": "0"}]}`},
		{"negative rate", `{"org_id": "o", "grids": [{"line": "motor", "commission_rate": "-1", "reward_rate": "0", "bonus_commission_rate": "0"}]}`},
		{"inverted window", `{"org_id": "o", "grids": [{"line": "motor", "commission_rate": "1", "reward_rate": "0", "bonus_commission_rate": "0", "effective_from": "2025-02-01", "effective_to": "2025-01-01"}]}`},
		{"tier over 100", `{"org_id": "o", "tiers": [{"name": "Max", "base_percentage": "101"}]}`},
		{"tier without name", `{"org_id": "o", "tiers": [{"base_percentage": "10"}]}`},
		{"direct source record", `{"org_id": "o", "sources": [{"id": "s", "type": "direct"}]}`},
		{"defaults over 100", `{"org_id": "o", "defaults": [{"version": 1, "employee_percent": "160", "agent_percent": "70", "misp_percent": "50"}]}`},
		{"negative premium", `{"org_id": "o", "policies": [{"policy_number": "P", "premium": "-5"}]}`},
		{"rule not summing to 100", `{"org_id": "o", "allocation_rules": [{"scope_level": "tenant", "effective_from": "2025-01-01", "tenant_percent": "50", "branch_percent": "0", "team_percent": "0", "agent_percent": "0", "partner_percent": "0"}]}`},
		{"bad date", `{"org_id": "o", "allocation_rules": [{"scope_level": "tenant", "effective_from": "01/01/2025", "tenant_percent": "100", "branch_percent": "0", "team_percent": "0", "agent_percent": "0", "partner_percent": "0"}]}`},
		{"malformed json", `{"org_id": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseBundle([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestFactory_RuleValidationErrorIsTyped(t *testing.T) {
	f := newTestFactory()

	_, err := f.Rule("t1", RuleJSON{
		ScopeLevel: "org", EffectiveFrom: "2025-01-01", TenantPercent: decimalOf(t, "100"),
	})

	var ve *allocation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "scope_ref", ve.Field)
	assert.ErrorIs(t, err, allocation.ErrInvalidRule)
}

func TestFactory_RuleRoundTrip(t *testing.T) {
	f := newTestFactory()
	motor := "motor"

	r, err := f.Rule("t1", RuleJSON{
		ID: "r9", ScopeLevel: "LOB", ScopeRef: &motor, EffectiveFrom: "2025-01-01", EffectiveTo: "2025-12-31",
		AgentPercent: decimalOf(t, "100"), Priority: 2, Status: "Draft",
	})
	require.NoError(t, err)
	assert.Equal(t, allocation.ScopeLOB, r.ScopeLevel)
	assert.Equal(t, allocation.StatusDraft, r.Status)

	rj := RuleToJSON(r)
	back, err := f.Rule("", rj)
	require.NoError(t, err)
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, "t1", back.TenantID)
	assert.True(t, back.EffectiveFrom.Equal(r.EffectiveFrom))
	require.NotNil(t, back.EffectiveTo)
	assert.True(t, back.EffectiveTo.Equal(*r.EffectiveTo))
	assert.True(t, back.Splits.Agent.Equal(r.Splits.Agent))
}

func TestFactory_ResolvedTenantWins(t *testing.T) {
	// GIVEN: Records naming a different tenant in their body
	// WHEN: Converted for a resolved tenant
	// THEN: The resolved tenant is kept and the body tenant ignored

	f := newTestFactory()

	r, err := f.Rule("t1", RuleJSON{
		TenantID: "t2", ScopeLevel: "tenant", EffectiveFrom: "2025-01-01", TenantPercent: decimalOf(t, "100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", r.TenantID)

	e, err := f.Earning("t1", EarningJSON{TenantID: "t2", TotalCommission: decimalOf(t, "10")})
	require.NoError(t, err)
	assert.Equal(t, "t1", e.TenantID)

	e, err = f.Earning("", EarningJSON{TenantID: "t2", TotalCommission: decimalOf(t, "10")})
	require.NoError(t, err)
	assert.Equal(t, "t2", e.TenantID, "body tenant is used only without a resolved one")
}
