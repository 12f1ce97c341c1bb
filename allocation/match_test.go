package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/allocation"
)

func scopedRule(id string, level allocation.ScopeLevel, ref string, priority int) allocation.Rule {
	r := tenantRule(id)
	r.ScopeLevel = level
	if ref != "" {
		r.ScopeRef = ptr(ref)
	}
	r.Priority = priority
	return r
}

var matchCtx = allocation.Context{TenantID: testTenant, OrgID: "branch-1", ProductID: "prod-motor", LOB: "Motor"}

func TestSelectRule_MostSpecificAtEqualPriority(t *testing.T) {
	// GIVEN: Tenant, org and product rules at the same priority
	// WHEN: Matching a context covered by all three
	// THEN: The product rule wins

	rules := []allocation.Rule{
		scopedRule("tenant", allocation.ScopeTenant, "", 10),
		scopedRule("org", allocation.ScopeOrg, "branch-1", 10),
		scopedRule("product", allocation.ScopeProduct, "prod-motor", 10),
	}

	got, err := allocation.SelectRule(rules, matchCtx, jan2025.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("product"), got.ID)
}

func TestSelectRule_PriorityBeatsSpecificity(t *testing.T) {
	rules := []allocation.Rule{
		scopedRule("tenant", allocation.ScopeTenant, "", 1),
		scopedRule("product", allocation.ScopeProduct, "prod-motor", 5),
	}

	got, err := allocation.SelectRule(rules, matchCtx, jan2025.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("tenant"), got.ID)
}

func TestSelectRule_LOBMatchIsCaseInsensitive(t *testing.T) {
	rules := []allocation.Rule{scopedRule("lob", allocation.ScopeLOB, "motor", 10)}

	got, err := allocation.SelectRule(rules, matchCtx, jan2025.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("lob"), got.ID)
}

func TestSelectRule_SkipsInactiveAndOutOfWindow(t *testing.T) {
	draft := scopedRule("draft", allocation.ScopeTenant, "", 0)
	draft.Status = allocation.StatusDraft
	expired := scopedRule("expired", allocation.ScopeTenant, "", 0)
	expired.EffectiveTo = ptr(jan2025.AddDate(0, 0, 10))
	future := scopedRule("future", allocation.ScopeTenant, "", 0)
	future.EffectiveFrom = jan2025.AddDate(1, 0, 0)
	otherOrg := scopedRule("other-org", allocation.ScopeOrg, "branch-9", 0)
	fallback := scopedRule("fallback", allocation.ScopeTenant, "", 99)

	rules := []allocation.Rule{draft, expired, future, otherOrg, fallback}
	got, err := allocation.SelectRule(rules, matchCtx, jan2025.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("fallback"), got.ID)
}

func TestSelectRule_TieBreakOnEffectiveFromThenID(t *testing.T) {
	a := scopedRule("b", allocation.ScopeTenant, "", 10)
	b := scopedRule("a", allocation.ScopeTenant, "", 10)
	newer := scopedRule("c", allocation.ScopeTenant, "", 10)
	newer.EffectiveFrom = jan2025.AddDate(0, 1, 0)

	got, err := allocation.SelectRule([]allocation.Rule{a, b, newer}, matchCtx, jan2025.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("c"), got.ID)

	got, err = allocation.SelectRule([]allocation.Rule{a, b}, matchCtx, jan2025.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, allocation.RuleID("a"), got.ID)
}

func TestSelectRule_NoMatch(t *testing.T) {
	rules := []allocation.Rule{scopedRule("org", allocation.ScopeOrg, "branch-9", 10)}

	_, err := allocation.SelectRule(rules, matchCtx, jan2025.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, allocation.ErrNoMatchingRule)
	var nm *allocation.NoMatchError
	require.ErrorAs(t, err, &nm)
	assert.Equal(t, "branch-1", nm.Context.OrgID)
}

func TestSelectRule_OtherTenantIgnored(t *testing.T) {
	r := scopedRule("t2", allocation.ScopeTenant, "", 0)
	r.TenantID = "tenant-2"

	_, err := allocation.SelectRule([]allocation.Rule{r}, matchCtx, jan2025.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, allocation.ErrNoMatchingRule)
}
