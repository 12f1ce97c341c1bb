package memory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStore_RecordsAreScopedByOrg(t *testing.T) {
	// GIVEN: Two orgs saving a tier, grid row and policy with the same IDs
	// WHEN: Each org reads its own data
	// THEN: The second write did not replace the first org's record

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "gold", OrgID: "org-a", Name: "Gold", BasePercentage: dec("70")}))
	require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "gold", OrgID: "org-b", Name: "Gold", BasePercentage: dec("5")}))

	a, err := store.GetTier(ctx, "org-a", "gold")
	require.NoError(t, err)
	assert.True(t, a.BasePercentage.Equal(dec("70")))
	b, err := store.FindTierByName(ctx, "org-b", "gold")
	require.NoError(t, err)
	assert.True(t, b.BasePercentage.Equal(dec("5")))

	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{ID: "g1", OrgID: "org-a", Table: commission.TableMotor, CommissionRate: dec("12"), IsActive: true}))
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{ID: "g1", OrgID: "org-b", Table: commission.TableMotor, CommissionRate: dec("99"), IsActive: true}))

	grids, err := store.ActiveGrids(ctx, "org-a", commission.TableMotor)
	require.NoError(t, err)
	require.Len(t, grids, 1)
	assert.True(t, grids[0].CommissionRate.Equal(dec("12")))

	require.NoError(t, store.SavePolicy(ctx, commission.Policy{ID: "p1", OrgID: "org-a", Status: commission.PolicyActive}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{ID: "p1", OrgID: "org-b", Status: commission.PolicyActive}))

	for _, org := range []string{"org-a", "org-b"} {
		policies, err := store.ActivePolicies(ctx, org)
		require.NoError(t, err)
		assert.Len(t, policies, 1, org)
	}
}

func TestStore_GridIDsAreScopedByTable(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{ID: "g1", OrgID: "org-a", Table: commission.TableMotor, IsActive: true}))
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{ID: "g1", OrgID: "org-a", Table: commission.TableLife, IsActive: true}))

	for _, table := range []commission.GridTable{commission.TableMotor, commission.TableLife} {
		grids, err := store.ActiveGrids(ctx, "org-a", table)
		require.NoError(t, err)
		assert.Len(t, grids, 1, table)
	}
}

func TestStore_RulesAreInsertOnly(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveRule(ctx, allocation.Rule{ID: "r1", TenantID: "tenant-a", Splits: allocation.Splits{Agent: dec("100")}}))
	err := store.SaveRule(ctx, allocation.Rule{ID: "r1", TenantID: "tenant-b", Splits: allocation.Splits{Partner: dec("100")}})
	assert.ErrorIs(t, err, allocation.ErrRuleExists)

	r, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", r.TenantID)
	assert.True(t, r.Splits.Agent.Equal(dec("100")))
}

func TestStore_EarningOwnedByOneTenant(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-a", TotalCommission: dec("100")}))
	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-a", TotalCommission: dec("120")}))

	err := store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-b", TotalCommission: dec("1")})
	assert.ErrorIs(t, err, allocation.ErrEarningExists)

	e, err := store.GetEarning(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", e.TenantID)
	assert.True(t, e.TotalCommission.Equal(dec("120")))
}
