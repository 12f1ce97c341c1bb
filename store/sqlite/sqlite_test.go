package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testOrg = "org-1"

var jan2025 = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

// =============================================================================
// COMMISSION STORES
// =============================================================================

func TestStore_PolicyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		ID: "p1", OrgID: testOrg, Number: "POL-1", Premium: dec("12345.67"),
		Provider: "Acme", ProductCategory: "Motor", SourceType: commission.SourceAgent,
		SourceID: ptr("a1"), Status: commission.PolicyActive,
	}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		ID: "p2", OrgID: testOrg, Number: "POL-2", Premium: dec("10"),
		ProductCategory: "Life", Status: commission.PolicyCancelled,
	}))

	active, err := store.ActivePolicies(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, active, 1)
	p := active[0]
	assert.Equal(t, "p1", p.ID)
	assert.True(t, p.Premium.Equal(dec("12345.67")))
	assert.Equal(t, commission.LineMotor, p.Line, "line derived from category on save")
	assert.Equal(t, commission.SourceAgent, p.SourceType)
	require.NotNil(t, p.SourceID)
	assert.Equal(t, "a1", *p.SourceID)

	all, err := store.ListPolicies(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, commission.SourceDirect, all[1].SourceType)
}

func TestStore_GridRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{
		ID: "g1", OrgID: testOrg, Table: commission.TableMotor,
		CommissionRate: dec("12.5"), RewardRate: dec("2"), BonusRate: dec("0.5"),
		IsActive: true, EffectiveFrom: &from, CreatedAt: jan2025,
	}))
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{
		ID: "g2", OrgID: testOrg, Table: commission.TableMotor, Provider: ptr("Acme"),
		CommissionRate: dec("9"), IsActive: false, CreatedAt: jan2025,
	}))

	active, err := store.ActiveGrids(ctx, testOrg, commission.TableMotor)
	require.NoError(t, err)
	require.Len(t, active, 1)
	g := active[0]
	assert.Nil(t, g.Provider, "wildcard survives the round trip")
	assert.True(t, g.CommissionRate.Equal(dec("12.5")))
	require.NotNil(t, g.EffectiveFrom)
	assert.True(t, g.EffectiveFrom.Equal(from))
	assert.Nil(t, g.EffectiveTo)

	all, err := store.ListGrids(ctx, testOrg, commission.TableMotor)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	life, err := store.ActiveGrids(ctx, testOrg, commission.TableLife)
	require.NoError(t, err)
	assert.Empty(t, life)
}

func TestStore_UnknownGridTableRejected(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveGrid(context.Background(), commission.GridRow{ID: "g", Table: "travel_payout_grid"})
	assert.ErrorIs(t, err, commission.ErrUnknownGridTable)

	_, err = store.ActiveGrids(context.Background(), testOrg, "policies; DROP TABLE policies")
	assert.ErrorIs(t, err, commission.ErrUnknownGridTable)
}

func TestStore_SourcesAndTiers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "t1", OrgID: testOrg, Name: "Bronze", BasePercentage: dec("55")}))
	require.NoError(t, store.SaveSource(ctx, commission.Source{
		ID: "a1", OrgID: testOrg, Type: commission.SourceAgent, Name: "Asha",
		TierID: ptr("t1"), Percentage: ptr(dec("20")),
	}))

	src, err := store.GetSource(ctx, testOrg, commission.SourceAgent, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", src.Name)
	require.NotNil(t, src.Percentage)
	assert.True(t, src.Percentage.Equal(dec("20")))

	_, err = store.GetSource(ctx, testOrg, commission.SourceMisp, "a1")
	assert.ErrorIs(t, err, commission.ErrNotFound)

	tier, err := store.FindTierByName(ctx, testOrg, "bronze")
	require.NoError(t, err)
	assert.Equal(t, "t1", tier.ID)

	_, err = store.GetTier(ctx, "org-2", "t1")
	assert.ErrorIs(t, err, commission.ErrNotFound)
}

func TestStore_DefaultTierConfigs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := commission.StandardDefaults()
	cfg.OrgID = testOrg
	cfg.Version = 1
	cfg.EffectiveFrom = jan2025
	require.NoError(t, store.SaveDefaultTierConfig(ctx, cfg))

	cfg.Version = 2
	cfg.AgentPercent = dec("65")
	require.NoError(t, store.SaveDefaultTierConfig(ctx, cfg))

	cfg.Version = 3
	cfg.MispPercent = dec("150")
	assert.ErrorIs(t, store.SaveDefaultTierConfig(ctx, cfg), commission.ErrInvalidShare)

	configs, err := store.DefaultTierConfigs(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 2, configs[0].Version)
	assert.True(t, configs[0].AgentPercent.Equal(dec("65")))
}

func TestStore_SyncTwiceKeepsOneRowPerPolicy(t *testing.T) {
	// GIVEN: A seeded org backed by SQLite
	// WHEN: The calculator syncs twice
	// THEN: policy_commissions has one row per policy with the same values

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{
		ID: "g1", OrgID: testOrg, Table: commission.TableMotor,
		CommissionRate: dec("10"), RewardRate: dec("2"), BonusRate: dec("0"), IsActive: true,
	}))
	require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "gold", OrgID: testOrg, Name: "Gold", BasePercentage: dec("70")}))
	require.NoError(t, store.SaveSource(ctx, commission.Source{ID: "a1", OrgID: testOrg, Type: commission.SourceAgent, TierID: ptr("gold")}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		ID: "p1", OrgID: testOrg, Number: "POL-1", Premium: dec("100000"), Provider: "Acme",
		ProductCategory: "Motor", SourceType: commission.SourceAgent, SourceID: ptr("a1"),
	}))
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{
		ID: "p2", OrgID: testOrg, Number: "POL-2", Premium: dec("5000"), ProductCategory: "Travel",
	}))

	calc := commission.NewCalculator(commission.StoresFrom(store), nil)
	org := commission.OrgContext{OrgID: testOrg, AsOf: jan2025}

	_, err := calc.Sync(ctx, org)
	require.NoError(t, err)
	_, err = calc.Sync(ctx, org)
	require.NoError(t, err)

	results, err := store.ListResults(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	r := results[0]
	assert.Equal(t, "p1", r.PolicyID)
	assert.Equal(t, commission.StatusCalculated, r.Status)
	assert.Equal(t, commission.TableMotor, r.GridTable)
	assert.True(t, r.InsurerCommission.Equal(dec("12000")))
	assert.True(t, r.AgentCommission.Equal(dec("8400")))
	assert.True(t, r.BrokerShare.Equal(dec("3600")))
	assert.Equal(t, commission.BasisTier, r.ShareBasis)

	assert.Equal(t, commission.StatusNoGridMatch, results[1].Status)
	assert.Equal(t, commission.GridTable(""), results[1].GridTable)
}

func TestStore_CustomerName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCustomer(ctx, testOrg, "c1", "Ravi"))
	name, err := store.CustomerName(ctx, testOrg, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", name)

	_, err = store.CustomerName(ctx, testOrg, "c2")
	assert.ErrorIs(t, err, commission.ErrNotFound)
}

// =============================================================================
// ALLOCATION STORES
// =============================================================================

func TestStore_RuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	to := jan2025.AddDate(1, 0, 0)
	rule := allocation.Rule{
		ID: "r1", TenantID: "t1", Name: "Motor LOB", ScopeLevel: allocation.ScopeLOB,
		ScopeRef: ptr("motor"), EffectiveFrom: jan2025, EffectiveTo: &to,
		Splits: allocation.Splits{
			Tenant: dec("33.33"), Branch: dec("33.33"), Team: dec("33.34"),
			Agent: decimal.Zero, Partner: decimal.Zero,
		},
		Priority: 3, Status: allocation.StatusActive, CreatedAt: jan2025,
	}
	require.NoError(t, store.SaveRule(ctx, rule))

	got, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, allocation.ScopeLOB, got.ScopeLevel)
	require.NotNil(t, got.ScopeRef)
	assert.Equal(t, "motor", *got.ScopeRef)
	assert.True(t, got.Splits.Team.Equal(dec("33.34")))
	assert.True(t, got.EffectiveFrom.Equal(jan2025))
	require.NotNil(t, got.EffectiveTo)
	assert.True(t, got.EffectiveTo.Equal(to))

	_, err = store.GetRule(ctx, "missing")
	assert.ErrorIs(t, err, allocation.ErrNotFound)

	rules, err := store.ListRules(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestStore_EarningAndPreviewRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{
		ID: "e1", TenantID: "t1", OrgID: "b1", LOB: "Motor", TotalCommission: dec("10000"),
		Parties: map[allocation.OrgType]allocation.OrgRef{
			allocation.OrgAgent: {ID: "a1", Name: "Asha"},
		},
	}))

	e, err := store.GetEarning(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", e.Parties[allocation.OrgAgent].Name)
	assert.True(t, e.TotalCommission.Equal(dec("10000")))

	_, err = store.GetPreview(ctx, "e1")
	assert.ErrorIs(t, err, allocation.ErrNotFound)

	require.NoError(t, store.SavePreview(ctx, allocation.Preview{
		EarningID: "e1", RuleID: "r1", TotalCommission: dec("10000"), Fingerprint: "abc",
		Lines: []allocation.Line{
			{OrgID: "a1", OrgName: "Asha", OrgType: allocation.OrgAgent, AllocatedAmount: dec("10000"), Percentage: dec("100")},
		},
		CreatedAt: jan2025,
	}))

	p, err := store.GetPreview(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Fingerprint)
	require.Len(t, p.Lines, 1)
	assert.True(t, p.Lines[0].AllocatedAmount.Equal(dec("10000")))
}

func TestStore_LedgerRejectsDuplicateKeysAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := func(id, key string) allocation.Entry {
		return allocation.Entry{
			ID: id, EarningID: "e1", RuleID: "r1", OrgType: allocation.OrgAgent,
			Amount: dec("10"), Percentage: dec("10"), IdempotencyKey: key, CreatedAt: jan2025,
		}
	}

	require.NoError(t, store.AppendEntries(ctx, []allocation.Entry{entry("x1", "k1"), entry("x2", "k2")}))

	err := store.AppendEntries(ctx, []allocation.Entry{entry("x3", "k3"), entry("x4", "k1")})
	assert.ErrorIs(t, err, allocation.ErrDuplicateIdempotencyKey)

	err = store.AppendEntries(ctx, []allocation.Entry{entry("x5", "k5"), entry("x6", "k5")})
	assert.ErrorIs(t, err, allocation.ErrDuplicateIdempotencyKey)

	entries, err := store.EntriesForEarning(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "failed batches leave nothing behind")
}

func TestStore_AllocatorEndToEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alloc := allocation.NewAllocator(store, nil)
	alloc.Clock = func() time.Time { return jan2025 }

	_, err := alloc.CreateRule(ctx, allocation.Rule{
		TenantID: "t1", ScopeLevel: allocation.ScopeTenant, EffectiveFrom: jan2025.AddDate(0, -1, 0),
		Splits: allocation.Splits{
			Tenant: dec("10"), Branch: dec("20"), Team: dec("20"), Agent: dec("40"), Partner: dec("10"),
		},
		Status: allocation.StatusActive,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "t1", TotalCommission: dec("10000")}))

	_, err = alloc.Preview(ctx, "e1")
	require.NoError(t, err)
	applied, err := alloc.Apply(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, applied.Entries, 5)

	_, err = alloc.Apply(ctx, "e1")
	assert.ErrorIs(t, err, allocation.ErrAlreadyApplied)
}

func TestStore_RulesAreInsertOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := allocation.Rule{
		ID: "r1", TenantID: "tenant-a", ScopeLevel: allocation.ScopeTenant, EffectiveFrom: jan2025,
		Splits: allocation.Splits{Agent: dec("100")}, Status: allocation.StatusActive, CreatedAt: jan2025,
	}
	require.NoError(t, store.SaveRule(ctx, rule))

	rule.TenantID = "tenant-b"
	rule.Splits = allocation.Splits{Partner: dec("100")}
	assert.ErrorIs(t, store.SaveRule(ctx, rule), allocation.ErrRuleExists)

	got, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.True(t, got.Splits.Agent.Equal(dec("100")))
	assert.True(t, got.Splits.Partner.IsZero())

	rules, err := store.ListRules(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStore_EarningOwnedByOneTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-a", TotalCommission: dec("100")}))
	require.NoError(t, store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-a", TotalCommission: dec("120")}),
		"the owner may restate an earning")

	err := store.SaveEarning(ctx, allocation.Earning{ID: "e1", TenantID: "tenant-b", TotalCommission: dec("1")})
	assert.ErrorIs(t, err, allocation.ErrEarningExists)

	e, err := store.GetEarning(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", e.TenantID)
	assert.True(t, e.TotalCommission.Equal(dec("120")))
}

func TestStore_RecordsAreScopedByOrg(t *testing.T) {
	// GIVEN: Two orgs saving a tier, grid row, policy and result with the same IDs
	// WHEN: Each org reads its own data
	// THEN: Neither write touched the other org's record

	store := newTestStore(t)
	ctx := context.Background()
	const other = "org-2"

	for _, org := range []string{testOrg, other} {
		pct, rate := "70", "12"
		if org == other {
			pct, rate = "5", "99"
		}
		require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "gold", OrgID: org, Name: "Gold", BasePercentage: dec(pct)}))
		require.NoError(t, store.SaveGrid(ctx, commission.GridRow{
			ID: "g1", OrgID: org, Table: commission.TableMotor, CommissionRate: dec(rate), IsActive: true,
		}))
		require.NoError(t, store.SavePolicy(ctx, commission.Policy{
			ID: "p1", OrgID: org, Number: "N-" + org, Premium: dec("1000"), ProductCategory: "Motor",
		}))
		require.NoError(t, store.UpsertResult(ctx, commission.Result{
			PolicyID: "p1", OrgID: org, PolicyNumber: "N-" + org, Status: commission.StatusCalculated,
			CalculatedAt: jan2025,
		}))
	}

	for _, tt := range []struct {
		org, pct, rate string
	}{
		{testOrg, "70", "12"},
		{other, "5", "99"},
	} {
		tier, err := store.GetTier(ctx, tt.org, "gold")
		require.NoError(t, err)
		assert.True(t, tier.BasePercentage.Equal(dec(tt.pct)), tt.org)

		grids, err := store.ActiveGrids(ctx, tt.org, commission.TableMotor)
		require.NoError(t, err)
		require.Len(t, grids, 1, tt.org)
		assert.True(t, grids[0].CommissionRate.Equal(dec(tt.rate)), tt.org)

		policies, err := store.ListPolicies(ctx, tt.org)
		require.NoError(t, err)
		require.Len(t, policies, 1, tt.org)
		assert.Equal(t, "N-"+tt.org, policies[0].Number)

		results, err := store.ListResults(ctx, tt.org)
		require.NoError(t, err)
		require.Len(t, results, 1, tt.org)
		assert.Equal(t, "N-"+tt.org, results[0].PolicyNumber)
	}
}

// =============================================================================
// SYNC RUNS & RESET
// =============================================================================

func TestStore_SyncRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sqlite.SyncRun{ID: "run-1", OrgID: testOrg, TriggeredBy: "api", Status: "running", StartedAt: jan2025}
	require.NoError(t, store.SaveSyncRun(ctx, run))

	done := jan2025.Add(time.Minute)
	run.Status = "completed"
	run.Policies = 3
	run.CompletedAt = &done
	require.NoError(t, store.SaveSyncRun(ctx, run))

	runs, err := store.ListSyncRuns(ctx, testOrg, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 3, runs[0].Policies)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicy(ctx, commission.Policy{ID: "p1", OrgID: testOrg, Number: "1", Premium: dec("1")}))
	require.NoError(t, store.SaveGrid(ctx, commission.GridRow{ID: "g1", OrgID: testOrg, Table: commission.TableLife, IsActive: true}))

	require.NoError(t, store.Reset(ctx))

	policies, err := store.ListPolicies(ctx, testOrg)
	require.NoError(t, err)
	assert.Empty(t, policies)
	grids, err := store.ListGrids(ctx, testOrg, commission.TableLife)
	require.NoError(t, err)
	assert.Empty(t, grids)
}
