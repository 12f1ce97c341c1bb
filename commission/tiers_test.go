package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/memory"
)

func newShareResolver(store *memory.Store) *commission.ShareResolver {
	return &commission.ShareResolver{Sources: store, Tiers: store, Defaults: store}
}

// =============================================================================
// LOOKUP ORDER
// =============================================================================

func TestShareResolver_AgentLookupOrder(t *testing.T) {
	ctx := context.Background()
	defaults := commission.StandardDefaults()

	tests := []struct {
		name      string
		seed      func(*memory.Store)
		wantPct   string
		wantBasis commission.ShareBasis
	}{
		{
			name: "own tier",
			seed: func(s *memory.Store) {
				s.SaveTier(ctx, commission.Tier{ID: "t-gold", OrgID: testOrg, Name: "Gold", BasePercentage: dec("75")})
				s.SaveTier(ctx, commission.Tier{ID: "t-bronze", OrgID: testOrg, Name: "Bronze", BasePercentage: dec("55")})
				s.SaveSource(ctx, commission.Source{ID: "a1", OrgID: testOrg, Type: commission.SourceAgent, TierID: ptr("t-gold"), Percentage: ptr(dec("20"))})
			},
			wantPct:   "75",
			wantBasis: commission.BasisTier,
		},
		{
			name: "fallback tier by name",
			seed: func(s *memory.Store) {
				s.SaveTier(ctx, commission.Tier{ID: "t-bronze", OrgID: testOrg, Name: "bronze", BasePercentage: dec("55")})
				s.SaveSource(ctx, commission.Source{ID: "a1", OrgID: testOrg, Type: commission.SourceAgent, Percentage: ptr(dec("20"))})
			},
			wantPct:   "55",
			wantBasis: commission.BasisFallbackTier,
		},
		{
			name: "own percentage",
			seed: func(s *memory.Store) {
				s.SaveSource(ctx, commission.Source{ID: "a1", OrgID: testOrg, Type: commission.SourceAgent, Percentage: ptr(dec("20"))})
			},
			wantPct:   "20",
			wantBasis: commission.BasisSourcePercentage,
		},
		{
			name:      "org default",
			seed:      func(*memory.Store) {},
			wantPct:   "70",
			wantBasis: commission.BasisOrgDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			tt.seed(store)

			share, err := newShareResolver(store).Resolve(ctx, orgCtx(), defaults, commission.SourceAgent, ptr("a1"))
			require.NoError(t, err)
			assert.True(t, share.Percent.Equal(dec(tt.wantPct)), "got %s", share.Percent)
			assert.Equal(t, tt.wantBasis, share.Basis)
		})
	}
}

func TestShareResolver_MispHasNoFallbackTier(t *testing.T) {
	// GIVEN: A Bronze tier exists but the MISP has none
	// WHEN: Resolving the MISP share
	// THEN: The org default MISP percent applies, not Bronze

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveTier(ctx, commission.Tier{ID: "t-bronze", OrgID: testOrg, Name: "Bronze", BasePercentage: dec("55")}))
	require.NoError(t, store.SaveSource(ctx, commission.Source{ID: "m1", OrgID: testOrg, Type: commission.SourceMisp}))

	share, err := newShareResolver(store).Resolve(ctx, orgCtx(), commission.StandardDefaults(), commission.SourceMisp, ptr("m1"))
	require.NoError(t, err)
	assert.True(t, share.Percent.Equal(dec("50")))
	assert.Equal(t, commission.BasisOrgDefault, share.Basis)
}

func TestShareResolver_EmployeeAndDirect(t *testing.T) {
	ctx := context.Background()
	r := newShareResolver(memory.New())

	share, err := r.Resolve(ctx, orgCtx(), commission.StandardDefaults(), commission.SourceEmployee, nil)
	require.NoError(t, err)
	assert.True(t, share.Percent.Equal(dec("60")))

	share, err = r.Resolve(ctx, orgCtx(), commission.StandardDefaults(), commission.SourceDirect, nil)
	require.NoError(t, err)
	assert.True(t, share.Percent.IsZero())
	assert.Equal(t, commission.BasisDirect, share.Basis)
}

func TestShareResolver_StoreFailureIsLookupError(t *testing.T) {
	r := &commission.ShareResolver{Sources: failingSources{}, Tiers: memory.New()}

	_, err := r.Resolve(context.Background(), orgCtx(), commission.StandardDefaults(), commission.SourceAgent, ptr("a1"))
	var lerr *commission.LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "source", lerr.Lookup)
}

// =============================================================================
// VERSIONED DEFAULTS
// =============================================================================

func TestEffectiveDefaults_PicksNewestEffectiveVersion(t *testing.T) {
	// GIVEN: v1 effective last year, v2 effective next month
	// WHEN: Resolving at jan2025
	// THEN: v1 applies

	configs := []commission.DefaultTierConfig{
		{OrgID: testOrg, Version: 2, EffectiveFrom: jan2025.AddDate(0, 1, 0), EmployeePercent: dec("65"), AgentPercent: dec("75"), MispPercent: dec("55")},
		{OrgID: testOrg, Version: 1, EffectiveFrom: jan2025.AddDate(-1, 0, 0), EmployeePercent: dec("50"), AgentPercent: dec("60"), MispPercent: dec("40"), AgentFallbackTierName: "Silver"},
	}

	got := commission.EffectiveDefaults(configs, jan2025)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.EmployeePercent.Equal(dec("50")))
	assert.Equal(t, "Silver", got.AgentFallbackTierName)

	got = commission.EffectiveDefaults(configs, jan2025.AddDate(0, 2, 0))
	assert.Equal(t, 2, got.Version)
}

func TestEffectiveDefaults_StandardWhenNoneApply(t *testing.T) {
	got := commission.EffectiveDefaults(nil, jan2025)
	assert.True(t, got.EmployeePercent.Equal(dec("60")))
	assert.True(t, got.AgentPercent.Equal(dec("70")))
	assert.True(t, got.MispPercent.Equal(dec("50")))
	assert.Equal(t, "Bronze", got.AgentFallbackTierName)
}

func TestCalculate_UsesOrgDefaultConfig(t *testing.T) {
	// GIVEN: The org configured employees at 40%
	// WHEN: An employee-sourced life policy is calculated
	// THEN: 40% of the insurer commission goes to the employee

	ctx := context.Background()
	store := memory.New()
	seedBrokerage(t, store)
	require.NoError(t, store.SaveDefaultTierConfig(ctx, commission.DefaultTierConfig{
		OrgID: testOrg, Version: 1, EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EmployeePercent: dec("40"), AgentPercent: dec("70"), MispPercent: dec("50"), AgentFallbackTierName: "Bronze",
	}))
	calc := newTestCalculator(t, commission.StoresFrom(store))

	batch, err := calc.Calculate(ctx, orgCtx())
	require.NoError(t, err)

	r := resultFor(t, batch, "p3")
	assertMoney(t, "6400", r.EmployeeCommission)
	assertMoney(t, "9600", r.BrokerShare)
}

func TestDefaultTierConfig_Validate(t *testing.T) {
	c := commission.StandardDefaults()
	assert.NoError(t, c.Validate())

	c.AgentPercent = dec("101")
	assert.ErrorIs(t, c.Validate(), commission.ErrInvalidShare)
}
