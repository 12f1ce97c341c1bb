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

func newTestResolver(t *testing.T, rows ...commission.GridRow) (*commission.Resolver, *memory.Store) {
	t.Helper()
	store := memory.New()
	for _, r := range rows {
		require.NoError(t, store.SaveGrid(context.Background(), r))
	}
	return commission.NewResolver(store), store
}

// =============================================================================
// PROVIDER MATCHING
// =============================================================================

func TestResolve_ExactProviderBeatsWildcard(t *testing.T) {
	// GIVEN: A wildcard row and an exact-provider row
	// WHEN: Resolving for that provider
	// THEN: The exact row wins regardless of insertion order

	resolver, _ := newTestResolver(t,
		motorGrid("wild", nil, "5", "0", "0"),
		motorGrid("exact", ptr("Acme"), "10", "0", "0"),
	)

	m, err := resolver.Resolve(context.Background(), orgCtx(), "acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "exact", m.Row.ID)
	assert.True(t, m.Rates.Base.Equal(dec("10")))
}

func TestResolve_SubstringBetweenExactAndWildcard(t *testing.T) {
	resolver, _ := newTestResolver(t,
		motorGrid("wild", nil, "5", "0", "0"),
		motorGrid("sub", ptr("HDFC ERGO General"), "7", "0", "0"),
	)

	m, err := resolver.Resolve(context.Background(), orgCtx(), "HDFC ERGO", commission.LineMotor, jan2025)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "sub", m.Row.ID)
}

func TestResolve_OtherProviderRowIgnored(t *testing.T) {
	resolver, _ := newTestResolver(t, motorGrid("other", ptr("Bajaj"), "9", "0", "0"))

	m, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_EmptyProviderMatchesWildcardOnly(t *testing.T) {
	// GIVEN: An insurer-specific row and a wildcard row
	// WHEN: Resolving a policy with no provider
	// THEN: Only the wildcard row is a candidate; without it there is no match

	resolver, _ := newTestResolver(t,
		motorGrid("insurer", ptr("Acme"), "10", "0", "0"),
		motorGrid("wild", nil, "5", "0", "0"),
	)
	m, err := resolver.Resolve(context.Background(), orgCtx(), "  ", commission.LineMotor, jan2025)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "wild", m.Row.ID)

	resolver, _ = newTestResolver(t, motorGrid("insurer", ptr("Acme"), "10", "0", "0"))
	m, err = resolver.Resolve(context.Background(), orgCtx(), "", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_InactiveRowIgnored(t *testing.T) {
	row := motorGrid("off", nil, "9", "0", "0")
	row.IsActive = false
	resolver, _ := newTestResolver(t, row)

	m, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_LineWithoutTable(t *testing.T) {
	resolver, _ := newTestResolver(t, motorGrid("wild", nil, "5", "0", "0"))

	m, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineOther, jan2025)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveGrid_ClassifiesCategory(t *testing.T) {
	resolver, _ := newTestResolver(t, motorGrid("wild", nil, "5", "0", "0"))

	m, err := resolver.ResolveGrid(context.Background(), orgCtx(), "Acme", "Two Wheeler Motor")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, commission.TableMotor, m.Table)

	m, err = resolver.ResolveGrid(context.Background(), orgCtx(), "Acme", "Travel")
	require.NoError(t, err)
	assert.Nil(t, m)
}

// =============================================================================
// TIE-BREAKING
// =============================================================================

func TestResolve_TieBreakIsDeterministic(t *testing.T) {
	// GIVEN: Equally specific rows
	// WHEN: Resolving
	// THEN: Later effective_from wins, then later created_at, then lower id

	older := motorGrid("b", nil, "5", "0", "0")
	older.EffectiveFrom = ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := motorGrid("c", nil, "6", "0", "0")
	newer.EffectiveFrom = ptr(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	resolver, _ := newTestResolver(t, older, newer)
	m, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Equal(t, "c", m.Row.ID)

	sameA := motorGrid("z", nil, "5", "0", "0")
	sameB := motorGrid("y", nil, "6", "0", "0")
	sameB.CreatedAt = sameA.CreatedAt.Add(time.Hour)
	resolver, _ = newTestResolver(t, sameA, sameB)
	m, err = resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Equal(t, "y", m.Row.ID)

	idA := motorGrid("id-2", nil, "5", "0", "0")
	idB := motorGrid("id-1", nil, "6", "0", "0")
	for i := 0; i < 5; i++ {
		resolver, _ = newTestResolver(t, idA, idB)
		m, err = resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
		require.NoError(t, err)
		assert.Equal(t, "id-1", m.Row.ID)
	}
}

// =============================================================================
// EFFECTIVE WINDOWS
// =============================================================================

func TestResolve_EffectiveWindow(t *testing.T) {
	// GIVEN: A row that expired before the run date
	// WHEN: Resolving with and without window enforcement
	// THEN: Only the non-enforcing resolver returns it

	expired := motorGrid("expired", nil, "5", "0", "0")
	expired.EffectiveTo = ptr(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	resolver, _ := newTestResolver(t, expired)

	m, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.NotNil(t, m)

	resolver.EnforceEffectiveWindow = true
	m, err = resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_StoreErrorIsReturned(t *testing.T) {
	resolver := commission.NewResolver(failingGrids{})

	_, err := resolver.Resolve(context.Background(), orgCtx(), "Acme", commission.LineMotor, jan2025)
	assert.Error(t, err)
}

func TestClassifyProductLine(t *testing.T) {
	tests := map[string]commission.ProductLine{
		"Motor":             commission.LineMotor,
		"private car MOTOR": commission.LineMotor,
		"Term Life":         commission.LineLife,
		"Family Health":     commission.LineHealth,
		"Travel":            commission.LineOther,
		"":                  commission.LineOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, commission.ClassifyProductLine(in), in)
	}
}
