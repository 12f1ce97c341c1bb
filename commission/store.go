package commission

import "context"

// =============================================================================
// STORES - External collaborators, consumed as plain data
// =============================================================================

// PolicyStore supplies the policy set for an org.
type PolicyStore interface {
	// ActivePolicies returns the org's active policies ordered by ID.
	ActivePolicies(ctx context.Context, orgID string) ([]Policy, error)
}

// GridStore supplies payout grid rows.
type GridStore interface {
	// ActiveGrids returns the active rows of one grid table for an org.
	// Provider filtering and ordering are the resolver's job.
	ActiveGrids(ctx context.Context, orgID string, table GridTable) ([]GridRow, error)
}

// SourceStore supplies agents, MISPs and employees.
// Returns ErrNotFound when the record does not exist.
type SourceStore interface {
	GetSource(ctx context.Context, orgID string, typ SourceType, id string) (*Source, error)
}

// TierStore supplies commission tiers.
type TierStore interface {
	// GetTier returns ErrNotFound when the tier does not exist.
	GetTier(ctx context.Context, orgID, id string) (*Tier, error)

	// FindTierByName matches case-insensitively. Returns ErrNotFound on miss.
	FindTierByName(ctx context.Context, orgID, name string) (*Tier, error)
}

// DefaultsStore supplies versioned per-org default tier configuration.
type DefaultsStore interface {
	// DefaultTierConfigs returns every version for the org (any order).
	DefaultTierConfigs(ctx context.Context, orgID string) ([]DefaultTierConfig, error)
}

// CustomerDirectory resolves customer display names.
type CustomerDirectory interface {
	CustomerName(ctx context.Context, orgID, customerID string) (string, error)
}

// ResultStore is the commission result sink: one current record per policy.
type ResultStore interface {
	// UpsertResult inserts or overwrites the record keyed by PolicyID.
	UpsertResult(ctx context.Context, r Result) error

	// ListResults returns persisted records for an org ordered by policy ID.
	ListResults(ctx context.Context, orgID string) ([]Result, error)
}

// Stores bundles every collaborator the calculator needs.
// A single backend (sqlite, memory) usually implements all of them.
type Stores struct {
	Policies  PolicyStore
	Grids     GridStore
	Sources   SourceStore
	Tiers     TierStore
	Defaults  DefaultsStore
	Customers CustomerDirectory // optional
	Results   ResultStore       // required for Sync only
}

// Backend is implemented by stores that serve every interface at once.
type Backend interface {
	PolicyStore
	GridStore
	SourceStore
	TierStore
	DefaultsStore
	CustomerDirectory
	ResultStore
}

// StoresFrom wires a single backend into every slot.
func StoresFrom(b Backend) Stores {
	return Stores{
		Policies:  b,
		Grids:     b,
		Sources:   b,
		Tiers:     b,
		Defaults:  b,
		Customers: b,
		Results:   b,
	}
}
