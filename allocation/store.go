package allocation

import "context"

// RuleStore persists allocation rules.
type RuleStore interface {
	// SaveRule inserts a new rule. An existing ID fails with ErrRuleExists
	// whichever tenant owns it.
	SaveRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id RuleID) (*Rule, error)
	ListRules(ctx context.Context, tenantID string) ([]Rule, error)
}

// EarningStore supplies earnings.
type EarningStore interface {
	// GetEarning returns ErrNotFound when the earning does not exist.
	GetEarning(ctx context.Context, id string) (*Earning, error)
}

// PreviewStore keeps the latest preview per earning.
type PreviewStore interface {
	SavePreview(ctx context.Context, p Preview) error
	// GetPreview returns ErrNotFound when the earning was never previewed.
	GetPreview(ctx context.Context, earningID string) (*Preview, error)
}

// Ledger is the append-only allocation ledger.
// No Update, no Delete: corrections are new entries.
type Ledger interface {
	// AppendEntries writes all entries or none. A repeated idempotency key
	// fails the whole batch with ErrDuplicateIdempotencyKey.
	AppendEntries(ctx context.Context, entries []Entry) error

	// EntriesForEarning returns committed entries for one earning.
	EntriesForEarning(ctx context.Context, earningID string) ([]Entry, error)
}

// Backend is implemented by stores that serve every interface at once.
type Backend interface {
	RuleStore
	EarningStore
	PreviewStore
	Ledger
}
