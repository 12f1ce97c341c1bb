package allocation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule wraps every rule validation failure.
	ErrInvalidRule = errors.New("invalid allocation rule")

	// ErrNoMatchingRule is returned when no Active rule covers a context.
	// Callers decide whether to fall back to a tenant-wide rule or reject.
	ErrNoMatchingRule = errors.New("no matching allocation rule")

	// ErrEarningNotFound is returned when an earning ID is unknown.
	ErrEarningNotFound = errors.New("earning not found")

	// ErrRuleExists is returned when a created rule reuses an existing ID.
	// Rules are immutable once created.
	ErrRuleExists = errors.New("allocation rule already exists")

	// ErrEarningExists is returned when an earning ID is held by another
	// tenant.
	ErrEarningExists = errors.New("earning already exists")

	// ErrRuleNotFound is returned when a rule ID is unknown.
	ErrRuleNotFound = errors.New("allocation rule not found")

	// ErrPreviewRequired is returned by Apply when no preview exists.
	ErrPreviewRequired = errors.New("allocation must be previewed before apply")

	// ErrPreviewStale is returned by Apply when the recomputed split no
	// longer equals the stored preview (rules or earning changed).
	ErrPreviewStale = errors.New("allocation preview is stale")

	// ErrAlreadyApplied is returned when entries for the earning exist.
	ErrAlreadyApplied = errors.New("allocation already applied")

	// ErrDuplicateIdempotencyKey is returned by ledgers for repeated keys.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")

	// ErrUnknownAction is returned by Dispatch.
	ErrUnknownAction = errors.New("unknown allocation action")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes one rejected rule field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRule }

// NoMatchError carries the context that found no rule.
type NoMatchError struct {
	Context Context
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching allocation rule for tenant %q (org %q, product %q, lob %q)",
		e.Context.TenantID, e.Context.OrgID, e.Context.ProductID, e.Context.LOB)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatchingRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrUnknownAction)
}

// IsConflict returns true for errors that reflect allocation state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPreviewRequired) ||
		errors.Is(err, ErrPreviewStale) ||
		errors.Is(err, ErrAlreadyApplied) ||
		errors.Is(err, ErrRuleExists) ||
		errors.Is(err, ErrEarningExists) ||
		errors.Is(err, ErrNoMatchingRule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEarningNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrNotFound)
}
