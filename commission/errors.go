/*
errors.go - Error types for the commission engine

ERROR CATEGORIES:
  1. No-match: not an error. Grid resolution returns nil and the result
     carries StatusNoGridMatch.
  2. Validation: negative inputs, out-of-range shares.
  3. Lookup failures: wrapped as *LookupError. The calculator degrades the
     affected policy instead of aborting.
  4. Fatal: the policy set cannot be fetched. The whole run aborts.

SEE ALSO:
  - calculator.go: Decides degrade vs abort
  - allocation/errors.go: Allocation-specific errors
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNegativeAmount is returned when a premium or rate is negative.
	ErrNegativeAmount = errors.New("negative premium or rate")

	// ErrInvalidShare is returned when a share percentage is outside [0, 100].
	ErrInvalidShare = errors.New("share percentage out of range")

	// ErrPolicyFetch aborts a run: without the policy set nothing can be computed.
	ErrPolicyFetch = errors.New("failed to fetch policies")

	// ErrOrgRequired is returned when a run has no org context.
	ErrOrgRequired = errors.New("org context required")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")

	// ErrUnknownGridTable is returned when a grid row names no known table.
	ErrUnknownGridTable = errors.New("unknown grid table")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LookupError describes a failed per-policy lookup (source, tier, grid).
type LookupError struct {
	PolicyID string
	Lookup   string // "grid", "source", "tier", "defaults", "customer"
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup failed for policy %s: %v", e.Lookup, e.PolicyID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidShare) ||
		errors.Is(err, ErrOrgRequired) ||
		errors.Is(err, ErrUnknownGridTable)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
