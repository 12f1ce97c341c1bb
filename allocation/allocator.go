/*
allocator.go - Preview and apply allocations

PREVIEW:
  amount(type) = total * percent(type) / 100, for each org type with
  percent > 0, rounded to cents. The rounding residual goes to the largest
  line so the amounts sum to the total exactly. The preview is stored
  with a fingerprint of (earning, rule, total, lines).

APPLY:
  Apply recomputes the preview and only commits when a stored preview
  with the same fingerprint exists. Entries are written atomically with
  idempotency keys "alloc:<earning>:<org_type>", so a second apply fails
  with ErrAlreadyApplied instead of double-booking.
*/
package allocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer receives allocation telemetry. metrics.Recorder implements it.
type Observer interface {
	ObserveAllocation(outcome string)
}

// Allocator owns rule creation, preview and apply.
type Allocator struct {
	Rules    RuleStore
	Earnings EarningStore
	Previews PreviewStore
	Ledger   Ledger
	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
}

// NewAllocator wires an allocator over a single backend.
func NewAllocator(b Backend, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		Rules:    b,
		Earnings: b,
		Previews: b,
		Ledger:   b,
		Logger:   logger,
		Clock:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// RULES
// =============================================================================

// CreateRule validates and persists a rule, assigning an ID when missing.
// Nothing is written when validation fails or the ID is taken.
func (a *Allocator) CreateRule(ctx context.Context, r Rule) (RuleID, error) {
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if err := ValidateRule(r); err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = RuleID(uuid.NewString())
	}
	r.CreatedAt = a.now()
	if err := a.Rules.SaveRule(ctx, r); err != nil {
		if errors.Is(err, ErrRuleExists) {
			return "", fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
		}
		return "", fmt.Errorf("save allocation rule: %w", err)
	}
	a.Logger.Info("allocation rule created",
		zap.String("rule_id", string(r.ID)),
		zap.String("tenant_id", r.TenantID),
		zap.String("scope_level", string(r.ScopeLevel)),
	)
	return r.ID, nil
}

// ListRules returns every rule of a tenant.
func (a *Allocator) ListRules(ctx context.Context, tenantID string) ([]Rule, error) {
	return a.Rules.ListRules(ctx, tenantID)
}

// Match selects the rule for a context at now.
func (a *Allocator) Match(ctx context.Context, c Context, now time.Time) (Rule, error) {
	rules, err := a.Rules.ListRules(ctx, c.TenantID)
	if err != nil {
		return Rule{}, err
	}
	return SelectRule(rules, c, now)
}

// =============================================================================
// PREVIEW
// =============================================================================

// TenantEarning returns the earning when it belongs to tenantID. Earnings
// of other tenants are reported as not found.
func (a *Allocator) TenantEarning(ctx context.Context, tenantID, earningID string) (*Earning, error) {
	earning, err := a.Earnings.GetEarning(ctx, earningID)
	if errors.Is(err, ErrNotFound) || (err == nil && earning.TenantID != tenantID) {
		return nil, fmt.Errorf("%w: %s", ErrEarningNotFound, earningID)
	}
	if err != nil {
		return nil, err
	}
	return earning, nil
}

// Preview computes and stores the allocation for an earning.
func (a *Allocator) Preview(ctx context.Context, earningID string) (*Preview, error) {
	p, err := a.compute(ctx, earningID)
	if err != nil {
		return nil, err
	}
	if err := a.Previews.SavePreview(ctx, *p); err != nil {
		return nil, fmt.Errorf("save preview: %w", err)
	}
	a.observe("previewed")
	return p, nil
}

func (a *Allocator) compute(ctx context.Context, earningID string) (*Preview, error) {
	earning, err := a.Earnings.GetEarning(ctx, earningID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEarningNotFound, earningID)
	}
	if err != nil {
		return nil, err
	}

	rule, err := a.Match(ctx, earning.Context(), a.now())
	if err != nil {
		a.observe("no_rule")
		return nil, err
	}

	p := BuildPreview(*earning, rule)
	p.CreatedAt = a.now()
	return &p, nil
}

// BuildPreview splits an earning according to a rule.
func BuildPreview(e Earning, r Rule) Preview {
	p := Preview{EarningID: e.ID, RuleID: r.ID, TotalCommission: e.TotalCommission}

	for _, t := range OrgTypes {
		pct := r.Splits.For(t)
		if !pct.IsPositive() {
			continue
		}
		ref := partyFor(e, t)
		p.Lines = append(p.Lines, Line{
			OrgID:           ref.ID,
			OrgName:         ref.Name,
			OrgType:         t,
			AllocatedAmount: e.TotalCommission.Mul(pct).Div(hundred).Round(2),
			Percentage:      pct,
		})
	}

	if len(p.Lines) > 0 {
		residual := e.TotalCommission.Sub(p.Allocated())
		if !residual.IsZero() {
			largest := 0
			for i, l := range p.Lines {
				if l.AllocatedAmount.GreaterThan(p.Lines[largest].AllocatedAmount) {
					largest = i
				}
			}
			p.Lines[largest].AllocatedAmount = p.Lines[largest].AllocatedAmount.Add(residual)
		}
	}

	p.Fingerprint = fingerprint(p)
	return p
}

func partyFor(e Earning, t OrgType) OrgRef {
	if ref, ok := e.Parties[t]; ok && ref.ID != "" {
		if ref.Name == "" {
			ref.Name = ref.ID
		}
		return ref
	}
	if t == OrgTenant && e.TenantID != "" {
		return OrgRef{ID: e.TenantID, Name: e.TenantID}
	}
	return OrgRef{Name: "Unassigned " + string(t)}
}

func fingerprint(p Preview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", p.EarningID, p.RuleID, p.TotalCommission.String())
	for _, l := range p.Lines {
		fmt.Fprintf(&b, "|%s:%s:%s:%s", l.OrgType, l.OrgID, l.AllocatedAmount.StringFixed(2), l.Percentage.String())
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// APPLY
// =============================================================================

// Apply commits the previewed allocation as ledger entries.
func (a *Allocator) Apply(ctx context.Context, earningID string) (*Applied, error) {
	stored, err := a.Previews.GetPreview(ctx, earningID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPreviewRequired, earningID)
	}
	if err != nil {
		return nil, err
	}

	existing, err := a.Ledger.EntriesForEarning(ctx, earningID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyApplied, earningID)
	}

	current, err := a.compute(ctx, earningID)
	if err != nil {
		return nil, err
	}
	if current.Fingerprint != stored.Fingerprint {
		a.observe("stale")
		return nil, fmt.Errorf("%w: %s", ErrPreviewStale, earningID)
	}

	now := a.now()
	entries := make([]Entry, 0, len(current.Lines))
	for _, l := range current.Lines {
		entries = append(entries, Entry{
			ID:             uuid.NewString(),
			EarningID:      earningID,
			RuleID:         current.RuleID,
			OrgType:        l.OrgType,
			OrgID:          l.OrgID,
			OrgName:        l.OrgName,
			Amount:         l.AllocatedAmount,
			Percentage:     l.Percentage,
			IdempotencyKey: IdempotencyKey(earningID, l.OrgType),
			CreatedAt:      now,
		})
	}

	if err := a.Ledger.AppendEntries(ctx, entries); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyApplied, earningID)
		}
		return nil, fmt.Errorf("append allocation entries: %w", err)
	}

	a.observe("applied")
	a.Logger.Info("allocation applied",
		zap.String("earning_id", earningID),
		zap.String("rule_id", string(current.RuleID)),
		zap.String("total", current.TotalCommission.StringFixed(2)),
		zap.Int("entries", len(entries)),
	)
	return &Applied{Preview: *current, Entries: entries}, nil
}

// IdempotencyKey is the ledger key of one allocation line.
func IdempotencyKey(earningID string, t OrgType) string {
	return "alloc:" + earningID + ":" + string(t)
}

func (a *Allocator) now() time.Time {
	if a.Clock == nil {
		return time.Now().UTC()
	}
	return a.Clock()
}

func (a *Allocator) observe(outcome string) {
	if a.Observer != nil {
		a.Observer.ObserveAllocation(outcome)
	}
}
