/*
calculator.go - Batch orchestration

PURPOSE:
  Runs the resolver and splitter over an org's active policies, assembles
  one Result per policy, and optionally persists them.

OPERATIONS:
  Calculate: fetch policies -> per policy (customer, grid, split) -> results
  Sync:      Calculate + upsert each result keyed by policy ID
  Summarize: totals across a result set for dashboards

FAILURE HANDLING:
  - Policy fetch failure aborts the run (ErrPolicyFetch).
  - Default tier config failure aborts the run: every policy needs it.
  - A failed per-policy lookup degrades that policy only. A grid lookup
    failure yields a zero result with StatusNoGridMatch; a source or tier
    lookup failure keeps the insurer commission and gives the broker all of
    it. Degraded results carry Degraded=true and a Note.
  - A failed upsert is counted in BatchStats.PersistFailed, not fatal.

CONCURRENCY:
  Workers <= 1 runs sequentially. Larger values fan policies out through
  an errgroup with a concurrency limit. Each policy's lookups finish before
  its result is written into its slot, so output order matches input order.
  Concurrent Sync runs for the same org are not serialised: the result
  store's upsert gives last-write-wins.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer receives run telemetry. metrics.Recorder implements it.
type Observer interface {
	ObserveResult(status Status, degraded bool)
	ObservePersistFailure()
	ObserveRun(operation string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveResult(Status, bool)       {}
func (nopObserver) ObservePersistFailure()           {}
func (nopObserver) ObserveRun(string, time.Duration) {}

// Calculator orchestrates commission runs.
type Calculator struct {
	Stores   Stores
	Resolver *Resolver
	Splitter *Splitter
	Logger   *zap.Logger
	Observer Observer
	Workers  int
	Clock    func() time.Time
}

// NewCalculator wires a calculator over the given stores.
func NewCalculator(stores Stores, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		Stores:   stores,
		Resolver: NewResolver(stores.Grids),
		Splitter: &Splitter{Shares: &ShareResolver{
			Sources:  stores.Sources,
			Tiers:    stores.Tiers,
			Defaults: stores.Defaults,
		}},
		Logger:   logger,
		Observer: nopObserver{},
		Workers:  1,
		Clock:    func() time.Time { return time.Now().UTC() },
	}
}

// BatchStats counts outcomes across a run.
type BatchStats struct {
	Total         int
	Calculated    int
	NoGridMatch   int
	Degraded      int
	Persisted     int
	PersistFailed int
}

// Batch is the output of a run.
type Batch struct {
	OrgID   string
	Results []Result
	Summary Summary
	Stats   BatchStats
	RanAt   time.Time
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate computes results for every active policy of the org.
func (c *Calculator) Calculate(ctx context.Context, org OrgContext) (*Batch, error) {
	start := time.Now()
	defer func() { c.observer().ObserveRun("calculate", time.Since(start)) }()
	return c.calculate(ctx, org)
}

func (c *Calculator) calculate(ctx context.Context, org OrgContext) (*Batch, error) {
	if org.OrgID == "" {
		return nil, ErrOrgRequired
	}
	if org.AsOf.IsZero() {
		org.AsOf = c.now()
	}
	log := c.Logger.With(zap.String("org_id", org.OrgID))

	policies, err := c.Stores.Policies.ActivePolicies(ctx, org.OrgID)
	if err != nil {
		log.Error("policy fetch failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPolicyFetch, err)
	}

	defaults, err := c.Splitter.Shares.EffectiveDefaults(ctx, org)
	if err != nil {
		log.Error("default tier config fetch failed", zap.Error(err))
		return nil, fmt.Errorf("load default tier config: %w", err)
	}

	results := make([]Result, len(policies))
	if c.Workers <= 1 {
		for i, p := range policies {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = c.calculateOne(ctx, org, defaults, p, log)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.Workers)
		for i, p := range policies {
			i, p := i, p
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = c.calculateOne(gctx, org, defaults, p, log)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	batch := &Batch{OrgID: org.OrgID, Results: results, RanAt: org.AsOf}
	for _, r := range results {
		batch.Stats.Total++
		switch r.Status {
		case StatusCalculated:
			batch.Stats.Calculated++
		case StatusNoGridMatch:
			batch.Stats.NoGridMatch++
		}
		if r.Degraded {
			batch.Stats.Degraded++
		}
		c.observer().ObserveResult(r.Status, r.Degraded)
	}
	batch.Summary = Summarize(results)

	log.Info("commission run calculated",
		zap.Int("policies", batch.Stats.Total),
		zap.Int("calculated", batch.Stats.Calculated),
		zap.Int("no_grid_match", batch.Stats.NoGridMatch),
		zap.Int("degraded", batch.Stats.Degraded),
	)
	return batch, nil
}

// calculateOne never fails: lookups that break degrade the result.
func (c *Calculator) calculateOne(ctx context.Context, org OrgContext, defaults DefaultTierConfig, p Policy, log *zap.Logger) Result {
	r := Result{
		PolicyID:        p.ID,
		OrgID:           org.OrgID,
		PolicyNumber:    p.Number,
		CustomerName:    c.customerName(ctx, org, p, log),
		ProductCategory: p.ProductCategory,
		Line:            p.Line,
		Provider:        p.Provider,
		Premium:         p.Premium,
		SourceType:      p.SourceType,
		SourceID:        p.SourceID,
		BaseRate:        decimal.Zero,
		RewardRate:      decimal.Zero,
		BonusRate:       decimal.Zero,
		SharePercent:    decimal.Zero,
		ShareBasis:      BasisDirect,
		Status:          StatusNoGridMatch,
		CalculatedAt:    c.now(),
	}
	ZeroSplit().apply(&r)

	if r.Line == "" {
		r.Line = ClassifyProductLine(p.ProductCategory)
	}

	match, err := c.Resolver.Resolve(ctx, org, p.Provider, r.Line, org.Now())
	if err != nil {
		lerr := &LookupError{PolicyID: p.ID, Lookup: "grid", Err: err}
		log.Warn("grid lookup failed, degrading policy", zap.String("policy_id", p.ID), zap.Error(lerr))
		r.Degraded = true
		r.Note = lerr.Error()
		return r
	}
	if match == nil {
		return r
	}

	r.Status = StatusCalculated
	r.GridTable = match.Table
	r.GridID = match.Row.ID
	r.BaseRate = match.Rates.Base
	r.RewardRate = match.Rates.Reward
	r.BonusRate = match.Rates.Bonus

	out, err := c.Splitter.Split(ctx, org, defaults, SplitInput{
		PolicyID:   p.ID,
		Premium:    p.Premium,
		Rates:      match.Rates,
		SourceType: p.SourceType,
		SourceID:   p.SourceID,
	})
	if err != nil {
		var lerr *LookupError
		if !errors.As(err, &lerr) {
			// Invalid inputs (negative premium or rates) also zero out the
			// source share; the policy is reported, not dropped.
			log.Warn("commission split rejected", zap.String("policy_id", p.ID), zap.Error(err))
			r.Degraded = true
			r.Note = err.Error()
			return r
		}
		log.Warn("source lookup failed, degrading policy", zap.String("policy_id", p.ID), zap.Error(err))
		split, splitErr := SplitCommission(p.Premium, match.Rates, SourceDirect, decimal.Zero)
		if splitErr == nil {
			split.apply(&r)
		}
		r.Degraded = true
		r.Note = err.Error()
		return r
	}

	out.Split.apply(&r)
	r.SharePercent = out.Share.Percent
	r.ShareBasis = out.Share.Basis
	return r
}

func (c *Calculator) customerName(ctx context.Context, org OrgContext, p Policy, log *zap.Logger) string {
	if c.Stores.Customers != nil && p.CustomerID != "" {
		name, err := c.Stores.Customers.CustomerName(ctx, org.OrgID, p.CustomerID)
		if err == nil && name != "" {
			return name
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			log.Debug("customer lookup failed", zap.String("policy_id", p.ID), zap.Error(err))
		}
	}
	if p.CustomerName != "" {
		return p.CustomerName
	}
	return "Unknown"
}

// =============================================================================
// SYNC
// =============================================================================

// Sync calculates and upserts every result by policy ID. Re-running with
// unchanged inputs overwrites the same rows.
func (c *Calculator) Sync(ctx context.Context, org OrgContext) (*Batch, error) {
	start := time.Now()
	defer func() { c.observer().ObserveRun("sync", time.Since(start)) }()

	if c.Stores.Results == nil {
		return nil, errors.New("sync requires a result store")
	}

	batch, err := c.calculate(ctx, org)
	if err != nil {
		return nil, err
	}

	log := c.Logger.With(zap.String("org_id", batch.OrgID))
	for _, r := range batch.Results {
		if err := c.Stores.Results.UpsertResult(ctx, r); err != nil {
			batch.Stats.PersistFailed++
			c.observer().ObservePersistFailure()
			log.Error("commission upsert failed", zap.String("policy_id", r.PolicyID), zap.Error(err))
			continue
		}
		batch.Stats.Persisted++
	}

	log.Info("commission run synced",
		zap.Int("persisted", batch.Stats.Persisted),
		zap.Int("persist_failed", batch.Stats.PersistFailed),
	)
	return batch, nil
}

func (c *Calculator) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock()
}

func (c *Calculator) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}
	return c.Observer
}
