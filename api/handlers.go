/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes commission calculation, revenue allocation and their
  configuration via REST. Handles HTTP request/response and JSON, and
  delegates to commission.Calculator and allocation.Allocator.

ENDPOINTS:
  Configuration (org from X-Org-ID):
    GET/POST /api/policies              Policies (line classified on create)
    POST     /api/customers             Customer display names
    GET/POST /api/grids                 Payout grid rows (?table= filters)
    GET      /api/grids/resolve         Resolve ?provider=&category=
    GET/POST /api/tiers                 Commission tiers
    GET/POST /api/sources               Agents, MISPs, employees
    GET/POST /api/tier-defaults         Versioned default tier config

  Commissions:
    POST /api/commissions/calculate     Calculate, nothing persisted
    POST /api/commissions/sync          Calculate and upsert per policy
    GET  /api/commissions/report        Aggregate summary only
    GET  /api/commissions               Persisted records
    POST /api/commissions/split         Stateless split of one premium

  Allocation (tenant from X-Tenant-ID, defaulting to the org):
    GET/POST /api/allocations/rules
    GET/POST /api/allocations/earnings
    POST     /api/allocations/earnings/{id}/preview
    POST     /api/allocations/earnings/{id}/apply
    GET      /api/allocations/earnings/{id}/entries
    POST     /api/allocations/actions   Action dispatch

  Runs & scenarios:
    GET  /api/sync-runs
    GET  /api/scenarios, POST /api/scenarios/load, POST /api/scenarios/reset

ERROR HANDLING:
  writeDomainError maps engine errors to statuses:
  - 400: client errors (negative amounts, unknown actions, bad input)
  - 404: unknown earning, rule or record
  - 409: allocation state conflicts (no preview, stale, already applied,
         no matching rule)
  - 422: allocation rule validation
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - org.go: Org context resolution
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/metrics"
	"github.com/warp/commission-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tune the engines behind the handler.
type Options struct {
	Workers                int
	EnforceEffectiveWindow bool
	Recorder               *metrics.Recorder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Calculator *commission.Calculator
	Allocator  *allocation.Allocator
	Factory    *factory.Factory
	Logger     *zap.Logger
	Recorder   *metrics.Recorder

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the calculator and allocator over the store.
func NewHandler(store *sqlite.Store, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	calc := commission.NewCalculator(commission.StoresFrom(store), logger.Named("commission"))
	calc.Resolver.EnforceEffectiveWindow = opts.EnforceEffectiveWindow
	if opts.Workers > 0 {
		calc.Workers = opts.Workers
	}
	alloc := allocation.NewAllocator(store, logger.Named("allocation"))
	if opts.Recorder != nil {
		calc.Observer = opts.Recorder
		alloc.Observer = opts.Recorder
	}

	return &Handler{
		Store:      store,
		Calculator: calc,
		Allocator:  alloc,
		Factory:    factory.New(),
		Logger:     logger,
		Recorder:   opts.Recorder,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Health reports whether the database answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// POLICIES & CUSTOMERS
// =============================================================================

// ListPolicies returns every policy of the org.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	policies, err := h.Store.ListPolicies(r.Context(), org.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]factory.PolicyJSON, 0, len(policies))
	for _, p := range policies {
		dtos = append(dtos, factory.PolicyJSON{
			ID:              p.ID,
			Number:          p.Number,
			CustomerID:      p.CustomerID,
			CustomerName:    p.CustomerName,
			Premium:         p.Premium,
			Provider:        p.Provider,
			ProductCategory: p.ProductCategory,
			Line:            string(p.Line),
			SourceType:      string(p.SourceType),
			SourceID:        p.SourceID,
			Status:          string(p.Status),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy stores a policy.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.PolicyJSON
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Factory.Policy(org.OrgID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}
	if err := h.Store.SavePolicy(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	req.ID = p.ID
	req.Line = string(p.Line)
	req.SourceType = string(p.SourceType)
	req.SourceID = p.SourceID
	req.Status = string(p.Status)
	writeJSON(w, http.StatusCreated, req)
}

// CreateCustomer stores a customer display name.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req CreateCustomerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.Store.SaveCustomer(r.Context(), org.OrgID, req.ID, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// GRIDS
// =============================================================================

// ListGrids returns grid rows, optionally for one table.
// GET /api/grids?table=motor_payout_grid
func (h *Handler) ListGrids(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	tables := commission.GridTables
	if t := r.URL.Query().Get("table"); t != "" {
		tables = []commission.GridTable{commission.GridTable(t)}
	}

	dtos := []factory.GridJSON{}
	for _, table := range tables {
		rows, err := h.Store.ListGrids(r.Context(), org.OrgID, table)
		if err != nil {
			writeDomainError(w, "Failed to list grids", err)
			return
		}
		for _, g := range rows {
			dtos = append(dtos, factory.GridToJSON(g))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGrid stores a payout grid row.
// POST /api/grids
func (h *Handler) CreateGrid(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.GridJSON
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.Factory.Grid(org.OrgID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid grid row", err)
		return
	}
	if err := h.Store.SaveGrid(r.Context(), g); err != nil {
		writeDomainError(w, "Failed to save grid row", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.GridToJSON(g))
}

// ResolveGrid shows which grid row a provider/category pair resolves to.
// GET /api/grids/resolve?provider=Acme&category=Motor
func (h *Handler) ResolveGrid(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	match, err := h.Calculator.Resolver.ResolveGrid(r.Context(), org, q.Get("provider"), q.Get("category"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve grid", err)
		return
	}
	if match == nil {
		writeJSON(w, http.StatusOK, GridMatchDTO{Status: string(commission.StatusNoGridMatch)})
		return
	}
	grid := factory.GridToJSON(match.Row)
	writeJSON(w, http.StatusOK, GridMatchDTO{
		Matched:    true,
		Status:     string(commission.StatusCalculated),
		Table:      string(match.Table),
		Grid:       &grid,
		BaseRate:   match.Rates.Base.String(),
		RewardRate: match.Rates.Reward.String(),
		BonusRate:  match.Rates.Bonus.String(),
	})
}

// =============================================================================
// TIERS, SOURCES & DEFAULTS
// =============================================================================

// ListTiers returns the org's commission tiers.
// GET /api/tiers
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	tiers, err := h.Store.ListTiers(r.Context(), org.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tiers", err)
		return
	}
	dtos := make([]factory.TierJSON, 0, len(tiers))
	for _, t := range tiers {
		dtos = append(dtos, factory.TierJSON{ID: t.ID, Name: t.Name, BasePercentage: t.BasePercentage})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTier stores a commission tier.
// POST /api/tiers
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.TierJSON
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.Factory.Tier(org.OrgID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tier", err)
		return
	}
	if err := h.Store.SaveTier(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save tier", err)
		return
	}
	req.ID = t.ID
	writeJSON(w, http.StatusCreated, req)
}

// ListSources returns agents, MISPs and employees.
// GET /api/sources
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	sources, err := h.Store.ListSources(r.Context(), org.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sources", err)
		return
	}
	dtos := make([]factory.SourceJSON, 0, len(sources))
	for _, s := range sources {
		dtos = append(dtos, factory.SourceJSON{
			ID: s.ID, Type: string(s.Type), Name: s.Name, Percentage: s.Percentage, TierID: s.TierID,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSource stores an agent, MISP or employee.
// POST /api/sources
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.SourceJSON
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Factory.Source(org.OrgID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid source", err)
		return
	}
	if err := h.Store.SaveSource(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save source", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetTierDefaults returns every default tier config version and the one in
// effect for the request's as-of date.
// GET /api/tier-defaults
func (h *Handler) GetTierDefaults(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	configs, err := h.Store.DefaultTierConfigs(r.Context(), org.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tier defaults", err)
		return
	}
	dto := TierDefaultsDTO{
		Effective: toDefaultsJSON(commission.EffectiveDefaults(configs, org.Now())),
		Versions:  make([]factory.DefaultsJSON, 0, len(configs)),
	}
	for _, c := range configs {
		dto.Versions = append(dto.Versions, toDefaultsJSON(c))
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateTierDefaults stores a default tier config version.
// POST /api/tier-defaults
func (h *Handler) CreateTierDefaults(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.DefaultsJSON
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Factory.Defaults(org.OrgID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tier defaults", err)
		return
	}
	if err := h.Store.SaveDefaultTierConfig(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to save tier defaults", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDefaultsJSON(c))
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// CalculateCommissions computes every active policy without persisting.
// POST /api/commissions/calculate
func (h *Handler) CalculateCommissions(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	batch, err := h.Calculator.Calculate(r.Context(), org)
	if err != nil {
		writeDomainError(w, "Failed to calculate commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch, "", true))
}

// SyncCommissions calculates and upserts one record per policy.
// POST /api/commissions/sync
func (h *Handler) SyncCommissions(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	batch, run, err := h.syncOrg(r.Context(), org, "api")
	if err != nil {
		writeDomainError(w, "Failed to sync commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch, run.ID, r.URL.Query().Get("results") == "true"))
}

// CommissionReport returns the aggregate summary of a fresh calculation.
// GET /api/commissions/report
func (h *Handler) CommissionReport(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	batch, err := h.Calculator.Calculate(r.Context(), org)
	if err != nil {
		writeDomainError(w, "Failed to build commission report", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch, "", false))
}

// ListCommissions returns persisted commission records.
// GET /api/commissions
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	results, err := h.Store.ListResults(r.Context(), org.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": toResultDTOs(results),
		"summary": toSummaryDTO(commission.Summarize(results)),
	})
}

// SplitCommission splits one premium without touching the store.
// POST /api/commissions/split
func (h *Handler) SplitCommission(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	split, err := commission.SplitCommission(
		req.Premium,
		commission.Rates{Base: req.BaseRate, Reward: req.RewardRate, Bonus: req.BonusRate},
		commission.ParseSourceType(req.SourceType),
		req.SharePercent,
	)
	if err != nil {
		writeDomainError(w, "Invalid split request", err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTO(split))
}

// syncOrg runs a sync and records it in sync_runs.
func (h *Handler) syncOrg(ctx context.Context, org commission.OrgContext, trigger string) (*commission.Batch, sqlite.SyncRun, error) {
	run := sqlite.SyncRun{
		ID:          uuid.NewString(),
		OrgID:       org.OrgID,
		TriggeredBy: trigger,
		Status:      "running",
		StartedAt:   time.Now().UTC(),
	}
	if err := h.Store.SaveSyncRun(ctx, run); err != nil {
		h.Logger.Warn("failed to record sync run", zap.String("org_id", org.OrgID), zap.Error(err))
	}

	batch, err := h.Calculator.Sync(ctx, org)

	done := time.Now().UTC()
	run.CompletedAt = &done
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "completed"
		run.Policies = batch.Stats.Total
		run.Calculated = batch.Stats.Calculated
		run.NoGridMatch = batch.Stats.NoGridMatch
		run.Degraded = batch.Stats.Degraded
		run.PersistFailed = batch.Stats.PersistFailed
	}
	if serr := h.Store.SaveSyncRun(ctx, run); serr != nil {
		h.Logger.Warn("failed to record sync run", zap.String("run_id", run.ID), zap.Error(serr))
	}
	return batch, run, err
}

// ListSyncRuns returns recent sync runs.
// GET /api/sync-runs?limit=20
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	org, _ := r.Context().Value(orgKey{}).(commission.OrgContext)

	runs, err := h.Store.ListSyncRuns(r.Context(), org.OrgID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sync runs", err)
		return
	}
	dtos := make([]SyncRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toSyncRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ALLOCATION
// =============================================================================

// ListRules returns the tenant's allocation rules.
// GET /api/allocations/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	rules, err := h.Allocator.ListRules(r.Context(), org.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTOs(rules))
}

// CreateRule validates and stores an allocation rule.
// POST /api/allocations/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.RuleJSON
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.createRule(r.Context(), org, req)
	if err != nil {
		writeDomainError(w, "Invalid allocation rule", err)
		return
	}
	rule, err := h.Store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(*rule))
}

func (h *Handler) createRule(ctx context.Context, org commission.OrgContext, req factory.RuleJSON) (allocation.RuleID, error) {
	rule, err := h.Factory.Rule(org.TenantID, req)
	if err != nil {
		return "", err
	}
	return h.Allocator.CreateRule(ctx, rule)
}

// ListEarnings returns the tenant's earnings.
// GET /api/allocations/earnings
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	earnings, err := h.Store.ListEarnings(r.Context(), org.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list earnings", err)
		return
	}
	dtos := make([]EarningDTO, 0, len(earnings))
	for _, e := range earnings {
		dtos = append(dtos, toEarningDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEarning records an earning awaiting allocation.
// POST /api/allocations/earnings
func (h *Handler) CreateEarning(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req factory.EarningJSON
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.Factory.Earning(org.TenantID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid earning", err)
		return
	}
	if err := h.Store.SaveEarning(r.Context(), e); err != nil {
		writeDomainError(w, "Failed to save earning", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEarningDTO(e))
}

// PreviewAllocation computes and stores the split of an earning.
// POST /api/allocations/earnings/{id}/preview
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	earningID := chi.URLParam(r, "id")
	if _, err := h.Allocator.TenantEarning(r.Context(), org.TenantID, earningID); err != nil {
		writeDomainError(w, "Failed to preview allocation", err)
		return
	}
	p, err := h.Allocator.Preview(r.Context(), earningID)
	if err != nil {
		writeDomainError(w, "Failed to preview allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(*p))
}

// ApplyAllocation commits the previewed split.
// POST /api/allocations/earnings/{id}/apply
func (h *Handler) ApplyAllocation(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	earningID := chi.URLParam(r, "id")
	if _, err := h.Allocator.TenantEarning(r.Context(), org.TenantID, earningID); err != nil {
		writeDomainError(w, "Failed to apply allocation", err)
		return
	}
	applied, err := h.Allocator.Apply(r.Context(), earningID)
	if err != nil {
		writeDomainError(w, "Failed to apply allocation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppliedDTO(*applied))
}

// ListEntries returns the ledger entries of an earning.
// GET /api/allocations/earnings/{id}/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	earningID := chi.URLParam(r, "id")
	if _, err := h.Allocator.TenantEarning(r.Context(), org.TenantID, earningID); err != nil {
		writeDomainError(w, "Failed to list entries", err)
		return
	}
	entries, err := h.Store.EntriesForEarning(r.Context(), earningID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// DispatchAllocation is the single action-dispatch entry point.
// POST /api/allocations/actions
func (h *Handler) DispatchAllocation(w http.ResponseWriter, r *http.Request) {
	org, ok := orgFrom(w, r)
	if !ok {
		return
	}
	var req DispatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	act := allocation.Action{Name: allocation.ActionName(req.Action), TenantID: org.TenantID, EarningID: req.EarningID}
	if (act.Name == allocation.ActionPreview || act.Name == allocation.ActionApply) && act.EarningID == "" {
		writeError(w, http.StatusBadRequest, "earning_id is required", nil)
		return
	}
	if act.Name == allocation.ActionCreateRule {
		if req.Rule == nil {
			writeError(w, http.StatusUnprocessableEntity, "rule is required", nil)
			return
		}
		rule, err := h.Factory.Rule(act.TenantID, *req.Rule)
		if err != nil {
			writeDomainError(w, "Invalid allocation rule", err)
			return
		}
		act.Rule = &rule
	}

	out, err := h.Allocator.Dispatch(r.Context(), act)
	if err != nil {
		writeDomainError(w, "Allocation action failed", err)
		return
	}

	resp := DispatchResponse{Action: req.Action, RuleID: string(out.RuleID)}
	if out.Rules != nil {
		resp.Rules = toRuleDTOs(out.Rules)
	}
	if out.Preview != nil {
		p := toPreviewDTO(*out.Preview)
		resp.Preview = &p
	}
	if out.Applied != nil {
		a := toAppliedDTO(*out.Applied)
		resp.Applied = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, allocation.ErrInvalidRule):
		return http.StatusUnprocessableEntity
	case allocation.IsNotFound(err), commission.IsNotFound(err):
		return http.StatusNotFound
	case allocation.IsConflict(err):
		return http.StatusConflict
	case commission.IsClientError(err), allocation.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if !h.decode(w, r, v) {
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid field %s", fe.Field()), err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}
