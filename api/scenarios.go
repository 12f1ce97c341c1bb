/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built org configurations that populate the database with
	realistic data for demos. Each scenario is a factory bundle: tiers,
	sources, payout grids, default tier config, customers, policies,
	allocation rules and earnings.

AVAILABLE SCENARIOS:

	brokerage-basic:  One org, motor/health/life grids, agent + MISP +
	                  employee + direct business, one unmatched line
	tier-fallbacks:   Sources without tiers, a versioned default config
	                  and a wildcard grid row
	allocation-split: Tenant, product and LOB rules over several earnings

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the bundle via factory
 3. Load every record into the store

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "brokerage-basic"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context
  - factory/config.go: Bundle JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	bundle string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "brokerage-basic",
			Name:        "Brokerage Basics",
			Description: "Motor, health and life grids with agent, MISP, employee and direct business",
			OrgID:       "org-demo",
		},
		bundle: brokerageBasicBundle,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "tier-fallbacks",
			Name:        "Tier Fallbacks",
			Description: "Untiered sources resolved through versioned org defaults and wildcard grids",
			OrgID:       "org-fallback",
		},
		bundle: tierFallbacksBundle,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "allocation-split",
			Name:        "Allocation Split",
			Description: "Tenant, product and LOB allocation rules over recorded earnings",
			OrgID:       "org-alloc",
		},
		bundle: allocationSplitBundle,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "org_id": s.OrgID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bundle, err := h.Factory.ParseBundle([]byte(s.bundle))
	if err != nil {
		return err
	}
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := bundle.Load(ctx, h.Store); err != nil {
		return err
	}
	h.currentScenario = s.ID

	h.Logger.Info("scenario loaded",
		zap.String("scenario", s.ID),
		zap.String("org_id", bundle.OrgID),
		zap.Int("policies", len(bundle.Policies)),
		zap.Int("grids", len(bundle.Grids)),
		zap.Int("rules", len(bundle.Rules)))
	return nil
}

// =============================================================================
// SCENARIO BUNDLES
// =============================================================================

// brokerageBasicBundle: every premium is 100000 unless noted.
//
//	P-1001 motor, Acme row 10+2+0, Gold agent 70%  -> insurer 12000, agent 8400
//	P-1002 health, wildcard 15+0+5, MISP own 50%   -> insurer 20000, misp 10000
//	P-1003 life, Zen row 20+0+0, employee default  -> insurer 20000, employee 12000
//	P-1004 motor, direct business                  -> insurer 12000, broker 12000
//	P-1005 travel, no grid table                   -> no_grid_match
//	P-1006 cancelled, skipped
const brokerageBasicBundle = `{
  "org_id": "org-demo",
  "tiers": [
    {"id": "tier-bronze", "name": "Bronze", "base_percentage": "50"},
    {"id": "tier-silver", "name": "Silver", "base_percentage": "60"},
    {"id": "tier-gold", "name": "Gold", "base_percentage": "70"}
  ],
  "sources": [
    {"id": "agent-asha", "type": "agent", "name": "Asha Rao", "tier_id": "tier-gold"},
    {"id": "misp-kiran", "type": "misp", "name": "Kiran Motors", "percentage": "50"},
    {"id": "emp-dev", "type": "employee", "name": "Dev Iyer"}
  ],
  "grids": [
    {"line": "motor", "provider": "Acme", "commission_rate": "10", "reward_rate": "2", "bonus_commission_rate": "0"},
    {"line": "motor", "commission_rate": "8", "reward_rate": "0", "bonus_commission_rate": "0"},
    {"line": "health", "commission_rate": "15", "reward_rate": "0", "bonus_commission_rate": "5"},
    {"line": "life", "provider": "Zen", "commission_rate": "20", "reward_rate": "0", "bonus_commission_rate": "0"}
  ],
  "defaults": [
    {"version": 1, "effective_from": "2024-01-01", "employee_percent": "60", "agent_percent": "65", "misp_percent": "50", "agent_fallback_tier": "Bronze"}
  ],
  "customers": [
    {"id": "cust-ravi", "name": "Ravi Kumar"},
    {"id": "cust-meera", "name": "Meera Shah"},
    {"id": "cust-anil", "name": "Anil Gupta"}
  ],
  "policies": [
    {"id": "pol-1001", "policy_number": "P-1001", "customer_id": "cust-ravi", "premium": "100000",
     "provider": "Acme", "product_category": "Private Car Motor", "source_type": "agent", "source_id": "agent-asha"},
    {"id": "pol-1002", "policy_number": "P-1002", "customer_id": "cust-meera", "premium": "100000",
     "provider": "Star Health", "product_category": "Family Health Floater", "source_type": "misp", "source_id": "misp-kiran"},
    {"id": "pol-1003", "policy_number": "P-1003", "customer_id": "cust-anil", "premium": "100000",
     "provider": "Zen", "product_category": "Term Life", "source_type": "employee", "source_id": "emp-dev"},
    {"id": "pol-1004", "policy_number": "P-1004", "customer_name": "Walk-in Customer", "premium": "100000",
     "provider": "Acme", "product_category": "Two Wheeler Motor", "source_type": "direct"},
    {"id": "pol-1005", "policy_number": "P-1005", "customer_id": "cust-ravi", "premium": "20000",
     "provider": "Acme", "product_category": "Travel"},
    {"id": "pol-1006", "policy_number": "P-1006", "customer_id": "cust-meera", "premium": "50000",
     "provider": "Acme", "product_category": "Motor", "status": "cancelled"}
  ]
}`

// tierFallbacksBundle exercises the default chain: an untiered agent
// falls back to the named tier of the newest config in effect, and an
// untiered MISP without its own percentage takes the org default.
const tierFallbacksBundle = `{
  "org_id": "org-fallback",
  "tiers": [
    {"id": "tier-bronze", "name": "Bronze", "base_percentage": "50"},
    {"id": "tier-platinum", "name": "Platinum", "base_percentage": "80"}
  ],
  "sources": [
    {"id": "agent-new", "type": "agent", "name": "New Agent"},
    {"id": "misp-plain", "type": "misp", "name": "Plain MISP"}
  ],
  "grids": [
    {"line": "motor", "provider": "*", "commission_rate": "10", "reward_rate": "0", "bonus_commission_rate": "0"},
    {"line": "health", "commission_rate": "12", "reward_rate": "0", "bonus_commission_rate": "0", "is_active": false}
  ],
  "defaults": [
    {"version": 1, "effective_from": "2024-01-01", "employee_percent": "60", "agent_percent": "65", "misp_percent": "50", "agent_fallback_tier": "Bronze"},
    {"version": 2, "effective_from": "2025-01-01", "employee_percent": "55", "agent_percent": "60", "misp_percent": "40", "agent_fallback_tier": "Platinum"}
  ],
  "policies": [
    {"id": "pol-2001", "policy_number": "F-2001", "customer_name": "Sara", "premium": "50000",
     "provider": "Any Insurer", "product_category": "Commercial Vehicle Motor", "source_type": "agent", "source_id": "agent-new"},
    {"id": "pol-2002", "policy_number": "F-2002", "customer_name": "Tom", "premium": "50000",
     "provider": "Any Insurer", "product_category": "Motor Car", "source_type": "misp", "source_id": "misp-plain"},
    {"id": "pol-2003", "policy_number": "F-2003", "customer_name": "Uma", "premium": "50000",
     "provider": "Any Insurer", "product_category": "Health Mediclaim", "source_type": "agent", "source_id": "agent-new"}
  ]
}`

const allocationSplitBundle = `{
  "org_id": "org-alloc",
  "allocation_rules": [
    {"id": "rule-tenant", "name": "Tenant default", "scope_level": "tenant", "effective_from": "2024-01-01",
     "tenant_percent": "10", "branch_percent": "20", "team_percent": "20", "agent_percent": "40", "partner_percent": "10",
     "priority": 100, "status": "active"},
    {"id": "rule-motor", "name": "Motor LOB", "scope_level": "lob", "scope_ref": "motor", "effective_from": "2024-01-01",
     "tenant_percent": "5", "branch_percent": "15", "team_percent": "20", "agent_percent": "50", "partner_percent": "10",
     "priority": 100, "status": "active"},
    {"id": "rule-gold-plan", "name": "Gold plan", "scope_level": "product", "scope_ref": "prod-gold", "effective_from": "2024-01-01",
     "tenant_percent": "0", "branch_percent": "10", "team_percent": "10", "agent_percent": "70", "partner_percent": "10",
     "priority": 50, "status": "active"}
  ],
  "earnings": [
    {"id": "earn-1", "policy_id": "pol-1", "lob": "motor", "total_commission": "1000",
     "parties": {"Tenant": {"id": "org-alloc", "name": "Warp Brokers"}, "Branch": {"id": "br-north", "name": "North"},
                 "Team": {"id": "team-a", "name": "Team A"}, "Agent": {"id": "agent-asha", "name": "Asha Rao"},
                 "Partner": {"id": "partner-x", "name": "Partner X"}}},
    {"id": "earn-2", "policy_id": "pol-2", "product_id": "prod-gold", "lob": "health", "total_commission": "2500",
     "parties": {"Agent": {"id": "agent-dev", "name": "Dev Iyer"}}},
    {"id": "earn-3", "policy_id": "pol-3", "lob": "life", "total_commission": "333.33"}
  ]
}`
