/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types never
  cross the wire directly: money is rendered as strings with two fraction
  digits and percentages as plain decimal strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Commissions:
    CommissionResultDTO, SummaryDTO, BatchResponse, SplitRequest, SplitDTO

  Allocation:
    RuleDTO, EarningDTO, PreviewDTO, EntryDTO, DispatchRequest, DispatchResponse

  Admin:
    Configuration records are accepted as factory.*JSON bodies.

  Scenarios / runs:
    ScenarioDTO, LoadScenarioRequest, SyncRunDTO

VALIDATION:
  Request structs carry go-playground/validator tags; handlers call
  decodeAndValidate before touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: Configuration JSON types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// COMMISSIONS
// =============================================================================

// CommissionResultDTO is one policy's calculated commission.
type CommissionResultDTO struct {
	PolicyID        string  `json:"policy_id"`
	PolicyNumber    string  `json:"policy_number"`
	CustomerName    string  `json:"customer_name"`
	ProductCategory string  `json:"product_category"`
	Line            string  `json:"line"`
	Provider        string  `json:"provider"`
	Premium         string  `json:"premium"`
	SourceType      string  `json:"source_type"`
	SourceID        *string `json:"source_id,omitempty"`

	GridTable string `json:"grid_table,omitempty"`
	GridID    string `json:"grid_id,omitempty"`

	BaseRate   string `json:"commission_rate"`
	RewardRate string `json:"reward_rate"`
	BonusRate  string `json:"bonus_commission_rate"`

	BaseCommission   string `json:"base_commission"`
	RewardCommission string `json:"reward_commission"`
	BonusCommission  string `json:"bonus_commission"`

	InsurerCommission  string `json:"insurer_commission"`
	AgentCommission    string `json:"agent_commission"`
	MispCommission     string `json:"misp_commission"`
	EmployeeCommission string `json:"employee_commission"`
	BrokerShare        string `json:"broker_share"`

	SharePercent string `json:"share_percentage"`
	ShareBasis   string `json:"share_basis"`

	Status       string `json:"commission_status"`
	Degraded     bool   `json:"degraded,omitempty"`
	Note         string `json:"note,omitempty"`
	CalculatedAt string `json:"calculated_at"`
}

// SummaryDTO aggregates a result set.
type SummaryDTO struct {
	TotalPolicies int    `json:"total_policies"`
	Calculated    int    `json:"calculated"`
	NoGridMatch   int    `json:"no_grid_match"`
	Degraded      int    `json:"degraded"`
	TotalInsurer  string `json:"total_insurer_commission"`
	TotalAgent    string `json:"total_agent_commission"`
	TotalMisp     string `json:"total_misp_commission"`
	TotalEmployee string `json:"total_employee_commission"`
	TotalBroker   string `json:"total_broker_share"`
}

// BatchStatsDTO counts run outcomes.
type BatchStatsDTO struct {
	Total         int `json:"total"`
	Calculated    int `json:"calculated"`
	NoGridMatch   int `json:"no_grid_match"`
	Degraded      int `json:"degraded"`
	Persisted     int `json:"persisted"`
	PersistFailed int `json:"persist_failed"`
}

// BatchResponse is returned by calculate and sync.
type BatchResponse struct {
	OrgID   string                `json:"org_id"`
	RunID   string                `json:"run_id,omitempty"`
	RanAt   string                `json:"ran_at"`
	Stats   BatchStatsDTO         `json:"stats"`
	Summary SummaryDTO            `json:"summary"`
	Results []CommissionResultDTO `json:"results,omitempty"`
}

// SplitRequest asks for a stateless commission split.
type SplitRequest struct {
	Premium      decimal.Decimal `json:"premium"`
	BaseRate     decimal.Decimal `json:"commission_rate"`
	RewardRate   decimal.Decimal `json:"reward_rate"`
	BonusRate    decimal.Decimal `json:"bonus_commission_rate"`
	SourceType   string          `json:"source_type" validate:"required,oneof=agent misp employee direct"`
	SharePercent decimal.Decimal `json:"share_percentage"`
}

// SplitDTO is the split outcome.
type SplitDTO struct {
	BaseCommission     string `json:"base_commission"`
	RewardCommission   string `json:"reward_commission"`
	BonusCommission    string `json:"bonus_commission"`
	InsurerCommission  string `json:"insurer_commission"`
	AgentCommission    string `json:"agent_commission"`
	MispCommission     string `json:"misp_commission"`
	EmployeeCommission string `json:"employee_commission"`
	BrokerShare        string `json:"broker_share"`
}

// GridMatchDTO is the outcome of a grid resolution.
type GridMatchDTO struct {
	Matched    bool              `json:"matched"`
	Status     string            `json:"commission_status"`
	Table      string            `json:"table,omitempty"`
	Grid       *factory.GridJSON `json:"grid,omitempty"`
	BaseRate   string            `json:"commission_rate,omitempty"`
	RewardRate string            `json:"reward_rate,omitempty"`
	BonusRate  string            `json:"bonus_commission_rate,omitempty"`
}

// TierDefaultsDTO lists configured versions and the one in effect.
type TierDefaultsDTO struct {
	Effective factory.DefaultsJSON   `json:"effective"`
	Versions  []factory.DefaultsJSON `json:"versions"`
}

// CreateCustomerRequest registers a customer display name.
type CreateCustomerRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// =============================================================================
// ALLOCATION
// =============================================================================

// RuleDTO is an allocation rule.
type RuleDTO struct {
	factory.RuleJSON
	CreatedAt string `json:"created_at,omitempty"`
}

// EarningDTO is an earning awaiting (or done with) allocation.
type EarningDTO struct {
	ID              string                       `json:"id"`
	TenantID        string                       `json:"tenant_id"`
	PolicyID        string                       `json:"policy_id,omitempty"`
	OrgID           string                       `json:"org_id,omitempty"`
	ProductID       string                       `json:"product_id,omitempty"`
	LOB             string                       `json:"lob,omitempty"`
	TotalCommission string                       `json:"total_commission"`
	Parties         map[string]allocation.OrgRef `json:"parties,omitempty"`
	RecordedAt      string                       `json:"recorded_at"`
}

// AllocationLineDTO is one recipient's share.
type AllocationLineDTO struct {
	OrgID           string `json:"org_id"`
	OrgName         string `json:"org_name"`
	OrgType         string `json:"org_type"`
	AllocatedAmount string `json:"allocated_amount"`
	Percentage      string `json:"percentage"`
}

// PreviewDTO is a computed allocation.
type PreviewDTO struct {
	EarningID       string              `json:"earning_id"`
	RuleID          string              `json:"rule_id"`
	TotalCommission string              `json:"total_commission"`
	Allocations     []AllocationLineDTO `json:"allocations"`
	Fingerprint     string              `json:"fingerprint"`
	CreatedAt       string              `json:"created_at"`
}

// EntryDTO is a committed ledger line.
type EntryDTO struct {
	ID             string `json:"id"`
	EarningID      string `json:"earning_id"`
	RuleID         string `json:"rule_id"`
	OrgType        string `json:"org_type"`
	OrgID          string `json:"org_id"`
	OrgName        string `json:"org_name"`
	Amount         string `json:"amount"`
	Percentage     string `json:"percentage"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      string `json:"created_at"`
}

// AppliedDTO is the outcome of an apply.
type AppliedDTO struct {
	Preview PreviewDTO `json:"preview"`
	Entries []EntryDTO `json:"entries"`
}

// DispatchRequest is the action-dispatch body. Only the fields the action
// needs are read. The tenant always comes from the request headers.
type DispatchRequest struct {
	Action    string            `json:"action" validate:"required,oneof=list_rules create_rule preview apply"`
	EarningID string            `json:"earning_id,omitempty"`
	Rule      *factory.RuleJSON `json:"rule,omitempty"`
}

// DispatchResponse carries whichever outcome the action produced.
type DispatchResponse struct {
	Action  string      `json:"action"`
	Rules   []RuleDTO   `json:"rules,omitempty"`
	RuleID  string      `json:"rule_id,omitempty"`
	Preview *PreviewDTO `json:"preview,omitempty"`
	Applied *AppliedDTO `json:"applied,omitempty"`
}

// =============================================================================
// SCENARIOS & RUNS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OrgID       string `json:"org_id"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// SyncRunDTO is a recorded sync.
type SyncRunDTO struct {
	ID            string `json:"id"`
	OrgID         string `json:"org_id"`
	TriggeredBy   string `json:"triggered_by"`
	Status        string `json:"status"`
	Policies      int    `json:"policies"`
	Calculated    int    `json:"calculated"`
	NoGridMatch   int    `json:"no_grid_match"`
	Degraded      int    `json:"degraded"`
	PersistFailed int    `json:"persist_failed"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toResultDTO(r commission.Result) CommissionResultDTO {
	return CommissionResultDTO{
		PolicyID:           r.PolicyID,
		PolicyNumber:       r.PolicyNumber,
		CustomerName:       r.CustomerName,
		ProductCategory:    r.ProductCategory,
		Line:               string(r.Line),
		Provider:           r.Provider,
		Premium:            money(r.Premium),
		SourceType:         string(r.SourceType),
		SourceID:           r.SourceID,
		GridTable:          string(r.GridTable),
		GridID:             r.GridID,
		BaseRate:           r.BaseRate.String(),
		RewardRate:         r.RewardRate.String(),
		BonusRate:          r.BonusRate.String(),
		BaseCommission:     money(r.BaseCommission),
		RewardCommission:   money(r.RewardCommission),
		BonusCommission:    money(r.BonusCommission),
		InsurerCommission:  money(r.InsurerCommission),
		AgentCommission:    money(r.AgentCommission),
		MispCommission:     money(r.MispCommission),
		EmployeeCommission: money(r.EmployeeCommission),
		BrokerShare:        money(r.BrokerShare),
		SharePercent:       r.SharePercent.String(),
		ShareBasis:         string(r.ShareBasis),
		Status:             string(r.Status),
		Degraded:           r.Degraded,
		Note:               r.Note,
		CalculatedAt:       formatTime(r.CalculatedAt),
	}
}

func toResultDTOs(results []commission.Result) []CommissionResultDTO {
	dtos := make([]CommissionResultDTO, 0, len(results))
	for _, r := range results {
		dtos = append(dtos, toResultDTO(r))
	}
	return dtos
}

func toSummaryDTO(s commission.Summary) SummaryDTO {
	return SummaryDTO{
		TotalPolicies: s.TotalPolicies,
		Calculated:    s.Calculated,
		NoGridMatch:   s.NoGridMatch,
		Degraded:      s.Degraded,
		TotalInsurer:  money(s.TotalInsurer),
		TotalAgent:    money(s.TotalAgent),
		TotalMisp:     money(s.TotalMisp),
		TotalEmployee: money(s.TotalEmployee),
		TotalBroker:   money(s.TotalBroker),
	}
}

func toBatchResponse(b *commission.Batch, runID string, withResults bool) BatchResponse {
	resp := BatchResponse{
		OrgID: b.OrgID,
		RunID: runID,
		RanAt: formatTime(b.RanAt),
		Stats: BatchStatsDTO{
			Total:         b.Stats.Total,
			Calculated:    b.Stats.Calculated,
			NoGridMatch:   b.Stats.NoGridMatch,
			Degraded:      b.Stats.Degraded,
			Persisted:     b.Stats.Persisted,
			PersistFailed: b.Stats.PersistFailed,
		},
		Summary: toSummaryDTO(b.Summary),
	}
	if withResults {
		resp.Results = toResultDTOs(b.Results)
	}
	return resp
}

func toSplitDTO(s commission.Split) SplitDTO {
	return SplitDTO{
		BaseCommission:     money(s.BaseCommission),
		RewardCommission:   money(s.RewardCommission),
		BonusCommission:    money(s.BonusCommission),
		InsurerCommission:  money(s.InsurerCommission),
		AgentCommission:    money(s.AgentCommission),
		MispCommission:     money(s.MispCommission),
		EmployeeCommission: money(s.EmployeeCommission),
		BrokerShare:        money(s.BrokerShare),
	}
}

func toDefaultsJSON(c commission.DefaultTierConfig) factory.DefaultsJSON {
	return factory.DefaultsJSON{
		Version:           c.Version,
		EffectiveFrom:     formatTime(c.EffectiveFrom),
		EmployeePercent:   c.EmployeePercent,
		AgentPercent:      c.AgentPercent,
		MispPercent:       c.MispPercent,
		AgentFallbackTier: c.AgentFallbackTierName,
	}
}

func toRuleDTO(r allocation.Rule) RuleDTO {
	return RuleDTO{RuleJSON: factory.RuleToJSON(r), CreatedAt: formatTime(r.CreatedAt)}
}

func toRuleDTOs(rules []allocation.Rule) []RuleDTO {
	dtos := make([]RuleDTO, 0, len(rules))
	for _, r := range rules {
		dtos = append(dtos, toRuleDTO(r))
	}
	return dtos
}

func toEarningDTO(e allocation.Earning) EarningDTO {
	dto := EarningDTO{
		ID:              e.ID,
		TenantID:        e.TenantID,
		PolicyID:        e.PolicyID,
		OrgID:           e.OrgID,
		ProductID:       e.ProductID,
		LOB:             e.LOB,
		TotalCommission: money(e.TotalCommission),
		RecordedAt:      formatTime(e.RecordedAt),
	}
	if len(e.Parties) > 0 {
		dto.Parties = make(map[string]allocation.OrgRef, len(e.Parties))
		for t, ref := range e.Parties {
			dto.Parties[string(t)] = ref
		}
	}
	return dto
}

func toPreviewDTO(p allocation.Preview) PreviewDTO {
	dto := PreviewDTO{
		EarningID:       p.EarningID,
		RuleID:          string(p.RuleID),
		TotalCommission: money(p.TotalCommission),
		Allocations:     make([]AllocationLineDTO, 0, len(p.Lines)),
		Fingerprint:     p.Fingerprint,
		CreatedAt:       formatTime(p.CreatedAt),
	}
	for _, l := range p.Lines {
		dto.Allocations = append(dto.Allocations, AllocationLineDTO{
			OrgID:           l.OrgID,
			OrgName:         l.OrgName,
			OrgType:         string(l.OrgType),
			AllocatedAmount: money(l.AllocatedAmount),
			Percentage:      l.Percentage.String(),
		})
	}
	return dto
}

func toEntryDTOs(entries []allocation.Entry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, EntryDTO{
			ID:             e.ID,
			EarningID:      e.EarningID,
			RuleID:         string(e.RuleID),
			OrgType:        string(e.OrgType),
			OrgID:          e.OrgID,
			OrgName:        e.OrgName,
			Amount:         money(e.Amount),
			Percentage:     e.Percentage.String(),
			IdempotencyKey: e.IdempotencyKey,
			CreatedAt:      formatTime(e.CreatedAt),
		})
	}
	return dtos
}

func toAppliedDTO(a allocation.Applied) AppliedDTO {
	return AppliedDTO{Preview: toPreviewDTO(a.Preview), Entries: toEntryDTOs(a.Entries)}
}

func toSyncRunDTO(r sqlite.SyncRun) SyncRunDTO {
	dto := SyncRunDTO{
		ID:            r.ID,
		OrgID:         r.OrgID,
		TriggeredBy:   r.TriggeredBy,
		Status:        r.Status,
		Policies:      r.Policies,
		Calculated:    r.Calculated,
		NoGridMatch:   r.NoGridMatch,
		Degraded:      r.Degraded,
		PersistFailed: r.PersistFailed,
		Error:         r.Error,
		StartedAt:     formatTime(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTime(*r.CompletedAt)
	}
	return dto
}
