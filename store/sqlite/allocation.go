package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/commission-engine/allocation"
)

// =============================================================================
// RULE STORE (allocation.RuleStore)
// =============================================================================

const ruleColumns = `id, tenant_id, name, scope_level, scope_ref, effective_from, effective_to,
	tenant_percent, branch_percent, team_percent, agent_percent, partner_percent,
	priority, status, created_at`

// SaveRule inserts a rule. Rules are never rewritten: a taken ID fails with
// allocation.ErrRuleExists. Callers validate first.
func (s *Store) SaveRule(ctx context.Context, r allocation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO allocation_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(r.ID), r.TenantID, r.Name, string(r.ScopeLevel), nullStringPtr(r.ScopeRef),
		formatTime(r.EffectiveFrom), nullTime(r.EffectiveTo),
		r.Splits.Tenant.String(), r.Splits.Branch.String(), r.Splits.Team.String(),
		r.Splits.Agent.String(), r.Splits.Partner.String(),
		r.Priority, string(r.Status), formatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return allocation.ErrRuleExists
	}
	if err != nil {
		return fmt.Errorf("failed to save allocation rule: %w", err)
	}
	return nil
}

// GetRule returns allocation.ErrNotFound for unknown rules.
func (s *Store) GetRule(ctx context.Context, id allocation.RuleID) (*allocation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, "SELECT "+ruleColumns+" FROM allocation_rules WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, allocation.ErrNotFound
	}
	return &rules[0], nil
}

// ListRules returns every rule of a tenant.
func (s *Store) ListRules(ctx context.Context, tenantID string) ([]allocation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx,
		"SELECT "+ruleColumns+" FROM allocation_rules WHERE tenant_id = ? ORDER BY priority, id",
		tenantID,
	)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]allocation.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation rules: %w", err)
	}
	defer rows.Close()

	var rules []allocation.Rule
	for rows.Next() {
		var (
			r                                    allocation.Rule
			id, scopeLevel, status               string
			scopeRef, effTo                      sql.NullString
			effFrom, createdAt                   string
			tenant, branch, team, agent, partner string
		)
		if err := rows.Scan(
			&id, &r.TenantID, &r.Name, &scopeLevel, &scopeRef, &effFrom, &effTo,
			&tenant, &branch, &team, &agent, &partner,
			&r.Priority, &status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan allocation rule: %w", err)
		}
		r.ID = allocation.RuleID(id)
		r.ScopeLevel = allocation.ScopeLevel(scopeLevel)
		r.ScopeRef = stringPtr(scopeRef)
		r.EffectiveFrom = parseTime(effFrom)
		r.EffectiveTo = timePtr(effTo)
		r.Splits = allocation.Splits{
			Tenant:  parseDecimal(tenant),
			Branch:  parseDecimal(branch),
			Team:    parseDecimal(team),
			Agent:   parseDecimal(agent),
			Partner: parseDecimal(partner),
		}
		r.Status = allocation.RuleStatus(status)
		r.CreatedAt = parseTime(createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// EARNING STORE (allocation.EarningStore)
// =============================================================================

const earningColumns = `id, tenant_id, policy_id, org_id, product_id, lob, total_commission,
	parties_json, recorded_at`

// SaveEarning inserts or replaces an earning. An ID held by another tenant
// fails with allocation.ErrEarningExists.
func (s *Store) SaveEarning(ctx context.Context, e allocation.Earning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	partiesJSON, err := json.Marshal(e.Parties)
	if err != nil {
		return fmt.Errorf("failed to encode earning parties: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO earnings (`+earningColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_id = excluded.policy_id,
			org_id = excluded.org_id,
			product_id = excluded.product_id,
			lob = excluded.lob,
			total_commission = excluded.total_commission,
			parties_json = excluded.parties_json
		WHERE earnings.tenant_id = excluded.tenant_id
	`,
		e.ID, e.TenantID, nullString(e.PolicyID), nullString(e.OrgID), nullString(e.ProductID),
		nullString(e.LOB), e.TotalCommission.String(), string(partiesJSON), formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save earning: %w", err)
	}
	// The guarded upsert touches no row when another tenant owns the ID.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return allocation.ErrEarningExists
	}
	return nil
}

// GetEarning returns allocation.ErrNotFound for unknown earnings.
func (s *Store) GetEarning(ctx context.Context, id string) (*allocation.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	earnings, err := s.queryEarnings(ctx, "SELECT "+earningColumns+" FROM earnings WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(earnings) == 0 {
		return nil, allocation.ErrNotFound
	}
	return &earnings[0], nil
}

// ListEarnings returns a tenant's earnings, newest first.
func (s *Store) ListEarnings(ctx context.Context, tenantID string) ([]allocation.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEarnings(ctx,
		"SELECT "+earningColumns+" FROM earnings WHERE tenant_id = ? ORDER BY recorded_at DESC, id",
		tenantID,
	)
}

func (s *Store) queryEarnings(ctx context.Context, query string, args ...any) ([]allocation.Earning, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	var earnings []allocation.Earning
	for rows.Next() {
		var (
			e                                        allocation.Earning
			policyID, orgID, productID, lob, parties sql.NullString
			total, recordedAt                        string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &policyID, &orgID, &productID, &lob, &total, &parties, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan earning: %w", err)
		}
		e.PolicyID = policyID.String
		e.OrgID = orgID.String
		e.ProductID = productID.String
		e.LOB = lob.String
		e.TotalCommission = parseDecimal(total)
		e.RecordedAt = parseTime(recordedAt)
		if parties.Valid && parties.String != "" {
			if err := json.Unmarshal([]byte(parties.String), &e.Parties); err != nil {
				return nil, fmt.Errorf("failed to decode earning parties: %w", err)
			}
		}
		earnings = append(earnings, e)
	}
	return earnings, rows.Err()
}

// =============================================================================
// PREVIEW STORE (allocation.PreviewStore)
// =============================================================================

type lineRecord struct {
	OrgID           string `json:"org_id"`
	OrgName         string `json:"org_name"`
	OrgType         string `json:"org_type"`
	AllocatedAmount string `json:"allocated_amount"`
	Percentage      string `json:"percentage"`
}

// SavePreview keeps the latest preview per earning.
func (s *Store) SavePreview(ctx context.Context, p allocation.Preview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]lineRecord, len(p.Lines))
	for i, l := range p.Lines {
		records[i] = lineRecord{
			OrgID:           l.OrgID,
			OrgName:         l.OrgName,
			OrgType:         string(l.OrgType),
			AllocatedAmount: l.AllocatedAmount.String(),
			Percentage:      l.Percentage.String(),
		}
	}
	linesJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode preview lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO allocation_previews (earning_id, rule_id, total_commission, lines_json, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(earning_id) DO UPDATE SET
			rule_id = excluded.rule_id,
			total_commission = excluded.total_commission,
			lines_json = excluded.lines_json,
			fingerprint = excluded.fingerprint,
			created_at = excluded.created_at
	`, p.EarningID, string(p.RuleID), p.TotalCommission.String(), string(linesJSON), p.Fingerprint, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}

// GetPreview returns allocation.ErrNotFound when the earning was never previewed.
func (s *Store) GetPreview(ctx context.Context, earningID string) (*allocation.Preview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p                        allocation.Preview
		ruleID, total, linesJSON string
		createdAt                string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT earning_id, rule_id, total_commission, lines_json, fingerprint, created_at
		FROM allocation_previews WHERE earning_id = ?
	`, earningID).Scan(&p.EarningID, &ruleID, &total, &linesJSON, &p.Fingerprint, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var records []lineRecord
	if err := json.Unmarshal([]byte(linesJSON), &records); err != nil {
		return nil, fmt.Errorf("failed to decode preview lines: %w", err)
	}
	for _, rec := range records {
		p.Lines = append(p.Lines, allocation.Line{
			OrgID:           rec.OrgID,
			OrgName:         rec.OrgName,
			OrgType:         allocation.OrgType(rec.OrgType),
			AllocatedAmount: parseDecimal(rec.AllocatedAmount),
			Percentage:      parseDecimal(rec.Percentage),
		})
	}
	p.RuleID = allocation.RuleID(ruleID)
	p.TotalCommission = parseDecimal(total)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// LEDGER (allocation.Ledger)
// =============================================================================

// AppendEntries writes all entries in one transaction.
func (s *Store) AppendEntries(ctx context.Context, entries []allocation.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if keys[e.IdempotencyKey] {
			return allocation.ErrDuplicateIdempotencyKey
		}
		keys[e.IdempotencyKey] = true
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		if err := appendEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func appendEntry(ctx context.Context, db execer, e allocation.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO allocation_entries (id, earning_id, rule_id, org_type, org_id, org_name,
			amount, percentage, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EarningID, string(e.RuleID), string(e.OrgType), nullString(e.OrgID), nullString(e.OrgName),
		e.Amount.String(), e.Percentage.String(), nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return allocation.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append allocation entry: %w", err)
	}
	return nil
}

// EntriesForEarning returns committed entries in insertion order.
func (s *Store) EntriesForEarning(ctx context.Context, earningID string) ([]allocation.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, earning_id, rule_id, org_type, org_id, org_name, amount, percentage,
			idempotency_key, created_at
		FROM allocation_entries WHERE earning_id = ?
		ORDER BY rowid
	`, earningID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation entries: %w", err)
	}
	defer rows.Close()

	var entries []allocation.Entry
	for rows.Next() {
		var (
			e                      allocation.Entry
			ruleID, orgType        string
			orgID, orgName, key    sql.NullString
			amount, pct, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EarningID, &ruleID, &orgType, &orgID, &orgName, &amount, &pct, &key, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation entry: %w", err)
		}
		e.RuleID = allocation.RuleID(ruleID)
		e.OrgType = allocation.OrgType(orgType)
		e.OrgID = orgID.String
		e.OrgName = orgName.String
		e.Amount = parseDecimal(amount)
		e.Percentage = parseDecimal(pct)
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
