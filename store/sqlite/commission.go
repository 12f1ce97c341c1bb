package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// POLICY STORE (commission.PolicyStore)
// =============================================================================

const policyColumns = `id, org_id, policy_number, customer_id, customer_name, premium, provider,
	product_category, product_line, source_type, source_id, status, created_at`

// SavePolicy inserts or replaces a policy within its org.
func (s *Store) SavePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Line == "" {
		p.Line = commission.ClassifyProductLine(p.ProductCategory)
	}
	if p.Status == "" {
		p.Status = commission.PolicyActive
	}
	if p.SourceType == "" {
		p.SourceType = commission.SourceDirect
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			policy_number = excluded.policy_number,
			customer_id = excluded.customer_id,
			customer_name = excluded.customer_name,
			premium = excluded.premium,
			provider = excluded.provider,
			product_category = excluded.product_category,
			product_line = excluded.product_line,
			source_type = excluded.source_type,
			source_id = excluded.source_id,
			status = excluded.status
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.OrgID, p.Number, nullString(p.CustomerID), nullString(p.CustomerName),
		p.Premium.String(), p.Provider, p.ProductCategory, string(p.Line),
		string(p.SourceType), nullStringPtr(p.SourceID), string(p.Status),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// ActivePolicies returns the org's active policies ordered by ID.
func (s *Store) ActivePolicies(ctx context.Context, orgID string) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPolicies(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE org_id = ? AND status = ? ORDER BY id",
		orgID, string(commission.PolicyActive),
	)
}

// ListPolicies returns every policy of the org regardless of status.
func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPolicies(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE org_id = ? ORDER BY id",
		orgID,
	)
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]commission.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []commission.Policy
	for rows.Next() {
		var (
			p                                  commission.Policy
			customerID, customerName, sourceID sql.NullString
			premium, line, sourceType, status  string
			createdAt                          string
		)
		if err := rows.Scan(
			&p.ID, &p.OrgID, &p.Number, &customerID, &customerName, &premium, &p.Provider,
			&p.ProductCategory, &line, &sourceType, &sourceID, &status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.CustomerID = customerID.String
		p.CustomerName = customerName.String
		p.Premium = parseDecimal(premium)
		p.Line = commission.ParseProductLine(line)
		p.SourceType = commission.ParseSourceType(sourceType)
		p.SourceID = stringPtr(sourceID)
		p.Status = commission.PolicyStatus(status)
		p.CreatedAt = parseTime(createdAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// CUSTOMER DIRECTORY
// =============================================================================

// SaveCustomer upserts a customer display name.
func (s *Store) SaveCustomer(ctx context.Context, orgID, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (org_id, id, name) VALUES (?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET name = excluded.name
	`, orgID, id, name)
	return err
}

// CustomerName returns commission.ErrNotFound for unknown customers.
func (s *Store) CustomerName(ctx context.Context, orgID, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM customers WHERE org_id = ? AND id = ?", orgID, customerID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", commission.ErrNotFound
	}
	return name, err
}

// =============================================================================
// GRID STORE (commission.GridStore)
// =============================================================================

// SaveGrid inserts or replaces a row in the row's grid table within its org.
func (s *Store) SaveGrid(ctx context.Context, g commission.GridRow) error {
	if !g.Table.Valid() {
		return fmt.Errorf("%w: %q", commission.ErrUnknownGridTable, g.Table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, org_id, provider, commission_rate, reward_rate, bonus_rate,
			is_active, effective_from, effective_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			provider = excluded.provider,
			commission_rate = excluded.commission_rate,
			reward_rate = excluded.reward_rate,
			bonus_rate = excluded.bonus_rate,
			is_active = excluded.is_active,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`, g.Table)

	_, err := s.db.ExecContext(ctx, query,
		g.ID, g.OrgID, nullStringPtr(g.Provider),
		g.CommissionRate.String(), g.RewardRate.String(), g.BonusRate.String(),
		g.IsActive, nullTime(g.EffectiveFrom), nullTime(g.EffectiveTo), formatTime(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save grid row: %w", err)
	}
	return nil
}

// ActiveGrids returns active rows of one table. Ordering is the resolver's job.
func (s *Store) ActiveGrids(ctx context.Context, orgID string, table commission.GridTable) ([]commission.GridRow, error) {
	return s.listGrids(ctx, orgID, table, true)
}

// ListGrids returns every row of one table, active or not.
func (s *Store) ListGrids(ctx context.Context, orgID string, table commission.GridTable) ([]commission.GridRow, error) {
	return s.listGrids(ctx, orgID, table, false)
}

func (s *Store) listGrids(ctx context.Context, orgID string, table commission.GridTable, activeOnly bool) ([]commission.GridRow, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", commission.ErrUnknownGridTable, table)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, org_id, provider, commission_rate, reward_rate, bonus_rate,
			is_active, effective_from, effective_to, created_at
		FROM %s WHERE org_id = ?`, table)
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var grids []commission.GridRow
	for rows.Next() {
		var (
			g                                 commission.GridRow
			provider, effFrom, effTo          sql.NullString
			commissionRate, rewardRate, bonus string
			createdAt                         string
		)
		if err := rows.Scan(
			&g.ID, &g.OrgID, &provider, &commissionRate, &rewardRate, &bonus,
			&g.IsActive, &effFrom, &effTo, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grid row: %w", err)
		}
		g.Table = table
		g.Provider = stringPtr(provider)
		g.CommissionRate = parseDecimal(commissionRate)
		g.RewardRate = parseDecimal(rewardRate)
		g.BonusRate = parseDecimal(bonus)
		g.EffectiveFrom = timePtr(effFrom)
		g.EffectiveTo = timePtr(effTo)
		g.CreatedAt = parseTime(createdAt)
		grids = append(grids, g)
	}
	return grids, rows.Err()
}

// =============================================================================
// SOURCE STORE (commission.SourceStore)
// =============================================================================

// SaveSource upserts an agent, MISP or employee.
func (s *Store) SaveSource(ctx context.Context, src commission.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (org_id, source_type, id, name, percentage, tier_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, source_type, id) DO UPDATE SET
			name = excluded.name,
			percentage = excluded.percentage,
			tier_id = excluded.tier_id
	`, src.OrgID, string(src.Type), src.ID, src.Name, nullDecimal(src.Percentage), nullStringPtr(src.TierID))
	return err
}

// GetSource returns commission.ErrNotFound for unknown sources.
func (s *Store) GetSource(ctx context.Context, orgID string, typ commission.SourceType, id string) (*commission.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, source_type, id, name, percentage, tier_id
		FROM sources WHERE org_id = ? AND source_type = ? AND id = ?
	`, orgID, string(typ), id)
	if err != nil {
		return nil, err
	}
	sources, err := scanSources(rows)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, commission.ErrNotFound
	}
	return &sources[0], nil
}

// ListSources returns every source of an org.
func (s *Store) ListSources(ctx context.Context, orgID string) ([]commission.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, source_type, id, name, percentage, tier_id
		FROM sources WHERE org_id = ? ORDER BY source_type, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	return scanSources(rows)
}

func scanSources(rows *sql.Rows) ([]commission.Source, error) {
	defer rows.Close()

	var sources []commission.Source
	for rows.Next() {
		var (
			src             commission.Source
			typ             string
			percent, tierID sql.NullString
		)
		if err := rows.Scan(&src.OrgID, &typ, &src.ID, &src.Name, &percent, &tierID); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Type = commission.ParseSourceType(typ)
		src.Percentage = decimalPtr(percent)
		src.TierID = stringPtr(tierID)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// =============================================================================
// TIER STORE (commission.TierStore)
// =============================================================================

// SaveTier upserts a commission tier within its org.
func (s *Store) SaveTier(ctx context.Context, t commission.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_tiers (id, org_id, name, base_percentage) VALUES (?, ?, ?, ?)
		ON CONFLICT(org_id, id) DO UPDATE SET
			name = excluded.name,
			base_percentage = excluded.base_percentage
	`, t.ID, t.OrgID, t.Name, t.BasePercentage.String())
	return err
}

// GetTier returns commission.ErrNotFound for unknown tiers.
func (s *Store) GetTier(ctx context.Context, orgID, id string) (*commission.Tier, error) {
	return s.queryTier(ctx,
		"SELECT id, org_id, name, base_percentage FROM commission_tiers WHERE org_id = ? AND id = ?",
		orgID, id)
}

// FindTierByName matches case-insensitively.
func (s *Store) FindTierByName(ctx context.Context, orgID, name string) (*commission.Tier, error) {
	return s.queryTier(ctx, `
		SELECT id, org_id, name, base_percentage FROM commission_tiers
		WHERE org_id = ? AND name = ? COLLATE NOCASE
		ORDER BY id LIMIT 1
	`, orgID, name)
}

func (s *Store) queryTier(ctx context.Context, query string, args ...any) (*commission.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		t    commission.Tier
		base string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.OrgID, &t.Name, &base)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.BasePercentage = parseDecimal(base)
	return &t, nil
}

// ListTiers returns every tier of an org.
func (s *Store) ListTiers(ctx context.Context, orgID string) ([]commission.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, org_id, name, base_percentage FROM commission_tiers WHERE org_id = ? ORDER BY name",
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []commission.Tier
	for rows.Next() {
		var (
			t    commission.Tier
			base string
		)
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &base); err != nil {
			return nil, err
		}
		t.BasePercentage = parseDecimal(base)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// =============================================================================
// DEFAULTS STORE (commission.DefaultsStore)
// =============================================================================

// SaveDefaultTierConfig stores one version of an org's defaults.
func (s *Store) SaveDefaultTierConfig(ctx context.Context, c commission.DefaultTierConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO default_tier_configs (org_id, version, effective_from, employee_percent,
			agent_percent, misp_percent, agent_fallback_tier)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, version) DO UPDATE SET
			effective_from = excluded.effective_from,
			employee_percent = excluded.employee_percent,
			agent_percent = excluded.agent_percent,
			misp_percent = excluded.misp_percent,
			agent_fallback_tier = excluded.agent_fallback_tier
	`, c.OrgID, c.Version, formatTime(c.EffectiveFrom), c.EmployeePercent.String(),
		c.AgentPercent.String(), c.MispPercent.String(), c.AgentFallbackTierName)
	return err
}

// DefaultTierConfigs returns every version for the org, newest first.
func (s *Store) DefaultTierConfigs(ctx context.Context, orgID string) ([]commission.DefaultTierConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, version, effective_from, employee_percent, agent_percent,
			misp_percent, agent_fallback_tier
		FROM default_tier_configs WHERE org_id = ? ORDER BY version DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []commission.DefaultTierConfig
	for rows.Next() {
		var (
			c                         commission.DefaultTierConfig
			effFrom, emp, agent, misp string
		)
		if err := rows.Scan(&c.OrgID, &c.Version, &effFrom, &emp, &agent, &misp, &c.AgentFallbackTierName); err != nil {
			return nil, err
		}
		c.EffectiveFrom = parseTime(effFrom)
		c.EmployeePercent = parseDecimal(emp)
		c.AgentPercent = parseDecimal(agent)
		c.MispPercent = parseDecimal(misp)
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// =============================================================================
// RESULT STORE (commission.ResultStore)
// =============================================================================

const resultColumns = `policy_id, org_id, policy_number, customer_name, product_category,
	product_line, provider, premium, source_type, source_id, grid_table, grid_id,
	base_rate, reward_rate, bonus_rate, base_commission, reward_commission, bonus_commission,
	insurer_commission, agent_commission, misp_commission, employee_commission, broker_share,
	share_percent, share_basis, status, degraded, note, calculated_at`

// UpsertResult writes the current result for a policy. Re-running a sync
// with unchanged inputs rewrites the same row.
func (s *Store) UpsertResult(ctx context.Context, r commission.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policy_commissions (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, policy_id) DO UPDATE SET
			policy_number = excluded.policy_number,
			customer_name = excluded.customer_name,
			product_category = excluded.product_category,
			product_line = excluded.product_line,
			provider = excluded.provider,
			premium = excluded.premium,
			source_type = excluded.source_type,
			source_id = excluded.source_id,
			grid_table = excluded.grid_table,
			grid_id = excluded.grid_id,
			base_rate = excluded.base_rate,
			reward_rate = excluded.reward_rate,
			bonus_rate = excluded.bonus_rate,
			base_commission = excluded.base_commission,
			reward_commission = excluded.reward_commission,
			bonus_commission = excluded.bonus_commission,
			insurer_commission = excluded.insurer_commission,
			agent_commission = excluded.agent_commission,
			misp_commission = excluded.misp_commission,
			employee_commission = excluded.employee_commission,
			broker_share = excluded.broker_share,
			share_percent = excluded.share_percent,
			share_basis = excluded.share_basis,
			status = excluded.status,
			degraded = excluded.degraded,
			note = excluded.note,
			calculated_at = excluded.calculated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.PolicyID, r.OrgID, r.PolicyNumber, r.CustomerName, r.ProductCategory,
		string(r.Line), r.Provider, r.Premium.String(), string(r.SourceType), nullStringPtr(r.SourceID),
		nullString(string(r.GridTable)), nullString(r.GridID),
		r.BaseRate.String(), r.RewardRate.String(), r.BonusRate.String(),
		r.BaseCommission.String(), r.RewardCommission.String(), r.BonusCommission.String(),
		r.InsurerCommission.String(), r.AgentCommission.String(), r.MispCommission.String(),
		r.EmployeeCommission.String(), r.BrokerShare.String(),
		r.SharePercent.String(), string(r.ShareBasis), string(r.Status), r.Degraded,
		nullString(r.Note), formatTime(r.CalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert commission result: %w", err)
	}
	return nil
}

// ListResults returns persisted results for an org ordered by policy ID.
func (s *Store) ListResults(ctx context.Context, orgID string) ([]commission.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+resultColumns+" FROM policy_commissions WHERE org_id = ? ORDER BY policy_id",
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission results: %w", err)
	}
	defer rows.Close()

	var results []commission.Result
	for rows.Next() {
		var (
			r                                                  commission.Result
			line, premium, sourceType                          string
			sourceID, gridTable, gridID, note                  sql.NullString
			baseRate, rewardRate, bonusRate                    string
			base, reward, bonus, insurer, agent, misp, emp, br string
			share, basis, status, calculatedAt                 string
		)
		if err := rows.Scan(
			&r.PolicyID, &r.OrgID, &r.PolicyNumber, &r.CustomerName, &r.ProductCategory,
			&line, &r.Provider, &premium, &sourceType, &sourceID, &gridTable, &gridID,
			&baseRate, &rewardRate, &bonusRate, &base, &reward, &bonus,
			&insurer, &agent, &misp, &emp, &br,
			&share, &basis, &status, &r.Degraded, &note, &calculatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission result: %w", err)
		}
		r.Line = commission.ProductLine(line)
		r.Premium = parseDecimal(premium)
		r.SourceType = commission.SourceType(sourceType)
		r.SourceID = stringPtr(sourceID)
		r.GridTable = commission.GridTable(gridTable.String)
		r.GridID = gridID.String
		r.BaseRate = parseDecimal(baseRate)
		r.RewardRate = parseDecimal(rewardRate)
		r.BonusRate = parseDecimal(bonusRate)
		r.BaseCommission = parseDecimal(base)
		r.RewardCommission = parseDecimal(reward)
		r.BonusCommission = parseDecimal(bonus)
		r.InsurerCommission = parseDecimal(insurer)
		r.AgentCommission = parseDecimal(agent)
		r.MispCommission = parseDecimal(misp)
		r.EmployeeCommission = parseDecimal(emp)
		r.BrokerShare = parseDecimal(br)
		r.SharePercent = parseDecimal(share)
		r.ShareBasis = commission.ShareBasis(basis)
		r.Status = commission.Status(status)
		r.Note = note.String
		r.CalculatedAt = parseTime(calculatedAt)
		results = append(results, r)
	}
	return results, rows.Err()
}
