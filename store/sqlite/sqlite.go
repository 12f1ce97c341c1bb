/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine consumes using SQLite.
  In production the same patterns apply to PostgreSQL, with minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  commission.Backend: policies, grids, sources, tiers, default tier
                      configs, customers, commission results
  allocation.Backend: allocation rules, earnings, previews, ledger

KEY TABLES:
  policies:            Policy inputs (read-only to the engine)
  *_payout_grid:       One table per product line (motor, health, life)
  sources:             Agents, MISPs and employees
  commission_tiers:    Named percentage brackets
  default_tier_configs: Versioned per-org fallbacks
  policy_commissions:  One current result per policy (upserted)
  allocation_rules:    Scope-prioritised split rules
  earnings:            Commission amounts awaiting allocation
  allocation_previews: Latest preview per earning
  allocation_entries:  Append-only allocation ledger
  sync_runs:           Audit trail of scheduled and manual syncs

APPEND-ONLY ENFORCEMENT:
  allocation_entries is never updated or deleted. idempotency_key is
  UNIQUE, so a repeated apply fails inside the insert transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  calc := commission.NewCalculator(commission.StoresFrom(store), logger)

SEE ALSO:
  - commission/store.go: Commission store interfaces
  - allocation/store.go: Allocation store interfaces
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ commission.Backend = (*Store)(nil)
	_ allocation.Backend = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Policies (inputs)
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		customer_id TEXT,
		customer_name TEXT,
		premium TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		product_category TEXT NOT NULL DEFAULT '',
		product_line TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT 'direct',
		source_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_policies_org_status
		ON policies(org_id, status);

	CREATE TABLE IF NOT EXISTS customers (
		org_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	-- Agents, MISPs and employees
	CREATE TABLE IF NOT EXISTS sources (
		org_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		percentage TEXT,
		tier_id TEXT,
		PRIMARY KEY (org_id, source_type, id)
	);

	CREATE TABLE IF NOT EXISTS commission_tiers (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		base_percentage TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_tiers_org_name
		ON commission_tiers(org_id, name COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS default_tier_configs (
		org_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		effective_from TEXT NOT NULL,
		employee_percent TEXT NOT NULL,
		agent_percent TEXT NOT NULL,
		misp_percent TEXT NOT NULL,
		agent_fallback_tier TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (org_id, version)
	);

	-- Commission results: one current row per policy
	CREATE TABLE IF NOT EXISTS policy_commissions (
		policy_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		product_category TEXT NOT NULL,
		product_line TEXT NOT NULL,
		provider TEXT NOT NULL,
		premium TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT,
		grid_table TEXT,
		grid_id TEXT,
		base_rate TEXT NOT NULL,
		reward_rate TEXT NOT NULL,
		bonus_rate TEXT NOT NULL,
		base_commission TEXT NOT NULL,
		reward_commission TEXT NOT NULL,
		bonus_commission TEXT NOT NULL,
		insurer_commission TEXT NOT NULL,
		agent_commission TEXT NOT NULL,
		misp_commission TEXT NOT NULL,
		employee_commission TEXT NOT NULL,
		broker_share TEXT NOT NULL,
		share_percent TEXT NOT NULL,
		share_basis TEXT NOT NULL,
		status TEXT NOT NULL,
		degraded BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT,
		calculated_at TEXT NOT NULL,
		PRIMARY KEY (org_id, policy_id)
	);

	CREATE INDEX IF NOT EXISTS idx_policy_commissions_org
		ON policy_commissions(org_id);

	-- Allocation
	CREATE TABLE IF NOT EXISTS allocation_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		scope_level TEXT NOT NULL,
		scope_ref TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		tenant_percent TEXT NOT NULL,
		branch_percent TEXT NOT NULL,
		team_percent TEXT NOT NULL,
		agent_percent TEXT NOT NULL,
		partner_percent TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_rules_tenant
		ON allocation_rules(tenant_id, status);

	CREATE TABLE IF NOT EXISTS earnings (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		policy_id TEXT,
		org_id TEXT,
		product_id TEXT,
		lob TEXT,
		total_commission TEXT NOT NULL,
		parties_json TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_earnings_tenant
		ON earnings(tenant_id);

	CREATE TABLE IF NOT EXISTS allocation_previews (
		earning_id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Allocation ledger (append-only)
	CREATE TABLE IF NOT EXISTS allocation_entries (
		id TEXT PRIMARY KEY,
		earning_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		org_type TEXT NOT NULL,
		org_id TEXT,
		org_name TEXT,
		amount TEXT NOT NULL,
		percentage TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_entries_earning
		ON allocation_entries(earning_id);

	-- Sync runs (scheduled and manual)
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		policies INTEGER DEFAULT 0,
		calculated INTEGER DEFAULT 0,
		no_grid_match INTEGER DEFAULT 0,
		degraded INTEGER DEFAULT 0,
		persist_failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_org
		ON sync_runs(org_id, started_at DESC);
	`

	var grids strings.Builder
	for _, table := range commission.GridTables {
		fmt.Fprintf(&grids, `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		provider TEXT,
		commission_rate TEXT NOT NULL,
		reward_rate TEXT NOT NULL DEFAULT '0',
		bonus_rate TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		effective_from TEXT,
		effective_to TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_org_active
		ON %[1]s(org_id, is_active);
	`, table)
	}

	_, err := s.db.Exec(schema + grids.String())
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"allocation_entries", "allocation_previews", "earnings", "allocation_rules",
		"policy_commissions", "policies", "customers", "sources", "commission_tiers",
		"default_tier_configs", "sync_runs",
	}
	for _, t := range commission.GridTables {
		tables = append(tables, string(t))
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

const timeLayout = time.RFC3339Nano

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
