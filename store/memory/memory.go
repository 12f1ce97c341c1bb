// Package memory provides an in-memory implementation of every store
// interface (commission and allocation), for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/commission-engine/allocation"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	policies  map[orgKey]commission.Policy
	grids     map[gridKey]commission.GridRow
	sources   map[sourceKey]commission.Source
	tiers     map[orgKey]commission.Tier
	defaults  map[string][]commission.DefaultTierConfig
	customers map[orgKey]string
	results   map[orgKey]commission.Result

	rules       map[allocation.RuleID]allocation.Rule
	earnings    map[string]allocation.Earning
	previews    map[string]allocation.Preview
	entries     []allocation.Entry
	idempotency map[string]bool
}

// Records are owned by an org: the same ID in two orgs is two records.
type orgKey struct {
	OrgID string
	ID    string
}

type gridKey struct {
	OrgID string
	Table commission.GridTable
	ID    string
}

type sourceKey struct {
	OrgID string
	Type  commission.SourceType
	ID    string
}

var (
	_ commission.Backend = (*Store)(nil)
	_ allocation.Backend = (*Store)(nil)
)

func New() *Store {
	return &Store{
		policies:    make(map[orgKey]commission.Policy),
		grids:       make(map[gridKey]commission.GridRow),
		sources:     make(map[sourceKey]commission.Source),
		tiers:       make(map[orgKey]commission.Tier),
		defaults:    make(map[string][]commission.DefaultTierConfig),
		customers:   make(map[orgKey]string),
		results:     make(map[orgKey]commission.Result),
		rules:       make(map[allocation.RuleID]allocation.Rule),
		earnings:    make(map[string]allocation.Earning),
		previews:    make(map[string]allocation.Preview),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Store) SavePolicy(_ context.Context, p commission.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[orgKey{OrgID: p.OrgID, ID: p.ID}] = p
	return nil
}

func (m *Store) SaveGrid(_ context.Context, g commission.GridRow) error {
	if !g.Table.Valid() {
		return commission.ErrUnknownGridTable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grids[gridKey{OrgID: g.OrgID, Table: g.Table, ID: g.ID}] = g
	return nil
}

func (m *Store) SaveSource(_ context.Context, s commission.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[sourceKey{OrgID: s.OrgID, Type: s.Type, ID: s.ID}] = s
	return nil
}

func (m *Store) SaveTier(_ context.Context, t commission.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[orgKey{OrgID: t.OrgID, ID: t.ID}] = t
	return nil
}

func (m *Store) SaveDefaultTierConfig(_ context.Context, c commission.DefaultTierConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.defaults[c.OrgID]
	for i, v := range versions {
		if v.Version == c.Version {
			versions[i] = c
			return nil
		}
	}
	m.defaults[c.OrgID] = append(versions, c)
	return nil
}

func (m *Store) SaveCustomer(_ context.Context, orgID, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[orgKey{OrgID: orgID, ID: id}] = name
	return nil
}

func (m *Store) SaveEarning(_ context.Context, e allocation.Earning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.earnings[e.ID]; ok && prev.TenantID != e.TenantID {
		return allocation.ErrEarningExists
	}
	m.earnings[e.ID] = e
	return nil
}

// =============================================================================
// COMMISSION STORES
// =============================================================================

func (m *Store) ActivePolicies(_ context.Context, orgID string) ([]commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.Policy
	for _, p := range m.policies {
		if p.OrgID == orgID && p.Status == commission.PolicyActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ActiveGrids(_ context.Context, orgID string, table commission.GridTable) ([]commission.GridRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.GridRow
	for _, g := range m.grids {
		if g.OrgID == orgID && g.Table == table && g.IsActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Store) GetSource(_ context.Context, orgID string, typ commission.SourceType, id string) (*commission.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sources[sourceKey{OrgID: orgID, Type: typ, ID: id}]
	if !ok {
		return nil, commission.ErrNotFound
	}
	return &s, nil
}

func (m *Store) GetTier(_ context.Context, orgID, id string) (*commission.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tiers[orgKey{OrgID: orgID, ID: id}]
	if !ok {
		return nil, commission.ErrNotFound
	}
	return &t, nil
}

func (m *Store) FindTierByName(_ context.Context, orgID, name string) (*commission.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.tiers))
	for k := range m.tiers {
		if k.OrgID == orgID {
			ids = append(ids, k.ID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := m.tiers[orgKey{OrgID: orgID, ID: id}]
		if strings.EqualFold(t.Name, name) {
			return &t, nil
		}
	}
	return nil, commission.ErrNotFound
}

func (m *Store) DefaultTierConfigs(_ context.Context, orgID string) ([]commission.DefaultTierConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]commission.DefaultTierConfig(nil), m.defaults[orgID]...), nil
}

func (m *Store) CustomerName(_ context.Context, orgID, customerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.customers[orgKey{OrgID: orgID, ID: customerID}]
	if !ok {
		return "", commission.ErrNotFound
	}
	return name, nil
}

// UpsertResult overwrites by (org, policy ID): one current record per policy.
func (m *Store) UpsertResult(_ context.Context, r commission.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[orgKey{OrgID: r.OrgID, ID: r.PolicyID}] = r
	return nil
}

func (m *Store) ListResults(_ context.Context, orgID string) ([]commission.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []commission.Result
	for _, r := range m.results {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

// =============================================================================
// ALLOCATION STORES
// =============================================================================

// SaveRule is insert-only.
func (m *Store) SaveRule(_ context.Context, r allocation.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; ok {
		return allocation.ErrRuleExists
	}
	m.rules[r.ID] = r
	return nil
}

func (m *Store) GetRule(_ context.Context, id allocation.RuleID) (*allocation.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &r, nil
}

func (m *Store) ListRules(_ context.Context, tenantID string) ([]allocation.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []allocation.Rule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) GetEarning(_ context.Context, id string) (*allocation.Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.earnings[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &e, nil
}

func (m *Store) SavePreview(_ context.Context, p allocation.Preview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previews[p.EarningID] = p
	return nil
}

func (m *Store) GetPreview(_ context.Context, earningID string) (*allocation.Preview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.previews[earningID]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &p, nil
}

// AppendEntries adds entries atomically. Append-only.
func (m *Store) AppendEntries(_ context.Context, entries []allocation.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return allocation.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		m.entries = append(m.entries, e)
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = true
		}
	}
	return nil
}

func (m *Store) EntriesForEarning(_ context.Context, earningID string) ([]allocation.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []allocation.Entry
	for _, e := range m.entries {
		if e.EarningID == earningID {
			out = append(out, e)
		}
	}
	return out, nil
}
