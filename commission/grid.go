/*
grid.go - Rate grid resolution

PURPOSE:
  Finds the single payout grid row that applies to a policy.

DISPATCH:
  Each policy carries an explicit ProductLine. LineTables maps a line to
  its grid table; a line with no table (LineOther) yields no match. No
  match is a valid terminal state, not an error.

MATCHING:
  Within the table, only active rows whose provider is nil (wildcard) or
  matches the policy provider case-insensitively as a substring.

ORDERING KEY:
  (specificity desc, effective_from desc, created_at desc, id asc)
    specificity: 2 = exact provider, 1 = substring, 0 = wildcard
  Deterministic regardless of insertion order.

EFFECTIVE WINDOWS:
  Rows carry effective_from/effective_to but the resolver does not filter
  on them unless EnforceEffectiveWindow is set. Whether grids are evergreen
  until deactivated is still an open product question.
*/
package commission

import (
	"context"
	"sort"
	"strings"
	"time"
)

// LineTables routes product lines to their payout grid table.
var LineTables = map[ProductLine]GridTable{
	LineMotor:  TableMotor,
	LineHealth: TableHealth,
	LineLife:   TableLife,
}

// GridMatch is the outcome of a successful resolution.
type GridMatch struct {
	Table GridTable
	Row   GridRow
	Rates Rates
}

// Resolver selects grid rows. Read-only.
type Resolver struct {
	Grids GridStore

	// EnforceEffectiveWindow filters rows whose window excludes asOf.
	EnforceEffectiveWindow bool
}

func NewResolver(grids GridStore) *Resolver {
	return &Resolver{Grids: grids}
}

// Resolve returns the applicable row, or nil when nothing matches.
// Store errors are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, org OrgContext, provider string, line ProductLine, asOf time.Time) (*GridMatch, error) {
	table, ok := LineTables[line]
	if !ok {
		return nil, nil
	}

	rows, err := r.Grids.ActiveGrids(ctx, org.OrgID, table)
	if err != nil {
		return nil, err
	}

	row, ok := r.pick(rows, provider, asOf)
	if !ok {
		return nil, nil
	}
	return &GridMatch{Table: table, Row: row, Rates: row.Rates()}, nil
}

// ResolveGrid classifies a free-text product category and resolves it.
func (r *Resolver) ResolveGrid(ctx context.Context, org OrgContext, provider, productCategory string) (*GridMatch, error) {
	return r.Resolve(ctx, org, provider, ClassifyProductLine(productCategory), org.Now())
}

type candidate struct {
	row         GridRow
	specificity int
}

func (r *Resolver) pick(rows []GridRow, provider string, asOf time.Time) (GridRow, bool) {
	var candidates []candidate
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		if r.EnforceEffectiveWindow && !row.CoversDate(asOf) {
			continue
		}
		score, ok := providerSpecificity(row.Provider, provider)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{row: row, specificity: score})
	}
	if len(candidates) == 0 {
		return GridRow{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].before(candidates[j])
	})
	return candidates[0].row, true
}

// before implements the documented ordering key.
func (c candidate) before(o candidate) bool {
	if c.specificity != o.specificity {
		return c.specificity > o.specificity
	}
	cf, of := effectiveFrom(c.row), effectiveFrom(o.row)
	if !cf.Equal(of) {
		return cf.After(of)
	}
	if !c.row.CreatedAt.Equal(o.row.CreatedAt) {
		return c.row.CreatedAt.After(o.row.CreatedAt)
	}
	return c.row.ID < o.row.ID
}

func effectiveFrom(g GridRow) time.Time {
	if g.EffectiveFrom == nil {
		return time.Time{}
	}
	return *g.EffectiveFrom
}

// providerSpecificity scores how well a grid row's provider fits the policy's.
// A row provider matches when it contains the policy provider (case-insensitive).
// A policy without a provider only matches wildcard rows.
func providerSpecificity(rowProvider *string, policyProvider string) (int, bool) {
	if rowProvider == nil {
		return 0, true
	}
	rp := strings.ToLower(strings.TrimSpace(*rowProvider))
	pp := strings.ToLower(strings.TrimSpace(policyProvider))
	if rp == "" {
		return 0, true
	}
	if rp == pp {
		return 2, true
	}
	if pp != "" && strings.Contains(rp, pp) {
		return 1, true
	}
	return 0, false
}
