package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// =============================================================================
// SYNC RUN TRACKING
// =============================================================================

// SyncRun records one sync of an org's commissions.
type SyncRun struct {
	ID            string
	OrgID         string
	TriggeredBy   string // scheduler, api
	Status        string // running, completed, failed
	Policies      int
	Calculated    int
	NoGridMatch   int
	Degraded      int
	PersistFailed int
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// SaveSyncRun inserts or updates a sync run.
func (s *Store) SaveSyncRun(ctx context.Context, r SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sync_runs (id, org_id, triggered_by, status, policies, calculated,
			no_grid_match, degraded, persist_failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			policies = excluded.policies,
			calculated = excluded.calculated,
			no_grid_match = excluded.no_grid_match,
			degraded = excluded.degraded,
			persist_failed = excluded.persist_failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OrgID, r.TriggeredBy, r.Status, r.Policies, r.Calculated,
		r.NoGridMatch, r.Degraded, r.PersistFailed, nullString(r.Error),
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// ListSyncRuns returns the most recent runs, optionally for one org.
func (s *Store) ListSyncRuns(ctx context.Context, orgID string, limit int) ([]SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, org_id, triggered_by, status, policies, calculated, no_grid_match,
			degraded, persist_failed, error, started_at, completed_at
		FROM sync_runs`
	var args []any
	if orgID != "" {
		query += " WHERE org_id = ?"
		args = append(args, orgID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var (
			r                   SyncRun
			errMsg, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(
			&r.ID, &r.OrgID, &r.TriggeredBy, &r.Status, &r.Policies, &r.Calculated,
			&r.NoGridMatch, &r.Degraded, &r.PersistFailed, &errMsg, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = timePtr(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
