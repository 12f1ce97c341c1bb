/*
scheduler.go - Periodic commission sync

PURPOSE:
  Recalculates and upserts commission records for the configured orgs on
  a fixed interval, so persisted results follow grid and tier changes
  without a manual sync.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Each org is synced through Handler.syncOrg, which records a sync run
    (triggered_by = "scheduler") for audit and the /api/sync-runs view
  - A failing org is logged and does not stop the others

USAGE:
  scheduler := NewSyncScheduler(handler, []string{"org-demo"}, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncCommissions endpoint (manual sync)
  - commission/calculator.go: Sync
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/commission-engine/commission"
	"go.uber.org/zap"
)

// SyncScheduler handles periodic commission syncs.
type SyncScheduler struct {
	Handler  *Handler
	Orgs     []string
	Interval time.Duration
	Logger   *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(h *Handler, orgs []string, interval time.Duration, logger *zap.Logger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		Handler:  h,
		Orgs:     orgs,
		Interval: interval,
		Logger:   logger.Named("scheduler"),
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler. A non-positive interval or an empty org list
// leaves it disabled.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	if s.Interval <= 0 || len(s.Orgs) == 0 {
		s.Logger.Info("disabled, not starting",
			zap.Duration("interval", s.Interval), zap.Strings("orgs", s.Orgs))
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("started", zap.Duration("interval", s.Interval), zap.Strings("orgs", s.Orgs))
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.Logger.Info("stopped")
}

func (s *SyncScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.syncAll()

	for {
		select {
		case <-s.ticker.C:
			s.syncAll()
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate sync of every org.
func (s *SyncScheduler) RunNow() {
	s.syncAll()
}

func (s *SyncScheduler) syncAll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, orgID := range s.Orgs {
		org := commission.OrgContext{OrgID: orgID, TenantID: orgID, ActorID: "scheduler"}
		batch, run, err := s.Handler.syncOrg(ctx, org, "scheduler")
		if err != nil {
			s.Logger.Error("sync failed", zap.String("org_id", orgID), zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		s.Logger.Info("sync completed",
			zap.String("org_id", orgID),
			zap.String("run_id", run.ID),
			zap.Int("policies", batch.Stats.Total),
			zap.Int("calculated", batch.Stats.Calculated),
			zap.Int("no_grid_match", batch.Stats.NoGridMatch),
			zap.Int("degraded", batch.Stats.Degraded),
			zap.Int("persist_failed", batch.Stats.PersistFailed))
	}
}
