package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"healthsync/internal/domain"
	"healthsync/internal/observability"
	"healthsync/internal/service"
)

// Syncer runs sync passes.
type Syncer interface {
	Sync(ctx context.Context, req service.SyncRequest) (*domain.SyncStats, error)
}

// Sweeper retries undelivered webhook events.
type Sweeper interface {
	ProcessUndelivered(ctx context.Context, limit int) (int, error)
}

// RecordPurger trims records past the retention horizon.
type RecordPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PendingCounts(ctx context.Context) (domain.PendingCounts, error)
}

// EventPurger trims the webhook queue.
type EventPurger interface {
	Purge(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error)
}

type Config struct {
	SyncInterval    time.Duration
	FullDays        int
	SweepInterval   time.Duration
	SweepBatch      int
	PurgeInterval   time.Duration
	RetentionDays   int
	EventMaxRetries int
}

// Scheduler drives the periodic work: background syncs, webhook sweeps and
// retention purges.
type Scheduler struct {
	syncer  Syncer
	sweeper Sweeper
	records RecordPurger
	events  EventPurger
	cfg     Config
	logger  *slog.Logger
}

func NewScheduler(syncer Syncer, sweeper Sweeper, records RecordPurger, events EventPurger, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:  syncer,
		sweeper: sweeper,
		records: records,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

const runTimeout = 5 * time.Minute

// Start blocks until ctx is cancelled. The first sync runs immediately so
// a restarted app catches up without waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"sync_interval", s.cfg.SyncInterval,
		"sweep_interval", s.cfg.SweepInterval,
		"purge_interval", s.cfg.PurgeInterval,
	)

	s.runSync(ctx)

	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	purgeTicker := time.NewTicker(s.cfg.PurgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-syncTicker.C:
			s.runSync(ctx)
		case <-sweepTicker.C:
			s.runSweep(ctx)
		case <-purgeTicker.C:
			s.runPurge(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	_, err := s.syncer.Sync(syncCtx, service.SyncRequest{
		Type: domain.SyncBackground,
		Days: s.cfg.FullDays,
	})
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		s.logger.Debug("sync already running, skipping scheduled pass")
	case err != nil:
		s.logger.Error("scheduled sync failed", "error", err)
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	delivered, err := s.sweeper.ProcessUndelivered(sweepCtx, s.cfg.SweepBatch)
	if err != nil {
		s.logger.Error("webhook sweep failed", "error", err)
	} else if delivered > 0 {
		s.logger.Info("webhook sweep delivered events", "count", delivered)
	}

	// The pending gauge rides the sweep cadence.
	counts, err := s.records.PendingCounts(sweepCtx)
	if err != nil {
		s.logger.Error("read pending counts", "error", err)
		return
	}
	observability.PendingRecords.WithLabelValues("metrics").Set(float64(counts.Metrics))
	observability.PendingRecords.WithLabelValues("workouts").Set(float64(counts.Workouts))
	observability.PendingRecords.WithLabelValues("sleep").Set(float64(counts.Sleep))
}

func (s *Scheduler) runPurge(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	removed, err := s.records.PurgeOlderThan(purgeCtx, cutoff)
	if err != nil {
		s.logger.Error("record purge failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("purged old records", "count", removed)
	}

	purged, err := s.events.Purge(purgeCtx, cutoff, s.cfg.EventMaxRetries)
	if err != nil {
		s.logger.Error("event purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged webhook events", "count", purged)
	}
}
