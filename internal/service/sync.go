package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"healthsync/internal/config"
	"healthsync/internal/domain"
	"healthsync/internal/observability"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// holds the single-flight slot. The request is dropped, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncRequest describes one requested pass. Days <= 0 means the configured
// full range.
type SyncRequest struct {
	Type domain.SyncType
	Days int
}

type SyncService struct {
	collector Collector
	records   RecordStore
	syncState SyncStateStore
	syncLog   SyncLogStore
	txManager TransactionManager
	emitter   Emitter
	uploader  Uploader
	logger    *slog.Logger
	config    config.SyncConfig

	mu          sync.Mutex
	running     bool
	lastAttempt time.Time

	now func() time.Time
}

func NewSyncService(
	collector Collector,
	records RecordStore,
	syncState SyncStateStore,
	syncLog SyncLogStore,
	txManager TransactionManager,
	emitter Emitter,
	uploader Uploader,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		collector: collector,
		records:   records,
		syncState: syncState,
		syncLog:   syncLog,
		txManager: txManager,
		emitter:   emitter,
		uploader:  uploader,
		logger:    logger.With("source", collector.Source()),
		config:    cfg,
		now:       time.Now,
	}
}

// Sync runs one collection pass. Only one pass runs at a time; a request
// arriving while another runs fails fast with ErrSyncInProgress.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*domain.SyncStats, error) {
	if !s.tryBegin() {
		return nil, ErrSyncInProgress
	}
	defer s.end()

	return s.run(ctx, req)
}

// Running reports whether a pass currently holds the single-flight slot.
func (s *SyncService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSyncAttempt returns when the latest pass started, successful or not.
func (s *SyncService) LastSyncAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

func (s *SyncService) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.lastAttempt = s.now()
	return true
}

func (s *SyncService) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *SyncService) run(ctx context.Context, req SyncRequest) (*domain.SyncStats, error) {
	started := s.now()
	source := s.collector.Source()

	days := req.Days
	if days <= 0 {
		days = s.config.FullDays
	}

	state, err := s.syncState.Get(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	window := s.resolveWindow(started, days, state.LastSyncedAt)

	runID, err := s.syncLog.Start(ctx, req.Type, started.UTC())
	if err != nil {
		return nil, fmt.Errorf("start sync run: %w", err)
	}

	s.logger.Info("starting sync",
		"type", req.Type,
		"days", days,
		"window_start", window.Start,
		"window_end", window.End,
	)

	batch, failures, err := s.collector.Collect(ctx, window, nil)
	if err != nil {
		s.failRun(ctx, runID, req.Type, err)
		return nil, fmt.Errorf("collect: %w", err)
	}

	stats := &domain.SyncStats{
		Type:   req.Type,
		Window: window,
		Failed: len(failures),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		now := s.now().UTC()
		var err error
		if stats.Metrics, err = s.records.UpsertMetrics(txCtx, batch.Metrics, now); err != nil {
			return fmt.Errorf("upsert metrics: %w", err)
		}
		if stats.Workouts, err = s.records.UpsertWorkouts(txCtx, batch.Workouts, now); err != nil {
			return fmt.Errorf("upsert workouts: %w", err)
		}
		if stats.Sleep, err = s.records.UpsertSleep(txCtx, batch.Sleep, now); err != nil {
			return fmt.Errorf("upsert sleep: %w", err)
		}
		return nil
	})
	if err != nil {
		s.failRun(ctx, runID, req.Type, err)
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	// Partial failures still advance the cursor; the overlap re-reads the
	// scopes that failed on the next pass.
	state.LastSyncedAt = window.End
	state.TotalSynced += int64(stats.Stored())
	if err := s.syncState.Update(ctx, state); err != nil {
		return stats, fmt.Errorf("update sync state: %w", err)
	}

	stats.Duration = s.now().Sub(started)

	if err := s.syncLog.Complete(ctx, runID, domain.SyncStatusCompleted, stats.Stored(), stats.Failed, "", s.now().UTC()); err != nil {
		s.logger.Error("complete sync run", "run_id", runID, "error", err)
	}

	observability.SyncRuns.WithLabelValues(string(req.Type), "completed").Inc()
	observability.LastSyncTimestamp.Set(float64(s.now().Unix()))

	s.emitEvents(ctx, stats)

	if s.uploader != nil && stats.Stored() > 0 {
		if _, err := s.uploader.Upload(ctx); err != nil {
			s.logger.Error("backend upload failed", "error", err)
		}
	}

	s.logger.Info("sync completed",
		"type", req.Type,
		"metrics", stats.Metrics,
		"workouts", stats.Workouts,
		"sleep", stats.Sleep,
		"failed_scopes", stats.Failed,
		"duration", stats.Duration,
	)

	return stats, nil
}

// resolveWindow picks the query range for a pass. A short request resumes
// from the last sync minus the overlap, so late-arriving platform writes
// inside the overlap get re-read. Longer requests, and sources never synced
// before, scan the full range.
func (s *SyncService) resolveWindow(now time.Time, days int, lastSync time.Time) domain.Window {
	full := domain.Window{Start: now.AddDate(0, 0, -days), End: now}

	if days > 1 || lastSync.IsZero() {
		return full
	}

	start := lastSync.Add(-s.config.Overlap)
	if start.Before(full.Start) || !start.Before(now) {
		return full
	}

	return domain.Window{Start: start, End: now}
}

func (s *SyncService) failRun(ctx context.Context, runID int64, syncType domain.SyncType, runErr error) {
	observability.SyncRuns.WithLabelValues(string(syncType), "failed").Inc()

	if err := s.syncLog.Complete(ctx, runID, domain.SyncStatusFailed, 0, 0, runErr.Error(), s.now().UTC()); err != nil {
		s.logger.Error("complete sync run", "run_id", runID, "error", err)
	}

	if err := s.emitter.Emit(ctx, domain.EventSyncFailed, syncFailedPayload{
		Type:  syncType,
		Error: runErr.Error(),
	}); err != nil {
		s.logger.Error("emit event", "event", domain.EventSyncFailed, "error", err)
	}
}

func (s *SyncService) emitEvents(ctx context.Context, stats *domain.SyncStats) {
	if stats.Stored() > 0 {
		if err := s.emitter.Emit(ctx, domain.EventDataUpdated, dataUpdatedPayload{
			Metrics:  stats.Metrics,
			Workouts: stats.Workouts,
			Sleep:    stats.Sleep,
		}); err != nil {
			s.logger.Error("emit event", "event", domain.EventDataUpdated, "error", err)
		}
	}

	if err := s.emitter.Emit(ctx, domain.EventSyncCompleted, syncCompletedPayload{
		Type:             stats.Type,
		RecordsProcessed: stats.Stored(),
		RecordsFailed:    stats.Failed,
		DurationMS:       stats.Duration.Milliseconds(),
	}); err != nil {
		s.logger.Error("emit event", "event", domain.EventSyncCompleted, "error", err)
	}
}
