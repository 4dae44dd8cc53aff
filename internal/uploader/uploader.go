// Package uploader pushes locally cached records to the backend. A record
// is only marked synced after the backend confirmed its batch, so the
// backlog survives any failure mode as a delay, never a loss.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"healthsync/internal/auth"
	"healthsync/internal/domain"
	"healthsync/internal/observability"
)

// ErrTerminal marks a backend rejection that retrying will not fix. The
// affected records stay queued until the payload or backend changes.
var ErrTerminal = errors.New("not retryable")

// RecordStore is the slice of the local store the uploader needs.
type RecordStore interface {
	UnsyncedMetrics(ctx context.Context, limit int) ([]domain.HealthMetric, error)
	UnsyncedWorkouts(ctx context.Context, limit int) ([]domain.HealthWorkout, error)
	UnsyncedSleep(ctx context.Context, limit int) ([]domain.SleepRecord, error)
	MarkMetricsSynced(ctx context.Context, ids []int64, at time.Time) error
	MarkWorkoutsSynced(ctx context.Context, ids []int64, at time.Time) error
	MarkSleepSynced(ctx context.Context, ids []int64, at time.Time) error
}

// Config holds upload pass tuning.
type Config struct {
	BatchSize         int
	MetricFetchLimit  int
	WorkoutFetchLimit int
	SleepFetchLimit   int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Uploader drains the unsynced backlog in batches.
type Uploader struct {
	client  *Client
	records RecordStore
	tokens  auth.TokenProvider
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func New(client *Client, records RecordStore, tokens auth.TokenProvider, cfg Config, logger *slog.Logger) *Uploader {
	return &Uploader{
		client:  client,
		records: records,
		tokens:  tokens,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Upload pushes pending records of every kind. Without a token the pass is
// a no-op. A terminal backend rejection aborts the pass with an error; an
// exhausted retry budget only ends the affected kind, records stay queued
// for the next pass.
func (u *Uploader) Upload(ctx context.Context) (domain.UploadStats, error) {
	var stats domain.UploadStats

	token, err := u.tokens.Token()
	if err != nil {
		u.logger.Warn("api token unavailable, skipping upload", "error", err)
		return stats, nil
	}
	if token == "" {
		u.logger.Debug("no api token configured, skipping upload")
		return stats, nil
	}

	stats.MetricsSynced, err = u.uploadMetrics(ctx)
	if err != nil {
		return stats, err
	}

	stats.WorkoutsSynced, err = u.uploadWorkouts(ctx)
	if err != nil {
		return stats, err
	}

	stats.SleepSynced, err = u.uploadSleep(ctx)
	if err != nil {
		return stats, err
	}

	if stats.Total() > 0 {
		u.logger.Info("upload pass complete",
			"metrics", stats.MetricsSynced,
			"workouts", stats.WorkoutsSynced,
			"sleep", stats.SleepSynced,
		)
	}

	return stats, nil
}

func (u *Uploader) uploadMetrics(ctx context.Context) (int, error) {
	metrics, err := u.records.UnsyncedMetrics(ctx, u.cfg.MetricFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch unsynced metrics: %w", err)
	}

	groups := make(map[domain.Source][]domain.HealthMetric)
	var order []domain.Source
	for _, m := range metrics {
		if _, ok := groups[m.Source]; !ok {
			order = append(order, m.Source)
		}
		groups[m.Source] = append(groups[m.Source], m)
	}

	synced := 0
	for _, source := range order {
		rows := groups[source]
		for start := 0; start < len(rows); start += u.cfg.BatchSize {
			chunk := rows[start:min(start+u.cfg.BatchSize, len(rows))]

			payload := syncPayload{Source: source, Metrics: make([]metricPayload, 0, len(chunk))}
			ids := make([]int64, 0, len(chunk))
			for _, m := range chunk {
				payload.Metrics = append(payload.Metrics, toMetricPayload(m))
				ids = append(ids, m.ID)
			}

			if err := u.send(ctx, payload); err != nil {
				return synced, u.classify(err, "metrics")
			}

			if err := u.records.MarkMetricsSynced(ctx, ids, u.now().UTC()); err != nil {
				return synced, fmt.Errorf("mark metrics synced: %w", err)
			}

			synced += len(chunk)
			observability.RecordsUploaded.WithLabelValues("metrics").Add(float64(len(chunk)))
		}
	}

	return synced, nil
}

func (u *Uploader) uploadWorkouts(ctx context.Context) (int, error) {
	workouts, err := u.records.UnsyncedWorkouts(ctx, u.cfg.WorkoutFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch unsynced workouts: %w", err)
	}

	groups := make(map[domain.Source][]domain.HealthWorkout)
	var order []domain.Source
	for _, w := range workouts {
		if _, ok := groups[w.Source]; !ok {
			order = append(order, w.Source)
		}
		groups[w.Source] = append(groups[w.Source], w)
	}

	synced := 0
	for _, source := range order {
		rows := groups[source]
		for start := 0; start < len(rows); start += u.cfg.BatchSize {
			chunk := rows[start:min(start+u.cfg.BatchSize, len(rows))]

			payload := syncPayload{Source: source, Workouts: make([]workoutPayload, 0, len(chunk))}
			ids := make([]int64, 0, len(chunk))
			for _, w := range chunk {
				payload.Workouts = append(payload.Workouts, toWorkoutPayload(w))
				ids = append(ids, w.ID)
			}

			if err := u.send(ctx, payload); err != nil {
				return synced, u.classify(err, "workouts")
			}

			if err := u.records.MarkWorkoutsSynced(ctx, ids, u.now().UTC()); err != nil {
				return synced, fmt.Errorf("mark workouts synced: %w", err)
			}

			synced += len(chunk)
			observability.RecordsUploaded.WithLabelValues("workouts").Add(float64(len(chunk)))
		}
	}

	return synced, nil
}

func (u *Uploader) uploadSleep(ctx context.Context) (int, error) {
	records, err := u.records.UnsyncedSleep(ctx, u.cfg.SleepFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch unsynced sleep: %w", err)
	}

	groups := make(map[domain.Source][]domain.SleepRecord)
	var order []domain.Source
	for _, r := range records {
		if _, ok := groups[r.Source]; !ok {
			order = append(order, r.Source)
		}
		groups[r.Source] = append(groups[r.Source], r)
	}

	synced := 0
	for _, source := range order {
		rows := groups[source]
		for start := 0; start < len(rows); start += u.cfg.BatchSize {
			chunk := rows[start:min(start+u.cfg.BatchSize, len(rows))]

			payload := syncPayload{Source: source, Sleep: make([]sleepPayload, 0, len(chunk))}
			ids := make([]int64, 0, len(chunk))
			for _, r := range chunk {
				payload.Sleep = append(payload.Sleep, toSleepPayload(r))
				ids = append(ids, r.ID)
			}

			if err := u.send(ctx, payload); err != nil {
				return synced, u.classify(err, "sleep")
			}

			if err := u.records.MarkSleepSynced(ctx, ids, u.now().UTC()); err != nil {
				return synced, fmt.Errorf("mark sleep synced: %w", err)
			}

			synced += len(chunk)
			observability.RecordsUploaded.WithLabelValues("sleep").Add(float64(len(chunk)))
		}
	}

	return synced, nil
}

// send attempts one batch with bounded retries, honoring Retry-After when
// the backend asks for a longer pause than the computed backoff.
func (u *Uploader) send(ctx context.Context, payload syncPayload) error {
	var err error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		err = u.client.post(ctx, payload)
		if err == nil {
			return nil
		}

		var reqErr *requestError
		if errors.As(err, &reqErr) && !reqErr.retryable() {
			return err
		}

		if attempt == u.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(u.cfg.InitialBackoff, u.cfg.MaxBackoff, attempt)
		if reqErr != nil && reqErr.retryAfter > delay {
			delay = reqErr.retryAfter
		}

		u.logger.Warn("upload request failed, retrying",
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("after %d attempts: %w", u.cfg.MaxAttempts, err)
}

// classify decides whether a failed chunk ends just this kind or the whole
// pass. Terminal rejections and context cancellation propagate; a spent
// retry budget is logged and swallowed.
func (u *Uploader) classify(err error, kind string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) && !reqErr.retryable() {
		return fmt.Errorf("backend rejected %s batch: %w: %w", kind, ErrTerminal, err)
	}

	u.logger.Warn("upload attempts exhausted, records stay queued",
		"kind", kind,
		"error", err,
	)
	return nil
}
