package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// UpsertMetrics writes normalized metric samples. Replaying a natural key
// refreshes value, unit and metadata but keeps the stored row's flags and
// ingested_at, so re-reading an overlap window never un-syncs anything.
func (s *RecordStore) UpsertMetrics(ctx context.Context, metrics []domain.HealthMetric, now time.Time) (int, error) {
	query := `
		INSERT INTO health_metrics (
			source, metric_type, value, unit, start_time, end_time, metadata, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, metric_type, start_time, end_time) DO UPDATE SET
			value = excluded.value,
			unit = excluded.unit,
			metadata = excluded.metadata`

	ex := GetExecutor(ctx, s.db)

	stored := 0
	for _, m := range metrics {
		if _, err := ex.ExecContext(ctx, query,
			m.Source,
			m.Type,
			m.Value,
			m.Unit,
			m.StartTime,
			m.EndTime,
			m.Metadata,
			now,
		); err != nil {
			return stored, err
		}
		stored++
	}

	return stored, nil
}

// UnsyncedMetrics returns rows not yet confirmed by the backend, oldest
// ingested first.
func (s *RecordStore) UnsyncedMetrics(ctx context.Context, limit int) ([]domain.HealthMetric, error) {
	query := `
		SELECT * FROM health_metrics
		WHERE synced_to_backend = 0
		ORDER BY id
		LIMIT ?`

	var metrics []domain.HealthMetric
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &metrics, query, limit); err != nil {
		return nil, err
	}
	return metrics, nil
}

// UnprocessedMetrics returns rows the downstream consumer has not
// acknowledged yet, oldest ingested first.
func (s *RecordStore) UnprocessedMetrics(ctx context.Context, limit int) ([]domain.HealthMetric, error) {
	query := `
		SELECT * FROM health_metrics
		WHERE processed = 0
		ORDER BY id
		LIMIT ?`

	var metrics []domain.HealthMetric
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &metrics, query, limit); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (s *RecordStore) MarkMetricsSynced(ctx context.Context, ids []int64, at time.Time) error {
	return markSynced(ctx, s.db, "health_metrics", ids, at)
}

func (s *RecordStore) MarkMetricsProcessed(ctx context.Context, ids []int64, at time.Time) error {
	return markProcessed(ctx, s.db, "health_metrics", ids, at)
}
