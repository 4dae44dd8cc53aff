package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// UpsertSleep writes sleep stage records. Conflict handling matches the
// other record tables.
func (s *RecordStore) UpsertSleep(ctx context.Context, records []domain.SleepRecord, now time.Time) (int, error) {
	query := `
		INSERT INTO sleep_records (
			source, start_time, end_time, duration_seconds,
			deep_sleep_seconds, rem_sleep_seconds, light_sleep_seconds, awake_seconds,
			metadata, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, start_time) DO UPDATE SET
			end_time = excluded.end_time,
			duration_seconds = excluded.duration_seconds,
			deep_sleep_seconds = excluded.deep_sleep_seconds,
			rem_sleep_seconds = excluded.rem_sleep_seconds,
			light_sleep_seconds = excluded.light_sleep_seconds,
			awake_seconds = excluded.awake_seconds,
			metadata = excluded.metadata`

	ex := GetExecutor(ctx, s.db)

	stored := 0
	for _, r := range records {
		if _, err := ex.ExecContext(ctx, query,
			r.Source,
			r.StartTime,
			r.EndTime,
			r.DurationSeconds,
			r.DeepSleepSeconds,
			r.RemSleepSeconds,
			r.LightSleepSeconds,
			r.AwakeSeconds,
			r.Metadata,
			now,
		); err != nil {
			return stored, err
		}
		stored++
	}

	return stored, nil
}

func (s *RecordStore) UnsyncedSleep(ctx context.Context, limit int) ([]domain.SleepRecord, error) {
	query := `
		SELECT * FROM sleep_records
		WHERE synced_to_backend = 0
		ORDER BY id
		LIMIT ?`

	var records []domain.SleepRecord
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &records, query, limit); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *RecordStore) UnprocessedSleep(ctx context.Context, limit int) ([]domain.SleepRecord, error) {
	query := `
		SELECT * FROM sleep_records
		WHERE processed = 0
		ORDER BY id
		LIMIT ?`

	var records []domain.SleepRecord
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &records, query, limit); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *RecordStore) MarkSleepSynced(ctx context.Context, ids []int64, at time.Time) error {
	return markSynced(ctx, s.db, "sleep_records", ids, at)
}

func (s *RecordStore) MarkSleepProcessed(ctx context.Context, ids []int64, at time.Time) error {
	return markProcessed(ctx, s.db, "sleep_records", ids, at)
}
