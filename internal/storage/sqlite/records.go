package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// RecordStore persists the three record tables. They share the same
// lifecycle (upsert, process, sync to backend, purge), so one store serves
// all of them.
type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// PendingCounts returns per-kind counts of rows not yet confirmed by the
// backend.
func (s *RecordStore) PendingCounts(ctx context.Context) (domain.PendingCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM health_metrics WHERE synced_to_backend = 0) AS metrics,
			(SELECT COUNT(*) FROM health_workouts WHERE synced_to_backend = 0) AS workouts,
			(SELECT COUNT(*) FROM sleep_records WHERE synced_to_backend = 0) AS sleep`

	var counts domain.PendingCounts
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &counts, query); err != nil {
		return domain.PendingCounts{}, err
	}
	return counts, nil
}

// PurgeOlderThan deletes records whose interval started before cutoff. The
// platform store remains the source of truth for history, so trimmed rows
// can always be re-ingested.
func (s *RecordStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ex := GetExecutor(ctx, s.db)

	var total int64
	for _, table := range []string{"health_metrics", "health_workouts", "sleep_records"} {
		res, err := ex.ExecContext(ctx, `DELETE FROM `+table+` WHERE start_time < ?`, cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func markSynced(ctx context.Context, db *sqlx.DB, table string, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`UPDATE `+table+` SET synced_to_backend = 1, backend_sync_time = ? WHERE id IN (?)`,
		at, ids,
	)
	if err != nil {
		return err
	}

	ex := GetExecutor(ctx, db)
	_, err = ex.ExecContext(ctx, ex.Rebind(query), args...)
	return err
}

func markProcessed(ctx context.Context, db *sqlx.DB, table string, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`UPDATE `+table+` SET processed = 1, processed_at = ? WHERE id IN (?)`,
		at, ids,
	)
	if err != nil {
		return err
	}

	ex := GetExecutor(ctx, db)
	_, err = ex.ExecContext(ctx, ex.Rebind(query), args...)
	return err
}
