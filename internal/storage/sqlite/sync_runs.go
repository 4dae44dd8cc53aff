package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// SyncLogStore keeps the sync_runs audit trail. Every orchestration pass
// opens a row up front so an interrupted run stays visible as "running".
type SyncLogStore struct {
	db *sqlx.DB
}

func NewSyncLogStore(db *sqlx.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

// Start records the beginning of a run and returns its id.
func (s *SyncLogStore) Start(ctx context.Context, syncType domain.SyncType, at time.Time) (int64, error) {
	query := `
		INSERT INTO sync_runs (sync_type, status, started_at)
		VALUES (?, ?, ?)`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, syncType, domain.SyncStatusRunning, at)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Complete closes a run with its outcome.
func (s *SyncLogStore) Complete(ctx context.Context, id int64, status domain.SyncStatus, processed, failed int, errMsg string, at time.Time) error {
	query := `
		UPDATE sync_runs
		SET status = ?, records_processed = ?, records_failed = ?, error_message = ?, ended_at = ?
		WHERE id = ?`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, status, processed, failed, errMsg, at, id)
	return err
}

// Last returns the most recent run, or nil when none have been recorded.
func (s *SyncLogStore) Last(ctx context.Context) (*domain.SyncRun, error) {
	var run domain.SyncRun
	query := `
		SELECT * FROM sync_runs
		ORDER BY id DESC
		LIMIT 1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &run, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
