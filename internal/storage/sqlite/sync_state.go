package sqlite

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

func (s *SyncStateStore) Get(ctx context.Context, source domain.Source) (*domain.SyncState, error) {
	var state domain.SyncState
	query := `
		SELECT id, source, last_synced_at, total_synced
		FROM sync_state
		WHERE source = ?`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, source)
	if err == sql.ErrNoRows {
		// Return empty state for sources never synced before
		return &domain.SyncState{Source: source}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SyncStateStore) Update(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (source, last_synced_at, total_synced)
		VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			total_synced = excluded.total_synced`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		state.Source,
		state.LastSyncedAt,
		state.TotalSynced,
	)
	return err
}
