package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const installIDKey = "install_id"

// AppConfigStore is a small KV table for values that belong to this
// installation rather than to configuration files.
type AppConfigStore struct {
	db *sqlx.DB
}

func NewAppConfigStore(db *sqlx.DB) *AppConfigStore {
	return &AppConfigStore{db: db}
}

// Value returns the stored value for key, or "" when unset.
func (s *AppConfigStore) Value(ctx context.Context, key string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &value,
		`SELECT value FROM app_config WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *AppConfigStore) SetValue(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}

// InstallID returns the stable identity of this installation, generating
// and persisting one on first call.
func (s *AppConfigStore) InstallID(ctx context.Context) (string, error) {
	id, err := s.Value(ctx, installIDKey)
	if err != nil || id != "" {
		return id, err
	}

	id = uuid.NewString()
	if err := s.SetValue(ctx, installIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}
