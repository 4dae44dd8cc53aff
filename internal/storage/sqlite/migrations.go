package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "records and sync bookkeeping",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS health_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				metric_type TEXT NOT NULL,
				value REAL NOT NULL,
				unit TEXT NOT NULL,
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP NOT NULL,
				metadata TEXT,
				ingested_at TIMESTAMP NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0,
				processed_at TIMESTAMP,
				synced_to_backend INTEGER NOT NULL DEFAULT 0,
				backend_sync_time TIMESTAMP,
				UNIQUE (source, metric_type, start_time, end_time)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_health_metrics_unsynced
				ON health_metrics (synced_to_backend)`,
			`CREATE INDEX IF NOT EXISTS idx_health_metrics_unprocessed
				ON health_metrics (processed)`,
			`CREATE TABLE IF NOT EXISTS health_workouts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				workout_type TEXT NOT NULL,
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP NOT NULL,
				duration_seconds INTEGER NOT NULL,
				calories REAL,
				distance REAL,
				heart_rate_avg REAL,
				heart_rate_max REAL,
				heart_rate_min REAL,
				metadata TEXT,
				ingested_at TIMESTAMP NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0,
				processed_at TIMESTAMP,
				synced_to_backend INTEGER NOT NULL DEFAULT 0,
				backend_sync_time TIMESTAMP,
				UNIQUE (source, start_time, end_time)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_health_workouts_unsynced
				ON health_workouts (synced_to_backend)`,
			`CREATE TABLE IF NOT EXISTS sleep_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP NOT NULL,
				duration_seconds INTEGER NOT NULL,
				deep_sleep_seconds INTEGER,
				rem_sleep_seconds INTEGER,
				light_sleep_seconds INTEGER,
				awake_seconds INTEGER,
				metadata TEXT,
				ingested_at TIMESTAMP NOT NULL,
				processed INTEGER NOT NULL DEFAULT 0,
				processed_at TIMESTAMP,
				synced_to_backend INTEGER NOT NULL DEFAULT 0,
				backend_sync_time TIMESTAMP,
				UNIQUE (source, start_time)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sleep_records_unsynced
				ON sleep_records (synced_to_backend)`,
			`CREATE TABLE IF NOT EXISTS sync_state (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL UNIQUE,
				last_synced_at TIMESTAMP NOT NULL,
				total_synced INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS sync_runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sync_type TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TIMESTAMP NOT NULL,
				ended_at TIMESTAMP,
				records_processed INTEGER NOT NULL DEFAULT 0,
				records_failed INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT ''
			)`,
		},
	},
	{
		version: 2,
		name:    "webhook event queue",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS webhook_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				sent INTEGER NOT NULL DEFAULT 0,
				sent_at TIMESTAMP,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending
				ON webhook_events (sent, retry_count)`,
		},
	},
	{
		version: 3,
		name:    "app config",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS app_config (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
		},
	},
}

// Migrate applies pending migrations in order. Each migration runs in its
// own transaction together with its schema_migrations row, so a failed
// migration leaves the version table consistent.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	var versions []int
	if err := db.Select(&versions, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.Beginx()
		if err != nil {
			return err
		}

		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}

		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			m.version, m.name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
