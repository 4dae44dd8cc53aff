package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// EventStore is the durable webhook outbox. Events are enqueued before any
// delivery attempt, so a crash between emit and delivery loses nothing.
type EventStore struct {
	db *sqlx.DB
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// Enqueue persists a new undelivered event and returns its id.
func (s *EventStore) Enqueue(ctx context.Context, eventType string, payload []byte, at time.Time) (int64, error) {
	query := `
		INSERT INTO webhook_events (event_type, payload, created_at)
		VALUES (?, ?, ?)`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, eventType, payload, at)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Undelivered returns queued events still within the retry budget, oldest
// first.
func (s *EventStore) Undelivered(ctx context.Context, limit, maxRetries int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT * FROM webhook_events
		WHERE sent = 0 AND retry_count < ?
		ORDER BY id
		LIMIT ?`

	var events []domain.WebhookEvent
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &events, query, maxRetries, limit); err != nil {
		return nil, err
	}
	return events, nil
}

// UndeliveredCount counts events still waiting on delivery, including those
// past the retry budget.
func (s *EventStore) UndeliveredCount(ctx context.Context) (int64, error) {
	var count int64
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count,
		`SELECT COUNT(*) FROM webhook_events WHERE sent = 0`)
	return count, err
}

func (s *EventStore) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE webhook_events
		SET sent = 1, sent_at = ?
		WHERE id = ?`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, at, id)
	return err
}

// RecordFailure notes a failed delivery attempt against the event.
func (s *EventStore) RecordFailure(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE webhook_events
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, errMsg, id)
	return err
}

// Purge removes delivered events older than cutoff and events that
// exhausted their retry budget.
func (s *EventStore) Purge(ctx context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	query := `
		DELETE FROM webhook_events
		WHERE (sent = 1 AND created_at < ?) OR retry_count >= ?`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, cutoff, maxRetries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
