package domain

import (
	"encoding/json"
	"time"
)

// Webhook event types emitted by the sync pipeline.
const (
	EventDataUpdated   = "health.data.updated"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// WebhookEvent is a queued outbound notification. Events are delivered
// best-effort and retried until RetryCount reaches the configured cap, after
// which they are abandoned and eventually purged.
type WebhookEvent struct {
	ID         int64           `db:"id"`
	EventType  string          `db:"event_type"`
	Payload    json.RawMessage `db:"payload"`
	CreatedAt  time.Time       `db:"created_at"`
	Sent       bool            `db:"sent"`
	SentAt     *time.Time      `db:"sent_at"`
	RetryCount int             `db:"retry_count"`
	LastError  string          `db:"last_error"`
}

// DeviceInfo identifies the installation in webhook envelopes.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
	Agent    string `json:"agent"`
}
