// Package webhook delivers state-change events to interested receivers.
// Every event is written to the durable queue before the first delivery
// attempt; a periodic sweep retries failures until the retry budget is
// spent, so a crash between emit and delivery loses nothing.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"healthsync/internal/auth"
	"healthsync/internal/domain"
	"healthsync/internal/observability"
)

const backendEventPath = "/health-webhook"

// EventStore is the durable queue backing the dispatcher.
type EventStore interface {
	Enqueue(ctx context.Context, eventType string, payload []byte, at time.Time) (int64, error)
	Undelivered(ctx context.Context, limit, maxRetries int) ([]domain.WebhookEvent, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	RecordFailure(ctx context.Context, id int64, errMsg string) error
}

// Config holds delivery targets and retry policy. Either target may be
// empty; an event counts as delivered once every configured target
// accepted it.
type Config struct {
	ExternalURL string
	BackendURL  string
	MaxRetries  int
	Timeout     time.Duration
}

// Dispatcher enqueues and delivers webhook events.
type Dispatcher struct {
	httpClient *http.Client
	events     EventStore
	tokens     auth.TokenProvider
	device     domain.DeviceInfo
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func New(events EventStore, tokens auth.TokenProvider, device domain.DeviceInfo, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		events: events,
		tokens: tokens,
		device: device,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type envelope struct {
	Event      string            `json:"event"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	DeviceInfo domain.DeviceInfo `json:"device_info"`
	Data       json.RawMessage   `json:"data,omitempty"`
}

// Emit queues an event and tries to deliver it immediately. The returned
// error covers queueing only; a failed delivery stays queued for the sweep.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	body, err := json.Marshal(envelope{
		Event:      eventType,
		Timestamp:  d.now().UTC(),
		Source:     "mobile",
		DeviceInfo: d.device,
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	id, err := d.events.Enqueue(ctx, eventType, body, d.now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	d.attempt(ctx, id, eventType, body)
	return nil
}

// ProcessUndelivered re-attempts queued events within the retry budget and
// returns how many got delivered.
func (d *Dispatcher) ProcessUndelivered(ctx context.Context, limit int) (int, error) {
	events, err := d.events.Undelivered(ctx, limit, d.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("fetch undelivered events: %w", err)
	}

	delivered := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if d.attempt(ctx, ev.ID, ev.EventType, ev.Payload) {
			delivered++
		}
	}

	return delivered, nil
}

func (d *Dispatcher) attempt(ctx context.Context, id int64, eventType string, body []byte) bool {
	if err := d.deliver(ctx, eventType, body); err != nil {
		observability.WebhookDeliveries.WithLabelValues("failed").Inc()
		d.logger.Warn("webhook delivery failed",
			"event_id", id,
			"event", eventType,
			"error", err,
		)
		if dbErr := d.events.RecordFailure(ctx, id, err.Error()); dbErr != nil {
			d.logger.Error("record delivery failure", "event_id", id, "error", dbErr)
		}
		return false
	}

	observability.WebhookDeliveries.WithLabelValues("delivered").Inc()
	if err := d.events.MarkDelivered(ctx, id, d.now().UTC()); err != nil {
		// Delivery happened; the event will be re-sent next sweep.
		d.logger.Error("mark event delivered", "event_id", id, "error", err)
	}
	return true
}

// deliver posts to every configured target. Failures are independent: one
// target rejecting does not stop the attempt on the other.
func (d *Dispatcher) deliver(ctx context.Context, eventType string, body []byte) error {
	var errs []error

	if d.cfg.ExternalURL != "" {
		if err := d.post(ctx, d.cfg.ExternalURL, eventType, body, false); err != nil {
			errs = append(errs, fmt.Errorf("external: %w", err))
		}
	}

	if d.cfg.BackendURL != "" {
		if err := d.post(ctx, d.cfg.BackendURL+backendEventPath, eventType, body, true); err != nil {
			errs = append(errs, fmt.Errorf("backend: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) post(ctx context.Context, url, eventType string, body []byte, withAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if withAuth {
		if token, err := d.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
