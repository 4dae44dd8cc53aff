package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"healthsync/internal/auth"
	"healthsync/internal/domain"
)

const syncPath = "/mobile/sync"

// Client posts record batches to the backend sync endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     auth.TokenProvider
}

func NewClient(baseURL string, timeout time.Duration, tokens auth.TokenProvider) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		tokens:  tokens,
	}
}

func (c *Client) post(ctx context.Context, payload syncPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token, err := c.tokens.Token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &requestError{
		status:     resp.StatusCode,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// requestError is a non-2xx backend response. 429 and 5xx are worth
// retrying; other 4xx mean the batch itself is rejected.
type requestError struct {
	status     int
	retryAfter time.Duration
}

func (e *requestError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.status)
}

func (e *requestError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
// Returns 0 when the header is absent or unparseable.
func parseRetryAfter(h string, now time.Time) time.Duration {
	if h == "" {
		return 0
	}

	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// Wire shapes for the sync endpoint. One request carries records of a
// single kind from a single source.

type syncPayload struct {
	Source   domain.Source    `json:"source"`
	Metrics  []metricPayload  `json:"metrics,omitempty"`
	Workouts []workoutPayload `json:"workouts,omitempty"`
	Sleep    []sleepPayload   `json:"sleep,omitempty"`
}

type metricPayload struct {
	Type      domain.MetricType `json:"type"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Metadata  domain.Metadata   `json:"metadata,omitempty"`
}

type workoutPayload struct {
	WorkoutType     string          `json:"workout_type"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	DurationSeconds int             `json:"duration_seconds"`
	Calories        *float64        `json:"calories,omitempty"`
	Distance        *float64        `json:"distance,omitempty"`
	HeartRateAvg    *float64        `json:"heart_rate_avg,omitempty"`
	HeartRateMax    *float64        `json:"heart_rate_max,omitempty"`
	HeartRateMin    *float64        `json:"heart_rate_min,omitempty"`
	Metadata        domain.Metadata `json:"metadata,omitempty"`
}

type sleepPayload struct {
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	DurationSeconds   int             `json:"duration_seconds"`
	DeepSleepSeconds  *int            `json:"deep_sleep_seconds,omitempty"`
	RemSleepSeconds   *int            `json:"rem_sleep_seconds,omitempty"`
	LightSleepSeconds *int            `json:"light_sleep_seconds,omitempty"`
	AwakeSeconds      *int            `json:"awake_seconds,omitempty"`
	Metadata          domain.Metadata `json:"metadata,omitempty"`
}

func toMetricPayload(m domain.HealthMetric) metricPayload {
	return metricPayload{
		Type:      m.Type,
		Value:     m.Value,
		Unit:      m.Unit,
		StartTime: m.StartTime,
		EndTime:   m.EndTime,
		Metadata:  m.Metadata,
	}
}

func toWorkoutPayload(w domain.HealthWorkout) workoutPayload {
	return workoutPayload{
		WorkoutType:     w.WorkoutType,
		StartTime:       w.StartTime,
		EndTime:         w.EndTime,
		DurationSeconds: w.DurationSeconds,
		Calories:        w.Calories,
		Distance:        w.Distance,
		HeartRateAvg:    w.HeartRateAvg,
		HeartRateMax:    w.HeartRateMax,
		HeartRateMin:    w.HeartRateMin,
		Metadata:        w.Metadata,
	}
}

func toSleepPayload(r domain.SleepRecord) sleepPayload {
	return sleepPayload{
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		DurationSeconds:   r.DurationSeconds,
		DeepSleepSeconds:  r.DeepSleepSeconds,
		RemSleepSeconds:   r.RemSleepSeconds,
		LightSleepSeconds: r.LightSleepSeconds,
		AwakeSeconds:      r.AwakeSeconds,
		Metadata:          r.Metadata,
	}
}
