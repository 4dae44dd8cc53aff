// Package healthconnect reads health data through a local Health Connect
// bridge process. The bridge owns the platform SDK session and exposes the
// record store over loopback HTTP; this package is a thin client for it.
package healthconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

// Config holds bridge client configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Store implements provider.HealthStore against the Health Connect bridge.
type Store struct {
	httpClient     *http.Client
	baseURL        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a bridge-backed store.
func New(cfg Config, logger *slog.Logger) *Store {
	return &Store{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", domain.SourceHealthConnect),
	}
}

// Source returns the source identifier.
func (s *Store) Source() domain.Source {
	return domain.SourceHealthConnect
}

// CheckAvailability asks the bridge whether the record store is usable.
func (s *Store) CheckAvailability(ctx context.Context) error {
	var status statusResponse
	if err := s.getJSON(ctx, "/v1/status", nil, &status); err != nil {
		if errors.Is(err, provider.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	if !status.Available {
		reason := status.Reason
		if reason == "" {
			reason = "bridge reports store unavailable"
		}
		return fmt.Errorf("%w: %s", provider.ErrUnavailable, reason)
	}

	return nil
}

// ReadSamples fetches quantity records of a single metric type within the window.
func (s *Store) ReadSamples(ctx context.Context, t domain.MetricType, w domain.Window) ([]provider.Sample, error) {
	query := url.Values{}
	query.Set("type", string(t))
	query.Set("start", w.Start.Format(time.RFC3339))
	query.Set("end", w.End.Format(time.RFC3339))

	var resp recordsResponse
	if err := s.getJSON(ctx, "/v1/records", query, &resp); err != nil {
		return nil, err
	}

	samples := make([]provider.Sample, 0, len(resp.Records))
	for _, r := range resp.Records {
		if !w.Contains(r.StartTime) {
			continue
		}

		samples = append(samples, provider.Sample{
			Type:     t,
			Value:    r.Value,
			Unit:     r.Unit,
			Start:    r.StartTime,
			End:      r.EndTime,
			Metadata: withOrigin(r.DataOrigin, r.Metadata),
		})
	}

	s.logger.Debug("fetched records",
		"type", t,
		"returned", len(resp.Records),
		"kept", len(samples),
	)

	return samples, nil
}

// ReadWorkouts fetches exercise sessions within the window.
func (s *Store) ReadWorkouts(ctx context.Context, w domain.Window) ([]provider.Workout, error) {
	query := windowQuery(w)

	var resp workoutsResponse
	if err := s.getJSON(ctx, "/v1/workouts", query, &resp); err != nil {
		return nil, err
	}

	workouts := make([]provider.Workout, 0, len(resp.Workouts))
	for _, raw := range resp.Workouts {
		if !w.Contains(raw.StartTime) {
			continue
		}

		workouts = append(workouts, provider.Workout{
			Type:         exerciseType(raw.ExerciseType),
			Start:        raw.StartTime,
			End:          raw.EndTime,
			Calories:     raw.EnergyKcal,
			Distance:     raw.DistanceMeters,
			HeartRateAvg: raw.AvgHeartRate,
			HeartRateMax: raw.MaxHeartRate,
			HeartRateMin: raw.MinHeartRate,
			Metadata:     withOrigin(raw.DataOrigin, raw.Metadata),
		})
	}

	return workouts, nil
}

// ReadSleepStages fetches sleep sessions within the window, flattened to stages.
func (s *Store) ReadSleepStages(ctx context.Context, w domain.Window) ([]provider.SleepStage, error) {
	query := windowQuery(w)

	var resp sleepResponse
	if err := s.getJSON(ctx, "/v1/sleep", query, &resp); err != nil {
		return nil, err
	}

	var stages []provider.SleepStage
	for _, sess := range resp.Sessions {
		if !w.Contains(sess.StartTime) {
			continue
		}

		meta := withOrigin(sess.DataOrigin, nil)

		// Sessions without stage detail only record that the user slept.
		if len(sess.Stages) == 0 {
			stages = append(stages, provider.SleepStage{
				Stage:    provider.StageLight,
				Start:    sess.StartTime,
				End:      sess.EndTime,
				Metadata: meta,
			})
			continue
		}

		for _, st := range sess.Stages {
			label, ok := stageLabels[st.Stage]
			if !ok {
				s.logger.Warn("unknown sleep stage", "stage", st.Stage)
				continue
			}

			stages = append(stages, provider.SleepStage{
				Stage:    label,
				Start:    st.StartTime,
				End:      st.EndTime,
				Metadata: meta,
			})
		}
	}

	return stages, nil
}

// Observe is not supported on this platform; change detection relies on
// periodic background sync instead.
func (s *Store) Observe([]domain.MetricType, func(domain.MetricType)) (func(), error) {
	return nil, provider.ErrObserveUnsupported
}

func (s *Store) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.doRequest(ctx, u, v)
		if err == nil {
			return nil
		}

		var httpErr *statusError
		switch {
		case errors.Is(err, provider.ErrUnavailable):
			return err
		case errors.As(err, &httpErr) && !httpErr.retryable():
			return err
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("bridge request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: after %d attempts: %v", provider.ErrUnavailable, s.maxAttempts, err)
}

func (s *Store) doRequest(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The bridge reports revoked read permissions this way.
		return fmt.Errorf("%w: permission denied (status %d)", provider.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return &statusError{code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code >= 500
}

func windowQuery(w domain.Window) url.Values {
	query := url.Values{}
	query.Set("start", w.Start.Format(time.RFC3339))
	query.Set("end", w.End.Format(time.RFC3339))
	return query
}

func exerciseType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return "other"
	}
	return t
}

func withOrigin(origin string, md map[string]string) map[string]string {
	if origin == "" {
		return md
	}

	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out["dataOrigin"] = origin
	return out
}
