// Package adapter turns raw provider reads into canonical domain records.
// It owns unit conversion and value sanity checks so that everything past
// this point deals in one unit system, regardless of source platform.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

// Collector reads one platform store and produces normalized record batches.
type Collector struct {
	store  provider.HealthStore
	logger *slog.Logger
}

// New creates a collector over the given platform store.
func New(store provider.HealthStore, logger *slog.Logger) *Collector {
	return &Collector{
		store:  store,
		logger: logger.With("source", store.Source()),
	}
}

// Source returns the identifier of the underlying platform store.
func (c *Collector) Source() domain.Source {
	return c.store.Source()
}

// Collect reads all requested metric types plus workouts and sleep within the
// window. A failing read is isolated to its scope and recorded as a
// CollectFailure; the pass continues with the remaining scopes. The returned
// error is non-nil only when the platform store itself is unusable or the
// context was cancelled.
func (c *Collector) Collect(ctx context.Context, w domain.Window, types []domain.MetricType) (domain.RecordBatch, []domain.CollectFailure, error) {
	if err := c.store.CheckAvailability(ctx); err != nil {
		return domain.RecordBatch{}, nil, fmt.Errorf("availability check: %w", err)
	}

	if len(types) == 0 {
		types = domain.AllMetricTypes
	}

	var (
		batch    domain.RecordBatch
		failures []domain.CollectFailure
	)

	source := c.store.Source()

	for _, t := range types {
		samples, err := c.store.ReadSamples(ctx, t, w)
		if err != nil {
			if ctx.Err() != nil {
				return batch, failures, ctx.Err()
			}
			c.logger.Warn("metric read failed", "type", t, "error", err)
			failures = append(failures, domain.CollectFailure{Scope: string(t), Err: err})
			continue
		}

		for _, s := range samples {
			if m, ok := c.normalizeSample(source, s); ok {
				batch.Metrics = append(batch.Metrics, m)
			}
		}
	}

	workouts, err := c.store.ReadWorkouts(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return batch, failures, ctx.Err()
		}
		c.logger.Warn("workout read failed", "error", err)
		failures = append(failures, domain.CollectFailure{Scope: "workouts", Err: err})
	} else {
		for _, raw := range workouts {
			if w, ok := c.normalizeWorkout(source, raw); ok {
				batch.Workouts = append(batch.Workouts, w)
			}
		}
	}

	stages, err := c.store.ReadSleepStages(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return batch, failures, ctx.Err()
		}
		c.logger.Warn("sleep read failed", "error", err)
		failures = append(failures, domain.CollectFailure{Scope: "sleep", Err: err})
	} else {
		for _, raw := range stages {
			if r, ok := c.normalizeSleep(source, raw); ok {
				batch.Sleep = append(batch.Sleep, r)
			}
		}
	}

	return batch, failures, nil
}

func (c *Collector) normalizeSample(source domain.Source, s provider.Sample) (domain.HealthMetric, bool) {
	if s.Start.IsZero() || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		c.logger.Debug("dropping sample", "type", s.Type, "reason", "invalid value or time")
		return domain.HealthMetric{}, false
	}

	end := s.End
	if end.IsZero() {
		end = s.Start
	}
	if end.Before(s.Start) {
		c.logger.Debug("dropping sample", "type", s.Type, "reason", "end before start")
		return domain.HealthMetric{}, false
	}

	value, ok := convert(s.Type, s.Value, s.Unit)
	if !ok {
		c.logger.Warn("dropping sample with unknown unit", "type", s.Type, "unit", s.Unit)
		return domain.HealthMetric{}, false
	}

	// Oxygen saturation arrives as a 0..1 fraction from some recorders even
	// when labeled percent.
	if s.Type == domain.MetricOxygenSaturation && value <= 1.0 {
		value *= 100
	}

	if value < 0 {
		c.logger.Debug("dropping sample", "type", s.Type, "reason", "negative value")
		return domain.HealthMetric{}, false
	}

	return domain.HealthMetric{
		Source:    source,
		Type:      s.Type,
		Value:     value,
		Unit:      domain.CanonicalUnit[s.Type],
		StartTime: s.Start.UTC(),
		EndTime:   end.UTC(),
		Metadata:  domain.Metadata(s.Metadata),
	}, true
}

func (c *Collector) normalizeWorkout(source domain.Source, raw provider.Workout) (domain.HealthWorkout, bool) {
	if raw.Start.IsZero() || raw.End.Before(raw.Start) {
		c.logger.Debug("dropping workout", "reason", "invalid interval")
		return domain.HealthWorkout{}, false
	}

	workoutType := strings.TrimSpace(raw.Type)
	if workoutType == "" {
		workoutType = "other"
	}

	return domain.HealthWorkout{
		Source:          source,
		WorkoutType:     workoutType,
		StartTime:       raw.Start.UTC(),
		EndTime:         raw.End.UTC(),
		DurationSeconds: int(raw.End.Sub(raw.Start).Seconds()),
		Calories:        sanitized(raw.Calories),
		Distance:        sanitized(raw.Distance),
		HeartRateAvg:    sanitized(raw.HeartRateAvg),
		HeartRateMax:    sanitized(raw.HeartRateMax),
		HeartRateMin:    sanitized(raw.HeartRateMin),
		Metadata:        domain.Metadata(raw.Metadata),
	}, true
}

func (c *Collector) normalizeSleep(source domain.Source, raw provider.SleepStage) (domain.SleepRecord, bool) {
	// In-bed intervals describe presence, not sleep. They are not stored.
	if raw.Stage == provider.StageInBed {
		return domain.SleepRecord{}, false
	}

	if raw.Start.IsZero() || raw.End.Before(raw.Start) {
		c.logger.Debug("dropping sleep stage", "reason", "invalid interval")
		return domain.SleepRecord{}, false
	}

	duration := int(raw.End.Sub(raw.Start).Seconds())

	rec := domain.SleepRecord{
		Source:          source,
		StartTime:       raw.Start.UTC(),
		EndTime:         raw.End.UTC(),
		DurationSeconds: duration,
		Metadata:        domain.Metadata(raw.Metadata),
	}

	switch raw.Stage {
	case provider.StageDeep:
		rec.DeepSleepSeconds = &duration
	case provider.StageRem:
		rec.RemSleepSeconds = &duration
	case provider.StageLight:
		rec.LightSleepSeconds = &duration
	case provider.StageAwake:
		rec.AwakeSeconds = &duration
	default:
		c.logger.Debug("dropping sleep stage", "reason", "unknown stage", "stage", raw.Stage)
		return domain.SleepRecord{}, false
	}

	return rec, true
}

// sanitized drops aggregate values that cannot be real measurements.
func sanitized(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return nil
	}
	return v
}

// convert rescales value from the provider's unit to the canonical unit for
// the metric type. Returns false for units it does not understand.
func convert(t domain.MetricType, value float64, unit string) (float64, bool) {
	canonical := domain.CanonicalUnit[t]
	u := strings.TrimSpace(unit)

	// Providers that already normalized, or that omit the unit entirely,
	// are taken at face value.
	if u == "" || strings.EqualFold(u, canonical) {
		return value, true
	}

	switch t {
	case domain.MetricSteps, domain.MetricFlightsClimbed:
		if strings.EqualFold(u, "count") {
			return value, true
		}

	case domain.MetricHeartRate, domain.MetricRestingHeartRate:
		switch strings.ToLower(u) {
		case "count/min", "beats/min", "/min":
			return value, true
		}

	case domain.MetricHRV:
		switch strings.ToLower(u) {
		case "s", "sec":
			return value * 1000, true
		}

	case domain.MetricActiveCalories, domain.MetricBasalCalories:
		switch strings.ToLower(u) {
		case "cal": // HealthKit large calorie
			return value, true
		case "kj":
			return value / 4.184, true
		case "j":
			return value / 4184, true
		}

	case domain.MetricDistance:
		switch strings.ToLower(u) {
		case "km":
			return value * 1000, true
		case "mi":
			return value * 1609.344, true
		case "cm":
			return value / 100, true
		case "ft":
			return value * 0.3048, true
		}

	case domain.MetricOxygenSaturation:
		switch strings.ToLower(u) {
		case "fraction", "ratio":
			return value * 100, true
		}

	case domain.MetricRespiratoryRate:
		switch strings.ToLower(u) {
		case "count/min", "/min":
			return value, true
		}

	case domain.MetricBodyTemperature:
		switch strings.ToLower(u) {
		case "degf", "°f":
			return (value - 32) * 5 / 9, true
		case "k":
			return value - 273.15, true
		}
	}

	return 0, false
}
