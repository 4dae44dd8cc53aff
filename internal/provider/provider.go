// Package provider abstracts platform health stores behind a single
// capability interface. Two implementations exist: healthkit reads export
// payloads from a spool directory and can observe it for changes,
// healthconnect talks to the local bridge over HTTP. Callers never branch on
// platform; they hold a HealthStore and feature-detect Observe support via
// ErrObserveUnsupported.
package provider

import (
	"context"
	"errors"
	"time"

	"healthsync/internal/domain"
)

var (
	// ErrUnavailable means the platform store cannot be reached at all
	// (bridge down, permission revoked, spool missing). A sync pass that
	// hits this fails as a whole.
	ErrUnavailable = errors.New("health store unavailable")

	// ErrObserveUnsupported is returned by stores without a change
	// notification facility.
	ErrObserveUnsupported = errors.New("health store does not support observation")
)

// Sample is one scalar reading as decoded from a platform store, before unit
// normalization. Type is already mapped to the canonical metric type; Value
// and Unit are still provider-flavored.
type Sample struct {
	Type     domain.MetricType
	Value    float64
	Unit     string
	Start    time.Time
	End      time.Time
	Metadata map[string]string
}

// Workout is a raw activity session. Aggregate fields are nil when the
// platform did not record them.
type Workout struct {
	Type         string
	Start        time.Time
	End          time.Time
	Calories     *float64
	Distance     *float64
	HeartRateAvg *float64
	HeartRateMax *float64
	HeartRateMin *float64
	Metadata     map[string]string
}

// StageLabel is the normalized sleep stage name.
type StageLabel string

const (
	StageDeep  StageLabel = "deep"
	StageRem   StageLabel = "rem"
	StageLight StageLabel = "light"
	StageAwake StageLabel = "awake"
	// StageInBed is the "in bed, not asleep" pseudo-stage. It is surfaced
	// so the adapter can discard it explicitly.
	StageInBed StageLabel = "in_bed"
)

// SleepStage is one raw sleep-stage interval.
type SleepStage struct {
	Stage    StageLabel
	Start    time.Time
	End      time.Time
	Metadata map[string]string
}

// HealthStore is the capability a platform health store exposes to the sync
// pipeline.
type HealthStore interface {
	// Source identifies records read from this store.
	Source() domain.Source

	// CheckAvailability reports whether the store can be read at all.
	CheckAvailability(ctx context.Context) error

	// ReadSamples returns raw samples of one metric type inside the window.
	ReadSamples(ctx context.Context, t domain.MetricType, w domain.Window) ([]Sample, error)

	// ReadWorkouts returns raw workouts overlapping the window.
	ReadWorkouts(ctx context.Context, w domain.Window) ([]Workout, error)

	// ReadSleepStages returns raw sleep-stage intervals inside the window.
	ReadSleepStages(ctx context.Context, w domain.Window) ([]SleepStage, error)

	// Observe registers a change callback for the given metric types and
	// returns a stop function. Implementations without a notification
	// facility return ErrObserveUnsupported.
	Observe(types []domain.MetricType, notify func(domain.MetricType)) (func(), error)
}
