package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies where a record was read from.
type Source string

const (
	SourceHealthKit     Source = "healthkit"
	SourceHealthConnect Source = "healthconnect"
	SourceManual        Source = "manual"
)

// MetricType is the canonical name of a scalar health observation.
type MetricType string

const (
	MetricSteps            MetricType = "steps"
	MetricHeartRate        MetricType = "heart_rate"
	MetricRestingHeartRate MetricType = "resting_heart_rate"
	MetricHRV              MetricType = "hrv"
	MetricActiveCalories   MetricType = "active_calories"
	MetricBasalCalories    MetricType = "basal_calories"
	MetricDistance         MetricType = "distance"
	MetricFlightsClimbed   MetricType = "flights_climbed"
	MetricOxygenSaturation MetricType = "oxygen_saturation"
	MetricRespiratoryRate  MetricType = "respiratory_rate"
	MetricBodyTemperature  MetricType = "body_temperature"
)

// AllMetricTypes is the fixed order metric types are collected in. Sync
// passes iterate this slice so repeated runs touch types deterministically.
var AllMetricTypes = []MetricType{
	MetricSteps,
	MetricHeartRate,
	MetricRestingHeartRate,
	MetricHRV,
	MetricActiveCalories,
	MetricBasalCalories,
	MetricDistance,
	MetricFlightsClimbed,
	MetricOxygenSaturation,
	MetricRespiratoryRate,
	MetricBodyTemperature,
}

// CanonicalUnit maps each metric type to the unit stored and uploaded.
var CanonicalUnit = map[MetricType]string{
	MetricSteps:            "count",
	MetricHeartRate:        "bpm",
	MetricRestingHeartRate: "bpm",
	MetricHRV:              "ms",
	MetricActiveCalories:   "kcal",
	MetricBasalCalories:    "kcal",
	MetricDistance:         "m",
	MetricFlightsClimbed:   "count",
	MetricOxygenSaturation: "%",
	MetricRespiratoryRate:  "breaths/min",
	MetricBodyTemperature:  "degC",
}

// Kind names one of the three record tables.
type Kind string

const (
	KindMetrics  Kind = "metrics"
	KindWorkouts Kind = "workouts"
	KindSleep    Kind = "sleep"
)

// Metadata holds opaque provider fields carried through to the backend.
// Stored as a JSON text column.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// HealthMetric is a single unit-normalized scalar observation. The tuple
// (source, metric_type, start_time, end_time) is the natural key used to
// dedupe re-ingested samples.
type HealthMetric struct {
	ID              int64      `db:"id" json:"id"`
	Source          Source     `db:"source" json:"source"`
	Type            MetricType `db:"metric_type" json:"type"`
	Value           float64    `db:"value" json:"value"`
	Unit            string     `db:"unit" json:"unit"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         time.Time  `db:"end_time" json:"end_time"`
	Metadata        Metadata   `db:"metadata" json:"metadata,omitempty"`
	IngestedAt      time.Time  `db:"ingested_at" json:"ingested_at"`
	Processed       bool       `db:"processed" json:"processed"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	SyncedToBackend bool       `db:"synced_to_backend" json:"synced_to_backend"`
	BackendSyncTime *time.Time `db:"backend_sync_time" json:"backend_sync_time,omitempty"`
}

// HealthWorkout is an activity session. Aggregates are pointers: an absent
// value is not the same as a measured zero. Natural key (source, start_time,
// end_time).
type HealthWorkout struct {
	ID              int64      `db:"id" json:"id"`
	Source          Source     `db:"source" json:"source"`
	WorkoutType     string     `db:"workout_type" json:"workout_type"`
	StartTime       time.Time  `db:"start_time" json:"start_time"`
	EndTime         time.Time  `db:"end_time" json:"end_time"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	Calories        *float64   `db:"calories" json:"calories,omitempty"`
	Distance        *float64   `db:"distance" json:"distance,omitempty"`
	HeartRateAvg    *float64   `db:"heart_rate_avg" json:"heart_rate_avg,omitempty"`
	HeartRateMax    *float64   `db:"heart_rate_max" json:"heart_rate_max,omitempty"`
	HeartRateMin    *float64   `db:"heart_rate_min" json:"heart_rate_min,omitempty"`
	Metadata        Metadata   `db:"metadata" json:"metadata,omitempty"`
	IngestedAt      time.Time  `db:"ingested_at" json:"ingested_at"`
	Processed       bool       `db:"processed" json:"processed"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	SyncedToBackend bool       `db:"synced_to_backend" json:"synced_to_backend"`
	BackendSyncTime *time.Time `db:"backend_sync_time" json:"backend_sync_time,omitempty"`
}

// SleepRecord is one sleep-stage interval with the stage-specific duration
// field populated. Natural key (source, start_time).
type SleepRecord struct {
	ID                int64      `db:"id" json:"id"`
	Source            Source     `db:"source" json:"source"`
	StartTime         time.Time  `db:"start_time" json:"start_time"`
	EndTime           time.Time  `db:"end_time" json:"end_time"`
	DurationSeconds   int        `db:"duration_seconds" json:"duration_seconds"`
	DeepSleepSeconds  *int       `db:"deep_sleep_seconds" json:"deep_sleep_seconds,omitempty"`
	RemSleepSeconds   *int       `db:"rem_sleep_seconds" json:"rem_sleep_seconds,omitempty"`
	LightSleepSeconds *int       `db:"light_sleep_seconds" json:"light_sleep_seconds,omitempty"`
	AwakeSeconds      *int       `db:"awake_seconds" json:"awake_seconds,omitempty"`
	Metadata          Metadata   `db:"metadata" json:"metadata,omitempty"`
	IngestedAt        time.Time  `db:"ingested_at" json:"ingested_at"`
	Processed         bool       `db:"processed" json:"processed"`
	ProcessedAt       *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	SyncedToBackend   bool       `db:"synced_to_backend" json:"synced_to_backend"`
	BackendSyncTime   *time.Time `db:"backend_sync_time" json:"backend_sync_time,omitempty"`
}

// RecordBatch groups the records produced by one collection pass.
type RecordBatch struct {
	Metrics  []HealthMetric
	Workouts []HealthWorkout
	Sleep    []SleepRecord
}

// Total returns the number of records in the batch across all kinds.
func (b RecordBatch) Total() int {
	return len(b.Metrics) + len(b.Workouts) + len(b.Sleep)
}

// CollectFailure records a read failure isolated to one part of a collection
// pass. Scope is a metric type name, "workouts" or "sleep".
type CollectFailure struct {
	Scope string
	Err   error
}

// PendingCounts is the per-kind count of rows not yet synced to the backend.
type PendingCounts struct {
	Metrics  int64 `db:"metrics" json:"metrics"`
	Workouts int64 `db:"workouts" json:"workouts"`
	Sleep    int64 `db:"sleep" json:"sleep"`
}

// Total returns the combined backlog size.
func (p PendingCounts) Total() int64 {
	return p.Metrics + p.Workouts + p.Sleep
}
