package domain

import "time"

// SyncType identifies what triggered a sync pass.
type SyncType string

const (
	SyncForeground SyncType = "foreground"
	SyncBackground SyncType = "background"
	SyncObserver   SyncType = "observer"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncRun is the audit record of one orchestration pass.
type SyncRun struct {
	ID               int64      `db:"id"`
	Type             SyncType   `db:"sync_type"`
	StartedAt        time.Time  `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
	RecordsProcessed int        `db:"records_processed"`
	RecordsFailed    int        `db:"records_failed"`
	ErrorMessage     string     `db:"error_message"`
	Status           SyncStatus `db:"status"`
}

// SyncState tracks the last successful sync per record source. The window
// computation for incremental syncs starts from LastSyncedAt.
type SyncState struct {
	ID           int64     `db:"id"`
	Source       Source    `db:"source"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	TotalSynced  int64     `db:"total_synced"`
}

// Window is the half-open time range [Start, End) a sync pass queries.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// SyncStats holds statistics about one sync pass.
type SyncStats struct {
	Type     SyncType
	Window   Window
	Metrics  int
	Workouts int
	Sleep    int
	Failed   int
	Duration time.Duration
}

// Stored returns the number of records persisted by the pass.
func (s SyncStats) Stored() int {
	return s.Metrics + s.Workouts + s.Sleep
}

// UploadStats reports how many records an upload pass confirmed with the
// backend, per kind.
type UploadStats struct {
	MetricsSynced  int `json:"metrics_synced"`
	WorkoutsSynced int `json:"workouts_synced"`
	SleepSynced    int `json:"sleep_synced"`
}

// Total returns the combined number of confirmed records.
func (u UploadStats) Total() int {
	return u.MetricsSynced + u.WorkoutsSynced + u.SleepSynced
}
