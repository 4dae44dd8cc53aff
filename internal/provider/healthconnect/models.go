package healthconnect

import (
	"time"

	"healthsync/internal/provider"
)

// Wire shapes served by the Health Connect bridge. The bridge flattens
// platform record classes into per-metric rows but keeps Health Connect
// naming for everything else (camelCase times, dataOrigin package names,
// session-nested sleep stages).

type statusResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type recordsResponse struct {
	Records []bridgeRecord `json:"records"`
}

type bridgeRecord struct {
	Metric     string            `json:"metric"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	StartTime  time.Time         `json:"startTime"`
	EndTime    time.Time         `json:"endTime"`
	DataOrigin string            `json:"dataOrigin,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type workoutsResponse struct {
	Workouts []bridgeWorkout `json:"workouts"`
}

type bridgeWorkout struct {
	ExerciseType   string            `json:"exerciseType"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        time.Time         `json:"endTime"`
	EnergyKcal     *float64          `json:"energyKcal,omitempty"`
	DistanceMeters *float64          `json:"distanceMeters,omitempty"`
	AvgHeartRate   *float64          `json:"avgHeartRate,omitempty"`
	MaxHeartRate   *float64          `json:"maxHeartRate,omitempty"`
	MinHeartRate   *float64          `json:"minHeartRate,omitempty"`
	DataOrigin     string            `json:"dataOrigin,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type sleepResponse struct {
	Sessions []bridgeSleepSession `json:"sessions"`
}

type bridgeSleepSession struct {
	StartTime  time.Time          `json:"startTime"`
	EndTime    time.Time          `json:"endTime"`
	DataOrigin string             `json:"dataOrigin,omitempty"`
	Stages     []bridgeSleepStage `json:"stages"`
}

type bridgeSleepStage struct {
	Stage     string    `json:"stage"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// stageLabels maps Health Connect sleep stage names to normalized labels.
// The generic "sleeping" stage carries no depth information and counts as
// light sleep; both not-asleep stages map to the in-bed pseudo-stage.
var stageLabels = map[string]provider.StageLabel{
	"deep":         provider.StageDeep,
	"rem":          provider.StageRem,
	"light":        provider.StageLight,
	"awake":        provider.StageAwake,
	"sleeping":     provider.StageLight,
	"awake_in_bed": provider.StageInBed,
	"out_of_bed":   provider.StageInBed,
}
