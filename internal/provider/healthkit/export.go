package healthkit

import (
	"time"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

// exportPayload is the JSON document the phone-side shell writes into the
// spool directory. Field names and type identifiers follow HealthKit.
type exportPayload struct {
	ExportedAt time.Time       `json:"exported_at"`
	Samples    []exportSample  `json:"samples"`
	Workouts   []exportWorkout `json:"workouts"`
	Sleep      []exportSleep   `json:"sleep"`
}

type exportSample struct {
	Type     string            `json:"type"`
	Value    float64           `json:"value"`
	Unit     string            `json:"unit"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type exportWorkout struct {
	ActivityType string            `json:"activity_type"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	EnergyKcal   *float64          `json:"total_energy_kcal,omitempty"`
	DistanceM    *float64          `json:"total_distance_m,omitempty"`
	AvgHeartRate *float64          `json:"avg_heart_rate,omitempty"`
	MaxHeartRate *float64          `json:"max_heart_rate,omitempty"`
	MinHeartRate *float64          `json:"min_heart_rate,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type exportSleep struct {
	Value    string            `json:"value"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// quantityTypes maps HKQuantityTypeIdentifier values to canonical metric
// types. Identifiers not listed are skipped during decoding.
var quantityTypes = map[string]domain.MetricType{
	"HKQuantityTypeIdentifierStepCount":                domain.MetricSteps,
	"HKQuantityTypeIdentifierHeartRate":                domain.MetricHeartRate,
	"HKQuantityTypeIdentifierRestingHeartRate":         domain.MetricRestingHeartRate,
	"HKQuantityTypeIdentifierHeartRateVariabilitySDNN": domain.MetricHRV,
	"HKQuantityTypeIdentifierActiveEnergyBurned":       domain.MetricActiveCalories,
	"HKQuantityTypeIdentifierBasalEnergyBurned":        domain.MetricBasalCalories,
	"HKQuantityTypeIdentifierDistanceWalkingRunning":   domain.MetricDistance,
	"HKQuantityTypeIdentifierFlightsClimbed":           domain.MetricFlightsClimbed,
	"HKQuantityTypeIdentifierOxygenSaturation":         domain.MetricOxygenSaturation,
	"HKQuantityTypeIdentifierRespiratoryRate":          domain.MetricRespiratoryRate,
	"HKQuantityTypeIdentifierBodyTemperature":          domain.MetricBodyTemperature,
}

// sleepValues maps HKCategoryValueSleepAnalysis values to stage labels.
// asleepUnspecified has no stage detail; it is treated as light sleep.
var sleepValues = map[string]provider.StageLabel{
	"inBed":             provider.StageInBed,
	"asleepDeep":        provider.StageDeep,
	"asleepREM":         provider.StageRem,
	"asleepCore":        provider.StageLight,
	"asleepUnspecified": provider.StageLight,
	"awake":             provider.StageAwake,
}
