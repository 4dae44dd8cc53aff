package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"healthsync/internal/domain"
)

// UpsertWorkouts writes workout sessions with the same conflict semantics
// as UpsertMetrics: aggregates refresh, flags and ingested_at are kept.
func (s *RecordStore) UpsertWorkouts(ctx context.Context, workouts []domain.HealthWorkout, now time.Time) (int, error) {
	query := `
		INSERT INTO health_workouts (
			source, workout_type, start_time, end_time, duration_seconds,
			calories, distance, heart_rate_avg, heart_rate_max, heart_rate_min,
			metadata, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, start_time, end_time) DO UPDATE SET
			workout_type = excluded.workout_type,
			duration_seconds = excluded.duration_seconds,
			calories = excluded.calories,
			distance = excluded.distance,
			heart_rate_avg = excluded.heart_rate_avg,
			heart_rate_max = excluded.heart_rate_max,
			heart_rate_min = excluded.heart_rate_min,
			metadata = excluded.metadata`

	ex := GetExecutor(ctx, s.db)

	stored := 0
	for _, w := range workouts {
		if _, err := ex.ExecContext(ctx, query,
			w.Source,
			w.WorkoutType,
			w.StartTime,
			w.EndTime,
			w.DurationSeconds,
			w.Calories,
			w.Distance,
			w.HeartRateAvg,
			w.HeartRateMax,
			w.HeartRateMin,
			w.Metadata,
			now,
		); err != nil {
			return stored, err
		}
		stored++
	}

	return stored, nil
}

func (s *RecordStore) UnsyncedWorkouts(ctx context.Context, limit int) ([]domain.HealthWorkout, error) {
	query := `
		SELECT * FROM health_workouts
		WHERE synced_to_backend = 0
		ORDER BY id
		LIMIT ?`

	var workouts []domain.HealthWorkout
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &workouts, query, limit); err != nil {
		return nil, err
	}
	return workouts, nil
}

func (s *RecordStore) UnprocessedWorkouts(ctx context.Context, limit int) ([]domain.HealthWorkout, error) {
	query := `
		SELECT * FROM health_workouts
		WHERE processed = 0
		ORDER BY id
		LIMIT ?`

	var workouts []domain.HealthWorkout
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &workouts, query, limit); err != nil {
		return nil, err
	}
	return workouts, nil
}

func (s *RecordStore) MarkWorkoutsSynced(ctx context.Context, ids []int64, at time.Time) error {
	return markSynced(ctx, s.db, "health_workouts", ids, at)
}

func (s *RecordStore) MarkWorkoutsProcessed(ctx context.Context, ids []int64, at time.Time) error {
	return markProcessed(ctx, s.db, "health_workouts", ids, at)
}
