package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"healthsync/internal/domain"
)

type Collector interface {
	Source() domain.Source
	Collect(ctx context.Context, w domain.Window, types []domain.MetricType) (domain.RecordBatch, []domain.CollectFailure, error)
}

type RecordStore interface {
	UpsertMetrics(ctx context.Context, metrics []domain.HealthMetric, now time.Time) (int, error)
	UpsertWorkouts(ctx context.Context, workouts []domain.HealthWorkout, now time.Time) (int, error)
	UpsertSleep(ctx context.Context, records []domain.SleepRecord, now time.Time) (int, error)
}

type SyncStateStore interface {
	Get(ctx context.Context, source domain.Source) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

type SyncLogStore interface {
	Start(ctx context.Context, syncType domain.SyncType, at time.Time) (int64, error)
	Complete(ctx context.Context, id int64, status domain.SyncStatus, processed, failed int, errMsg string, at time.Time) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}

type Uploader interface {
	Upload(ctx context.Context) (domain.UploadStats, error)
}

// Syncer is the observer controller's view of the sync service.
type Syncer interface {
	Sync(ctx context.Context, req SyncRequest) (*domain.SyncStats, error)
	LastSyncAttempt() time.Time
}
