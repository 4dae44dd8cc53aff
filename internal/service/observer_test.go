package service_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"healthsync/internal/config"
	"healthsync/internal/domain"
	svc "healthsync/internal/service"
	"healthsync/internal/service/mocks"
)

type ObserverTestSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	syncer *mocks.MockSyncer
	logger *slog.Logger
	cfg    config.SyncConfig
}

func (s *ObserverTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.syncer = mocks.NewMockSyncer(s.ctrl)
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.cfg = config.SyncConfig{
		IncrementalDays:  1,
		ObserverThrottle: 50 * time.Millisecond,
		ObserverRequeue:  20 * time.Millisecond,
	}
}

func (s *ObserverTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestObserverTestSuite(t *testing.T) {
	suite.Run(t, new(ObserverTestSuite))
}

func (s *ObserverTestSuite) TestNotifyChange_TriggersSync() {
	synced := make(chan svc.SyncRequest, 1)

	s.syncer.EXPECT().LastSyncAttempt().Return(time.Time{}).AnyTimes()
	s.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req svc.SyncRequest) (*domain.SyncStats, error) {
			synced <- req
			return &domain.SyncStats{}, nil
		},
	)

	o := svc.NewObserver(s.syncer, s.cfg, s.logger)
	defer o.Stop()

	o.NotifyChange(domain.MetricSteps)

	select {
	case req := <-synced:
		s.Equal(domain.SyncObserver, req.Type)
		s.Equal(1, req.Days)
	case <-time.After(time.Second):
		s.Fail("sync never fired")
	}
}

func (s *ObserverTestSuite) TestNotifyChange_CoalescesBursts() {
	synced := make(chan struct{}, 1)

	// A recent attempt pushes the fire time out by the throttle, leaving the
	// burst below time to land on one pending timer.
	s.syncer.EXPECT().LastSyncAttempt().Return(time.Now()).AnyTimes()
	s.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, svc.SyncRequest) (*domain.SyncStats, error) {
			synced <- struct{}{}
			return &domain.SyncStats{}, nil
		},
	)

	o := svc.NewObserver(s.syncer, s.cfg, s.logger)
	defer o.Stop()

	o.NotifyChange(domain.MetricSteps)
	o.NotifyChange(domain.MetricHeartRate)
	o.NotifyChange(domain.MetricSteps)

	select {
	case <-synced:
	case <-time.After(time.Second):
		s.Fail("sync never fired")
	}

	// Give a stray second timer time to fire; ctrl.Finish would flag it.
	time.Sleep(3 * s.cfg.ObserverThrottle)
}

func (s *ObserverTestSuite) TestNotifyChange_RequeuesWhenBusy() {
	done := make(chan struct{}, 1)

	s.syncer.EXPECT().LastSyncAttempt().Return(time.Time{}).AnyTimes()
	s.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).Return(nil, svc.ErrSyncInProgress)
	s.syncer.EXPECT().Sync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, svc.SyncRequest) (*domain.SyncStats, error) {
			done <- struct{}{}
			return &domain.SyncStats{}, nil
		},
	)

	o := svc.NewObserver(s.syncer, s.cfg, s.logger)
	defer o.Stop()

	o.NotifyChange(domain.MetricSteps)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("requeued sync never fired")
	}
}

func (s *ObserverTestSuite) TestStop_DropsPendingSync() {
	s.syncer.EXPECT().LastSyncAttempt().Return(time.Now()).AnyTimes()

	o := svc.NewObserver(s.syncer, s.cfg, s.logger)

	o.NotifyChange(domain.MetricSteps)
	o.Stop()

	// The throttled timer would fire inside this window if Stop leaked it.
	time.Sleep(3 * s.cfg.ObserverThrottle)
}

func (s *ObserverTestSuite) TestNotifyChange_IgnoredAfterStop() {
	o := svc.NewObserver(s.syncer, s.cfg, s.logger)
	o.Stop()

	o.NotifyChange(domain.MetricSteps)

	time.Sleep(50 * time.Millisecond)
}

func (s *ObserverTestSuite) TestStart_StopsWhenContextCancelled() {
	s.syncer.EXPECT().LastSyncAttempt().Return(time.Now()).AnyTimes()

	o := svc.NewObserver(s.syncer, s.cfg, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	cancel()

	// Stop runs on the watcher goroutine; give it a moment.
	time.Sleep(50 * time.Millisecond)

	o.NotifyChange(domain.MetricSteps)
	time.Sleep(3 * s.cfg.ObserverThrottle)
}
