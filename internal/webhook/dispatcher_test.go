package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"healthsync/internal/auth"
	"healthsync/internal/domain"
	"healthsync/internal/storage/sqlite"
)

type DispatcherTestSuite struct {
	suite.Suite
	ctx    context.Context
	db     *sqlx.DB
	events *sqlite.EventStore
	logger *slog.Logger
	device domain.DeviceInfo
	base   time.Time
}

func (s *DispatcherTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sqlite.Open(filepath.Join(s.T().TempDir(), "healthsync.db"))
	s.Require().NoError(err)
	s.db = db
	s.events = sqlite.NewEventStore(db)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.device = domain.DeviceInfo{DeviceID: "dev-1", Platform: "healthkit", Agent: "healthsyncd/test"}
	s.base = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
}

func (s *DispatcherTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func (s *DispatcherTestSuite) newDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := New(s.events, auth.Static("test-token"), s.device, cfg, s.logger)
	d.now = func() time.Time { return s.base }
	return d
}

type capturedRequest struct {
	path      string
	eventType string
	auth      string
	envelope  envelope
}

func capture(s *DispatcherTestSuite, got *[]capturedRequest, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&env))
		*got = append(*got, capturedRequest{
			path:      r.URL.Path,
			eventType: r.Header.Get("X-Event-Type"),
			auth:      r.Header.Get("Authorization"),
			envelope:  env,
		})
		w.WriteHeader(status)
	})
}

func (s *DispatcherTestSuite) TestEmit_DeliversToBothTargets() {
	var external, backend []capturedRequest
	externalSrv := httptest.NewServer(capture(s, &external, http.StatusOK))
	defer externalSrv.Close()
	backendSrv := httptest.NewServer(capture(s, &backend, http.StatusOK))
	defer backendSrv.Close()

	d := s.newDispatcher(Config{ExternalURL: externalSrv.URL, BackendURL: backendSrv.URL})

	err := d.Emit(s.ctx, domain.EventSyncCompleted, map[string]int{"records": 4})
	s.NoError(err)

	s.Require().Len(external, 1)
	s.Require().Len(backend, 1)

	s.Equal(domain.EventSyncCompleted, external[0].envelope.Event)
	s.Equal("mobile", external[0].envelope.Source)
	s.Equal(s.device, external[0].envelope.DeviceInfo)
	s.Equal(s.base, external[0].envelope.Timestamp)
	s.JSONEq(`{"records":4}`, string(external[0].envelope.Data))
	s.Equal(domain.EventSyncCompleted, external[0].eventType)

	// Only the backend target gets the bearer token.
	s.Empty(external[0].auth)
	s.Equal("Bearer test-token", backend[0].auth)
	s.Equal("/health-webhook", backend[0].path)

	count, err := s.events.UndeliveredCount(s.ctx)
	s.NoError(err)
	s.Zero(count)
}

func (s *DispatcherTestSuite) TestEmit_FailedDeliveryStaysQueued() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := s.newDispatcher(Config{ExternalURL: srv.URL})

	// The emit itself succeeds; only the outbox write can fail it.
	err := d.Emit(s.ctx, domain.EventDataUpdated, nil)
	s.NoError(err)

	pending, err := s.events.Undelivered(s.ctx, 10, 5)
	s.NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(domain.EventDataUpdated, pending[0].EventType)
	s.Equal(1, pending[0].RetryCount)
	s.Contains(pending[0].LastError, "unexpected status: 502")
	s.False(pending[0].Sent)
}

func (s *DispatcherTestSuite) TestEmit_PartialTargetFailureStaysQueued() {
	okCalls := 0
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	d := s.newDispatcher(Config{ExternalURL: okSrv.URL, BackendURL: failSrv.URL})

	err := d.Emit(s.ctx, domain.EventSyncCompleted, nil)
	s.NoError(err)

	// The failing target did not stop the healthy one from being tried.
	s.Equal(1, okCalls)

	pending, err := s.events.Undelivered(s.ctx, 10, 5)
	s.NoError(err)
	s.Require().Len(pending, 1)
	s.Contains(pending[0].LastError, "backend")
}

func (s *DispatcherTestSuite) TestEmit_NoTargetsMarksDelivered() {
	d := s.newDispatcher(Config{})

	err := d.Emit(s.ctx, domain.EventSyncFailed, map[string]string{"error": "collect timed out"})
	s.NoError(err)

	count, err := s.events.UndeliveredCount(s.ctx)
	s.NoError(err)
	s.Zero(count)

	var ev domain.WebhookEvent
	err = s.db.GetContext(s.ctx, &ev, "SELECT * FROM webhook_events LIMIT 1")
	s.NoError(err)
	s.True(ev.Sent)
	s.Require().NotNil(ev.SentAt)
	s.WithinDuration(s.base, *ev.SentAt, time.Second)
}

func (s *DispatcherTestSuite) TestProcessUndelivered_RedeliversQueuedEvents() {
	healthy := false
	var delivered []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		capture(s, &delivered, http.StatusOK).ServeHTTP(w, r)
	}))
	defer srv.Close()

	d := s.newDispatcher(Config{ExternalURL: srv.URL})

	s.Require().NoError(d.Emit(s.ctx, domain.EventSyncCompleted, nil))
	s.Require().NoError(d.Emit(s.ctx, domain.EventDataUpdated, nil))

	count, err := s.events.UndeliveredCount(s.ctx)
	s.Require().NoError(err)
	s.Require().EqualValues(2, count)

	healthy = true
	n, err := d.ProcessUndelivered(s.ctx, 50)
	s.NoError(err)
	s.Equal(2, n)
	s.Len(delivered, 2)

	count, err = s.events.UndeliveredCount(s.ctx)
	s.NoError(err)
	s.Zero(count)
}

func (s *DispatcherTestSuite) TestProcessUndelivered_SkipsExhaustedEvents() {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id, err := s.events.Enqueue(s.ctx, domain.EventSyncFailed, []byte(`{}`), s.base)
	s.Require().NoError(err)
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.events.RecordFailure(s.ctx, id, "receiver down"))
	}

	d := s.newDispatcher(Config{ExternalURL: srv.URL, MaxRetries: 3})

	n, err := d.ProcessUndelivered(s.ctx, 50)
	s.NoError(err)
	s.Zero(n)
	s.Zero(requests)
}

func (s *DispatcherTestSuite) TestProcessUndelivered_CountsFailuresPerAttempt() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := s.newDispatcher(Config{ExternalURL: srv.URL})

	s.Require().NoError(d.Emit(s.ctx, domain.EventSyncCompleted, nil))

	n, err := d.ProcessUndelivered(s.ctx, 50)
	s.NoError(err)
	s.Zero(n)

	pending, err := s.events.Undelivered(s.ctx, 10, 5)
	s.NoError(err)
	s.Require().Len(pending, 1)
	// One failure from the emit attempt, one from the sweep.
	s.Equal(2, pending[0].RetryCount)
}
