package healthconnect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

type BridgeTestSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
	window domain.Window
}

func (s *BridgeTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	end := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	s.window = domain.Window{Start: end.Add(-24 * time.Hour), End: end}
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func (s *BridgeTestSuite) newStore(baseURL string) *Store {
	return New(Config{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, s.logger)
}

func (s *BridgeTestSuite) serveJSON(v any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.Require().NoError(json.NewEncoder(w).Encode(v))
	})
}

func (s *BridgeTestSuite) TestCheckAvailability_Available() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/v1/status", r.URL.Path)
		s.Equal("application/json", r.Header.Get("Accept"))
		s.Require().NoError(json.NewEncoder(w).Encode(statusResponse{Available: true}))
	}))
	defer server.Close()

	s.NoError(s.newStore(server.URL).CheckAvailability(s.ctx))
}

func (s *BridgeTestSuite) TestCheckAvailability_StoreUnavailable() {
	server := httptest.NewServer(s.serveJSON(statusResponse{Available: false, Reason: "user disabled access"}))
	defer server.Close()

	err := s.newStore(server.URL).CheckAvailability(s.ctx)
	s.ErrorIs(err, provider.ErrUnavailable)
	s.Contains(err.Error(), "user disabled access")
}

func (s *BridgeTestSuite) TestCheckAvailability_PermissionDenied() {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := s.newStore(server.URL).CheckAvailability(s.ctx)
	s.ErrorIs(err, provider.ErrUnavailable)
	s.Contains(err.Error(), "permission denied")
	// Revoked permissions will not heal within a request, no retry.
	s.Equal(1, requests)
}

func (s *BridgeTestSuite) TestCheckAvailability_BridgeDown() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	err := s.newStore(server.URL).CheckAvailability(s.ctx)
	s.ErrorIs(err, provider.ErrUnavailable)
}

func (s *BridgeTestSuite) TestReadSamples() {
	inWindow := s.window.Start.Add(2 * time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/v1/records", r.URL.Path)
		q := r.URL.Query()
		s.Equal("steps", q.Get("type"))
		s.Equal(s.window.Start.Format(time.RFC3339), q.Get("start"))
		s.Equal(s.window.End.Format(time.RFC3339), q.Get("end"))

		resp := recordsResponse{Records: []bridgeRecord{
			{
				Metric:     "steps",
				Value:      412,
				Unit:       "count",
				StartTime:  inWindow,
				EndTime:    inWindow.Add(time.Minute),
				DataOrigin: "com.fitdroid.tracker",
				Metadata:   map[string]string{"recordId": "r-1"},
			},
			{
				Metric:    "steps",
				Value:     99,
				Unit:      "count",
				StartTime: s.window.Start.Add(-time.Hour),
				EndTime:   s.window.Start.Add(-59 * time.Minute),
			},
		}}
		s.Require().NoError(json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	samples, err := s.newStore(server.URL).ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)

	s.Require().Len(samples, 1)
	s.Equal(domain.MetricSteps, samples[0].Type)
	s.Equal(412.0, samples[0].Value)
	s.Equal("count", samples[0].Unit)
	s.Equal(map[string]string{"recordId": "r-1", "dataOrigin": "com.fitdroid.tracker"}, samples[0].Metadata)
}

func (s *BridgeTestSuite) TestReadSamples_RetriesServerErrors() {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		s.Require().NoError(json.NewEncoder(w).Encode(recordsResponse{}))
	}))
	defer server.Close()

	_, err := s.newStore(server.URL).ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Equal(2, attempts)
}

func (s *BridgeTestSuite) TestReadSamples_ClientErrorNotRetried() {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := s.newStore(server.URL).ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.Error(err)
	s.Contains(err.Error(), "unexpected status: 404")
	s.Equal(1, attempts)
}

func (s *BridgeTestSuite) TestReadWorkouts() {
	inWindow := s.window.Start.Add(3 * time.Hour)
	calories := 410.0
	server := httptest.NewServer(s.serveJSON(workoutsResponse{Workouts: []bridgeWorkout{
		{
			ExerciseType: "  Running ",
			StartTime:    inWindow,
			EndTime:      inWindow.Add(40 * time.Minute),
			EnergyKcal:   &calories,
			DataOrigin:   "com.fitdroid.tracker",
		},
		{
			ExerciseType: "",
			StartTime:    inWindow.Add(time.Hour),
			EndTime:      inWindow.Add(90 * time.Minute),
		},
		{
			ExerciseType: "cycling",
			StartTime:    s.window.End.Add(time.Hour),
			EndTime:      s.window.End.Add(2 * time.Hour),
		},
	}}))
	defer server.Close()

	workouts, err := s.newStore(server.URL).ReadWorkouts(s.ctx, s.window)
	s.NoError(err)

	s.Require().Len(workouts, 2)
	s.Equal("running", workouts[0].Type)
	s.Require().NotNil(workouts[0].Calories)
	s.Equal(410.0, *workouts[0].Calories)
	s.Equal(map[string]string{"dataOrigin": "com.fitdroid.tracker"}, workouts[0].Metadata)
	s.Equal("other", workouts[1].Type)
}

func (s *BridgeTestSuite) TestReadSleepStages() {
	night := s.window.Start.Add(14 * time.Hour)
	server := httptest.NewServer(s.serveJSON(sleepResponse{Sessions: []bridgeSleepSession{
		{
			StartTime:  night,
			EndTime:    night.Add(8 * time.Hour),
			DataOrigin: "com.fitdroid.tracker",
			Stages: []bridgeSleepStage{
				{Stage: "deep", StartTime: night, EndTime: night.Add(time.Hour)},
				{Stage: "rem", StartTime: night.Add(time.Hour), EndTime: night.Add(90 * time.Minute)},
				{Stage: "sleeping", StartTime: night.Add(90 * time.Minute), EndTime: night.Add(4 * time.Hour)},
				{Stage: "awake_in_bed", StartTime: night.Add(4 * time.Hour), EndTime: night.Add(250 * time.Minute)},
				{Stage: "hibernating", StartTime: night.Add(250 * time.Minute), EndTime: night.Add(5 * time.Hour)},
			},
		},
		{
			// No stage detail, the whole session counts as light sleep.
			StartTime: night.Add(9 * time.Hour),
			EndTime:   night.Add(10 * time.Hour),
		},
		{
			StartTime: s.window.Start.Add(-8 * time.Hour),
			EndTime:   s.window.Start.Add(-time.Hour),
			Stages:    []bridgeSleepStage{{Stage: "deep", StartTime: s.window.Start.Add(-8 * time.Hour), EndTime: s.window.Start.Add(-7 * time.Hour)}},
		},
	}}))
	defer server.Close()

	stages, err := s.newStore(server.URL).ReadSleepStages(s.ctx, s.window)
	s.NoError(err)

	s.Require().Len(stages, 5)
	got := make([]provider.StageLabel, 0, len(stages))
	for _, st := range stages {
		got = append(got, st.Stage)
	}
	s.Equal([]provider.StageLabel{
		provider.StageDeep,
		provider.StageRem,
		provider.StageLight,
		provider.StageInBed,
		provider.StageLight,
	}, got)

	s.Equal(map[string]string{"dataOrigin": "com.fitdroid.tracker"}, stages[0].Metadata)
	s.True(stages[4].Start.Equal(night.Add(9 * time.Hour)))
	s.True(stages[4].End.Equal(night.Add(10 * time.Hour)))
}

func (s *BridgeTestSuite) TestObserve_Unsupported() {
	stop, err := s.newStore("http://127.0.0.1:1").Observe(nil, func(domain.MetricType) {})
	s.ErrorIs(err, provider.ErrObserveUnsupported)
	s.Nil(stop)
}

func TestCalculateBackoff(t *testing.T) {
	store := &Store{initialBackoff: 100 * time.Millisecond, maxBackoff: 400 * time.Millisecond}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond},
	}

	for _, tc := range cases {
		if got := store.calculateBackoff(tc.attempt); got != tc.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
