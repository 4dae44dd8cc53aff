package healthkit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

type StoreTestSuite struct {
	suite.Suite
	ctx    context.Context
	dir    string
	store  *Store
	window domain.Window
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.store = New(Config{ExportDir: s.dir}, logger)

	end := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	s.window = domain.Window{Start: end.Add(-24 * time.Hour), End: end}
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) writePayload(name string, payload exportPayload) string {
	data, err := json.Marshal(payload)
	s.Require().NoError(err)
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, data, 0o644))
	return path
}

func (s *StoreTestSuite) sample(hkType string, start time.Time, value float64, unit string) exportSample {
	return exportSample{
		Type:  hkType,
		Value: value,
		Unit:  unit,
		Start: start,
		End:   start.Add(time.Minute),
	}
}

func (s *StoreTestSuite) TestCheckAvailability() {
	s.Run("spool directory present", func() {
		s.NoError(s.store.CheckAvailability(s.ctx))
	})

	s.Run("directory missing", func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store := New(Config{ExportDir: filepath.Join(s.dir, "gone")}, logger)
		s.ErrorIs(store.CheckAvailability(s.ctx), provider.ErrUnavailable)
	})

	s.Run("path is a file", func() {
		path := filepath.Join(s.dir, "spool")
		s.Require().NoError(os.WriteFile(path, []byte("x"), 0o644))
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store := New(Config{ExportDir: path}, logger)
		s.ErrorIs(store.CheckAvailability(s.ctx), provider.ErrUnavailable)
	})

	s.Run("not configured", func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		store := New(Config{}, logger)
		s.ErrorIs(store.CheckAvailability(s.ctx), provider.ErrUnavailable)
	})
}

func (s *StoreTestSuite) TestReadSamples_FiltersTypeAndWindow() {
	inWindow := s.window.Start.Add(2 * time.Hour)
	s.writePayload("export-1.json", exportPayload{
		Samples: []exportSample{
			s.sample("HKQuantityTypeIdentifierStepCount", inWindow, 412, "count"),
			s.sample("HKQuantityTypeIdentifierHeartRate", inWindow, 71, "count/min"),
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.Start.Add(-time.Hour), 99, "count"),
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.End, 50, "count"),
			s.sample("HKQuantityTypeIdentifierBloodGlucose", inWindow, 5.1, "mmol/L"),
		},
	})

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)

	s.Require().Len(samples, 1)
	s.Equal(domain.MetricSteps, samples[0].Type)
	s.Equal(412.0, samples[0].Value)
	s.Equal("count", samples[0].Unit)
	s.True(samples[0].Start.Equal(inWindow))
	s.True(samples[0].End.Equal(inWindow.Add(time.Minute)))
}

func (s *StoreTestSuite) TestReadSamples_WindowStartInclusive() {
	s.writePayload("export-1.json", exportPayload{
		Samples: []exportSample{
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.Start, 10, "count"),
		},
	})

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Len(samples, 1)
}

func (s *StoreTestSuite) TestReadSamples_MergesPayloads() {
	inWindow := s.window.Start.Add(time.Hour)
	s.writePayload("export-1.json", exportPayload{
		Samples: []exportSample{s.sample("HKQuantityTypeIdentifierStepCount", inWindow, 100, "count")},
	})
	s.writePayload("export-2.json", exportPayload{
		Samples: []exportSample{s.sample("HKQuantityTypeIdentifierStepCount", inWindow.Add(time.Hour), 200, "count")},
	})

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Len(samples, 2)
}

func (s *StoreTestSuite) TestReadSamples_SkipsStalePayloads() {
	path := s.writePayload("export-old.json", exportPayload{
		Samples: []exportSample{
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.Start.Add(time.Hour), 100, "count"),
		},
	})

	// An export written before the window opened cannot contain window data.
	stale := s.window.Start.Add(-time.Hour)
	s.Require().NoError(os.Chtimes(path, stale, stale))

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Len(samples, 0)
}

func (s *StoreTestSuite) TestReadSamples_SkipsUnreadablePayloads() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "partial.json"), []byte(`{"samples": [`), 0o644))
	s.writePayload("export-ok.json", exportPayload{
		Samples: []exportSample{
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.Start.Add(time.Hour), 100, "count"),
		},
	})

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Len(samples, 1)
}

func (s *StoreTestSuite) TestReadSamples_IgnoresForeignEntries() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("not a payload"), 0o644))
	s.Require().NoError(os.Mkdir(filepath.Join(s.dir, "archive.json"), 0o755))

	samples, err := s.store.ReadSamples(s.ctx, domain.MetricSteps, s.window)
	s.NoError(err)
	s.Len(samples, 0)
}

func (s *StoreTestSuite) TestReadSamples_ContextCancelled() {
	s.writePayload("export-1.json", exportPayload{})

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.store.ReadSamples(ctx, domain.MetricSteps, s.window)
	s.ErrorIs(err, context.Canceled)
}

func (s *StoreTestSuite) TestReadWorkouts() {
	inWindow := s.window.Start.Add(3 * time.Hour)
	calories := 350.0
	distance := 5200.0
	s.writePayload("export-1.json", exportPayload{
		Workouts: []exportWorkout{
			{
				ActivityType: "HKWorkoutActivityTypeRunning",
				Start:        inWindow,
				End:          inWindow.Add(30 * time.Minute),
				EnergyKcal:   &calories,
				DistanceM:    &distance,
			},
			{
				ActivityType: "",
				Start:        inWindow.Add(time.Hour),
				End:          inWindow.Add(90 * time.Minute),
			},
			{
				ActivityType: "HKWorkoutActivityTypeYoga",
				Start:        s.window.Start.Add(-time.Hour),
				End:          s.window.Start.Add(-30 * time.Minute),
			},
		},
	})

	workouts, err := s.store.ReadWorkouts(s.ctx, s.window)
	s.NoError(err)

	s.Require().Len(workouts, 2)
	s.Equal("running", workouts[0].Type)
	s.Require().NotNil(workouts[0].Calories)
	s.Equal(350.0, *workouts[0].Calories)
	s.Require().NotNil(workouts[0].Distance)
	s.Equal(5200.0, *workouts[0].Distance)
	s.Equal("other", workouts[1].Type)
}

func (s *StoreTestSuite) TestReadSleepStages() {
	night := s.window.Start.Add(14 * time.Hour)
	s.writePayload("export-1.json", exportPayload{
		Sleep: []exportSleep{
			{Value: "inBed", Start: night, End: night.Add(8 * time.Hour)},
			{Value: "asleepDeep", Start: night.Add(time.Hour), End: night.Add(90 * time.Minute)},
			{Value: "asleepREM", Start: night.Add(2 * time.Hour), End: night.Add(150 * time.Minute)},
			{Value: "asleepCore", Start: night.Add(3 * time.Hour), End: night.Add(5 * time.Hour)},
			{Value: "asleepUnspecified", Start: night.Add(5 * time.Hour), End: night.Add(6 * time.Hour)},
			{Value: "awake", Start: night.Add(6 * time.Hour), End: night.Add(370 * time.Minute)},
			{Value: "asleepMystery", Start: night, End: night.Add(time.Hour)},
			{Value: "asleepDeep", Start: s.window.Start.Add(-2 * time.Hour), End: s.window.Start.Add(-time.Hour)},
		},
	})

	stages, err := s.store.ReadSleepStages(s.ctx, s.window)
	s.NoError(err)

	s.Require().Len(stages, 6)
	got := make([]provider.StageLabel, 0, len(stages))
	for _, st := range stages {
		got = append(got, st.Stage)
	}
	s.Equal([]provider.StageLabel{
		provider.StageInBed,
		provider.StageDeep,
		provider.StageRem,
		provider.StageLight,
		provider.StageLight,
		provider.StageAwake,
	}, got)
}

func (s *StoreTestSuite) TestObserve_NotifiesWatchedTypes() {
	notified := make(chan domain.MetricType, 16)
	stop, err := s.store.Observe([]domain.MetricType{domain.MetricSteps}, func(t domain.MetricType) {
		notified <- t
	})
	s.Require().NoError(err)
	defer stop()

	s.writePayload("export-live.json", exportPayload{
		Samples: []exportSample{
			s.sample("HKQuantityTypeIdentifierStepCount", s.window.Start.Add(time.Hour), 100, "count"),
			s.sample("HKQuantityTypeIdentifierHeartRate", s.window.Start.Add(time.Hour), 70, "count/min"),
		},
	})

	select {
	case t := <-notified:
		s.Equal(domain.MetricSteps, t)
	case <-time.After(2 * time.Second):
		s.Fail("no notification for new payload")
	}
}

func (s *StoreTestSuite) TestObserve_WorkoutPayloadWakesFirstWatchedType() {
	notified := make(chan domain.MetricType, 16)
	stop, err := s.store.Observe([]domain.MetricType{domain.MetricHeartRate}, func(t domain.MetricType) {
		notified <- t
	})
	s.Require().NoError(err)
	defer stop()

	start := s.window.Start.Add(time.Hour)
	s.writePayload("export-workout.json", exportPayload{
		Workouts: []exportWorkout{{ActivityType: "HKWorkoutActivityTypeRunning", Start: start, End: start.Add(time.Hour)}},
	})

	select {
	case t := <-notified:
		s.Equal(domain.MetricHeartRate, t)
	case <-time.After(2 * time.Second):
		s.Fail("no notification for workout payload")
	}
}

func (s *StoreTestSuite) TestObserve_StopIsIdempotent() {
	stop, err := s.store.Observe(nil, func(domain.MetricType) {})
	s.Require().NoError(err)

	stop()
	stop()
}

func TestWorkoutType(t *testing.T) {
	cases := map[string]string{
		"HKWorkoutActivityTypeRunning": "running",
		"HKWorkoutActivityTypeTraditionalStrengthTraining": "traditionalstrengthtraining",
		"HKWorkoutActivityType": "other",
		"":                      "other",
		"cycling":               "cycling",
	}

	for in, want := range cases {
		if got := workoutType(in); got != want {
			t.Errorf("workoutType(%q) = %q, want %q", in, got, want)
		}
	}
}
