// Package healthkit reads HealthKit-flavored export payloads written by the
// phone-side shell into a spool directory. The shell exports on its own
// schedule; this store treats the directory as the queryable health store and
// watches it for new payloads.
package healthkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"healthsync/internal/domain"
	"healthsync/internal/provider"
)

// Config holds healthkit store configuration.
type Config struct {
	// ExportDir is the spool directory the shell writes payloads into.
	ExportDir string
}

// Store implements provider.HealthStore over the export spool.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a healthkit store.
func New(cfg Config, logger *slog.Logger) *Store {
	return &Store{
		dir:    cfg.ExportDir,
		logger: logger.With("source", domain.SourceHealthKit),
	}
}

// Source identifies records read from this store.
func (s *Store) Source() domain.Source {
	return domain.SourceHealthKit
}

// CheckAvailability verifies the spool directory exists and is readable.
func (s *Store) CheckAvailability(ctx context.Context) error {
	if s.dir == "" {
		return fmt.Errorf("%w: export directory not configured", provider.ErrUnavailable)
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", provider.ErrUnavailable, s.dir)
	}
	return nil
}

// ReadSamples returns samples of one metric type inside the window.
func (s *Store) ReadSamples(ctx context.Context, t domain.MetricType, w domain.Window) ([]provider.Sample, error) {
	var out []provider.Sample
	err := s.eachPayload(ctx, w, func(p *exportPayload) {
		for _, raw := range p.Samples {
			mt, ok := quantityTypes[raw.Type]
			if !ok || mt != t {
				continue
			}
			if !w.Contains(raw.Start) {
				continue
			}
			out = append(out, provider.Sample{
				Type:     mt,
				Value:    raw.Value,
				Unit:     raw.Unit,
				Start:    raw.Start,
				End:      raw.End,
				Metadata: raw.Metadata,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadWorkouts returns workouts starting inside the window.
func (s *Store) ReadWorkouts(ctx context.Context, w domain.Window) ([]provider.Workout, error) {
	var out []provider.Workout
	err := s.eachPayload(ctx, w, func(p *exportPayload) {
		for _, raw := range p.Workouts {
			if !w.Contains(raw.Start) {
				continue
			}
			out = append(out, provider.Workout{
				Type:         workoutType(raw.ActivityType),
				Start:        raw.Start,
				End:          raw.End,
				Calories:     raw.EnergyKcal,
				Distance:     raw.DistanceM,
				HeartRateAvg: raw.AvgHeartRate,
				HeartRateMax: raw.MaxHeartRate,
				HeartRateMin: raw.MinHeartRate,
				Metadata:     raw.Metadata,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSleepStages returns sleep-stage intervals starting inside the window.
// The inBed pseudo-stage is surfaced as StageInBed; dropping it is the
// adapter's decision.
func (s *Store) ReadSleepStages(ctx context.Context, w domain.Window) ([]provider.SleepStage, error) {
	var out []provider.SleepStage
	err := s.eachPayload(ctx, w, func(p *exportPayload) {
		for _, raw := range p.Sleep {
			stage, ok := sleepValues[raw.Value]
			if !ok {
				s.logger.Warn("unknown sleep analysis value", "value", raw.Value)
				continue
			}
			if !w.Contains(raw.Start) {
				continue
			}
			out = append(out, provider.SleepStage{
				Stage:    stage,
				Start:    raw.Start,
				End:      raw.End,
				Metadata: raw.Metadata,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// eachPayload decodes every spool payload that can hold samples inside the
// window and passes it to fn. Files older than the window start are skipped:
// exports are appended after the samples they contain, so their payloads
// predate the window. Undecodable files are logged and skipped.
func (s *Store) eachPayload(ctx context.Context, w domain.Window, fn func(*exportPayload)) error {
	if err := s.CheckAvailability(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(w.Start) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		payload, err := decodeExportFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable export payload", "file", entry.Name(), "error", err)
			continue
		}
		fn(payload)
	}
	return nil
}

func decodeExportFile(path string) (*exportPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export payload: %w", err)
	}
	var payload exportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode export payload: %w", err)
	}
	return &payload, nil
}

// workoutType normalizes HKWorkoutActivityType identifiers to short
// lowercase names ("HKWorkoutActivityTypeRunning" -> "running").
func workoutType(activityType string) string {
	name := strings.TrimPrefix(activityType, "HKWorkoutActivityType")
	if name == "" {
		return "other"
	}
	return strings.ToLower(name)
}
