// Package status serves the local control surface: aggregate sync status
// for the UI, the unprocessed-record feed for downstream consumers, a
// manual sync trigger and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthsync/internal/domain"
	"healthsync/internal/service"
)

type Syncer interface {
	Sync(ctx context.Context, req service.SyncRequest) (*domain.SyncStats, error)
	Running() bool
}

type RecordStore interface {
	PendingCounts(ctx context.Context) (domain.PendingCounts, error)
	UnprocessedMetrics(ctx context.Context, limit int) ([]domain.HealthMetric, error)
	UnprocessedWorkouts(ctx context.Context, limit int) ([]domain.HealthWorkout, error)
	UnprocessedSleep(ctx context.Context, limit int) ([]domain.SleepRecord, error)
	MarkMetricsProcessed(ctx context.Context, ids []int64, at time.Time) error
	MarkWorkoutsProcessed(ctx context.Context, ids []int64, at time.Time) error
	MarkSleepProcessed(ctx context.Context, ids []int64, at time.Time) error
}

type SyncStateStore interface {
	Get(ctx context.Context, source domain.Source) (*domain.SyncState, error)
}

type SyncLogStore interface {
	Last(ctx context.Context) (*domain.SyncRun, error)
}

type EventStore interface {
	UndeliveredCount(ctx context.Context) (int64, error)
}

// Server is the loopback HTTP control surface.
type Server struct {
	httpServer *http.Server
	syncer     Syncer
	records    RecordStore
	syncState  SyncStateStore
	syncLog    SyncLogStore
	events     EventStore
	source     domain.Source
	fullDays   int
	logger     *slog.Logger
}

func New(addr string, syncer Syncer, records RecordStore, syncState SyncStateStore, syncLog SyncLogStore, events EventStore, source domain.Source, fullDays int, logger *slog.Logger) *Server {
	s := &Server{
		syncer:    syncer,
		records:   records,
		syncState: syncState,
		syncLog:   syncLog,
		events:    events,
		source:    source,
		fullDays:  fullDays,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/records/unprocessed", s.handleUnprocessed)
	mux.HandleFunc("/records/processed", s.handleProcessed)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("status server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusResponse struct {
	Platform          domain.Source        `json:"platform"`
	Running           bool                 `json:"running"`
	LastSyncAt        *time.Time           `json:"last_sync_at,omitempty"`
	LastRun           *runSummary          `json:"last_run,omitempty"`
	Pending           domain.PendingCounts `json:"pending"`
	UndeliveredEvents int64                `json:"undelivered_events"`
}

type runSummary struct {
	Type      domain.SyncType   `json:"type"`
	Status    domain.SyncStatus `json:"status"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	At        time.Time         `json:"at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	ctx := r.Context()

	resp := statusResponse{
		Platform: s.source,
		Running:  s.syncer.Running(),
	}

	state, err := s.syncState.Get(ctx, s.source)
	if err != nil {
		s.internalError(w, "load sync state", err)
		return
	}
	if !state.LastSyncedAt.IsZero() {
		t := state.LastSyncedAt
		resp.LastSyncAt = &t
	}

	run, err := s.syncLog.Last(ctx)
	if err != nil {
		s.internalError(w, "load last run", err)
		return
	}
	if run != nil {
		resp.LastRun = &runSummary{
			Type:      run.Type,
			Status:    run.Status,
			Processed: run.RecordsProcessed,
			Failed:    run.RecordsFailed,
			At:        run.StartedAt,
		}
	}

	resp.Pending, err = s.records.PendingCounts(ctx)
	if err != nil {
		s.internalError(w, "load pending counts", err)
		return
	}

	resp.UndeliveredEvents, err = s.events.UndeliveredCount(ctx)
	if err != nil {
		s.internalError(w, "load undelivered count", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type syncSummary struct {
	Type       domain.SyncType `json:"type"`
	Metrics    int             `json:"metrics"`
	Workouts   int             `json:"workouts"`
	Sleep      int             `json:"sleep"`
	Failed     int             `json:"failed"`
	DurationMS int64           `json:"duration_ms"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	stats, err := s.syncer.Sync(r.Context(), service.SyncRequest{
		Type: domain.SyncForeground,
		Days: s.fullDays,
	})
	if errors.Is(err, service.ErrSyncInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
		return
	}
	if err != nil {
		s.internalError(w, "manual sync", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "completed",
		"stats": syncSummary{
			Type:       stats.Type,
			Metrics:    stats.Metrics,
			Workouts:   stats.Workouts,
			Sleep:      stats.Sleep,
			Failed:     stats.Failed,
			DurationMS: stats.Duration.Milliseconds(),
		},
	})
}

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 500
)

func (s *Server) handleUnprocessed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	kind := domain.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.KindMetrics
	}

	limit := defaultFeedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxFeedLimit)
	}

	ctx := r.Context()

	var (
		records any
		err     error
	)
	switch kind {
	case domain.KindMetrics:
		records, err = s.records.UnprocessedMetrics(ctx, limit)
	case domain.KindWorkouts:
		records, err = s.records.UnprocessedWorkouts(ctx, limit)
	case domain.KindSleep:
		records, err = s.records.UnprocessedSleep(ctx, limit)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	if err != nil {
		s.internalError(w, "load unprocessed records", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    kind,
		"records": records,
	})
}

type processedRequest struct {
	Kind domain.Kind `json:"kind"`
	IDs  []int64     `json:"ids"`
}

func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req processedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no ids"})
		return
	}

	now := time.Now().UTC()

	var err error
	switch req.Kind {
	case domain.KindMetrics:
		err = s.records.MarkMetricsProcessed(r.Context(), req.IDs, now)
	case domain.KindWorkouts:
		err = s.records.MarkWorkoutsProcessed(r.Context(), req.IDs, now)
	case domain.KindSleep:
		err = s.records.MarkSleepProcessed(r.Context(), req.IDs, now)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	if err != nil {
		s.internalError(w, "mark processed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":      req.Kind,
		"processed": len(req.IDs),
	})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
