package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthsync/internal/adapter"
	"healthsync/internal/auth"
	"healthsync/internal/config"
	"healthsync/internal/domain"
	"healthsync/internal/provider"
	"healthsync/internal/provider/healthconnect"
	"healthsync/internal/provider/healthkit"
	"healthsync/internal/scheduler"
	"healthsync/internal/service"
	"healthsync/internal/status"
	"healthsync/internal/storage/sqlite"
	"healthsync/internal/uploader"
	"healthsync/internal/webhook"
)

const version = "0.4.1"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.Storage.Path)

	// Initialize stores
	recordStore := sqlite.NewRecordStore(db)
	syncStateStore := sqlite.NewSyncStateStore(db)
	syncLogStore := sqlite.NewSyncLogStore(db)
	eventStore := sqlite.NewEventStore(db)
	appConfigStore := sqlite.NewAppConfigStore(db)
	txManager := sqlite.NewTransactionManager(db)

	tokens := auth.New(cfg.Backend.APIToken, cfg.Backend.TokenFile)

	// Initialize platform health store
	store, err := newHealthStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize health store", "error", err)
		os.Exit(1)
	}

	collector := adapter.New(store, logger)

	installID, err := appConfigStore.InstallID(context.Background())
	if err != nil {
		logger.Error("failed to load install id", "error", err)
		os.Exit(1)
	}
	device := domain.DeviceInfo{
		DeviceID: installID,
		Platform: cfg.Platform,
		Agent:    "healthsyncd/" + version,
	}

	dispatcher := webhook.New(eventStore, tokens, device, webhook.Config{
		ExternalURL: cfg.Webhook.ExternalURL,
		BackendURL:  cfg.Backend.BaseURL,
		MaxRetries:  cfg.Webhook.MaxRetries,
		Timeout:     cfg.Backend.Timeout,
	}, logger)

	// Uploads are optional; without a backend URL records stay local.
	var up service.Uploader
	if cfg.Backend.BaseURL != "" {
		client := uploader.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, tokens)
		up = uploader.New(client, recordStore, tokens, uploader.Config{
			BatchSize:         cfg.Backend.BatchSize,
			MetricFetchLimit:  cfg.Backend.MetricFetchLimit,
			WorkoutFetchLimit: cfg.Backend.WorkoutFetchLimit,
			SleepFetchLimit:   cfg.Backend.SleepFetchLimit,
			MaxAttempts:       cfg.Backend.MaxAttempts,
			InitialBackoff:    cfg.Backend.InitialBackoff,
			MaxBackoff:        cfg.Backend.MaxBackoff,
		}, logger)
	} else {
		logger.Info("backend upload disabled, no base url configured")
	}

	syncService := service.NewSyncService(
		collector,
		recordStore,
		syncStateStore,
		syncLogStore,
		txManager,
		dispatcher,
		up,
		logger,
		cfg.Sync,
	)

	sched := scheduler.NewScheduler(syncService, dispatcher, recordStore, eventStore, scheduler.Config{
		SyncInterval:    cfg.Sync.Interval,
		FullDays:        cfg.Sync.FullDays,
		SweepInterval:   cfg.Webhook.SweepInterval,
		SweepBatch:      cfg.Webhook.SweepBatch,
		PurgeInterval:   cfg.PurgeInterval,
		RetentionDays:   cfg.Storage.RetentionDays,
		EventMaxRetries: cfg.Webhook.MaxRetries,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// The store may become reachable later; the scheduler keeps trying.
	if err := store.CheckAvailability(ctx); err != nil {
		logger.Warn("health store not available yet", "error", err)
	}

	// Wire change observation where the platform supports it
	observer := service.NewObserver(syncService, cfg.Sync, logger)
	observer.Start(ctx)
	stopObserve, err := store.Observe(observedTypes(cfg.Provider.HealthKit.ObservedTypes, logger), observer.NotifyChange)
	switch {
	case errors.Is(err, provider.ErrObserveUnsupported):
		logger.Info("change observation not supported", "source", store.Source())
	case err != nil:
		// Periodic syncs still run without it.
		logger.Warn("change observation unavailable", "error", err)
	default:
		defer stopObserve()
		logger.Info("observing health store changes", "source", store.Source())
	}

	var statusServer *status.Server
	if cfg.Status.Addr != "" {
		statusServer = status.New(cfg.Status.Addr, syncService, recordStore, syncStateStore, syncLogStore, eventStore, store.Source(), cfg.Sync.FullDays, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server error", "error", err)
				cancel()
			}
		}()
	}

	logger.Info("starting healthsync agent",
		"version", version,
		"platform", cfg.Platform,
		"source", store.Source(),
		"sync_interval", cfg.Sync.Interval,
	)

	err = sched.Start(ctx)

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
		shutdownCancel()
	}

	if err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func newHealthStore(cfg *config.Config, logger *slog.Logger) (provider.HealthStore, error) {
	switch cfg.Platform {
	case "healthconnect":
		return healthconnect.New(healthconnect.Config{
			BaseURL:        cfg.Provider.HealthConnect.BaseURL,
			Timeout:        cfg.Provider.HealthConnect.Timeout,
			MaxAttempts:    cfg.Provider.HealthConnect.Retry.MaxAttempts,
			InitialBackoff: cfg.Provider.HealthConnect.Retry.InitialBackoff,
			MaxBackoff:     cfg.Provider.HealthConnect.Retry.MaxBackoff,
		}, logger), nil
	default:
		return healthkit.New(healthkit.Config{
			ExportDir: cfg.Provider.HealthKit.ExportDir,
		}, logger), nil
	}
}

// observedTypes maps configured type names onto known metric types. Unknown
// names are logged and skipped; an empty result means observe everything.
func observedTypes(names []string, logger *slog.Logger) []domain.MetricType {
	known := make(map[domain.MetricType]bool, len(domain.AllMetricTypes))
	for _, t := range domain.AllMetricTypes {
		known[t] = true
	}

	var out []domain.MetricType
	for _, name := range names {
		t := domain.MetricType(name)
		if !known[t] {
			logger.Warn("ignoring unknown observed type", "type", name)
			continue
		}
		out = append(out, t)
	}
	return out
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
