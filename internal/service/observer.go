package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"healthsync/internal/config"
	"healthsync/internal/domain"
)

// Observer coalesces platform change notifications into throttled
// observer-type syncs. Bursts of notifications collapse into one owed sync;
// an owed sync is never dropped, only deferred.
type Observer struct {
	syncer   Syncer
	throttle time.Duration
	requeue  time.Duration
	days     int
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	timer   *time.Timer
	pending bool
	closed  bool

	now func() time.Time
}

func NewObserver(syncer Syncer, cfg config.SyncConfig, logger *slog.Logger) *Observer {
	return &Observer{
		syncer:   syncer,
		throttle: cfg.ObserverThrottle,
		requeue:  cfg.ObserverRequeue,
		days:     cfg.IncrementalDays,
		logger:   logger,
		ctx:      context.Background(),
		now:      time.Now,
	}
}

// Start binds the context used for observer-triggered syncs. Cancelling it
// stops the controller.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.Stop()
	}()
}

// Stop cancels any scheduled sync. Notifications after Stop are ignored.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
	}
}

// NotifyChange marks a sync owed for the changed type. The sync fires no
// earlier than throttle after the last sync attempt; further notifications
// before it fires coalesce into it.
func (o *Observer) NotifyChange(t domain.MetricType) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	o.logger.Debug("change observed", "type", t)

	if o.pending {
		return
	}

	o.pending = true
	o.scheduleLocked(o.delayLocked())
}

func (o *Observer) delayLocked() time.Duration {
	due := o.syncer.LastSyncAttempt().Add(o.throttle)
	delay := due.Sub(o.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (o *Observer) scheduleLocked(delay time.Duration) {
	o.timer = time.AfterFunc(delay, o.fire)
}

func (o *Observer) fire() {
	o.mu.Lock()
	if o.closed {
		o.pending = false
		o.mu.Unlock()
		return
	}
	// The owed sync is being served now; notifications arriving during it
	// schedule the next one.
	o.pending = false
	ctx := o.ctx
	o.mu.Unlock()

	_, err := o.syncer.Sync(ctx, SyncRequest{Type: domain.SyncObserver, Days: o.days})

	switch {
	case errors.Is(err, ErrSyncInProgress):
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed || o.pending {
			return
		}
		o.pending = true
		o.scheduleLocked(o.requeue)
	case errors.Is(err, context.Canceled):
	case err != nil:
		o.logger.Error("observer sync failed", "error", err)
	}
}
