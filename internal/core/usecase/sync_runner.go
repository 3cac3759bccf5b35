package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/field-capture/internal/core/ports"
)

type queueCounter interface {
	Count(ctx context.Context) (int, error)
}

// SyncRunner drains the offline queue on a fixed interval and whenever
// Trigger is called, but only while the remote side is reachable.
type SyncRunner struct {
	syncer  ports.PendingMediaSyncer
	online  ports.Connectivity
	counter queueCounter
	onDepth func(int)
	logger  *slog.Logger
	trigger chan struct{}
}

func NewSyncRunner(
	syncer ports.PendingMediaSyncer,
	online ports.Connectivity,
	counter queueCounter,
	onDepth func(int),
	logger *slog.Logger,
) *SyncRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if onDepth == nil {
		onDepth = func(int) {}
	}
	return &SyncRunner{
		syncer:  syncer,
		online:  online,
		counter: counter,
		onDepth: onDepth,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a sync pass. Requests arriving while one is pending are coalesced.
func (r *SyncRunner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx ends.
func (r *SyncRunner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.RunOnce(ctx)
	}
}

// RunOnce performs one sync pass and returns how many items were delivered.
func (r *SyncRunner) RunOnce(ctx context.Context) int {
	defer r.reportDepth(ctx)

	if r.online != nil && !r.online.Online(ctx) {
		r.logger.Debug("sync_skipped_offline")
		return 0
	}
	synced, err := r.syncer.SyncPending(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("sync_pass_failed", "synced", synced, "error", err)
	}
	if synced > 0 {
		r.logger.Info("sync_pass_done", "synced", synced)
	}
	return synced
}

func (r *SyncRunner) reportDepth(ctx context.Context) {
	if r.counter == nil {
		return
	}
	depth, err := r.counter.Count(ctx)
	if err != nil {
		r.logger.Warn("queue_depth_failed", "error", err)
		return
	}
	r.onDepth(depth)
}
