package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/ports"
)

// DraftSnapshot returns the session state to persist. ok is false when the
// session holds nothing worth keeping.
type DraftSnapshot func() (draft domain.DraftSession, ok bool)

// DraftPersister owns the debounced full-snapshot save of one capture session.
// Every Schedule call restarts the quiet period; Clear and Stop invalidate any
// save that has not run yet.
type DraftPersister struct {
	store    ports.DraftStore
	key      string
	quiet    time.Duration
	snapshot DraftSnapshot
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func NewDraftPersister(
	store ports.DraftStore,
	key string,
	quiet time.Duration,
	snapshot DraftSnapshot,
	logger *slog.Logger,
) *DraftPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &DraftPersister{
		store:    store,
		key:      key,
		quiet:    quiet,
		snapshot: snapshot,
		logger:   logger,
	}
}

// Schedule (re)starts the quiet period after which the snapshot is saved.
func (p *DraftPersister) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.gen++
	gen := p.gen
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.quiet, func() {
		p.fire(gen)
	})
}

// Pending reports whether a debounced save has not run yet.
func (p *DraftPersister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Flush runs a pending save immediately.
func (p *DraftPersister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer == nil {
		return nil
	}
	p.timer.Stop()
	p.timer = nil
	p.gen++
	return p.saveLocked(ctx)
}

// Clear drops any pending save and removes the stored snapshot.
func (p *DraftPersister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
	if err := p.store.Clear(ctx, p.key); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// Stop drops any pending save without touching the stored snapshot. Later
// Schedule calls are ignored.
func (p *DraftPersister) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.cancelLocked()
}

func (p *DraftPersister) cancelLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *DraftPersister) fire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		return
	}
	p.timer = nil
	if err := p.saveLocked(context.Background()); err != nil {
		p.logger.Warn("draft_save_failed", "draft_key", p.key, "error", err)
	}
}

func (p *DraftPersister) saveLocked(ctx context.Context) error {
	draft, ok := p.snapshot()
	if !ok {
		// Nothing active left: an older snapshot must not resurrect deleted work.
		if err := p.store.Clear(ctx, p.key); err != nil {
			return fmt.Errorf("clear empty draft: %w", err)
		}
		return nil
	}
	draft.SavedAt = time.Now().UTC()
	if err := p.store.Save(ctx, p.key, draft); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}
