package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// SessionRegistry keeps one capture session per user.
type SessionRegistry struct {
	deps   SessionDeps
	limits CaptureLimits

	mu       sync.Mutex
	sessions map[string]*CaptureSession
}

func NewSessionRegistry(deps SessionDeps, limits CaptureLimits) *SessionRegistry {
	return &SessionRegistry{
		deps:     deps,
		limits:   limits,
		sessions: make(map[string]*CaptureSession),
	}
}

// Open returns the user's session, creating it and restoring the persisted
// draft on first use. restored is true only when a draft was loaded.
func (r *SessionRegistry) Open(ctx context.Context, owner string) (*CaptureSession, bool, error) {
	if owner == "" {
		return nil, false, domain.WrapError(domain.ErrUnauthenticated, "open session", errors.New("empty owner"))
	}

	r.mu.Lock()
	session, ok := r.sessions[owner]
	if !ok {
		session = NewCaptureSession(owner, r.deps, r.limits)
		r.sessions[owner] = session
	}
	session.touch()
	r.mu.Unlock()

	restored, err := session.Restore(ctx)
	if err != nil {
		return session, false, err
	}
	return session, restored, nil
}

// Get returns an open session without creating one.
func (r *SessionRegistry) Get(owner string) (*CaptureSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[owner]
	return session, ok
}

// Evict closes sessions not opened for longer than idle. Their drafts are
// flushed first, so the next Open restores them from the store.
func (r *SessionRegistry) Evict(ctx context.Context, idle time.Duration) int {
	now := time.Now()
	if r.deps.Now != nil {
		now = r.deps.Now()
	}

	r.mu.Lock()
	var stale []*CaptureSession
	for owner, session := range r.sessions {
		last, busy := session.idleSince()
		if busy || now.Sub(last) < idle {
			continue
		}
		stale = append(stale, session)
		delete(r.sessions, owner)
	}
	r.mu.Unlock()

	for _, session := range stale {
		if err := session.Close(ctx); err != nil {
			session.logger.Warn("session_evict_flush_failed", "error", err)
		}
	}
	return len(stale)
}

// RunEviction calls Evict every interval until ctx ends. A non-positive idle
// disables eviction.
func (r *SessionRegistry) RunEviction(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(ctx, idle); n > 0 && r.deps.Logger != nil {
				r.deps.Logger.Info("sessions_evicted", "count", n, "idle", idle.String())
			}
		}
	}
}

// Close flushes and stops every open session.
func (r *SessionRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*CaptureSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*CaptureSession)
	r.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
