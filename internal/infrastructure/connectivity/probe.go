package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Options struct {
	HealthURL    string
	Timeout      time.Duration
	TTL          time.Duration
	ForceOffline bool
	Logger       *slog.Logger
}

// Probe reports the gateway as online when its health URL answers below 500.
// Results are cached for TTL so a burst of submits costs one request.
type Probe struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	online    bool
}

func NewProbe(opts Options) *Probe {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Probe) Online(ctx context.Context) bool {
	if p.opts.ForceOffline {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.TTL > 0 && !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < p.opts.TTL {
		return p.online
	}

	online := p.check(ctx)
	if online != p.online || p.checkedAt.IsZero() {
		p.logger.Info("connectivity_changed", "online", online, "health_url", p.opts.HealthURL)
	}
	p.online = online
	p.checkedAt = p.now()
	return online
}

func (p *Probe) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
