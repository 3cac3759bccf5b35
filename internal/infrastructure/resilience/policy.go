package resilience

import (
	"strings"
	"time"
)

// Config holds the executor-wide retry and breaker settings. Operations
// overrides them per operation, keyed by the full operation name or by its
// family (the part before the first dot, e.g. "gateway" for "gateway.label").
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryJitter spreads each backoff by up to this fraction in either direction.
	RetryJitter float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	Operations map[string]Policy
}

// Policy tunes one operation or family. Zero fields inherit from Config.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinRequests    uint32
	OpenTimeout    time.Duration
}

// DefaultConfig carries the tuning for the remote calls the pipeline makes:
//
//	gateway  label and transcription calls already hold a rate-limit slot and
//	         a long per-attempt timeout, so they get one quick retry and a
//	         breaker that trips early.
//	s3       thumbnail and media puts are idempotent per key and ride out
//	         throttling with a longer backoff.
//	nats     publishes are cheap and mostly fail during a reconnect, so they
//	         retry fast and often.
func DefaultConfig() Config {
	cfg := baseConfig()
	cfg.Operations = map[string]Policy{
		"gateway": {
			MaxAttempts:    2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     time.Second,
			MinRequests:    5,
			OpenTimeout:    20 * time.Second,
		},
		"s3": {
			MaxAttempts:    4,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
			OpenTimeout:    time.Minute,
		},
		"nats": {
			MaxAttempts:    5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			MinRequests:    20,
			OpenTimeout:    10 * time.Second,
		},
	}
	return cfg
}

func baseConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,
		RetryJitter:         0.2,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// forOperation returns the settings that apply to operation. An exact name
// match wins over its family.
func (c Config) forOperation(operation string) Config {
	policy, ok := c.Operations[operation]
	if !ok {
		family, _, _ := strings.Cut(operation, ".")
		policy, ok = c.Operations[family]
	}
	if !ok {
		return c
	}

	out := c
	if policy.MaxAttempts > 0 {
		out.RetryMaxAttempts = policy.MaxAttempts
	}
	if policy.InitialBackoff > 0 {
		out.RetryInitialBackoff = policy.InitialBackoff
	}
	if policy.MaxBackoff > 0 {
		out.RetryMaxBackoff = policy.MaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if policy.MinRequests > 0 {
		out.BreakerMinRequests = policy.MinRequests
	}
	if policy.OpenTimeout > 0 {
		out.BreakerOpenTimeout = policy.OpenTimeout
	}
	return out
}

func (c Config) normalize() Config {
	out := c
	def := baseConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.RetryJitter < 0 || out.RetryJitter >= 1 {
		out.RetryJitter = 0
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
