package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestCallRetriesTransientFailureAndReturnsValue(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	attempts := 0
	errTransient := errors.New("gateway 503")
	label, err := Call(context.Background(), exec, "label", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errTransient
		}
		return "Rusted flange", nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTransient), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if label != "Rusted flange" || attempts != 3 {
		t.Fatalf("unexpected result label=%q attempts=%d", label, attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	attempts := 0
	errBadRequest := errors.New("gateway 400")
	err := exec.Execute(context.Background(), "transcribe", func(context.Context) error {
		attempts++
		return errBadRequest
	}, func(error) ErrorClassification {
		return ErrorClassification{}
	})
	if !errors.Is(err, errBadRequest) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsRetryingWhenContextEnds(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryInitialBackoff = time.Second
	cfg.RetryMaxBackoff = time.Second
	exec := NewExecutor(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	errTransient := errors.New("timeout")
	err := exec.Execute(ctx, "upload", func(context.Context) error {
		attempts++
		return errTransient
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTransient) || attempts != 1 {
		t.Fatalf("expected single attempt with last error, got attempts=%d err=%v", attempts, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("backoff must not outlive the context")
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errDown := errors.New("storage down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "s3.put", func(context.Context) error {
			return errDown
		}, classifier)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected storage error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "s3.put", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if exec.State("s3.put") != gobreaker.StateOpen {
		t.Fatalf("expected open breaker state")
	}
	if exec.State("never.called") != gobreaker.StateClosed {
		t.Fatalf("unknown operations report closed")
	}
}

func TestJitterStaysWithinSpread(t *testing.T) {
	exec := NewExecutor(Config{RetryJitter: 0.2}, nil)
	for i := 0; i < 100; i++ {
		got := exec.jitter(100 * time.Millisecond)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jitter out of range: %s", got)
		}
	}
}

func TestExecuteAppliesOperationPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.Operations = map[string]Policy{
		"nats":          {MaxAttempts: 5},
		"gateway.label": {MaxAttempts: 1},
		"gateway":       {MaxAttempts: 2},
	}
	exec := NewExecutor(cfg, nil)

	errTransient := errors.New("connection reset")
	retryable := func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	tests := []struct {
		operation string
		attempts  int
	}{
		{operation: "nats.publish", attempts: 5},
		{operation: "gateway.label", attempts: 1},
		{operation: "gateway.transcribe", attempts: 2},
		{operation: "s3.put", attempts: 3},
	}
	for _, tc := range tests {
		t.Run(tc.operation, func(t *testing.T) {
			attempts := 0
			err := exec.Execute(context.Background(), tc.operation, func(context.Context) error {
				attempts++
				return errTransient
			}, retryable)
			if !errors.Is(err, errTransient) {
				t.Fatalf("expected transient error, got %v", err)
			}
			if attempts != tc.attempts {
				t.Fatalf("expected %d attempts, got %d", tc.attempts, attempts)
			}
		})
	}
}

func TestDefaultConfigTunesRemoteCallFamilies(t *testing.T) {
	cfg := DefaultConfig().normalize()

	gateway := cfg.forOperation("gateway.label")
	if gateway.RetryMaxAttempts != 2 || gateway.BreakerMinRequests != 5 {
		t.Fatalf("unexpected gateway tuning attempts=%d min=%d", gateway.RetryMaxAttempts, gateway.BreakerMinRequests)
	}
	s3 := cfg.forOperation("s3.put")
	if s3.RetryMaxAttempts != 4 || s3.RetryMaxBackoff != 4*time.Second {
		t.Fatalf("unexpected s3 tuning attempts=%d max=%s", s3.RetryMaxAttempts, s3.RetryMaxBackoff)
	}
	nats := cfg.forOperation("nats.publish")
	if nats.RetryMaxAttempts != 5 || nats.RetryInitialBackoff != 50*time.Millisecond {
		t.Fatalf("unexpected nats tuning attempts=%d initial=%s", nats.RetryMaxAttempts, nats.RetryInitialBackoff)
	}
	other := cfg.forOperation("postgres.insert")
	if other.RetryMaxAttempts != 3 || other.BreakerOpenTimeout != 30*time.Second {
		t.Fatalf("unlisted operations keep the base settings, got %+v", other)
	}
}
