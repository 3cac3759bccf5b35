package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled},
		{name: "no servers", err: fmt.Errorf("publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "disconnected", err: nats.ErrDisconnected, retryable: true, record: true},
		{name: "breaker open", err: gobreaker.ErrOpenState, retryable: true, record: true},
		{name: "bad subject", err: nats.ErrBadSubject, record: true},
		{name: "max payload", err: nats.ErrMaxPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrConnectionClosed); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected closed connection to be temporary, got %v", err)
	}
	permanent := errors.New("payload too large")
	if err := wrapTemporaryIfNeeded(permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error to stay as is, got %v", err)
	}
	if wrapTemporaryIfNeeded(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestSubjectOrDefault(t *testing.T) {
	if subjectOrDefault("", DefaultSyncedSubject) != "media.synced" {
		t.Fatalf("expected default subject")
	}
	if subjectOrDefault("custom.synced", DefaultSyncedSubject) != "custom.synced" {
		t.Fatalf("expected explicit subject")
	}
}
