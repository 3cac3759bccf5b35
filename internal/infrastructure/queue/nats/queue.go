package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/infrastructure/resilience"
)

const (
	DefaultSyncedSubject  = "media.synced"
	DefaultRequestSubject = "media.sync.requested"
)

// Bus publishes media lifecycle events and carries sync nudges from the API
// to the worker.
type Bus struct {
	conn           *nats.Conn
	syncedSubject  string
	requestSubject string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	SyncedSubject        string
	RequestSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("field-capture"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:           conn,
		syncedSubject:  subjectOrDefault(options.SyncedSubject, DefaultSyncedSubject),
		requestSubject: subjectOrDefault(options.RequestSubject, DefaultRequestSubject),
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Connected reports whether the underlying connection is usable.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *Bus) PublishMediaSynced(ctx context.Context, event domain.MediaSyncedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal media synced event: %w", err)
	}
	return b.publish(ctx, b.syncedSubject, payload)
}

// RequestSync asks the worker to drain the offline queue without waiting for
// its next tick.
func (b *Bus) RequestSync(ctx context.Context, userID string) error {
	payload, err := json.Marshal(syncRequest{UserID: userID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}
	return b.publish(ctx, b.requestSubject, payload)
}

// SubscribeSyncRequests calls handler for every sync nudge until ctx ends.
func (b *Bus) SubscribeSyncRequests(ctx context.Context, handler func(context.Context) error) error {
	sub, err := b.conn.QueueSubscribe(b.requestSubject, "sync-workers", func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var req syncRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			b.logger.Warn("sync_request_malformed", "error", err)
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx); err != nil {
			b.logger.Warn("sync_request_handler_failed", "user_id", req.UserID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (b *Bus) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

type syncRequest struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func subjectOrDefault(subject, fallback string) string {
	if subject == "" {
		return fallback
	}
	return subject
}
