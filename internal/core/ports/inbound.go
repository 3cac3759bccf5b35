package ports

import (
	"context"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// MediaHandoff is the inbound contract for handing finalized captures to remote storage.
type MediaHandoff interface {
	Handoff(ctx context.Context, batch domain.HandoffBatch) error
}

// PendingMediaSyncer is the inbound contract for draining the offline queue.
type PendingMediaSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}
