package ports

import (
	"context"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// DraftStore persists full snapshots of in-progress capture sessions.
// Load returns nil, nil when no snapshot exists for key.
type DraftStore interface {
	Save(ctx context.Context, key string, draft domain.DraftSession) error
	Load(ctx context.Context, key string) (*domain.DraftSession, error)
	Clear(ctx context.Context, key string) error
}

// OfflineQueue durably stores media captured while offline.
type OfflineQueue interface {
	Enqueue(ctx context.Context, item domain.PendingMediaItem) error
}

// PendingMediaSource is the consumer side of the offline queue, used by the sync worker.
type PendingMediaSource interface {
	ListPending(ctx context.Context, limit int) ([]domain.PendingMediaItem, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Count(ctx context.Context) (int, error)
}

// ObjectStorage stores media and issues short-lived read URLs.
type ObjectStorage interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// SummaryService is the hosted report summary function.
type SummaryService interface {
	GenerateSummary(ctx context.Context, req domain.SummaryRequest) (string, error)
}

// Labeler produces a short caption for one captured item.
type Labeler interface {
	Label(ctx context.Context, req domain.LabelRequest) (string, error)
}

// Transcriber turns a recorded voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// ImageCompressor re-encodes an image as JPEG bounded by maxDim on its longest side.
type ImageCompressor interface {
	Compress(data []byte, maxDim int) ([]byte, error)
}

// Identity resolves the authenticated user carried by ctx.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// Connectivity reports whether remote collaborators are reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// MediaRepository persists remote media and report records.
type MediaRepository interface {
	CreateReport(ctx context.Context, report domain.ReportRecord) error
	CreateMedia(ctx context.Context, media domain.MediaRecord) error
}

// EventPublisher announces media that reached remote storage.
type EventPublisher interface {
	PublishMediaSynced(ctx context.Context, event domain.MediaSyncedEvent) error
}
