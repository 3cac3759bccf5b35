package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/ports"
)

// ThumbnailUploader pushes a small AI-ready copy of each photo to object
// storage as soon as it is captured. Failures are swallowed: they only show up
// later as a missing fast-path URL.
type ThumbnailUploader struct {
	storage    ports.ObjectStorage
	compressor ports.ImageCompressor
	maxDim     int
	observer   PipelineObserver
	logger     *slog.Logger
}

func NewThumbnailUploader(
	storage ports.ObjectStorage,
	compressor ports.ImageCompressor,
	maxDim int,
	observer PipelineObserver,
	logger *slog.Logger,
) *ThumbnailUploader {
	if maxDim <= 0 {
		maxDim = DefaultReportLimits().AIImageMaxDim
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailUploader{
		storage:    storage,
		compressor: compressor,
		maxDim:     maxDim,
		observer:   observer,
		logger:     logger,
	}
}

// Upload returns the storage key of the uploaded thumbnail, or ok=false.
// Every attempt writes its own key, so a superseded upload finishing late
// never overwrites the object a newer attempt produced.
func (u *ThumbnailUploader) Upload(ctx context.Context, userID string, item domain.CapturedItem, attempt uint64) (path string, ok bool) {
	path, err := u.upload(ctx, userID, item, attempt)
	if err != nil {
		u.logger.Warn("thumbnail_upload_failed", "item_id", item.ID, "error", err)
		u.observer.ThumbnailUploaded(false)
		return "", false
	}
	u.observer.ThumbnailUploaded(true)
	return path, true
}

func (u *ThumbnailUploader) upload(ctx context.Context, userID string, item domain.CapturedItem, attempt uint64) (string, error) {
	if userID == "" {
		return "", domain.ErrUnauthenticated
	}
	if item.Kind != domain.KindPhoto {
		return "", domain.WrapError(domain.ErrInvalidInput, "thumbnail upload", fmt.Errorf("item kind %q", item.Kind))
	}

	small, err := u.compressor.Compress(item.Binary, u.maxDim)
	if err != nil {
		return "", fmt.Errorf("compress thumbnail: %w", err)
	}

	path := ThumbnailPath(userID, item.ID, attempt)
	if err := u.storage.Upload(ctx, path, small, "image/jpeg"); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}
	return path, nil
}

func ThumbnailPath(userID, itemID string, attempt uint64) string {
	return fmt.Sprintf("thumbnails/%s/%s-%d.jpg", userID, itemID, attempt)
}
