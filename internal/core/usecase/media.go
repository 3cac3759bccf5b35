package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/ports"
)

const defaultSyncBatch = 20

// MediaSyncUseCase moves finalized captures into remote storage. Online
// submits go through Handoff directly; offline captures reach it through the
// queue drained by SyncPending.
type MediaSyncUseCase struct {
	storage   ports.ObjectStorage
	repo      ports.MediaRepository
	publisher ports.EventPublisher
	pending   ports.PendingMediaSource
	observer  SyncObserver
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewMediaSyncUseCase(
	storage ports.ObjectStorage,
	repo ports.MediaRepository,
	publisher ports.EventPublisher,
	pending ports.PendingMediaSource,
	observer SyncObserver,
	logger *slog.Logger,
	batchSize int,
) *MediaSyncUseCase {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultSyncBatch
	}
	return &MediaSyncUseCase{
		storage:   storage,
		repo:      repo,
		publisher: publisher,
		pending:   pending,
		observer:  observer,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Handoff records the report and delivers every item of the batch.
func (uc *MediaSyncUseCase) Handoff(ctx context.Context, batch domain.HandoffBatch) error {
	if batch.ReportID == "" || batch.UserID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "handoff", errors.New("report id and user id are required"))
	}

	now := uc.now().UTC()
	err := uc.repo.CreateReport(ctx, domain.ReportRecord{
		ID:         batch.ReportID,
		UserID:     batch.UserID,
		ReportType: batch.ReportType,
		Notes:      batch.Notes,
		Summary:    batch.Summary,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("create report record: %w", err)
	}

	for _, item := range batch.Items {
		if !item.Active() {
			continue
		}
		pending := domain.NewPendingMediaItem(item, batch.ReportID, batch.UserID, now)
		if err := uc.deliver(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

// SyncPending drains the offline queue oldest first. A transient failure ends
// the pass so later items never overtake an earlier one. An item rejected as
// invalid can never succeed and is marked failed so it stops blocking the line.
func (uc *MediaSyncUseCase) SyncPending(ctx context.Context) (int, error) {
	if uc.pending == nil {
		return 0, nil
	}

	synced := 0
	for {
		items, err := uc.pending.ListPending(ctx, uc.batchSize)
		if err != nil {
			return synced, fmt.Errorf("list pending media: %w", err)
		}
		if len(items) == 0 {
			return synced, nil
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return synced, err
			}
			uc.observer.ObserveQueueLag(uc.now().Sub(item.CreatedAt))
			if err := uc.deliver(ctx, item); err != nil {
				if !domain.IsKind(err, domain.ErrInvalidInput) {
					uc.logger.Warn("pending_media_sync_failed", "media_id", item.ID, "report_id", item.ReportID, "error", err)
					return synced, err
				}
				uc.logger.Error("pending_media_dead_lettered", "media_id", item.ID, "report_id", item.ReportID, "error", err)
				if markErr := uc.pending.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
					return synced, fmt.Errorf("mark media %s failed: %w", item.ID, markErr)
				}
				continue
			}
			if err := uc.pending.Remove(ctx, item.ID); err != nil {
				return synced, fmt.Errorf("remove synced media %s: %w", item.ID, err)
			}
			synced++
		}

		if len(items) < uc.batchSize {
			return synced, nil
		}
	}
}

func (uc *MediaSyncUseCase) deliver(ctx context.Context, item domain.PendingMediaItem) (err error) {
	uc.observer.StartMedia()
	start := time.Now()
	defer func() {
		uc.observer.FinishMedia(time.Since(start), err)
	}()

	if len(item.FileData) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "deliver media", fmt.Errorf("media %s has no data", item.ID))
	}

	storagePath := MediaPath(item.UserID, item.ReportID, item.ID, item.FileName)
	if err := uc.storage.Upload(ctx, storagePath, item.FileData, item.MimeType); err != nil {
		return fmt.Errorf("upload media %s: %w", item.ID, err)
	}

	record := domain.MediaRecord{
		ID:           item.ID,
		ReportID:     item.ReportID,
		UserID:       item.UserID,
		StoragePath:  storagePath,
		FileName:     item.FileName,
		MimeType:     item.MimeType,
		FileType:     item.FileType,
		FileSize:     item.FileSize,
		Caption:      item.Caption,
		VoiceNote:    item.VoiceNote,
		Latitude:     item.Latitude,
		Longitude:    item.Longitude,
		LocationName: item.LocationName,
		CapturedAt:   item.CapturedAt,
		CreatedAt:    item.CreatedAt,
	}
	if err := uc.repo.CreateMedia(ctx, record); err != nil {
		return fmt.Errorf("create media record %s: %w", item.ID, err)
	}

	if uc.publisher != nil {
		event := domain.MediaSyncedEvent{
			MediaID:     item.ID,
			ReportID:    item.ReportID,
			UserID:      item.UserID,
			StoragePath: storagePath,
		}
		if err := uc.publisher.PublishMediaSynced(ctx, event); err != nil {
			// The record exists already; a lost event is not worth a re-upload.
			uc.logger.Warn("media_synced_publish_failed", "media_id", item.ID, "error", err)
		}
	}
	return nil
}

// MediaPath is the storage key of a full-resolution media file.
func MediaPath(userID, reportID, mediaID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("media/%s/%s/%s%s", userID, reportID, mediaID, ext)
}
