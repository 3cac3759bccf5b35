package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/ports"
)

const noVoiceNotePlaceholder = "Video clip (no voice note recorded)"

// GenerateInput describes one report generation attempt. Items must return a
// fresh copy of the active items every time it is called: upload state moves
// underneath the generator while it waits.
type GenerateInput struct {
	Notes      string
	ReportType domain.ReportType
	Items      func() []domain.CapturedItem
}

// ReportGenerator turns the active captured items into a summary request,
// calls the hosted summary function and prepares the review payload.
type ReportGenerator struct {
	storage    ports.ObjectStorage
	summary    ports.SummaryService
	compressor ports.ImageCompressor
	limits     ReportLimits
	observer   PipelineObserver
	logger     *slog.Logger
}

func NewReportGenerator(
	storage ports.ObjectStorage,
	summary ports.SummaryService,
	compressor ports.ImageCompressor,
	limits ReportLimits,
	observer PipelineObserver,
	logger *slog.Logger,
) *ReportGenerator {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportGenerator{
		storage:    storage,
		summary:    summary,
		compressor: compressor,
		limits:     limits.normalize(),
		observer:   observer,
		logger:     logger,
	}
}

type imageRef struct {
	itemID string
	path   string
	ref    string
	signed bool
	ok     bool
}

func (g *ReportGenerator) Generate(ctx context.Context, in GenerateInput) (*domain.GeneratedReport, error) {
	if in.Items == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "generate report", errors.New("items source is nil"))
	}
	reportType := in.ReportType
	if reportType == "" {
		reportType = domain.ReportDaily
	}

	photos, videos := partitionItems(in.Items())
	capped := capPhotos(photos, g.limits.AIPhotoCap)
	refs := g.resolveImageRefs(ctx, capped, nil)
	videoLines := buildVideoContextLines(videos)

	if anyUploading(capped) {
		ids := itemIDs(capped)
		if !g.waitForUploads(ctx, in.Items, ids) && ctx.Err() != nil {
			return nil, fmt.Errorf("wait for thumbnail uploads: %w", ctx.Err())
		}
		capped = pickItems(in.Items(), ids)
		refs = g.resolveImageRefs(ctx, capped, refs)
	}

	req := domain.SummaryRequest{
		Notes:             in.Notes,
		ImageURLs:         make([]string, 0, len(refs)),
		PhotoCaptions:     make([]string, 0, len(refs)),
		VideoContextLines: videoLines,
		ReportType:        reportType,
	}
	captions := captionsByID(capped)
	signed, inline := 0, 0
	for _, ref := range refs {
		if !ref.ok {
			continue
		}
		req.ImageURLs = append(req.ImageURLs, ref.ref)
		req.PhotoCaptions = append(req.PhotoCaptions, captions[ref.itemID])
		if ref.signed {
			signed++
		} else {
			inline++
		}
	}
	g.observer.ImageRefsResolved(signed, inline)

	var (
		summary string
		display []domain.DisplayItem
		group   errgroup.Group
	)
	group.Go(func() error {
		var err error
		summary, err = g.callSummary(ctx, req)
		return err
	})
	group.Go(func() error {
		display = encodeDisplayItems(in.Items())
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &domain.GeneratedReport{
		ReportType:     reportType,
		Summary:        summary,
		Items:          display,
		ImageRefs:      signed + inline,
		SignedURLRefs:  signed,
		InlineFallback: inline,
	}, nil
}

// resolveImageRefs resolves every photo concurrently. Entries from previous
// whose thumbnail path has not changed are reused as-is.
func (g *ReportGenerator) resolveImageRefs(ctx context.Context, photos []domain.CapturedItem, previous []imageRef) []imageRef {
	reuse := make(map[string]imageRef, len(previous))
	for _, ref := range previous {
		if ref.ok {
			reuse[ref.itemID] = ref
		}
	}

	out := make([]imageRef, len(photos))
	var group errgroup.Group
	group.SetLimit(g.limits.ResolveParallel)
	for i, photo := range photos {
		if prev, ok := reuse[photo.ID]; ok && prev.path == photo.RemoteThumbnailPath {
			out[i] = prev
			continue
		}
		group.Go(func() error {
			out[i] = g.resolveImageRef(ctx, photo)
			return nil
		})
	}
	_ = group.Wait()
	return out
}

func (g *ReportGenerator) resolveImageRef(ctx context.Context, photo domain.CapturedItem) imageRef {
	ref := imageRef{itemID: photo.ID, path: photo.RemoteThumbnailPath}

	if photo.RemoteThumbnailPath != "" {
		url, err := g.storage.CreateSignedURL(ctx, photo.RemoteThumbnailPath, g.limits.SignedURLTTL)
		if err == nil {
			ref.ref, ref.signed, ref.ok = url, true, true
			return ref
		}
		g.logger.Warn("signed_url_failed", "item_id", photo.ID, "path", photo.RemoteThumbnailPath, "error", err)
	}

	small, err := g.compressor.Compress(photo.Binary, g.limits.AIImageMaxDim)
	if err != nil {
		g.logger.Warn("ai_image_compress_failed", "item_id", photo.ID, "error", err)
		return ref
	}
	ref.ref, ref.ok = dataURL("image/jpeg", small), true
	return ref
}

// waitForUploads polls until none of ids is still uploading or the settle
// deadline passes. It returns true when everything settled.
func (g *ReportGenerator) waitForUploads(ctx context.Context, items func() []domain.CapturedItem, ids []string) bool {
	deadline := time.NewTimer(g.limits.SettleWait)
	defer deadline.Stop()
	ticker := time.NewTicker(g.limits.SettlePoll)
	defer ticker.Stop()

	for {
		pending := countUploading(pickItems(items(), ids))
		if pending == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			g.logger.Info("upload_settle_deadline", "pending_uploads", pending, "wait", g.limits.SettleWait.String())
			return false
		case <-ticker.C:
		}
	}
}

func (g *ReportGenerator) callSummary(ctx context.Context, req domain.SummaryRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.limits.SummaryTimeout)
	defer cancel()

	type result struct {
		summary string
		err     error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		summary, err := g.summary.GenerateSummary(callCtx, req)
		done <- result{summary: summary, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}
	elapsed := time.Since(start)

	switch {
	case res.err == nil && strings.TrimSpace(res.summary) != "":
		g.observer.SummaryFinished(SummaryOK, elapsed)
		return strings.TrimSpace(res.summary), nil
	case res.err == nil:
		g.observer.SummaryFinished(SummaryEmpty, elapsed)
		return "", domain.WrapError(domain.ErrEmptySummary, "generate summary", errors.New("response carried no summary text"))
	case ctx.Err() != nil:
		g.observer.SummaryFinished(SummaryCanceled, elapsed)
		return "", fmt.Errorf("generate summary: %w", ctx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		g.observer.SummaryFinished(SummaryTimeout, elapsed)
		g.logger.Warn("summary_timeout", "timeout", g.limits.SummaryTimeout.String(), "images", len(req.ImageURLs))
		return "", domain.WrapError(domain.ErrSummaryTimeout, "generate summary", callCtx.Err())
	default:
		g.observer.SummaryFinished(SummaryError, elapsed)
		g.logger.Warn("summary_failed", "error", res.err)
		if domain.IsKind(res.err, domain.ErrSummaryService) {
			return "", res.err
		}
		return "", domain.WrapError(domain.ErrSummaryService, "generate summary", res.err)
	}
}

func partitionItems(items []domain.CapturedItem) (photos, videos []domain.CapturedItem) {
	for _, item := range items {
		if !item.Active() {
			continue
		}
		switch item.Kind {
		case domain.KindPhoto:
			photos = append(photos, item)
		case domain.KindVideo:
			videos = append(videos, item)
		}
	}
	return photos, videos
}

func capPhotos(photos []domain.CapturedItem, limit int) []domain.CapturedItem {
	if len(photos) <= limit {
		return photos
	}
	return photos[:limit]
}

func buildVideoContextLines(videos []domain.CapturedItem) []string {
	lines := make([]string, 0, len(videos))
	for _, video := range videos {
		switch {
		case strings.TrimSpace(video.VoiceNote) != "":
			lines = append(lines, strings.TrimSpace(video.VoiceNote))
		case strings.TrimSpace(video.Caption) != "":
			lines = append(lines, strings.TrimSpace(video.Caption))
		default:
			lines = append(lines, noVoiceNotePlaceholder)
		}
	}
	return lines
}

func encodeDisplayItems(items []domain.CapturedItem) []domain.DisplayItem {
	out := make([]domain.DisplayItem, 0, len(items))
	for _, item := range items {
		if !item.Active() {
			continue
		}
		out = append(out, domain.DisplayItem{
			ID:         item.ID,
			Kind:       item.Kind,
			DataURL:    dataURL(item.MimeType, item.Binary),
			Caption:    item.Caption,
			VoiceNote:  item.VoiceNote,
			Location:   item.Location,
			CapturedAt: item.CapturedAt,
		})
	}
	return out
}

func anyUploading(items []domain.CapturedItem) bool {
	return countUploading(items) > 0
}

func countUploading(items []domain.CapturedItem) int {
	n := 0
	for _, item := range items {
		if item.UploadState == domain.UploadUploading {
			n++
		}
	}
	return n
}

func itemIDs(items []domain.CapturedItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// pickItems returns the active items matching ids, in ids order.
func pickItems(items []domain.CapturedItem, ids []string) []domain.CapturedItem {
	byID := make(map[string]domain.CapturedItem, len(items))
	for _, item := range items {
		if item.Active() {
			byID[item.ID] = item
		}
	}
	out := make([]domain.CapturedItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

func captionsByID(items []domain.CapturedItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, item := range items {
		out[item.ID] = item.Caption
	}
	return out
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
