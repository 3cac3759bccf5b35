package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/ports"
)

// SessionDeps are the collaborators shared by every capture session.
type SessionDeps struct {
	Drafts       ports.DraftStore
	Queue        ports.OfflineQueue
	Labeler      ports.Labeler
	Transcriber  ports.Transcriber
	Compressor   ports.ImageCompressor
	Thumbnails   *ThumbnailUploader
	Reports      *ReportGenerator
	Handoff      ports.MediaHandoff
	Identity     ports.Identity
	Connectivity ports.Connectivity
	Observer     PipelineObserver
	Logger       *slog.Logger
	Now          func() time.Time
}

type AddResult struct {
	IDs      []string `json:"ids"`
	Warnings []string `json:"warnings,omitempty"`
}

type SubmitResult struct {
	ReportID  string                  `json:"report_id"`
	Offline   bool                    `json:"offline"`
	Queued    int                     `json:"queued"`
	HandedOff int                     `json:"handed_off"`
	Report    *domain.GeneratedReport `json:"report,omitempty"`
}

// CaptureSession owns the captured items and notes of one user's in-progress
// capture. Item fields change only through update, which applies an id-scoped
// patch under the session lock; background completions never replace the list.
type CaptureSession struct {
	owner  string
	deps   SessionDeps
	limits CaptureLimits
	drafts *DraftPersister
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	items          []domain.CapturedItem
	index          map[string]int
	notes          string
	linkedReportID string
	labelSeq       map[string]uint64
	uploadSeq      map[string]uint64
	restored       bool
	submitting     bool
	closed         bool
	lastUsed       time.Time
}

func NewCaptureSession(owner string, deps SessionDeps, limits CaptureLimits) *CaptureSession {
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	limits = limits.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	s := &CaptureSession{
		owner:     owner,
		deps:      deps,
		limits:    limits,
		logger:    deps.Logger.With("session_owner", owner),
		ctx:       ctx,
		cancel:    cancel,
		index:     make(map[string]int),
		labelSeq:  make(map[string]uint64),
		uploadSeq: make(map[string]uint64),
		lastUsed:  deps.Now(),
	}
	s.drafts = NewDraftPersister(deps.Drafts, owner, limits.DraftQuietPeriod, s.draftSnapshot, s.logger)
	return s
}

func (s *CaptureSession) Owner() string {
	return s.owner
}

// Restore loads the persisted draft. Only the first call reads the store.
func (s *CaptureSession) Restore(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return false, nil
	}
	s.restored = true
	s.mu.Unlock()

	draft, err := s.deps.Drafts.Load(ctx, s.owner)
	if err != nil {
		s.mu.Lock()
		s.restored = false
		s.mu.Unlock()
		return false, fmt.Errorf("load draft: %w", err)
	}
	if draft == nil {
		return false, nil
	}

	var reupload []string
	s.mu.Lock()
	restored := make([]domain.CapturedItem, 0, len(draft.Items)+len(s.items))
	for _, item := range draft.ActiveItems() {
		item.Labeling = false
		if item.Kind == domain.KindPhoto && item.RemoteThumbnailPath == "" {
			item.UploadState = domain.UploadUploading
			reupload = append(reupload, item.ID)
		}
		restored = append(restored, item)
	}
	s.items = append(restored, s.items...)
	s.reindexLocked()
	if s.notes == "" {
		s.notes = draft.FreeformNotes
	}
	if s.linkedReportID == "" {
		s.linkedReportID = draft.LinkedReportID
	}
	s.mu.Unlock()

	for _, id := range reupload {
		s.startThumbnailUpload(id)
	}
	s.logger.Info("draft_restored", "items", len(restored), "saved_at", draft.SavedAt)
	return true, nil
}

// AddItems captures files into the session. Labeling and thumbnail uploads
// start in the background; AddItems never waits for them.
func (s *CaptureSession) AddItems(_ context.Context, files []domain.CaptureFile, meta domain.CaptureMetadata) (AddResult, error) {
	if len(files) == 0 {
		return AddResult{}, domain.WrapError(domain.ErrInvalidInput, "add items", errors.New("no files"))
	}

	items := make([]domain.CapturedItem, 0, len(files))
	for _, file := range files {
		item, err := s.newItem(file, meta)
		if err != nil {
			return AddResult{}, err
		}
		items = append(items, item)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return AddResult{}, domain.WrapError(domain.ErrInvalidInput, "add items", errors.New("session closed"))
	}
	photosBefore := s.activePhotoCountLocked()
	for _, item := range items {
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	photosAfter := s.activePhotoCountLocked()
	s.mu.Unlock()

	result := AddResult{IDs: make([]string, 0, len(items))}
	photos, videos := 0, 0
	for _, item := range items {
		result.IDs = append(result.IDs, item.ID)
		if item.Kind == domain.KindPhoto {
			photos++
			s.startThumbnailUpload(item.ID)
		} else {
			videos++
		}
		s.requestLabel(item.ID)
	}

	if photosBefore <= s.limits.AIPhotoCap && photosAfter > s.limits.AIPhotoCap {
		warning := fmt.Sprintf("AI summary will use the first %d photos", s.limits.AIPhotoCap)
		result.Warnings = append(result.Warnings, warning)
		s.logger.Warn("ai_photo_cap_exceeded", "active_photos", photosAfter, "cap", s.limits.AIPhotoCap)
	}

	s.deps.Observer.ItemsCaptured(domain.KindPhoto, photos)
	s.deps.Observer.ItemsCaptured(domain.KindVideo, videos)
	s.drafts.Schedule()
	return result, nil
}

func (s *CaptureSession) newItem(file domain.CaptureFile, meta domain.CaptureMetadata) (domain.CapturedItem, error) {
	if len(file.Data) == 0 {
		return domain.CapturedItem{}, domain.WrapError(domain.ErrInvalidInput, "add items", fmt.Errorf("file %q is empty", file.Name))
	}
	kind, ok := kindForMime(file.MimeType)
	if !ok {
		return domain.CapturedItem{}, domain.WrapError(domain.ErrInvalidInput, "add items", fmt.Errorf("unsupported media type %q", file.MimeType))
	}

	item := domain.CapturedItem{
		ID:       uuid.NewString(),
		Kind:     kind,
		FileName: file.Name,
		MimeType: file.MimeType,
		Binary:   append([]byte(nil), file.Data...),
	}
	if kind == domain.KindPhoto {
		item.UploadState = domain.UploadUploading
	}
	if meta.StampLocation {
		capturedAt := meta.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = s.deps.Now()
		}
		capturedAt = capturedAt.UTC()
		item.CapturedAt = &capturedAt
		if meta.Location != nil {
			loc := *meta.Location
			item.Location = &loc
		}
	}
	return item, nil
}

// DeleteItem soft-deletes an item. It stays in Items until submit or discard.
func (s *CaptureSession) DeleteItem(id string) error {
	return s.update(id, false, func(item *domain.CapturedItem) {
		item.Deleted = true
	})
}

// EditCaption sets a user caption. AI labels never overwrite it afterwards.
func (s *CaptureSession) EditCaption(id, text string) error {
	return s.update(id, true, func(item *domain.CapturedItem) {
		item.Caption = strings.TrimSpace(text)
		item.CaptionEdited = true
	})
}

// Annotate replaces the binary with an annotated version, keeping the binary
// from before the first annotation as OriginalBinary.
func (s *CaptureSession) Annotate(id string, annotated []byte) error {
	if len(annotated) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "annotate", errors.New("empty annotation"))
	}
	var isPhoto bool
	err := s.update(id, true, func(item *domain.CapturedItem) {
		if item.OriginalBinary == nil {
			item.OriginalBinary = item.Binary
		}
		item.Binary = append([]byte(nil), annotated...)
		if item.Kind == domain.KindPhoto {
			isPhoto = true
			item.RemoteThumbnailPath = ""
			item.UploadState = domain.UploadUploading
		}
	})
	if err != nil {
		return err
	}
	if isPhoto {
		s.startThumbnailUpload(id)
	}
	return nil
}

// AttachVoiceNote records a transcript and asks for a fresh label that takes
// it into account. Label requests issued before the note are discarded.
func (s *CaptureSession) AttachVoiceNote(id, transcript string) error {
	err := s.update(id, true, func(item *domain.CapturedItem) {
		item.VoiceNote = strings.TrimSpace(transcript)
	})
	if err != nil {
		return err
	}
	s.requestLabel(id)
	return nil
}

// TranscribeVoiceNote transcribes a recording and attaches the text.
func (s *CaptureSession) TranscribeVoiceNote(ctx context.Context, id string, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "transcribe voice note", errors.New("empty recording"))
	}
	if _, ok := s.item(id); !ok {
		return "", domain.WrapError(domain.ErrItemNotFound, "transcribe voice note", fmt.Errorf("item %s", id))
	}

	text, err := s.deps.Transcriber.Transcribe(ctx, audio, mimeType)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty transcript")
	}
	if err != nil {
		s.logger.Warn("voice_transcription_failed", "item_id", id, "error", err)
		if domain.IsKind(err, domain.ErrTemporary) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrTemporary, "transcribe voice note", err)
	}

	if err := s.AttachVoiceNote(id, text); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *CaptureSession) SetNotes(text string) {
	s.mu.Lock()
	s.notes = text
	s.mu.Unlock()
	s.drafts.Schedule()
}

func (s *CaptureSession) LinkReport(reportID string) {
	s.mu.Lock()
	s.linkedReportID = strings.TrimSpace(reportID)
	s.mu.Unlock()
	s.drafts.Schedule()
}

// DiscardAll drops every item and the persisted draft.
func (s *CaptureSession) DiscardAll(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	s.index = make(map[string]int)
	s.labelSeq = make(map[string]uint64)
	s.uploadSeq = make(map[string]uint64)
	s.notes = ""
	s.linkedReportID = ""
	s.mu.Unlock()

	return s.drafts.Clear(ctx)
}

// Submit finalizes the session. Offline it queues every active item and makes
// no AI call; online it generates the report and hands the items off. On any
// failure the captured items stay in the session for a retry.
func (s *CaptureSession) Submit(ctx context.Context, reportType domain.ReportType) (*SubmitResult, error) {
	userID, ok := s.deps.Identity.CurrentUserID(ctx)
	if !ok || userID == "" {
		if err := s.drafts.Flush(ctx); err != nil {
			s.logger.Warn("draft_flush_failed", "error", err)
		}
		return nil, domain.WrapError(domain.ErrUnauthenticated, "submit", errors.New("no authenticated user"))
	}

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("submit already in progress"))
	}
	s.submitting = true
	active := s.activeItemsLocked()
	notes := s.notes
	reportID := s.linkedReportID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	if len(active) == 0 {
		return nil, domain.WrapError(domain.ErrNothingToSubmit, "submit", errors.New("no active items"))
	}
	if reportID == "" {
		reportID = uuid.NewString()
	}

	if !s.deps.Connectivity.Online(ctx) {
		queued, err := s.enqueueAll(ctx, active, reportID, userID)
		if err != nil {
			return &SubmitResult{ReportID: reportID, Offline: true, Queued: queued}, err
		}
		s.logger.Info("submit_offline", "report_id", reportID, "queued", queued)
		s.finishSubmit(ctx, active)
		return &SubmitResult{ReportID: reportID, Offline: true, Queued: queued}, nil
	}

	report, err := s.deps.Reports.Generate(ctx, GenerateInput{
		Notes:      notes,
		ReportType: reportType,
		Items:      s.ActiveItems,
	})
	if err != nil {
		return nil, err
	}

	finalized := pickItems(s.ActiveItems(), itemIDs(active))
	result := &SubmitResult{ReportID: reportID, Report: report}
	err = s.deps.Handoff.Handoff(ctx, domain.HandoffBatch{
		ReportID:   reportID,
		UserID:     userID,
		ReportType: report.ReportType,
		Notes:      notes,
		Summary:    report.Summary,
		Items:      finalized,
	})
	if err != nil {
		s.logger.Warn("handoff_failed_queueing_offline", "report_id", reportID, "error", err)
		queued, qerr := s.enqueueAll(ctx, finalized, reportID, userID)
		result.Queued = queued
		if qerr != nil {
			return result, qerr
		}
	} else {
		result.HandedOff = len(finalized)
	}

	s.logger.Info("submit_online", "report_id", reportID, "handed_off", result.HandedOff, "queued", result.Queued,
		"image_refs", report.ImageRefs, "signed_refs", report.SignedURLRefs)
	s.finishSubmit(ctx, finalized)
	return result, nil
}

func (s *CaptureSession) enqueueAll(ctx context.Context, items []domain.CapturedItem, reportID, userID string) (int, error) {
	now := s.deps.Now().UTC()
	queued := 0
	for _, item := range items {
		pending := domain.NewPendingMediaItem(item, reportID, userID, now)
		if err := s.deps.Queue.Enqueue(ctx, pending); err != nil {
			s.logger.Error("offline_enqueue_failed", "item_id", item.ID, "queued", queued, "error", err)
			s.deps.Observer.OfflineQueued(queued)
			return queued, domain.WrapError(domain.ErrOfflineSave, "enqueue offline media", err)
		}
		queued++
	}
	s.deps.Observer.OfflineQueued(queued)
	return queued, nil
}

// finishSubmit removes submitted and deleted items. Items captured while the
// submit was running survive and keep the draft alive.
func (s *CaptureSession) finishSubmit(ctx context.Context, submitted []domain.CapturedItem) {
	done := make(map[string]struct{}, len(submitted))
	for _, item := range submitted {
		done[item.ID] = struct{}{}
	}

	s.mu.Lock()
	kept := s.items[:0:0]
	for _, item := range s.items {
		if _, ok := done[item.ID]; ok || item.Deleted {
			delete(s.labelSeq, item.ID)
			delete(s.uploadSeq, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	s.reindexLocked()
	remaining := len(kept)
	if remaining == 0 {
		s.notes = ""
		s.linkedReportID = ""
	}
	s.mu.Unlock()

	if remaining > 0 {
		s.drafts.Schedule()
		return
	}
	if err := s.drafts.Clear(ctx); err != nil {
		s.logger.Warn("draft_clear_failed", "error", err)
	}
}

// Items returns copies of every item, deleted ones included.
func (s *CaptureSession) Items() []domain.CapturedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CapturedItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	return out
}

// ActiveItems returns copies of the items that are not deleted.
func (s *CaptureSession) ActiveItems() []domain.CapturedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeItemsLocked()
}

func (s *CaptureSession) Notes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes
}

func (s *CaptureSession) LinkedReportID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkedReportID
}

// FlushDraft persists a pending draft save immediately.
func (s *CaptureSession) FlushDraft(ctx context.Context) error {
	return s.drafts.Flush(ctx)
}

// Close stops background work and persists any pending draft.
func (s *CaptureSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	err := s.drafts.Flush(ctx)
	s.drafts.Stop()
	return err
}

func (s *CaptureSession) touch() {
	s.mu.Lock()
	s.lastUsed = s.deps.Now()
	s.mu.Unlock()
}

// idleSince reports when the session was last opened. busy is true while a
// submit runs.
func (s *CaptureSession) idleSince() (last time.Time, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed, s.submitting
}

func (s *CaptureSession) item(id string) (domain.CapturedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok || s.items[idx].Deleted {
		return domain.CapturedItem{}, false
	}
	return s.items[idx].Clone(), true
}

// update is the single mutation entry point for item fields.
func (s *CaptureSession) update(id string, activeOnly bool, patch func(*domain.CapturedItem)) error {
	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok || (activeOnly && s.items[idx].Deleted) {
		s.mu.Unlock()
		return domain.WrapError(domain.ErrItemNotFound, "update item", fmt.Errorf("item %s", id))
	}
	patch(&s.items[idx])
	s.mu.Unlock()

	s.drafts.Schedule()
	return nil
}

func (s *CaptureSession) requestLabel(id string) {
	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.labelSeq[id]++
	seq := s.labelSeq[id]
	s.items[idx].Labeling = true
	item := s.items[idx].Clone()
	s.mu.Unlock()

	s.goBackground(func(ctx context.Context) {
		caption, err := s.labelWithTimeout(ctx, item)
		s.applyLabel(id, seq, caption, err)
	})
}

// labelWithTimeout bounds the label call by LabelTimeout even when the labeler
// ignores its context.
func (s *CaptureSession) labelWithTimeout(ctx context.Context, item domain.CapturedItem) (string, error) {
	labelCtx, cancel := context.WithTimeout(ctx, s.limits.LabelTimeout)
	defer cancel()

	type result struct {
		caption string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		caption, err := s.label(labelCtx, item)
		done <- result{caption: caption, err: err}
	}()

	select {
	case res := <-done:
		return res.caption, res.err
	case <-labelCtx.Done():
		return "", labelCtx.Err()
	}
}

func (s *CaptureSession) label(ctx context.Context, item domain.CapturedItem) (string, error) {
	req := domain.LabelRequest{Kind: item.Kind, VoiceNote: item.VoiceNote}
	if item.Kind == domain.KindPhoto {
		small, err := s.deps.Compressor.Compress(item.Binary, s.limits.LabelImageMaxDim)
		if err != nil {
			return "", fmt.Errorf("compress label image: %w", err)
		}
		req.Image = dataURL("image/jpeg", small)
	}
	return s.deps.Labeler.Label(ctx, req)
}

func (s *CaptureSession) applyLabel(id string, seq uint64, caption string, err error) {
	caption = strings.TrimSpace(caption)

	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok || s.labelSeq[id] != seq {
		s.mu.Unlock()
		s.deps.Observer.LabelFinished(LabelSuperseded)
		return
	}
	item := &s.items[idx]
	item.Labeling = false

	var outcome string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = LabelTimedOut
	case err != nil:
		outcome = LabelFailed
	case item.CaptionEdited:
		outcome = LabelUserEdited
	case caption == "":
		outcome = LabelEmpty
	default:
		item.Caption = caption
		outcome = LabelApplied
	}
	s.mu.Unlock()

	s.deps.Observer.LabelFinished(outcome)
	if err != nil {
		s.logger.Warn("label_failed", "item_id", id, "outcome", outcome, "error", err)
		return
	}
	if outcome == LabelApplied {
		s.drafts.Schedule()
	}
}

func (s *CaptureSession) startThumbnailUpload(id string) {
	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok || s.items[idx].Kind != domain.KindPhoto {
		s.mu.Unlock()
		return
	}
	s.uploadSeq[id]++
	seq := s.uploadSeq[id]
	item := s.items[idx].Clone()
	s.mu.Unlock()

	s.goBackground(func(ctx context.Context) {
		path, ok := s.deps.Thumbnails.Upload(ctx, s.owner, item, seq)
		s.applyThumbnail(id, seq, path, ok)
	})
}

func (s *CaptureSession) applyThumbnail(id string, seq uint64, path string, ok bool) {
	s.mu.Lock()
	idx, found := s.index[id]
	if !found || s.uploadSeq[id] != seq {
		s.mu.Unlock()
		return
	}
	item := &s.items[idx]
	if ok {
		item.RemoteThumbnailPath = path
		item.UploadState = domain.UploadUploaded
	} else {
		item.UploadState = domain.UploadFailed
	}
	s.mu.Unlock()

	s.drafts.Schedule()
}

func (s *CaptureSession) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *CaptureSession) draftSnapshot() (domain.DraftSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeItemsLocked()
	if len(active) == 0 && strings.TrimSpace(s.notes) == "" {
		return domain.DraftSession{}, false
	}
	return domain.DraftSession{
		Items:          active,
		FreeformNotes:  s.notes,
		LinkedReportID: s.linkedReportID,
	}, true
}

func (s *CaptureSession) activeItemsLocked() []domain.CapturedItem {
	out := make([]domain.CapturedItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Active() {
			out = append(out, item.Clone())
		}
	}
	return out
}

func (s *CaptureSession) activePhotoCountLocked() int {
	n := 0
	for _, item := range s.items {
		if item.Active() && item.Kind == domain.KindPhoto {
			n++
		}
	}
	return n
}

func (s *CaptureSession) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, item := range s.items {
		s.index[item.ID] = i
	}
}

func kindForMime(mimeType string) (domain.MediaKind, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.KindPhoto, true
	case strings.HasPrefix(mimeType, "video/"):
		return domain.KindVideo, true
	default:
		return "", false
	}
}
