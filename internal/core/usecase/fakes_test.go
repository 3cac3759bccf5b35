package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

type draftStoreFake struct {
	mu      sync.Mutex
	drafts  map[string]domain.DraftSession
	saves   int
	clears  int
	saveErr error
	loadErr error
}

func newDraftStoreFake() *draftStoreFake {
	return &draftStoreFake{drafts: make(map[string]domain.DraftSession)}
}

func (f *draftStoreFake) Save(_ context.Context, key string, draft domain.DraftSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.drafts[key] = draft
	return nil
}

func (f *draftStoreFake) Load(_ context.Context, key string) (*domain.DraftSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	draft, ok := f.drafts[key]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (f *draftStoreFake) Clear(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	delete(f.drafts, key)
	return nil
}

func (f *draftStoreFake) get(key string) (domain.DraftSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[key]
	return draft, ok
}

func (f *draftStoreFake) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type offlineQueueFake struct {
	mu     sync.Mutex
	order  []string
	items  map[string]domain.PendingMediaItem
	failed map[string]string
	failAt int
	calls  int
}

func newOfflineQueueFake() *offlineQueueFake {
	return &offlineQueueFake{items: make(map[string]domain.PendingMediaItem), failed: make(map[string]string)}
}

func (f *offlineQueueFake) Enqueue(_ context.Context, item domain.PendingMediaItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("disk full")
	}
	if _, ok := f.items[item.ID]; !ok {
		f.order = append(f.order, item.ID)
	}
	f.items[item.ID] = item
	delete(f.failed, item.ID)
	return nil
}

func (f *offlineQueueFake) ListPending(_ context.Context, limit int) ([]domain.PendingMediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PendingMediaItem, 0, limit)
	for _, id := range f.order {
		if len(out) == limit {
			break
		}
		if _, failed := f.failed[id]; failed {
			continue
		}
		out = append(out, f.items[id])
	}
	return out, nil
}

func (f *offlineQueueFake) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	for i, queued := range f.order {
		if queued == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *offlineQueueFake) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

func (f *offlineQueueFake) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order) - len(f.failed), nil
}

func (f *offlineQueueFake) len() int {
	n, _ := f.Count(context.Background())
	return n
}

type labelerFake struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req domain.LabelRequest) (string, error)
	calls []domain.LabelRequest
}

func (f *labelerFake) Label(ctx context.Context, req domain.LabelRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "Auto label", nil
	}
	return fn(ctx, req)
}

type transcriberFake struct {
	text string
	err  error
}

func (f *transcriberFake) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type compressorFake struct {
	err error
}

func (f *compressorFake) Compress(data []byte, _ int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("small-"), data...), nil
}

type storageFake struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	uploadErr error
	signErr   error
	gate      chan struct{}
}

func newStorageFake() *storageFake {
	return &storageFake{uploads: make(map[string][]byte)}
}

func (f *storageFake) Upload(ctx context.Context, path string, data []byte, _ string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads[path] = append([]byte(nil), data...)
	return nil
}

func (f *storageFake) CreateSignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://storage.test/signed/" + path, nil
}

func (f *storageFake) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.uploads[path]
	return ok
}

type summaryFake struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req domain.SummaryRequest) (string, error)
	calls []domain.SummaryRequest
}

func (f *summaryFake) GenerateSummary(ctx context.Context, req domain.SummaryRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "Site inspected.", nil
	}
	return fn(ctx, req)
}

func (f *summaryFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *summaryFake) lastCall() domain.SummaryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type identityFake struct {
	userID string
}

func (f identityFake) CurrentUserID(context.Context) (string, bool) {
	return f.userID, f.userID != ""
}

type connectivityFake struct {
	online bool
}

func (f connectivityFake) Online(context.Context) bool {
	return f.online
}

type handoffFake struct {
	mu      sync.Mutex
	batches []domain.HandoffBatch
	err     error
}

func (f *handoffFake) Handoff(_ context.Context, batch domain.HandoffBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

type observerFake struct {
	noopObserver
	mu        sync.Mutex
	labels    []string
	summaries []string
}

func (f *observerFake) LabelFinished(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, outcome)
}

func (f *observerFake) SummaryFinished(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, outcome)
}

func (f *observerFake) sawLabel(outcome string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.labels {
		if got == outcome {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
