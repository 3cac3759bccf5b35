package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/usecase"
)

const testToken = "token-u1"

type tokensFake struct{}

func (tokensFake) Verify(raw string) (string, error) {
	if raw == testToken {
		return "u1", nil
	}
	return "", domain.WrapError(domain.ErrUnauthenticated, "verify", errors.New("bad token"))
}

type sessionFake struct {
	mu sync.Mutex

	items      []domain.CapturedItem
	notes      string
	linked     string
	addedFiles []domain.CaptureFile
	addedMeta  domain.CaptureMetadata
	captions   map[string]string
	voiceNotes map[string]string
	annotated  map[string][]byte
	deleted    []string
	discarded  bool
	submitType domain.ReportType
	transcript string

	err          error
	submitResult *usecase.SubmitResult
	submitErr    error
}

func newSessionFake() *sessionFake {
	return &sessionFake{
		captions:   make(map[string]string),
		voiceNotes: make(map[string]string),
		annotated:  make(map[string][]byte),
	}
}

func (f *sessionFake) AddItems(_ context.Context, files []domain.CaptureFile, meta domain.CaptureMetadata) (usecase.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return usecase.AddResult{}, f.err
	}
	f.addedFiles = append(f.addedFiles, files...)
	f.addedMeta = meta
	ids := make([]string, 0, len(files))
	for i := range files {
		ids = append(ids, "id-"+string(rune('a'+i)))
	}
	return usecase.AddResult{IDs: ids}, nil
}

func (f *sessionFake) DeleteItem(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *sessionFake) EditCaption(id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.captions[id] = text
	return nil
}

func (f *sessionFake) Annotate(id string, annotated []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.annotated[id] = annotated
	return nil
}

func (f *sessionFake) AttachVoiceNote(id, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.voiceNotes[id] = transcript
	return nil
}

func (f *sessionFake) TranscribeVoiceNote(_ context.Context, id string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.voiceNotes[id] = f.transcript
	return f.transcript, nil
}

func (f *sessionFake) SetNotes(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = text
}

func (f *sessionFake) LinkReport(reportID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked = reportID
}

func (f *sessionFake) DiscardAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = true
	return nil
}

func (f *sessionFake) Submit(_ context.Context, reportType domain.ReportType) (*usecase.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitType = reportType
	return f.submitResult, f.submitErr
}

func (f *sessionFake) Items() []domain.CapturedItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CapturedItem(nil), f.items...)
}

func (f *sessionFake) Notes() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes
}

func (f *sessionFake) LinkedReportID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linked
}

type providerFake struct {
	session  *sessionFake
	restored bool
	owners   []string
}

func (p *providerFake) Open(_ context.Context, owner string) (Session, bool, error) {
	p.owners = append(p.owners, owner)
	restored := p.restored
	p.restored = false
	return p.session, restored, nil
}

type syncNotifierFake struct {
	users []string
}

func (f *syncNotifierFake) RequestSync(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return nil
}

type mediaReaderFake struct {
	objects map[string][]byte
}

func (f mediaReaderFake) Verify(_, _, signature string) error {
	if signature != "good" {
		return domain.WrapError(domain.ErrUnauthenticated, "verify media url", errors.New("bad signature"))
	}
	return nil
}

func (f mediaReaderFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open media", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type testEnv struct {
	handler  http.Handler
	session  *sessionFake
	provider *providerFake
	sync     *syncNotifierFake
}

func newTestEnv(cfg config.Config) *testEnv {
	session := newSessionFake()
	provider := &providerFake{session: session}
	notifier := &syncNotifierFake{}
	handler := NewRouter(cfg, RouterDeps{
		Sessions: provider,
		Tokens:   tokensFake{},
		Media:    mediaReaderFake{objects: map[string][]byte{"thumbnails/u1/p1.jpg": []byte("jpeg")}},
		Sync:     notifier,
	}).Handler()
	return &testEnv{handler: handler, session: session, provider: provider, sync: notifier}
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestEnv(cfg).handler
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	res := httptest.NewRecorder()
	e.handler.ServeHTTP(res, req)
	return res
}
