package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/usecase"
)

type formFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+file.field+`"; filename="`+file.name+`"`)
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(file.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSessionRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer nope")
	if res := env.do(t, req); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.Code)
	}

	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/session/submit", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	if len(env.provider.owners) != 0 {
		t.Fatalf("session must not be opened for unauthenticated requests")
	}
}

func TestOpenSessionReportsRestoreAndHidesBinaries(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.provider.restored = true
	env.session.notes = "north wall"
	env.session.items = []domain.CapturedItem{
		{ID: "p1", Kind: domain.KindPhoto, Binary: []byte("abcd"), OriginalBinary: []byte("ab"), UploadState: domain.UploadUploaded},
	}

	res := env.do(t, httptest.NewRequest(http.MethodPost, "/v1/session", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if env.provider.owners[0] != "u1" {
		t.Fatalf("session must belong to the token subject, got %q", env.provider.owners[0])
	}
	if strings.Contains(res.Body.String(), "binary") {
		t.Fatalf("session view must not carry binaries: %s", res.Body.String())
	}

	var view sessionView
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Restored || view.Notes != "north wall" || len(view.Items) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if item := view.Items[0]; item.Size != 4 || !item.Annotated || item.UploadState != domain.UploadUploaded {
		t.Fatalf("unexpected item view: %+v", item)
	}
}

func TestAddItemsParsesFilesAndLocation(t *testing.T) {
	env := newTestEnv(config.Config{})

	req := multipartRequest(t, http.MethodPost, "/v1/session/items",
		map[string]string{
			"stamp_location": "true",
			"latitude":       "59.93",
			"longitude":      "30.33",
			"location_name":  "Pier 4",
			"captured_at":    "2026-10-15T08:30:00Z",
		},
		formFile{field: "file", name: "a.jpg", contentType: "image/jpeg", data: []byte("jpeg-bytes")},
		formFile{field: "file", name: "b.mp4", contentType: "video/mp4", data: []byte("mp4-bytes")},
	)
	res := env.do(t, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	var result usecase.AddResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.IDs) != 2 {
		t.Fatalf("expected two ids, got %v", result.IDs)
	}
	files := env.session.addedFiles
	if len(files) != 2 || files[0].MimeType != "image/jpeg" || files[1].MimeType != "video/mp4" || string(files[0].Data) != "jpeg-bytes" {
		t.Fatalf("unexpected files: %+v", files)
	}
	meta := env.session.addedMeta
	if !meta.StampLocation || meta.Location == nil || meta.Location.Name != "Pier 4" || meta.Location.Latitude != 59.93 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.CapturedAt.Hour() != 8 || meta.CapturedAt.Minute() != 30 {
		t.Fatalf("unexpected captured_at: %s", meta.CapturedAt)
	}
}

func TestAddItemsSniffsMissingContentType(t *testing.T) {
	env := newTestEnv(config.Config{})
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")

	req := multipartRequest(t, http.MethodPost, "/v1/session/items", nil,
		formFile{field: "file", name: "shot", data: png})
	if res := env.do(t, req); res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.Code)
	}
	if got := env.session.addedFiles[0].MimeType; got != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", got)
	}
}

func TestAddItemsRejectsBadInput(t *testing.T) {
	env := newTestEnv(config.Config{})

	req := multipartRequest(t, http.MethodPost, "/v1/session/items", map[string]string{"latitude": "north"},
		formFile{field: "file", name: "a.jpg", contentType: "image/jpeg", data: []byte("x")})
	if res := env.do(t, req); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad latitude, got %d", res.Code)
	}

	req = multipartRequest(t, http.MethodPost, "/v1/session/items", map[string]string{"notes": "x"})
	if res := env.do(t, req); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without files, got %d", res.Code)
	}
}

func TestAddItemsRejectsOversizedUpload(t *testing.T) {
	env := newTestEnv(config.Config{APIMaxUploadBytes: 64})

	req := multipartRequest(t, http.MethodPost, "/v1/session/items", nil,
		formFile{field: "file", name: "a.jpg", contentType: "image/jpeg", data: bytes.Repeat([]byte("x"), 1024)})
	if res := env.do(t, req); res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestItemMutations(t *testing.T) {
	env := newTestEnv(config.Config{})

	if res := env.do(t, jsonRequest(http.MethodPut, "/v1/session/items/p1/caption", `{"caption":"Broken valve"}`)); res.Code != http.StatusNoContent {
		t.Fatalf("caption: expected 204, got %d", res.Code)
	}
	if env.session.captions["p1"] != "Broken valve" {
		t.Fatalf("caption not applied: %v", env.session.captions)
	}

	req := multipartRequest(t, http.MethodPut, "/v1/session/items/p1/annotation", nil,
		formFile{field: "file", name: "p1.jpg", contentType: "image/jpeg", data: []byte("marked")})
	if res := env.do(t, req); res.Code != http.StatusNoContent {
		t.Fatalf("annotation: expected 204, got %d", res.Code)
	}
	if string(env.session.annotated["p1"]) != "marked" {
		t.Fatalf("annotation not applied")
	}

	if res := env.do(t, httptest.NewRequest(http.MethodDelete, "/v1/session/items/p1", nil)); res.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", res.Code)
	}
	if len(env.session.deleted) != 1 || env.session.deleted[0] != "p1" {
		t.Fatalf("delete not applied: %v", env.session.deleted)
	}

	if res := env.do(t, jsonRequest(http.MethodPut, "/v1/session/notes", `{"notes":"Site ok"}`)); res.Code != http.StatusNoContent {
		t.Fatalf("notes: expected 204, got %d", res.Code)
	}
	if res := env.do(t, jsonRequest(http.MethodPut, "/v1/session/report", `{"report_id":" r-9 "}`)); res.Code != http.StatusNoContent {
		t.Fatalf("link: expected 204, got %d", res.Code)
	}
	if env.session.notes != "Site ok" || env.session.linked != "r-9" {
		t.Fatalf("notes/link not applied: %q %q", env.session.notes, env.session.linked)
	}

	if res := env.do(t, httptest.NewRequest(http.MethodDelete, "/v1/session", nil)); res.Code != http.StatusNoContent || !env.session.discarded {
		t.Fatalf("discard: expected 204 and discard, got %d", res.Code)
	}
}

func TestVoiceNoteAcceptsTranscriptOrAudio(t *testing.T) {
	env := newTestEnv(config.Config{})

	if res := env.do(t, jsonRequest(http.MethodPut, "/v1/session/items/v1/voice-note", `{"transcript":"Crane lift done"}`)); res.Code != http.StatusOK {
		t.Fatalf("transcript: expected 200, got %d", res.Code)
	}
	if env.session.voiceNotes["v1"] != "Crane lift done" {
		t.Fatalf("transcript not attached")
	}

	env.session.transcript = "Pump replaced"
	req := multipartRequest(t, http.MethodPut, "/v1/session/items/v2/voice-note", nil,
		formFile{field: "audio", name: "note.webm", contentType: "audio/webm", data: []byte("opus")})
	res := env.do(t, req)
	if res.Code != http.StatusOK {
		t.Fatalf("audio: expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Pump replaced") || env.session.voiceNotes["v2"] != "Pump replaced" {
		t.Fatalf("transcription not attached: %s", res.Body.String())
	}
}

func TestSubmitOnlineReturnsReport(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.session.submitResult = &usecase.SubmitResult{
		ReportID:  "r1",
		HandedOff: 2,
		Report:    &domain.GeneratedReport{Summary: "All good", ReportType: domain.ReportWeekly},
	}

	res := env.do(t, jsonRequest(http.MethodPost, "/v1/session/submit", `{"report_type":"weekly"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if env.session.submitType != domain.ReportWeekly {
		t.Fatalf("expected weekly report type, got %q", env.session.submitType)
	}
	if !strings.Contains(res.Body.String(), "All good") {
		t.Fatalf("expected summary in body: %s", res.Body.String())
	}
	if len(env.sync.users) != 0 {
		t.Fatalf("online submit must not request sync")
	}
}

func TestSubmitOfflineRequestsSync(t *testing.T) {
	env := newTestEnv(config.Config{})
	env.session.submitResult = &usecase.SubmitResult{ReportID: "r1", Offline: true, Queued: 3}

	res := env.do(t, httptest.NewRequest(http.MethodPost, "/v1/session/submit", nil))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if env.session.submitType != domain.ReportDaily {
		t.Fatalf("expected default report type daily, got %q", env.session.submitType)
	}
	if len(env.sync.users) != 1 || env.sync.users[0] != "u1" {
		t.Fatalf("expected sync request for u1, got %v", env.sync.users)
	}
}

func TestSubmitRejectsUnknownReportType(t *testing.T) {
	env := newTestEnv(config.Config{})
	if res := env.do(t, jsonRequest(http.MethodPost, "/v1/session/submit", `{"report_type":"hourly"}`)); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetMediaVerifiesSignature(t *testing.T) {
	env := newTestEnv(config.Config{})

	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/media/thumbnails/u1/p1.jpg?expires=1&sig=bad", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	env.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/media/thumbnails/u1/p1.jpg?expires=1&sig=good", nil))
	if res.Code != http.StatusOK || res.Body.String() != "jpeg" {
		t.Fatalf("expected object body, got %d %q", res.Code, res.Body.String())
	}
	if res.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}

	res = httptest.NewRecorder()
	env.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/media/thumbnails/u1/missing.jpg?expires=1&sig=good", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing object, got %d", res.Code)
	}
}
