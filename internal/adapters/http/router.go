package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/core/usecase"
	"github.com/kirillkom/field-capture/internal/infrastructure/auth"
)

const multipartMemory = 32 << 20

// Session is the part of a capture session the REST surface drives.
type Session interface {
	AddItems(ctx context.Context, files []domain.CaptureFile, meta domain.CaptureMetadata) (usecase.AddResult, error)
	DeleteItem(id string) error
	EditCaption(id, text string) error
	Annotate(id string, annotated []byte) error
	AttachVoiceNote(id, transcript string) error
	TranscribeVoiceNote(ctx context.Context, id string, audio []byte, mimeType string) (string, error)
	SetNotes(text string)
	LinkReport(reportID string)
	DiscardAll(ctx context.Context) error
	Submit(ctx context.Context, reportType domain.ReportType) (*usecase.SubmitResult, error)
	Items() []domain.CapturedItem
	Notes() string
	LinkedReportID() string
}

type SessionProvider interface {
	Open(ctx context.Context, owner string) (Session, bool, error)
}

type registrySessions struct {
	registry *usecase.SessionRegistry
}

// NewRegistrySessions exposes a session registry as a SessionProvider.
func NewRegistrySessions(registry *usecase.SessionRegistry) SessionProvider {
	return registrySessions{registry: registry}
}

func (p registrySessions) Open(ctx context.Context, owner string) (Session, bool, error) {
	session, restored, err := p.registry.Open(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	return session, restored, nil
}

// MediaReader serves objects written by the local filesystem storage.
type MediaReader interface {
	Verify(key, expires, signature string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SyncNotifier nudges the offline sync worker after an offline submit.
type SyncNotifier interface {
	RequestSync(ctx context.Context, userID string) error
}

type MetricsMiddleware interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type RouterDeps struct {
	Sessions SessionProvider
	Tokens   TokenVerifier
	Media    MediaReader
	Sync     SyncNotifier
	Metrics  MetricsMiddleware
	Logger   *slog.Logger
}

type Router struct {
	cfg  config.Config
	deps RouterDeps
	log  *slog.Logger
	now  func() time.Time
}

func NewRouter(cfg config.Config, deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, deps: deps, log: logger, now: time.Now}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /v1/media/{key...}", rt.getMedia)

	mux.HandleFunc("POST /v1/session", authMiddleware(rt.deps.Tokens, rt.openSession))
	mux.HandleFunc("GET /v1/session", authMiddleware(rt.deps.Tokens, rt.openSession))
	mux.HandleFunc("DELETE /v1/session", rt.authed(rt.discardSession))
	mux.HandleFunc("POST /v1/session/items", rt.authed(rt.addItems))
	mux.HandleFunc("DELETE /v1/session/items/{id}", rt.authed(rt.deleteItem))
	mux.HandleFunc("PUT /v1/session/items/{id}/caption", rt.authed(rt.editCaption))
	mux.HandleFunc("PUT /v1/session/items/{id}/annotation", rt.authed(rt.annotate))
	mux.HandleFunc("PUT /v1/session/items/{id}/voice-note", rt.authed(rt.voiceNote))
	mux.HandleFunc("PUT /v1/session/notes", rt.authed(rt.setNotes))
	mux.HandleFunc("PUT /v1/session/report", rt.authed(rt.linkReport))
	mux.HandleFunc("POST /v1/session/submit", rt.authed(rt.submit))

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.log, handler)
	return requestIDMiddleware(handler)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

// authed verifies the bearer token and resolves the caller's session.
func (rt *Router) authed(next sessionHandler) http.HandlerFunc {
	return authMiddleware(rt.deps.Tokens, func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserIDFromContext(r.Context())
		session, _, err := rt.deps.Sessions.Open(r.Context(), userID)
		if err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
		if limit := rt.cfg.APIMaxUploadBytes; limit > 0 {
			if r.ContentLength > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next(w, r, session)
	})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	session, restored, err := rt.deps.Sessions.Open(r.Context(), userID)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	view := newSessionView(session)
	view.Restored = restored
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) discardSession(w http.ResponseWriter, r *http.Request, session Session) {
	if err := session.DiscardAll(r.Context()); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) addItems(w http.ResponseWriter, r *http.Request, session Session) {
	if !parseMultipart(w, r) {
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}

	files := make([]domain.CaptureFile, 0, len(headers))
	for _, header := range headers {
		file, err := readPart(header)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, file)
	}

	meta, err := rt.parseCaptureMetadata(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := session.AddItems(r.Context(), files, meta)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (rt *Router) parseCaptureMetadata(r *http.Request) (domain.CaptureMetadata, error) {
	meta := domain.CaptureMetadata{CapturedAt: rt.now().UTC()}

	if raw := r.FormValue("stamp_location"); raw != "" {
		stamp, err := strconv.ParseBool(raw)
		if err != nil {
			return meta, errors.New("stamp_location must be a boolean")
		}
		meta.StampLocation = stamp
	}
	if raw := r.FormValue("captured_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return meta, errors.New("captured_at must be RFC3339")
		}
		meta.CapturedAt = ts.UTC()
	}

	latRaw, lonRaw := r.FormValue("latitude"), r.FormValue("longitude")
	if latRaw == "" && lonRaw == "" {
		return meta, nil
	}
	lat, errLat := strconv.ParseFloat(latRaw, 64)
	lon, errLon := strconv.ParseFloat(lonRaw, 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return meta, errors.New("latitude and longitude must be valid coordinates")
	}
	meta.Location = &domain.Location{
		Latitude:  lat,
		Longitude: lon,
		Name:      strings.TrimSpace(r.FormValue("location_name")),
	}
	return meta, nil
}

func (rt *Router) deleteItem(w http.ResponseWriter, r *http.Request, session Session) {
	if err := session.DeleteItem(r.PathValue("id")); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) editCaption(w http.ResponseWriter, r *http.Request, session Session) {
	var req struct {
		Caption string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := session.EditCaption(r.PathValue("id"), req.Caption); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) annotate(w http.ResponseWriter, r *http.Request, session Session) {
	if !parseMultipart(w, r) {
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one multipart field 'file' is required")
		return
	}
	file, err := readPart(headers[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := session.Annotate(r.PathValue("id"), file.Data); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// voiceNote accepts either a JSON transcript or a multipart 'audio' recording
// that is transcribed first.
func (rt *Router) voiceNote(w http.ResponseWriter, r *http.Request, session Session) {
	id := r.PathValue("id")
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if !parseMultipart(w, r) {
			return
		}
		headers := r.MultipartForm.File["audio"]
		if len(headers) != 1 {
			writeError(w, http.StatusBadRequest, "exactly one multipart field 'audio' is required")
			return
		}
		audio, err := readPart(headers[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		transcript, err := session.TranscribeVoiceNote(r.Context(), id, audio.Data, audio.MimeType)
		if err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"voice_note": transcript})
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := session.AttachVoiceNote(id, req.Transcript); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"voice_note": req.Transcript})
}

func (rt *Router) setNotes(w http.ResponseWriter, r *http.Request, session Session) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	session.SetNotes(req.Notes)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) linkReport(w http.ResponseWriter, r *http.Request, session Session) {
	var req struct {
		ReportID string `json:"report_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	session.LinkReport(strings.TrimSpace(req.ReportID))
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) submit(w http.ResponseWriter, r *http.Request, session Session) {
	var req struct {
		ReportType string `json:"report_type"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	reportType, ok := domain.ParseReportType(strings.TrimSpace(req.ReportType))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown report_type")
		return
	}

	result, err := session.Submit(r.Context(), reportType)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		body := map[string]any{"error": errorMessage(err)}
		if result != nil && result.Queued > 0 {
			body["queued"] = result.Queued
		}
		rt.logDomainError(r, status, err)
		writeJSON(w, status, body)
		return
	}

	if result.Offline {
		rt.requestSync(r)
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) requestSync(r *http.Request) {
	if rt.deps.Sync == nil {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := rt.deps.Sync.RequestSync(r.Context(), userID); err != nil {
		rt.log.Warn("sync_request_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func (rt *Router) getMedia(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Media == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := r.PathValue("key")
	query := r.URL.Query()
	if err := rt.deps.Media.Verify(key, query.Get("expires"), query.Get("sig")); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	body, err := rt.deps.Media.Open(r.Context(), key)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return false
	}
	writeError(w, http.StatusBadRequest, "multipart form is required")
	return false
}

func readPart(header *multipart.FileHeader) (domain.CaptureFile, error) {
	file, err := header.Open()
	if err != nil {
		return domain.CaptureFile{}, errors.New("read multipart file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.CaptureFile{}, errors.New("read multipart file")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return domain.CaptureFile{Name: header.Filename, MimeType: contentType, Data: data}, nil
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	rt.logDomainError(r, status, err)
	writeError(w, status, errorMessage(err))
}

func (rt *Router) logDomainError(r *http.Request, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	rt.log.Error("request_failed",
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
