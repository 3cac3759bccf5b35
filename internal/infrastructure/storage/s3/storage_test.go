package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/infrastructure/resilience"
)

type fakeS3 struct {
	mu       sync.Mutex
	status   int
	requests []string
	bodies   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	body, _ := io.ReadAll(r.Body)
	if f.bodies == nil {
		f.bodies = make(map[string]string)
	}
	f.bodies[r.URL.Path] = string(body)
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func newTestStorage(t *testing.T, endpoint string, executor *resilience.Executor) *Storage {
	t.Helper()
	s, err := New(context.Background(), Options{
		Region:       "us-east-1",
		Endpoint:     endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "field-media",
		UsePathStyle: true,
	}, executor)
	require.NoError(t, err)
	return s
}

func TestUploadPutsObjectIntoBucket(t *testing.T) {
	backend := &fakeS3{}
	server := httptest.NewServer(backend)
	defer server.Close()

	s := newTestStorage(t, server.URL, nil)
	require.NoError(t, s.Upload(context.Background(), "thumbnails/u1/p1.jpg", []byte("jpeg"), "image/jpeg"))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.requests, 1)
	assert.Equal(t, "PUT /field-media/thumbnails/u1/p1.jpg", backend.requests[0])
	assert.Contains(t, backend.bodies["/field-media/thumbnails/u1/p1.jpg"], "jpeg")
}

func TestUploadRetriesServerErrorsAndMarksTemporary(t *testing.T) {
	backend := &fakeS3{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(backend)
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, nil)
	s := newTestStorage(t, server.URL, exec)

	err := s.Upload(context.Background(), "media/u1/r1/m1.jpg", []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary), "got %v", err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Len(t, backend.requests, 2)
}

func TestUploadClientErrorIsPermanent(t *testing.T) {
	backend := &fakeS3{status: http.StatusForbidden}
	server := httptest.NewServer(backend)
	defer server.Close()

	err := newTestStorage(t, server.URL, nil).Upload(context.Background(), "k", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.False(t, domain.IsKind(err, domain.ErrTemporary))
	assert.False(t, domain.IsKind(err, domain.ErrInvalidInput), "denied credentials are not the object's fault")
}

func TestUploadRejectedObjectIsInvalidInput(t *testing.T) {
	backend := &fakeS3{status: http.StatusRequestEntityTooLarge}
	server := httptest.NewServer(backend)
	defer server.Close()

	err := newTestStorage(t, server.URL, nil).Upload(context.Background(), "media/u1/r1/m1.mov", []byte("x"), "video/quicktime")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput), "got %v", err)
}

func TestCreateSignedURLIsPresignedGet(t *testing.T) {
	s := newTestStorage(t, "http://minio.test:9000", nil)

	raw, err := s.CreateSignedURL(context.Background(), "thumbnails/u1/p1.jpg", time.Hour)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "minio.test:9000", parsed.Host)
	assert.Equal(t, "/field-media/thumbnails/u1/p1.jpg", parsed.Path)
	assert.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))
	assert.True(t, strings.HasPrefix(parsed.Query().Get("X-Amz-Credential"), "minioadmin/"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{}, nil)
	assert.Error(t, err)
}
