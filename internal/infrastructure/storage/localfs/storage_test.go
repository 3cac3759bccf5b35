package localfs

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), "http://api.test/", []byte("secret"))
	require.NoError(t, err)
	return s
}

func TestUploadAndOpen(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "thumbnails/u1/p1.jpg", []byte("jpeg"), "image/jpeg"))
	require.NoError(t, s.Upload(ctx, "thumbnails/u1/p1.jpg", []byte("jpeg-2"), "image/jpeg"))

	rc, err := s.Open(ctx, "thumbnails/u1/p1.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-2", string(data))

	_, err = s.Open(ctx, "thumbnails/u1/missing.jpg")
	assert.True(t, domain.IsKind(err, domain.ErrNotFound))
}

func TestRejectsEscapingKeys(t *testing.T) {
	s := newTestStorage(t)
	for _, key := range []string{"", "../etc/passwd", "/abs/path", "a/../../b"} {
		err := s.Upload(context.Background(), key, []byte("x"), "text/plain")
		assert.Truef(t, domain.IsKind(err, domain.ErrInvalidInput), "key %q: %v", key, err)
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	raw, err := s.CreateSignedURL(context.Background(), "thumbnails/u1/p1.jpg", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://api.test/v1/media/thumbnails/u1/p1.jpg?"))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	expires, sig := parsed.Query().Get("expires"), parsed.Query().Get("sig")

	require.NoError(t, s.Verify("thumbnails/u1/p1.jpg", expires, sig))
	assert.Error(t, s.Verify("thumbnails/u1/p2.jpg", expires, sig), "signature is bound to the key")

	now = now.Add(2 * time.Hour)
	err = s.Verify("thumbnails/u1/p1.jpg", expires, sig)
	assert.True(t, domain.IsKind(err, domain.ErrUnauthenticated), "expired url must fail: %v", err)
}

func TestNewRequiresSigningKey(t *testing.T) {
	_, err := New(t.TempDir(), "", nil)
	assert.Error(t, err)
}

func TestDerivedSigningKeyDiffersFromSecret(t *testing.T) {
	derived := DeriveSigningKey("jwt-secret")
	assert.NotEqual(t, []byte("jwt-secret"), derived)
	assert.Equal(t, derived, DeriveSigningKey("jwt-secret"), "derivation is stable across restarts")
	assert.NotEqual(t, derived, DeriveSigningKey("other-secret"))

	withRaw, err := New(t.TempDir(), "http://api.test", []byte("jwt-secret"))
	require.NoError(t, err)
	withDerived, err := New(t.TempDir(), "http://api.test", derived)
	require.NoError(t, err)
	assert.NotEqual(t, withRaw.sign("k", 1), withDerived.sign("k", 1))
}
