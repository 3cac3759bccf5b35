package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// Storage keeps media on the local disk and hands out HMAC-signed URLs that
// the API serves back under /v1/media/.
type Storage struct {
	basePath   string
	publicURL  string
	signingKey []byte
	now        func() time.Time
}

func New(basePath, publicURL string, signingKey []byte) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if len(signingKey) == 0 {
		return nil, errors.New("localfs: signing key is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{
		basePath:   basePath,
		publicURL:  strings.TrimRight(publicURL, "/"),
		signingKey: signingKey,
		now:        time.Now,
	}, nil
}

// Upload writes data atomically under key.
func (s *Storage) Upload(_ context.Context, key string, data []byte, _ string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish file: %w", err)
	}
	return nil
}

func (s *Storage) CreateSignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", s.sign(key, expires))
	return s.publicURL + "/v1/media/" + key + "?" + query.Encode(), nil
}

// Verify checks a signature produced by CreateSignedURL.
func (s *Storage) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return domain.WrapError(domain.ErrUnauthenticated, "verify media url", errors.New("malformed expiry"))
	}
	if s.now().Unix() > exp {
		return domain.WrapError(domain.ErrUnauthenticated, "verify media url", errors.New("url expired"))
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, exp))) {
		return domain.WrapError(domain.ErrUnauthenticated, "verify media url", errors.New("bad signature"))
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open media", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) resolve(key string) (string, error) {
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve media key", fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// DeriveSigningKey turns a secret held for another purpose into a key used
// only for media URLs.
func DeriveSigningKey(secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("media-url"))
	return mac.Sum(nil)
}

func (s *Storage) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
