// Package storage keeps audit artifacts on the local filesystem and hands out
// HMAC-signed download links for them.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"geoaudit/internal/ports"
)

var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrLinkExpired    = errors.New("storage: link expired")
	ErrLinkInvalid    = errors.New("storage: invalid link signature")
)

type Options struct {
	BasePath string
	// PublicURL is the externally reachable prefix the Handler is mounted at.
	PublicURL  string
	SigningKey string
	Now        func() time.Time
}

// FileStore implements ports.FileStorage on a directory tree.
type FileStore struct {
	basePath  string
	publicURL string
	key       []byte
	now       func() time.Time
}

func NewFileStore(opts Options) (*FileStore, error) {
	base := strings.TrimSpace(opts.BasePath)
	if base == "" {
		return nil, errors.New("storage: base path is required")
	}
	if opts.SigningKey == "" {
		return nil, errors.New("storage: signing key is required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &FileStore{
		basePath:  base,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		key:       []byte(opts.SigningKey),
		now:       opts.Now,
	}, nil
}

func (s *FileStore) path(key string) (string, string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// Upload writes data through a temp file so readers never see a partial object.
func (s *FileStore) Upload(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("storage: commit %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a link to key served by Handler, valid for ttl.
func (s *FileStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{"expires": {expires}, "sig": {s.sign(clean, expires)}}
	return s.publicURL + "/" + (&url.URL{Path: clean}).EscapedPath() + "?" + q.Encode(), nil
}

// Verify checks a link produced by SignedURL.
func (s *FileStore) Verify(key, expires, sig string) error {
	clean, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrLinkInvalid
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrLinkInvalid
	}
	want, _ := hex.DecodeString(s.sign(clean, expires))
	if !hmac.Equal(got, want) {
		return ErrLinkInvalid
	}
	if s.now().After(time.Unix(unix, 0)) {
		return ErrLinkExpired
	}
	return nil
}

func (s *FileStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// Handler serves objects behind signed links. Mount it at PublicURL's path
// with the prefix stripped.
func (s *FileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		q := r.URL.Query()
		switch err := s.Verify(key, q.Get("expires"), q.Get("sig")); {
		case errors.Is(err, ErrLinkExpired):
			http.Error(w, "link expired", http.StatusGone)
			return
		case err != nil:
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		data, err := s.Download(r.Context(), key)
		if errors.Is(err, ErrObjectNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if ct := contentType(key); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("Cache-Control", "private, no-store")
		_, _ = w.Write(data)
	})
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return ""
	}
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ports.FileStorage = (*FileStore)(nil)
