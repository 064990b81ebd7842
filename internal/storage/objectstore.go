// Package storage provides the filesystem adapters for hot object storage and
// the cold archive vault.
package storage

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

	"github.com/google/uuid"

	"github.com/crestgen/annex/config"
	apperrors "github.com/crestgen/annex/internal/errors"
)

// FSStore implements the ObjectStore port on a local filesystem root. Each
// bucket is a directory under the root; keys map to slash-separated paths
// below the bucket. Writes go through a temp file and rename, so a reader
// never observes a partially written object.
type FSStore struct {
	root   string
	secret []byte
	now    func() time.Time
}

// NewFSStore creates the store and its root directory.
func NewFSStore(cfg config.StorageConfig) (*FSStore, error) {
	if cfg.RootDir == "" {
		return nil, apperrors.Validation("storage root dir is required")
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{
		root:   cfg.RootDir,
		secret: []byte(cfg.PresignSecret),
		now:    time.Now,
	}, nil
}

func (s *FSStore) objectPath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) {
		return "", apperrors.Validationf("invalid bucket %q", bucket)
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return "", apperrors.Validationf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", apperrors.Validationf("invalid object key %q", key)
		}
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

// Get opens the object for reading. A missing object is a NotFound error.
func (s *FSStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFoundf("object %s/%s not found", bucket, key)
		}
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, key, err)
	}
	return f, nil
}

// Put stores the body under bucket/key, replacing any existing object.
func (s *FSStore) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp := path + ".tmp." + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write object %s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close object %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes the object. Deleting an absent object is a no-op.
func (s *FSStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Presign issues a signed retrieval URL for the object, valid for ttl.
func (s *FSStore) Presign(bucket, key string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", apperrors.Validation("presign secret is not configured")
	}
	if _, err := s.objectPath(bucket, key); err != nil {
		return "", err
	}

	expires := s.now().Add(ttl).Unix()
	sig := s.sign(bucket, key, expires)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", sig)
	u := url.URL{
		Path:     "/objects/" + bucket + "/" + key,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// Verify checks a presigned URL's signature and expiry.
func (s *FSStore) Verify(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.Validation("malformed signed url")
	}

	rest, ok := strings.CutPrefix(u.Path, "/objects/")
	if !ok {
		return apperrors.Validation("malformed signed url path")
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok {
		return apperrors.Validation("malformed signed url path")
	}

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return apperrors.Validation("malformed signed url expiry")
	}
	if s.now().Unix() > expires {
		return apperrors.Validation("signed url has expired")
	}

	want := s.sign(bucket, key, expires)
	got := u.Query().Get("signature")
	if !hmac.Equal([]byte(want), []byte(got)) {
		return apperrors.Validation("signed url signature mismatch")
	}
	return nil
}

func (s *FSStore) sign(bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
