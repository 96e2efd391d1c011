// Package storage keeps ticket attachments on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helpline-labs/support-desk/internal/domain"
)

var (
	// ErrTooLarge is returned when an upload exceeds the per-file limit.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrUnsupportedType is returned for extensions outside AllowedExtensions.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrInvalidKey is returned for keys that escape the base directory.
	ErrInvalidKey = errors.New("invalid storage key")
)

// AllowedExtensions maps accepted file extensions to the MIME type recorded for them.
var AllowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".pdf":  "application/pdf",
}

// LocalStore writes uploads under a base directory using generated, date-partitioned keys.
type LocalStore struct {
	basePath string
	maxBytes int64
	now      func() time.Time
}

// NewLocalStore creates basePath if needed. maxBytes <= 0 disables the size check.
func NewLocalStore(basePath string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{basePath: basePath, maxBytes: maxBytes, now: time.Now}, nil
}

// Check validates name and size before any bytes are written.
func (s *LocalStore) Check(originalName string, size int64) (string, error) {
	mimeType, ok := AllowedExtensions[strings.ToLower(filepath.Ext(originalName))]
	if !ok {
		return "", ErrUnsupportedType
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", ErrTooLarge
	}
	return mimeType, nil
}

// Save copies r to a new file and returns the attachment reference.
func (s *LocalStore) Save(ctx context.Context, r io.Reader, originalName string, size int64) (domain.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}
	mimeType, err := s.Check(originalName, size)
	if err != nil {
		return domain.Attachment{}, err
	}

	now := s.now().UTC()
	ext := strings.ToLower(filepath.Ext(originalName))
	key := filepath.ToSlash(filepath.Join(now.Format("2006/01/02"), uuid.NewString()+ext))
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return domain.Attachment{}, err
	}
	dst, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return domain.Attachment{}, err
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr == nil && s.maxBytes > 0 && written > s.maxBytes {
		copyErr = ErrTooLarge
	}
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(fullPath)
		return domain.Attachment{}, err
	}

	return domain.Attachment{
		StorageKey:   key,
		OriginalName: filepath.Base(originalName),
		MimeType:     mimeType,
		SizeBytes:    written,
		UploadedAt:   now,
	}, nil
}

// Open returns a reader for a stored file.
func (s *LocalStore) Open(_ context.Context, key string) (*os.File, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a stored file. Missing files are not an error.
func (s *LocalStore) Remove(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.basePath, clean), nil
}
