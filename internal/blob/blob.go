// Package blob stores message attachments on an afero filesystem and hands
// back the public URL recorded on the message.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultMaxBytes is the largest accepted attachment.
const DefaultMaxBytes = 10 << 20

// ErrTooLarge is returned when an upload exceeds the size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Store writes attachments under <owner>/<unix millis><ext>.
type Store struct {
	fs       afero.Fs
	baseURL  string
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithClock overrides the clock used to name objects.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a Store on fs whose objects are served under baseURL.
func NewStore(fs afero.Fs, baseURL string, opts ...Option) *Store {
	s := &Store{
		fs:       fs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: DefaultMaxBytes,
		now:      time.Now,
		logger:   slog.Default().With("component", "blob"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDirStore stores objects below dir on the local disk.
func NewDirStore(dir, baseURL string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), dir), baseURL, opts...), nil
}

// Upload stores data and returns its public URL.
func (s *Store) Upload(ctx context.Context, ownerID string, data []byte, name string) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	stamp := s.now().UnixMilli()
	obj := domain.BlobObject{
		OwnerID: ownerID,
		Name:    name,
		Path:    path.Join(ownerID, fmt.Sprintf("%d%s", stamp, ext)),
		Size:    int64(len(data)),
	}
	if exists, _ := afero.Exists(s.fs, obj.Path); exists {
		obj.Path = path.Join(ownerID, fmt.Sprintf("%d-%s%s", stamp, uuid.NewString()[:8], ext))
	}
	if err := obj.Validate(); err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(path.Dir(obj.Path), 0o755); err != nil {
		return "", fmt.Errorf("create owner dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, obj.Path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", obj.Path, err)
	}
	s.logger.DebugContext(ctx, "Stored attachment", "path", obj.Path, "size", obj.Size)
	return s.URL(obj.Path)
}

// URL returns the public URL of the object at p.
func (s *Store) URL(p string) (string, error) {
	return url.JoinPath(s.baseURL, strings.Split(p, "/")...)
}

// Open returns the object at p for reading.
func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	obj := domain.BlobObject{OwnerID: "-", Name: "-", Path: p}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return s.fs.OpenFile(p, os.O_RDONLY, 0)
}

// Delete removes the object at p.
func (s *Store) Delete(ctx context.Context, p string) error {
	return s.fs.Remove(p)
}
