package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultMaxAttachmentBytes = 50 * 1024 * 1024

// ErrAttachmentTooLarge is returned by UploadStore.Save when the body exceeds
// the configured limit. Nothing is left on disk in that case.
var ErrAttachmentTooLarge = errors.New("attachment too large")

// UploadStore writes downloaded attachments into a single directory. Files
// keep their original base name, so a later upload with the same name
// replaces the earlier one.
type UploadStore struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

type StoredFile struct {
	Name string
	Path string // absolute
	Size int64
}

func NewUploadStore(dir string, maxBytes int64, logger *slog.Logger) *UploadStore {
	if dir == "" {
		dir = "uploads"
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxAttachmentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadStore{dir: dir, maxBytes: maxBytes, logger: logger}
}

// EnsureDir creates the upload directory if needed.
func (s *UploadStore) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	return nil
}

// Save streams r into <dir>/<name>. name must already be a bare file name.
func (s *UploadStore) Save(name string, r io.Reader) (*StoredFile, error) {
	path, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(r, s.maxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAttachmentTooLarge, s.maxBytes)
	}

	s.logger.Debug("attachment stored", "path", path, "size", written)
	return &StoredFile{Name: name, Path: path, Size: written}, nil
}

// AttachmentFilename returns the base name of the attachment, or
// upload_YYYYMMDD_HHMMSS when it has none. Directory components are dropped
// so a crafted name cannot escape the upload directory.
func AttachmentFilename(name string, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "upload_" + now.Format("20060102_150405")
	}
	return base
}
