package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gosimple/slug"
)

// ErrUnsupportedImage is returned for files outside the image allow-list
var ErrUnsupportedImage = errors.New("only image files are allowed")

var (
	allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}
	allowedMIMETypes  = []string{"image/jpeg", "image/png", "image/webp"}
)

// ImageStore persists an uploaded image and returns the path clients use to fetch it
type ImageStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}

// DetectImage checks both the extension and the sniffed content type of an
// upload, then rewinds r
func DetectImage(filename string, r io.ReadSeeker) (string, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return "", ErrUnsupportedImage
	}

	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind upload: %w", err)
	}

	for _, allowed := range allowedMIMETypes {
		if mtype.Is(allowed) {
			return allowed, nil
		}
	}
	return "", ErrUnsupportedImage
}

// SanitizeFilename reduces a client supplied name to a safe slug plus its extension
func SanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "image"
	}
	return name + ext
}

// LocalImageStore writes uploads to a directory served as static files
type LocalImageStore struct {
	dir        string
	publicPath string
	now        func() time.Time
}

// NewLocalImageStore creates the upload directory if needed
func NewLocalImageStore(dir, publicPath string) (*LocalImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalImageStore{dir: dir, publicPath: publicPath, now: time.Now}, nil
}

// Save writes the image as <unixnano>-<sanitised name>
func (s *LocalImageStore) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%d-%s", s.now().UnixNano(), SanitizeFilename(filename))

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return path.Join(s.publicPath, name), nil
}
