package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore persists blobs onto the local filesystem. It is intended for
// development and single-node deployments where an object storage service
// is not available.
type FileStore struct {
	baseDir string
}

// NewFileStore initializes a FileStore rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("blob: base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put writes data under a random name and returns a file:// URI. The
// extension is sanitized so callers cannot influence the path.
func (s *FileStore) Put(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("blob: empty payload")
	}

	name := uuid.New().String()
	if clean := sanitizeExt(ext); clean != "" {
		name += "." + clean
	}

	fullPath := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write file: %w", err)
	}

	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("blob: resolve path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// sanitizeExt keeps only a short alphanumeric extension.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

var _ Store = (*FileStore)(nil)
