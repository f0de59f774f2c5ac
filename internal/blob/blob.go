package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/utils"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrUnavailable = errors.New("blob storage unavailable")
)

// Store keeps uploaded documents. Keys are derived from content so the same
// bytes always map to the same key.
type Store interface {
	Put(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "local_path":
		return NewLocalStore(cfg.Path)
	case "s3_like":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// Key returns the storage key for data: a two-character fan-out directory,
// the sha256 digest and the lower-cased file extension.
func Key(data []byte, filename string) string {
	sum := utils.HashBytes(data)
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return sum[:2] + "/" + sum + ext
}

func validKey(key string) bool {
	if len(key) < 67 || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return false
	}
	return key[2] == '/'
}
