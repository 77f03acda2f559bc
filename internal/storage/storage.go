// Package storage is the object storage boundary for pipeline artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/philipparndt/meshvault/internal/config"
	"github.com/philipparndt/meshvault/internal/logger"
)

var (
	// ErrStorageFailure wraps every backend error
	ErrStorageFailure = errors.New("storage failure")
	ErrNotFound       = errors.New("object not found")
)

// Store persists artifacts by slash-separated key
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the backend selected in cfg
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	case config.BackendGCS:
		return NewGCS(ctx, cfg.Bucket, cfg.PublicBaseURL, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrStorageFailure, cfg.Backend)
	}
}

func normalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(key)
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".glb"):
		return "model/gltf-binary"
	case strings.HasSuffix(s, ".stl"):
		return "model/stl"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}
