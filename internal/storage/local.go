package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects as files below a root directory
type Local struct {
	root          string
	publicBaseURL string
}

// NewLocal creates root if needed and serves objects below it
func NewLocal(root, publicBaseURL string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %w", ErrStorageFailure, err)
	}
	return &Local{root: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (l *Local) path(key string) (string, error) {
	key = normalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrStorageFailure)
	}
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes the root", ErrStorageFailure, key)
	}
	return p, nil
}

// Put writes through a temp file so readers never see partial objects
func (l *Local) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: write %s: %w", ErrStorageFailure, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: close %s: %w", ErrStorageFailure, key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: rename %s: %w", ErrStorageFailure, key, err)
	}
	return nil
}

// Get opens the file backing key; missing files yield ErrNotFound
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return f, nil
}

// Delete ignores missing objects
func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// URL returns the public URL for key, or a file:// URL without a base
func (l *Local) URL(key string) string {
	key = normalizeKey(key)
	if l.publicBaseURL != "" {
		return l.publicBaseURL + "/" + key
	}
	return "file://" + filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(key)))
}
