package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/philipparndt/meshvault/internal/logger"
)

const (
	emulatorHostEnv = "STORAGE_EMULATOR_HOST"

	writeTimeout  = 2 * time.Minute
	deleteTimeout = 30 * time.Second
)

// GCS stores objects in one Google Cloud Storage bucket
type GCS struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCS connects with application default credentials, or anonymously when
// STORAGE_EMULATOR_HOST points at an emulator
func NewGCS(ctx context.Context, bucket, publicBaseURL string, log *logger.Logger) (*GCS, error) {
	var opts []option.ClientOption
	emulator := strings.TrimRight(strings.TrimSpace(os.Getenv(emulatorHostEnv)), "/")
	if emulator != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", ErrStorageFailure, err)
	}

	serviceLog := log.With("service", "GCS")
	serviceLog.Info("Object storage initialized",
		"bucket", bucket,
		"emulator_host", emulator,
		"public_base_url", publicBaseURL,
	)

	if publicBaseURL == "" && emulator != "" {
		publicBaseURL = emulator
	}
	return &GCS{
		log:           serviceLog,
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	key = normalizeKey(key)
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write %s to GCS: %w", ErrStorageFailure, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close GCS writer for %s: %w", ErrStorageFailure, key, err)
	}
	g.log.Debug("Uploaded object", "key", key)
	return nil
}

func (g *GCS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key = normalizeKey(key)
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageFailure, key, err)
	}
	return reader, nil
}

// Delete ignores missing objects
func (g *GCS) Delete(ctx context.Context, key string) error {
	key = normalizeKey(key)
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: delete %s in bucket %s: %w", ErrStorageFailure, key, g.bucket, err)
	}
	return nil
}

func (g *GCS) URL(key string) string {
	key = normalizeKey(key)
	if g.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", g.publicBaseURL, g.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
