package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/philipparndt/meshvault/internal/cache"
	"github.com/philipparndt/meshvault/internal/catalog"
	"github.com/philipparndt/meshvault/internal/config"
	"github.com/philipparndt/meshvault/internal/logger"
	"github.com/philipparndt/meshvault/internal/pipeline"
	"github.com/philipparndt/meshvault/internal/storage"
	"github.com/philipparndt/meshvault/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meshvault",
	Short: "Ingest, watermark and convert 3D printable models",
	Long: `meshvault ingests STL uploads: it measures print statistics, rejects
duplicates by shape fingerprint, embeds a forensic watermark, converts the
mesh into a compressed GLB container and renders a marked thumbnail.`,
	Version:       version.GetFullVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $MESHVAULT_CONFIG or ./meshvault.yaml)")
}

// env bundles the services built from configuration
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	catalog *catalog.Catalog
	store   storage.Store
	service *pipeline.Service
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.Catalog.Path, cfg.Catalog.InMemory, log.Badger())
	if err != nil {
		return nil, err
	}
	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	service, err := pipeline.New(cfg, cat, store, log)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}

	return &env{cfg: cfg, log: log, catalog: cat, store: store, service: service}, nil
}

func (e *env) downloader() (*pipeline.Downloader, error) {
	containers, err := cache.New[*pipeline.Artifact](e.cfg.Cache.MaxEntries, e.cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	return pipeline.NewDownloader(e.store, containers), nil
}

// close flushes metrics and releases the catalog
func (e *env) close() {
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := e.service.Metrics().WriteTextfile(path); err != nil {
			e.log.Warn("Failed to write metrics textfile", "path", path, "error", err)
		}
	}
	if err := e.catalog.Close(); err != nil {
		e.log.Warn("Failed to close catalog", "error", err)
	}
	e.log.Sync()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
