// Package config loads layered service configuration: struct defaults, an
// optional YAML file, then MESHVAULT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full service configuration
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Storage   StorageConfig   `koanf:"storage"`
	Watermark WatermarkConfig `koanf:"watermark"`
	Cache     CacheConfig     `koanf:"cache"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	Mode  string `koanf:"mode"`
}

type PipelineConfig struct {
	PlatformID          string        `koanf:"platform_id"`
	DecimationLevel     float64       `koanf:"decimation_level"`
	EnableCompression   bool          `koanf:"enable_compression"`
	CompressionLevel    int           `koanf:"compression_level"`
	ThumbnailSize       int           `koanf:"thumbnail_size"`
	DuplicateSimilarity float64       `koanf:"duplicate_similarity"`
	SimilarityLimit     int           `koanf:"similarity_limit"`
	JobTimeout          time.Duration `koanf:"job_timeout"`
	Workers             int           `koanf:"workers"`
	WorkDir             string        `koanf:"work_dir"`

	// OpenSCAD renders .scad uploads to STL before parsing
	OpenSCADBinary     string `koanf:"openscad_binary"`
	OpenSCADLibraryDir string `koanf:"openscad_library_dir"`
}

type CatalogConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

type StorageConfig struct {
	Backend       string `koanf:"backend"`
	LocalDir      string `koanf:"local_dir"`
	Bucket        string `koanf:"bucket"`
	PublicBaseURL string `koanf:"public_base_url"`
}

type WatermarkConfig struct {
	FontPath       string  `koanf:"font_path"`
	FontSize       float64 `koanf:"font_size"`
	OverlayOpacity float64 `koanf:"overlay_opacity"`
}

type CacheConfig struct {
	MaxEntries int64         `koanf:"max_entries"`
	TTL        time.Duration `koanf:"ttl"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile path written after each run
	Textfile string `koanf:"textfile"`
}

const (
	// PathEnvVar overrides the config file location
	PathEnvVar = "MESHVAULT_CONFIG"

	envPrefix = "MESHVAULT_"

	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// DefaultPaths are searched in order when no path is given
var DefaultPaths = []string{
	"meshvault.yaml",
	"meshvault.yml",
	"/etc/meshvault/meshvault.yaml",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Mode: "development"},
		Pipeline: PipelineConfig{
			PlatformID:          "meshvault",
			DecimationLevel:     0,
			EnableCompression:   true,
			CompressionLevel:    7,
			ThumbnailSize:       512,
			DuplicateSimilarity: 0.999,
			SimilarityLimit:     10,
			JobTimeout:          5 * time.Minute,
			Workers:             4,
			WorkDir:             os.TempDir(),
			OpenSCADBinary:      "openscad",
		},
		Catalog: CatalogConfig{Path: "data/catalog"},
		Storage: StorageConfig{Backend: BackendLocal, LocalDir: "data/assets"},
		Watermark: WatermarkConfig{
			FontSize:       12,
			OverlayOpacity: 0.08,
		},
		Cache: CacheConfig{MaxEntries: 64, TTL: 10 * time.Minute},
	}
}

// Load layers defaults, the config file and the environment. An empty path
// falls back to MESHVAULT_CONFIG and then DefaultPaths; a missing file is
// only an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// MESHVAULT_PIPELINE__PLATFORM_ID -> pipeline.platform_id
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// envTransformFunc maps MESHVAULT_SECTION__KEY to section.key. Variables
// without a section separator, such as MESHVAULT_CONFIG, are ignored.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline

	if !finite(p.DecimationLevel) || p.DecimationLevel < 0 || p.DecimationLevel > 90 {
		errs = append(errs, fmt.Errorf("pipeline.decimation_level %v outside [0,90]", p.DecimationLevel))
	}
	if p.CompressionLevel < 0 || p.CompressionLevel > 10 {
		errs = append(errs, fmt.Errorf("pipeline.compression_level %d outside [0,10]", p.CompressionLevel))
	}
	if p.ThumbnailSize < 16 || p.ThumbnailSize > 4096 {
		errs = append(errs, fmt.Errorf("pipeline.thumbnail_size %d outside [16,4096]", p.ThumbnailSize))
	}
	if !finite(p.DuplicateSimilarity) || p.DuplicateSimilarity <= 0 || p.DuplicateSimilarity > 1 {
		errs = append(errs, fmt.Errorf("pipeline.duplicate_similarity %v outside (0,1]", p.DuplicateSimilarity))
	}
	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", p.Workers))
	}
	if p.PlatformID == "" {
		errs = append(errs, errors.New("pipeline.platform_id is required"))
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local or gcs", c.Storage.Backend))
	}

	if o := c.Watermark.OverlayOpacity; !finite(o) || o <= 0 || o > 1 {
		errs = append(errs, fmt.Errorf("watermark.overlay_opacity %v outside (0,1]", o))
	}
	if !c.Catalog.InMemory && c.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required unless catalog.in_memory is set"))
	}

	return errors.Join(errs...)
}

// finite rejects NaN and the infinities, which slip past range comparisons
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
