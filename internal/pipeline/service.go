// Package pipeline sequences one upload through parsing, analysis,
// duplicate checks, watermarking, conversion and artifact persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/philipparndt/meshvault/internal/catalog"
	"github.com/philipparndt/meshvault/internal/config"
	"github.com/philipparndt/meshvault/internal/logger"
	"github.com/philipparndt/meshvault/internal/metrics"
	"github.com/philipparndt/meshvault/internal/storage"
	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/decimate"
	"github.com/philipparndt/meshvault/pkg/fingerprint"
	"github.com/philipparndt/meshvault/pkg/gltfconv"
	"github.com/philipparndt/meshvault/pkg/openscad"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/thumbnail"
	"github.com/philipparndt/meshvault/pkg/watermark"
)

// Stage names used in errors, logs and metrics
const (
	StageParse     = "parse"
	StageDecimate  = "decimate"
	StageAnalyze   = "analyze"
	StageDuplicate = "duplicate check"
	StageWatermark = "watermark"
	StageConvert   = "convert"
	StageStamp     = "stamp"
	StageThumbnail = "thumbnail"
	StagePreview   = "preview"
	StagePersist   = "persist"
)

const (
	ContainerFormatGLB = "glb"
	ContainerFormatSTL = "stl"

	// downloadFactor estimates generic transfer compression of the container
	downloadFactor = 0.35
)

// ErrInvalidRequest marks requests rejected before any stage runs
var ErrInvalidRequest = errors.New("invalid request")

// Catalog is the fingerprint store the pipeline needs
type Catalog interface {
	LookupSignature(ctx context.Context, signature string) (string, bool, error)
	Candidates(ctx context.Context) ([]fingerprint.Candidate, error)
	Reserve(ctx context.Context, record catalog.Record) error
	Complete(ctx context.Context, assetID string, artifacts catalog.Artifacts) error
	Release(ctx context.Context, assetID string) error
}

// CompressFunc runs the entropy stage on a converted container
type CompressFunc func(c *gltfconv.Container, level int) (*gltfconv.Container, error)

// Request describes one upload. Nil overrides fall back to configuration.
type Request struct {
	Path     string
	ArtistID string
	Name     string
	Origin   map[string]string

	DecimationLevel   *float64
	EnableCompression *bool
	CompressionLevel  *int
}

// CompressionStats reports sizes through the conversion stages
type CompressionStats struct {
	OriginalBytes          int     `json:"original_bytes"`
	PreEntropyBytes        int     `json:"pre_entropy_bytes"`
	PostEntropyBytes       int     `json:"post_entropy_bytes"`
	EstimatedDownloadBytes int     `json:"estimated_download_bytes"`
	Compressed             bool    `json:"compressed"`
	Codec                  string  `json:"codec,omitempty"`
	DecimationLevel        float64 `json:"decimation_level"`
	TrianglesBefore        int     `json:"triangles_before"`
	TrianglesAfter         int     `json:"triangles_after"`
}

// Result describes a persisted asset
type Result struct {
	AssetID           string                   `json:"asset_id"`
	JobID             string                   `json:"job_id"`
	Name              string                   `json:"name"`
	Signature         string                   `json:"signature"`
	Footprint         analysis.Footprint       `json:"footprint"`
	Stats             analysis.PrintStatistics `json:"stats"`
	Compression       CompressionStats         `json:"compression"`
	Watermark         watermark.Payload        `json:"watermark"`
	EmbeddedTriangles int                      `json:"embedded_triangles"`
	SourceFiles       []string                 `json:"source_files,omitempty"`
	ContainerFormat   string                   `json:"container_format"`
	ContainerKey      string                   `json:"container_key"`
	ContainerURL      string                   `json:"container_url"`
	ThumbnailKey      string                   `json:"thumbnail_key"`
	ThumbnailURL      string                   `json:"thumbnail_url"`
}

// Service runs ingestion jobs against one catalog and store
type Service struct {
	cfg      config.PipelineConfig
	catalog  Catalog
	store    storage.Store
	marker   *watermark.Marker
	scad     *openscad.Renderer
	metrics  *metrics.Metrics
	log      *logger.Logger
	compress CompressFunc
}

// Option customizes a Service
type Option func(*Service)

// WithCompressor replaces the entropy stage
func WithCompressor(fn CompressFunc) Option {
	return func(s *Service) { s.compress = fn }
}

// WithMetrics records into m instead of a fresh registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New builds a service from configuration. The preview font is loaded once.
func New(cfg *config.Config, cat Catalog, store storage.Store, log *logger.Logger, opts ...Option) (*Service, error) {
	marker, err := watermark.NewMarker(watermark.PreviewOptions{
		FontPath: cfg.Watermark.FontPath,
		FontSize: cfg.Watermark.FontSize,
		Opacity:  cfg.Watermark.OverlayOpacity,
	})
	if err != nil {
		return nil, fmt.Errorf("preview marker: %w", err)
	}

	s := &Service{
		cfg:      cfg.Pipeline,
		catalog:  cat,
		store:    store,
		marker:   marker,
		scad:     openscad.NewRenderer(cfg.Pipeline.OpenSCADBinary, cfg.Pipeline.OpenSCADLibraryDir),
		log:      log.With("service", "Pipeline"),
		compress: gltfconv.Compress,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s, nil
}

// Metrics returns the registry the service records into
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// job holds the state one Ingest call owns exclusively
type job struct {
	id      string
	assetID string
	req     Request
	log     *logger.Logger
	workDir string

	reserved bool
	stored   []string
	done     bool
}

// Ingest runs every stage in order. Any failure other than the entropy stage
// aborts the job, deleting partial artifacts and releasing the catalog
// reservation.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.ArtistID == "" {
		return nil, fmt.Errorf("%w: artist id is required", ErrInvalidRequest)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("%w: input path is required", ErrInvalidRequest)
	}

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	j := &job{
		id:      uuid.NewString(),
		assetID: uuid.NewString(),
		req:     req,
	}
	j.log = s.log.With("job", j.id, "asset_id", j.assetID, "artist_id", req.ArtistID)

	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "meshvault-job-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	j.workDir = workDir
	defer s.finish(ctx, j)

	result, err := s.run(ctx, j)
	if err != nil {
		var dup *fingerprint.DuplicateError
		if errors.As(err, &dup) {
			s.metrics.Duplicate(dup.Kind)
			s.metrics.JobFinished(metrics.OutcomeDuplicate)
			j.log.Warn("Duplicate upload rejected", "existing_asset", dup.AssetID, "kind", dup.Kind, "similarity", dup.Similarity)
		} else {
			s.metrics.JobFinished(metrics.OutcomeFailed)
			j.log.Error("Ingestion aborted", "error", err)
		}
		return nil, err
	}

	j.done = true
	s.metrics.JobFinished(metrics.OutcomeSuccess)
	return result, nil
}

// finish removes the work dir and, for aborted jobs, undoes persisted state.
// Cleanup must run even when ctx is already cancelled.
func (s *Service) finish(ctx context.Context, j *job) {
	cleanupCtx := context.WithoutCancel(ctx)

	if !j.done {
		for _, key := range j.stored {
			if err := s.store.Delete(cleanupCtx, key); err != nil {
				j.log.Warn("Failed to delete partial artifact", "key", key, "error", err)
			}
		}
		if j.reserved {
			if err := s.catalog.Release(cleanupCtx, j.assetID); err != nil {
				j.log.Warn("Failed to release catalog reservation", "error", err)
			}
		}
	}
	if err := os.RemoveAll(j.workDir); err != nil {
		j.log.Warn("Failed to remove work dir", "dir", j.workDir, "error", err)
	}
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func (s *Service) run(ctx context.Context, j *job) (*Result, error) {
	req := j.req

	// Parse
	start := time.Now()
	j.log.Debug("Stage started", "stage", StageParse, "path", req.Path)
	source, sources, err := s.renderSource(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageParse, err)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageParse, err)
	}
	soup, err := stl.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageParse, err)
	}
	s.metrics.ObserveStage(StageParse, start)
	j.log.Info("Parsed STL", "triangles", soup.TriangleCount(), "binary", soup.Binary, "duration", time.Since(start))

	name := req.Name
	if name == "" && sources == nil {
		name = soup.Name
	}
	if name == "" {
		name = stemOf(req.Path)
	}

	stats := CompressionStats{
		OriginalBytes:   len(data),
		TrianglesBefore: soup.TriangleCount(),
	}

	// Decimate
	level := s.cfg.DecimationLevel
	if req.DecimationLevel != nil {
		level = *req.DecimationLevel
	}
	if math.IsNaN(level) || level < 0 || level > decimate.MaxLevel {
		return nil, fmt.Errorf("%s: %w: level %v outside [0,%d]", StageDecimate, ErrInvalidRequest, level, decimate.MaxLevel)
	}
	if err := checkpoint(ctx, StageDecimate); err != nil {
		return nil, err
	}
	if level > 0 {
		start = time.Now()
		decimate.Decimate(soup, level)
		s.metrics.ObserveStage(StageDecimate, start)
		j.log.Info("Decimated mesh", "level", level, "triangles", soup.TriangleCount(), "duration", time.Since(start))
	}
	stats.DecimationLevel = level
	stats.TrianglesAfter = soup.TriangleCount()

	// Analyze
	if err := checkpoint(ctx, StageAnalyze); err != nil {
		return nil, err
	}
	start = time.Now()
	report, err := analysis.Analyze(soup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageAnalyze, err)
	}
	s.metrics.ObserveStage(StageAnalyze, start)
	j.log.Info("Analyzed geometry", "volume", report.Stats.Volume, "area", report.Stats.SurfaceArea, "duration", time.Since(start))

	// Duplicate check
	if err := checkpoint(ctx, StageDuplicate); err != nil {
		return nil, err
	}
	start = time.Now()
	vector := fingerprint.FromReport(report)
	signature := fingerprint.DeriveSignature(vector)
	if err := s.checkDuplicate(ctx, vector, signature); err != nil {
		return nil, fmt.Errorf("%s: %w", StageDuplicate, err)
	}
	err = s.catalog.Reserve(ctx, catalog.Record{
		AssetID:   j.assetID,
		Signature: signature,
		ArtistID:  req.ArtistID,
		Name:      name,
		Vector:    vector,
	})
	if errors.Is(err, catalog.ErrSignatureTaken) {
		// Lost the race to a concurrent upload of the same mesh
		existing, _, lookupErr := s.catalog.LookupSignature(ctx, signature)
		if lookupErr != nil {
			return nil, fmt.Errorf("%s: %w", StageDuplicate, lookupErr)
		}
		return nil, fmt.Errorf("%s: %w", StageDuplicate, &fingerprint.DuplicateError{
			AssetID: existing, Similarity: 1, Kind: fingerprint.KindSignature,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageDuplicate, err)
	}
	j.reserved = true
	s.metrics.ObserveStage(StageDuplicate, start)
	j.log.Debug("Reserved signature", "signature", signature)

	// Watermark geometry
	if err := checkpoint(ctx, StageWatermark); err != nil {
		return nil, err
	}
	start = time.Now()
	payload := watermark.BuildPayload(req.ArtistID, s.cfg.PlatformID, req.Origin)
	embedded, err := watermark.EmbedInGeometry(soup, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageWatermark, err)
	}
	s.metrics.ObserveStage(StageWatermark, start)
	s.metrics.TrianglesEmbedded(embedded)
	j.log.Info("Embedded geometry watermark", "watermark_id", payload.WatermarkID, "triangles", embedded, "duration", time.Since(start))

	// Convert, stamp
	if err := checkpoint(ctx, StageConvert); err != nil {
		return nil, err
	}
	artifact, format, err := s.convert(j, soup, name, payload, &stats)
	if err != nil {
		return nil, err
	}

	// Thumbnail
	if err := checkpoint(ctx, StageThumbnail); err != nil {
		return nil, err
	}
	start = time.Now()
	bbox, err := analysis.ComputeAABB(soup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageThumbnail, err)
	}
	img, err := thumbnail.Rasterize(soup, bbox, s.cfg.ThumbnailSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageThumbnail, err)
	}
	thumb, err := thumbnail.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageThumbnail, err)
	}
	s.metrics.ObserveStage(StageThumbnail, start)

	// Preview watermark
	if err := checkpoint(ctx, StagePreview); err != nil {
		return nil, err
	}
	start = time.Now()
	thumb, err = s.marker.Apply(thumb, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StagePreview, err)
	}
	s.metrics.ObserveStage(StagePreview, start)

	// Persist
	if err := checkpoint(ctx, StagePersist); err != nil {
		return nil, err
	}
	start = time.Now()
	containerKey := j.assetID + "/model." + format
	thumbnailKey := j.assetID + "/thumbnail.png"
	if err := s.persist(ctx, j, containerKey, artifact); err != nil {
		return nil, fmt.Errorf("%s: %w", StagePersist, err)
	}
	if err := s.persist(ctx, j, thumbnailKey, thumb); err != nil {
		return nil, fmt.Errorf("%s: %w", StagePersist, err)
	}
	err = s.catalog.Complete(ctx, j.assetID, catalog.Artifacts{
		WatermarkID:  payload.WatermarkID,
		ContainerKey: containerKey,
		ThumbnailKey: thumbnailKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StagePersist, err)
	}
	s.metrics.ObserveStage(StagePersist, start)
	j.log.Info("Ingestion complete", "container", containerKey, "format", format, "container_bytes", len(artifact))

	return &Result{
		AssetID:           j.assetID,
		JobID:             j.id,
		Name:              name,
		Signature:         signature,
		Footprint:         report.Footprint,
		Stats:             report.Stats,
		Compression:       stats,
		Watermark:         payload,
		EmbeddedTriangles: embedded,
		SourceFiles:       sources,
		ContainerFormat:   format,
		ContainerKey:      containerKey,
		ContainerURL:      s.store.URL(containerKey),
		ThumbnailKey:      thumbnailKey,
		ThumbnailURL:      s.store.URL(thumbnailKey),
	}, nil
}

// renderSource returns the STL to parse. OpenSCAD uploads are rendered into
// the work dir and report every file they depend on.
func (s *Service) renderSource(ctx context.Context, j *job) (string, []string, error) {
	if !openscad.IsSource(j.req.Path) {
		return j.req.Path, nil, nil
	}

	sources, err := s.scad.Dependencies(j.req.Path)
	if err != nil {
		return "", nil, err
	}
	output := filepath.Join(j.workDir, "source.stl")
	if err := s.scad.Render(ctx, j.req.Path, output); err != nil {
		return "", nil, err
	}
	j.log.Info("Rendered OpenSCAD source", "files", len(sources))
	return output, sources, nil
}

// checkDuplicate tries the signature fast path, then the similarity scan.
// Lookup failures are returned, never read as "no duplicate".
func (s *Service) checkDuplicate(ctx context.Context, vector fingerprint.FeatureVector, signature string) error {
	existing, found, err := s.catalog.LookupSignature(ctx, signature)
	if err != nil {
		return err
	}
	if found {
		return &fingerprint.DuplicateError{AssetID: existing, Similarity: 1, Kind: fingerprint.KindSignature}
	}

	candidates, err := s.catalog.Candidates(ctx)
	if err != nil {
		return err
	}
	matches := fingerprint.FindSimilar(vector, candidates, fingerprint.SearchOptions{
		MinSimilarity: s.cfg.DuplicateSimilarity,
		Limit:         1,
	})
	if len(matches) > 0 {
		return &fingerprint.DuplicateError{AssetID: matches[0].AssetID, Similarity: matches[0].Similarity, Kind: fingerprint.KindSimilarity}
	}
	return nil
}

// convert builds and stamps the container. Entropy stage failures fall back
// to the uncompressed container; mesh pass failures fall back to the
// watermarked binary STL.
func (s *Service) convert(j *job, soup *stl.Soup, name string, payload watermark.Payload, stats *CompressionStats) ([]byte, string, error) {
	start := time.Now()
	container, err := gltfconv.Convert(soup, gltfconv.Options{Name: name})
	if err != nil {
		s.metrics.CompressionFallback()
		j.log.Warn("Conversion failed, storing STL", "error", err)
		data, encErr := stl.Encode(soup, watermark.ProvenanceHeader(payload))
		if encErr != nil {
			return nil, "", fmt.Errorf("%s: %w", StageConvert, encErr)
		}
		stats.PreEntropyBytes = len(data)
		stats.PostEntropyBytes = len(data)
		stats.EstimatedDownloadBytes = estimateDownload(len(data))
		return data, ContainerFormatSTL, nil
	}

	encoded, err := container.Encode()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", StageConvert, err)
	}
	stats.PreEntropyBytes = len(encoded)

	enable := s.cfg.EnableCompression
	if j.req.EnableCompression != nil {
		enable = *j.req.EnableCompression
	}
	level := s.cfg.CompressionLevel
	if j.req.CompressionLevel != nil {
		level = *j.req.CompressionLevel
	}
	if enable {
		compressed, err := s.compress(container, level)
		if err != nil {
			s.metrics.CompressionFallback()
			j.log.Warn("Compression failed, keeping uncompressed container", "level", level, "error", err)
		} else {
			container = compressed
			stats.Compressed = true
			if info, ok := container.Compression(); ok {
				stats.Codec = info.Codec
			}
		}
	}
	s.metrics.ObserveStage(StageConvert, start)

	start = time.Now()
	if err := watermark.StampContainer(container, payload); err != nil {
		return nil, "", fmt.Errorf("%s: %w", StageStamp, err)
	}
	data, err := container.Encode()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", StageStamp, err)
	}
	s.metrics.ObserveStage(StageStamp, start)

	if stats.Compressed {
		stats.PostEntropyBytes = len(data)
	} else {
		// Stamping adds a few bytes; keep pre and post comparable
		stats.PreEntropyBytes = len(data)
		stats.PostEntropyBytes = len(data)
	}
	stats.EstimatedDownloadBytes = estimateDownload(stats.PostEntropyBytes)
	s.metrics.CompressionRatio(len(data), stats.OriginalBytes)
	j.log.Info("Converted container",
		"pre_entropy_bytes", stats.PreEntropyBytes,
		"post_entropy_bytes", stats.PostEntropyBytes,
		"compressed", stats.Compressed,
		"duration", time.Since(start),
	)
	return data, ContainerFormatGLB, nil
}

// persist writes data to the work dir, then uploads it from there
func (s *Service) persist(ctx context.Context, j *job, key string, data []byte) error {
	local := filepath.Join(j.workDir, filepath.Base(key))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageFailure, err)
	}
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageFailure, err)
	}
	defer f.Close()

	// Record before the upload so a partial object is also removed
	j.stored = append(j.stored, key)
	return s.store.Put(ctx, key, f)
}

func estimateDownload(n int) int {
	return int(math.Round(float64(n) * downloadFactor))
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
