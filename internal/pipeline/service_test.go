package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/philipparndt/meshvault/internal/catalog"
	"github.com/philipparndt/meshvault/internal/config"
	"github.com/philipparndt/meshvault/internal/logger"
	"github.com/philipparndt/meshvault/internal/storage"
	"github.com/philipparndt/meshvault/pkg/fingerprint"
	"github.com/philipparndt/meshvault/pkg/gltfconv"
	"github.com/philipparndt/meshvault/pkg/openscad"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/stl/stltest"
	"github.com/philipparndt/meshvault/pkg/watermark"
)

type harness struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	store   *storage.Local
	service *Service

	storeDir string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Pipeline.WorkDir = t.TempDir()
	cfg.Pipeline.ThumbnailSize = 64

	cat, err := catalog.Open("", true, nil)
	if err != nil {
		t.Fatalf("catalog.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	storeDir := t.TempDir()
	store, err := storage.NewLocal(storeDir, "")
	if err != nil {
		t.Fatalf("storage.NewLocal failed: %v", err)
	}

	h := &harness{cfg: cfg, catalog: cat, store: store, storeDir: storeDir}
	h.service = h.build(t, store, opts...)
	return h
}

func (h *harness) build(t *testing.T, store storage.Store, opts ...Option) *Service {
	t.Helper()
	service, err := New(h.cfg, h.catalog, store, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return service
}

func writeSTL(t *testing.T, soup *stl.Soup, name string) string {
	t.Helper()
	data, err := stl.Encode(soup, "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func readObject(t *testing.T, store storage.Store, key string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s failed: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s failed: %v", key, err)
	}
	return data
}

func counterValue(t *testing.T, s *Service, name string) float64 {
	t.Helper()
	families, err := s.Metrics().Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestIngestCube(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Cube(10), "cube.stl"), ArtistID: "artist-1"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if math.Abs(result.Stats.Volume-1000) > 1e-6 {
		t.Errorf("Volume failed: expected 1000, got %v", result.Stats.Volume)
	}
	if math.Abs(result.Stats.SurfaceArea-600) > 1e-6 {
		t.Errorf("SurfaceArea failed: expected 600, got %v", result.Stats.SurfaceArea)
	}
	if result.Footprint.Width != 0.01 || result.Footprint.Depth != 0.01 || result.Footprint.Height != 0.01 {
		t.Errorf("Footprint failed: expected 0.01 on every axis, got %+v", result.Footprint)
	}
	if result.Name != "cube" {
		t.Errorf("Name failed: expected cube, got %q", result.Name)
	}
	if result.Watermark.ArtistID != "artist-1" || result.Watermark.PlatformID != "meshvault" {
		t.Errorf("Watermark failed: unexpected payload %+v", result.Watermark)
	}
	if result.Compression.OriginalBytes != 84+12*50 {
		t.Errorf("OriginalBytes failed: expected %d, got %d", 84+12*50, result.Compression.OriginalBytes)
	}
	if result.Compression.TrianglesBefore != 12 || result.Compression.TrianglesAfter != 12 {
		t.Errorf("triangle counts failed: expected 12/12, got %d/%d", result.Compression.TrianglesBefore, result.Compression.TrianglesAfter)
	}
	expectedEstimate := int(math.Round(float64(result.Compression.PostEntropyBytes) * 0.35))
	if result.Compression.EstimatedDownloadBytes != expectedEstimate {
		t.Errorf("EstimatedDownloadBytes failed: expected %d, got %d", expectedEstimate, result.Compression.EstimatedDownloadBytes)
	}

	// Container carries the metadata stamp
	container, err := gltfconv.Decode(readObject(t, h.store, result.ContainerKey))
	if err != nil {
		t.Fatalf("Decode container failed: %v", err)
	}
	stamp, ok, err := watermark.ReadStamp(container)
	if err != nil || !ok {
		t.Fatalf("ReadStamp failed: ok=%v err=%v", ok, err)
	}
	if stamp.WatermarkID != result.Watermark.WatermarkID {
		t.Errorf("stamp failed: expected %s, got %s", result.Watermark.WatermarkID, stamp.WatermarkID)
	}

	// Thumbnail carries the preview metadata
	chunks, err := watermark.ReadTextChunks(readObject(t, h.store, result.ThumbnailKey))
	if err != nil {
		t.Fatalf("ReadTextChunks failed: %v", err)
	}
	if !strings.Contains(chunks["Comment"], result.Watermark.WatermarkID) {
		t.Errorf("thumbnail failed: Comment chunk lacks watermark id: %q", chunks["Comment"])
	}

	record, err := h.catalog.Get(ctx, result.AssetID)
	if err != nil {
		t.Fatalf("catalog.Get failed: %v", err)
	}
	if record.Status != catalog.StatusComplete || record.ContainerKey != result.ContainerKey {
		t.Errorf("catalog failed: unexpected record %+v", record)
	}

	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)
}

func TestIngestDuplicateCube(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Cube(10), "cube.stl"), ArtistID: "artist-1"})
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	_, err = h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Cube(10), "again.stl"), ArtistID: "artist-1"})
	if !errors.Is(err, fingerprint.ErrDuplicateDetected) {
		t.Fatalf("second Ingest failed: expected ErrDuplicateDetected, got %v", err)
	}
	var dup *fingerprint.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateError, got %T", err)
	}
	if dup.AssetID != first.AssetID || dup.Kind != fingerprint.KindSignature {
		t.Errorf("DuplicateError failed: expected %s/%s, got %s/%s", first.AssetID, fingerprint.KindSignature, dup.AssetID, dup.Kind)
	}
	if got := counterValue(t, h.service, "meshvault_duplicates_total"); got != 1 {
		t.Errorf("duplicates metric failed: expected 1, got %v", got)
	}
	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)
}

func TestIngestNearDuplicateBySimilarity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Box(10, 10, 10), "box.stl"), ArtistID: "artist-1"})
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	// A hair taller: different signature, near-identical shape
	_, err = h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Box(10, 10, 10.001), "taller.stl"), ArtistID: "artist-2"})
	var dup *fingerprint.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Ingest failed: expected *DuplicateError, got %v", err)
	}
	if dup.Kind != fingerprint.KindSimilarity || dup.AssetID != first.AssetID {
		t.Errorf("DuplicateError failed: expected similarity match with %s, got %s/%s", first.AssetID, dup.Kind, dup.AssetID)
	}
}

func TestCompressionFallback(t *testing.T) {
	failing := func(*gltfconv.Container, int) (*gltfconv.Container, error) {
		return nil, fmt.Errorf("%w: codec exploded", gltfconv.ErrConversionFailed)
	}
	h := newHarness(t, WithCompressor(failing))

	result, err := h.service.Ingest(context.Background(), Request{Path: writeSTL(t, stltest.Grid(8, 1), "grid.stl"), ArtistID: "artist-1"})
	if err != nil {
		t.Fatalf("Ingest failed: expected fallback, got %v", err)
	}
	if result.Compression.Compressed {
		t.Errorf("Compressed failed: expected false after fallback")
	}
	if result.ContainerFormat != ContainerFormatGLB {
		t.Errorf("ContainerFormat failed: expected %s, got %s", ContainerFormatGLB, result.ContainerFormat)
	}
	if result.Compression.PreEntropyBytes != result.Compression.PostEntropyBytes {
		t.Errorf("sizes failed: expected equal pre/post, got %d/%d", result.Compression.PreEntropyBytes, result.Compression.PostEntropyBytes)
	}

	container, err := gltfconv.Decode(readObject(t, h.store, result.ContainerKey))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := container.Compression(); ok {
		t.Errorf("fallback container must not declare compression")
	}
	if got := counterValue(t, h.service, "meshvault_compression_fallbacks_total"); got != 1 {
		t.Errorf("fallback metric failed: expected 1, got %v", got)
	}
}

func TestIngestWithoutCompression(t *testing.T) {
	h := newHarness(t)
	off := false

	result, err := h.service.Ingest(context.Background(), Request{
		Path:              writeSTL(t, stltest.Grid(8, 1), "grid.stl"),
		ArtistID:          "artist-1",
		EnableCompression: &off,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Compression.Compressed {
		t.Errorf("Compressed failed: expected false")
	}
	if got := counterValue(t, h.service, "meshvault_compression_fallbacks_total"); got != 0 {
		t.Errorf("fallback metric failed: expected 0, got %v", got)
	}
}

func TestIngestDecimation(t *testing.T) {
	h := newHarness(t)
	level := 50.0

	result, err := h.service.Ingest(context.Background(), Request{
		Path:            writeSTL(t, stltest.Strip(1000), "strip.stl"),
		ArtistID:        "artist-1",
		DecimationLevel: &level,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Compression.TrianglesBefore != 1000 || result.Compression.TrianglesAfter != 500 {
		t.Errorf("decimation failed: expected 1000/500, got %d/%d", result.Compression.TrianglesBefore, result.Compression.TrianglesAfter)
	}
	if result.Stats.TriangleCount != 500 {
		t.Errorf("TriangleCount failed: expected 500, got %d", result.Stats.TriangleCount)
	}
	if result.Compression.DecimationLevel != 50 {
		t.Errorf("DecimationLevel failed: expected 50, got %v", result.Compression.DecimationLevel)
	}

	for _, bad := range []float64{95, -1, math.NaN(), math.Inf(1)} {
		_, err = h.service.Ingest(context.Background(), Request{
			Path:            writeSTL(t, stltest.Strip(10), "strip.stl"),
			ArtistID:        "artist-1",
			DecimationLevel: &bad,
		})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Ingest failed: expected ErrInvalidRequest for level %v, got %v", bad, err)
		}
	}

	// Rejected levels must not leave a catalog row behind
	candidates, err := h.catalog.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Candidates failed: expected 1, got %d", len(candidates))
	}
}

type failingStore struct {
	storage.Store
	suffix string
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader) error {
	if strings.HasSuffix(key, f.suffix) {
		return fmt.Errorf("%w: disk full", storage.ErrStorageFailure)
	}
	return f.Store.Put(ctx, key, r)
}

func TestIngestStorageFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	service := h.build(t, &failingStore{Store: h.store, suffix: "thumbnail.png"})
	ctx := context.Background()

	cube := stltest.Cube(10)
	_, err := service.Ingest(ctx, Request{Path: writeSTL(t, cube, "cube.stl"), ArtistID: "artist-1"})
	if !errors.Is(err, storage.ErrStorageFailure) {
		t.Fatalf("Ingest failed: expected ErrStorageFailure, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), StagePersist) {
		t.Errorf("error failed: expected %q stage prefix, got %q", StagePersist, err.Error())
	}

	candidates, err := h.catalog.Candidates(ctx)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Release failed: expected empty catalog, got %d rows", len(candidates))
	}

	// The container uploaded before the failure is gone
	files := 0
	err = filepath.WalkDir(h.storeDir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	})
	if err != nil {
		t.Fatalf("WalkDir failed: %v", err)
	}
	if files != 0 {
		t.Errorf("cleanup failed: expected no stored objects, found %d", files)
	}
	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)

	if _, err := h.service.Ingest(ctx, Request{Path: writeSTL(t, cube, "cube.stl"), ArtistID: "artist-1"}); err != nil {
		t.Errorf("Ingest after abort failed: %v", err)
	}
}

func TestIngestMalformed(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "broken.stl")
	if err := os.WriteFile(path, []byte("solid broken\n  facet normal 0 0 1\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := h.service.Ingest(context.Background(), Request{Path: path, ArtistID: "artist-1"})
	if !errors.Is(err, stl.ErrMalformedFile) {
		t.Errorf("Ingest failed: expected ErrMalformedFile, got %v", err)
	}
	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.service.Ingest(context.Background(), Request{Path: "x.stl"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Ingest failed: expected ErrInvalidRequest without artist, got %v", err)
	}
	if _, err := h.service.Ingest(context.Background(), Request{ArtistID: "a"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Ingest failed: expected ErrInvalidRequest without path, got %v", err)
	}
}

func TestIngestCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.service.Ingest(ctx, Request{Path: writeSTL(t, stltest.Cube(10), "cube.stl"), ArtistID: "artist-1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest failed: expected context.Canceled, got %v", err)
	}
	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)
}

func TestIngestBatch(t *testing.T) {
	h := newHarness(t)

	requests := []Request{
		{Path: writeSTL(t, stltest.Box(1, 2, 3), "a.stl"), ArtistID: "artist-1"},
		{Path: writeSTL(t, stltest.Cube(10), "b.stl"), ArtistID: "artist-1"},
		{Path: writeSTL(t, stltest.Box(4, 5, 6), "c.stl"), ArtistID: "artist-2"},
		{Path: writeSTL(t, stltest.Cube(10), "d.stl"), ArtistID: "artist-2"},
	}

	outcomes := h.service.IngestBatch(context.Background(), requests)
	if len(outcomes) != len(requests) {
		t.Fatalf("IngestBatch failed: expected %d outcomes, got %d", len(requests), len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Path != requests[i].Path {
			t.Errorf("outcome %d failed: expected path %s, got %s", i, requests[i].Path, outcome.Path)
		}
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Errorf("IngestBatch failed: distinct boxes must succeed, got %v / %v", outcomes[0].Err, outcomes[2].Err)
	}

	// Exactly one of the identical cubes wins
	cubeWins, cubeDuplicates := 0, 0
	for _, outcome := range []Outcome{outcomes[1], outcomes[3]} {
		switch {
		case outcome.Err == nil:
			cubeWins++
		case errors.Is(outcome.Err, fingerprint.ErrDuplicateDetected):
			cubeDuplicates++
		default:
			t.Errorf("IngestBatch failed: unexpected error %v", outcome.Err)
		}
	}
	if cubeWins != 1 || cubeDuplicates != 1 {
		t.Errorf("IngestBatch failed: expected 1 win and 1 duplicate, got %d and %d", cubeWins, cubeDuplicates)
	}
}

func TestIngestOpenSCADSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake renderer is a shell script")
	}

	// Stand-in renderer: copies a fixture STL to the -o target
	fixture := writeSTL(t, stltest.Tetrahedron(20), "rendered.stl")
	binDir := t.TempDir()
	script := filepath.Join(binDir, "fake-openscad")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncp '"+fixture+"' \"$2\"\n"), 0o755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}

	srcDir := t.TempDir()
	main := filepath.Join(srcDir, "bracket.scad")
	if err := os.WriteFile(main, []byte("include <lib.scad>\nbracket();\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "lib.scad"), []byte("module bracket() {}\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	h := newHarness(t)
	h.cfg.Pipeline.OpenSCADBinary = script
	service := h.build(t, h.store)

	result, err := service.Ingest(context.Background(), Request{Path: main, ArtistID: "artist-1"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Name != "bracket" {
		t.Errorf("Name failed: expected bracket, got %q", result.Name)
	}
	if len(result.SourceFiles) != 2 {
		t.Errorf("SourceFiles failed: expected 2, got %v", result.SourceFiles)
	}
	if result.Stats.TriangleCount != 4 {
		t.Errorf("TriangleCount failed: expected 4, got %d", result.Stats.TriangleCount)
	}
	assertEmptyDir(t, h.cfg.Pipeline.WorkDir)
}

func TestIngestOpenSCADMissingRenderer(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.OpenSCADBinary = "meshvault-no-such-openscad"
	service := h.build(t, h.store)

	path := filepath.Join(t.TempDir(), "part.scad")
	if err := os.WriteFile(path, []byte("cube(10);\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := service.Ingest(context.Background(), Request{Path: path, ArtistID: "artist-1"})
	if !errors.Is(err, openscad.ErrNotInstalled) {
		t.Errorf("Ingest failed: expected ErrNotInstalled, got %v", err)
	}
}
