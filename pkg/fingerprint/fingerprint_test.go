package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl/stltest"
)

func TestBuildFeatureVector(t *testing.T) {
	v := BuildFeatureVector(1000, 600, geometry.NewVector3(20, 5, 10), 12)
	want := FeatureVector{1000, 600, 0.25, 0.5, 0.000012}
	if v != want {
		t.Errorf("BuildFeatureVector failed: expected %v, got %v", want, v)
	}

	// Orientation does not matter
	rotated := BuildFeatureVector(1000, 600, geometry.NewVector3(5, 10, 20), 12)
	if rotated != v {
		t.Errorf("BuildFeatureVector failed: permuted dimensions gave %v", rotated)
	}

	flat := BuildFeatureVector(0, 0, geometry.Vector3{}, 0)
	if flat != (FeatureVector{}) {
		t.Errorf("BuildFeatureVector failed: expected zero vector, got %v", flat)
	}
}

func TestDeriveSignature(t *testing.T) {
	report, err := analysis.Analyze(stltest.Cube(10))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	a := DeriveSignature(FromReport(report))
	b := DeriveSignature(FromReport(report))

	if a != b {
		t.Errorf("DeriveSignature failed: not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("DeriveSignature failed: expected 64 hex chars, got %d", len(a))
	}

	other, err := analysis.Analyze(stltest.Cube(11))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if DeriveSignature(FromReport(other)) == a {
		t.Errorf("DeriveSignature failed: different cubes share a signature")
	}
}

func TestCosineSimilarity(t *testing.T) {
	v := FeatureVector{1000, 600, 1, 1, 0.000012}
	w := FeatureVector{12, 3, 0.2, 0.9, 0.5}

	if got := CosineSimilarity(v, v); math.Abs(got-1) > 1e-12 {
		t.Errorf("CosineSimilarity(v, v) failed: expected 1, got %v", got)
	}
	if CosineSimilarity(v, w) != CosineSimilarity(w, v) {
		t.Errorf("CosineSimilarity failed: not symmetric")
	}
	if got := CosineSimilarity(v, FeatureVector{}); got != 0 {
		t.Errorf("CosineSimilarity failed: expected 0 for a zero vector, got %v", got)
	}
}

func TestFindSimilar(t *testing.T) {
	query := FeatureVector{1000, 600, 1, 1, 0.000012}
	candidates := []Candidate{
		{AssetID: "self", Vector: query},
		{AssetID: "near", Vector: FeatureVector{1001, 600, 1, 1, 0.000012}, WatermarkToken: "wm-near"},
		{AssetID: "exact", Vector: query, WatermarkToken: "wm-exact"},
		{AssetID: "far", Vector: FeatureVector{1, 6000, 0.1, 0.2, 0.4}},
	}

	matches := FindSimilar(query, candidates, SearchOptions{MinSimilarity: 0.99, ExcludeID: "self"})
	if len(matches) != 2 {
		t.Fatalf("FindSimilar failed: expected 2 matches, got %v", matches)
	}
	if matches[0].AssetID != "exact" || matches[1].AssetID != "near" {
		t.Errorf("FindSimilar failed: unexpected ranking %v", matches)
	}
	if matches[1].WatermarkToken != "wm-near" {
		t.Errorf("FindSimilar failed: expected watermark token, got %q", matches[1].WatermarkToken)
	}

	limited := FindSimilar(query, candidates, SearchOptions{MinSimilarity: 0, Limit: 1})
	if len(limited) != 1 {
		t.Errorf("FindSimilar failed: expected limit 1, got %d", len(limited))
	}
}

func TestDuplicateError(t *testing.T) {
	err := fmt.Errorf("duplicate check: %w", &DuplicateError{AssetID: "a1", Similarity: 1, Kind: KindSignature})
	if !errors.Is(err, ErrDuplicateDetected) {
		t.Errorf("DuplicateError failed: expected errors.Is ErrDuplicateDetected")
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.AssetID != "a1" {
		t.Errorf("DuplicateError failed: expected errors.As to recover the asset id")
	}
}
