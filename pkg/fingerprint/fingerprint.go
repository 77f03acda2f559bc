// Package fingerprint derives shape feature vectors and finds near-duplicate
// meshes by cosine similarity.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/zeebo/blake3"
)

// ErrDuplicateDetected is wrapped by DuplicateError
var ErrDuplicateDetected = errors.New("duplicate detected")

const (
	KindSignature  = "signature"
	KindSimilarity = "similarity"

	precision = 6
)

// DuplicateError names the existing asset an upload collides with
type DuplicateError struct {
	AssetID    string
	Similarity float64
	Kind       string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s match with asset %s (similarity %.4f)", ErrDuplicateDetected, e.Kind, e.AssetID, e.Similarity)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateDetected
}

// FeatureVector is [volume, area, d0/d2, d1/d2, triangles/1e6] with the
// dimensions sorted ascending
type FeatureVector [5]float64

func round(v float64) float64 {
	scale := math.Pow(10, precision)
	return math.Round(v*scale) / scale
}

// BuildFeatureVector assembles a vector robust to orientation. A zero
// longest dimension yields zero ratios.
func BuildFeatureVector(volume, surfaceArea float64, dimensions geometry.Vector3, triangleCount int) FeatureVector {
	dims := []float64{dimensions.X, dimensions.Y, dimensions.Z}
	sort.Float64s(dims)

	var r0, r1 float64
	if dims[2] != 0 {
		r0, r1 = dims[0]/dims[2], dims[1]/dims[2]
	}

	return FeatureVector{
		round(volume),
		round(surfaceArea),
		round(r0),
		round(r1),
		round(float64(triangleCount) / 1_000_000),
	}
}

// FromReport builds the vector from analyzer output
func FromReport(report *analysis.Report) FeatureVector {
	return BuildFeatureVector(report.Stats.Volume, report.Stats.SurfaceArea, report.Dimensions, report.Stats.TriangleCount)
}

// DeriveSignature hashes the fixed-precision text of every component
func DeriveSignature(v FeatureVector) string {
	var b strings.Builder
	for _, component := range v {
		fmt.Fprintf(&b, "%.6f", component)
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity returns 0 when either vector has zero magnitude
func CosineSimilarity(a, b FeatureVector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a stored vector
type Candidate struct {
	AssetID        string
	Vector         FeatureVector
	WatermarkToken string
}

// Match is a ranked search result
type Match struct {
	AssetID        string  `json:"asset_id"`
	Similarity     float64 `json:"similarity"`
	WatermarkToken string  `json:"watermark_token"`
}

// SearchOptions filters FindSimilar. Limit <= 0 returns every match.
type SearchOptions struct {
	MinSimilarity float64
	Limit         int
	ExcludeID     string
}

// FindSimilar scans every candidate, keeps those at or above the threshold
// and ranks them by descending similarity
func FindSimilar(query FeatureVector, candidates []Candidate, opts SearchOptions) []Match {
	var matches []Match
	for _, c := range candidates {
		if opts.ExcludeID != "" && c.AssetID == opts.ExcludeID {
			continue
		}
		similarity := CosineSimilarity(query, c.Vector)
		if similarity < opts.MinSimilarity {
			continue
		}
		matches = append(matches, Match{AssetID: c.AssetID, Similarity: similarity, WatermarkToken: c.WatermarkToken})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].AssetID < matches[j].AssetID
	})
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches
}
