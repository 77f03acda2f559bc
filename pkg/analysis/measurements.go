package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
)

// ErrEmptyGeometry is returned when a stage requiring triangles gets none
var ErrEmptyGeometry = errors.New("empty geometry")

const (
	mmToMeters = 0.001

	// plaDensity is grams per cubic centimeter
	plaDensity = 1.24

	// minutesPerGram is a coarse print-time heuristic, not a slicer estimate
	minutesPerGram = 2.0
)

// Footprint is the bounding box extent in meters
type Footprint struct {
	Width  float64 `json:"width"`
	Depth  float64 `json:"depth"`
	Height float64 `json:"height"`
}

// PrintStatistics holds print-relevant metrics of a soup
type PrintStatistics struct {
	Volume        float64 `json:"volume_mm3"`
	SurfaceArea   float64 `json:"surface_area_mm2"`
	Weight        float64 `json:"weight_g"`
	PrintMinutes  float64 `json:"print_minutes"`
	TriangleCount int     `json:"triangle_count"`
}

// EdgeStatistics summarizes triangle edge lengths
type EdgeStatistics struct {
	EdgeCount     int
	MinEdgeLength float64
	MaxEdgeLength float64
	AvgEdgeLength float64
}

// Report bundles everything the analyzer derives from one soup state
type Report struct {
	BoundingBox geometry.BoundingBox
	Dimensions  geometry.Vector3
	Footprint   Footprint
	Stats       PrintStatistics
	Edges       EdgeStatistics
}

// ComputeAABB returns the axis-aligned bounding box of all vertices
func ComputeAABB(soup *stl.Soup) (geometry.BoundingBox, error) {
	if soup == nil || soup.TriangleCount() == 0 {
		return geometry.BoundingBox{}, ErrEmptyGeometry
	}
	bbox := geometry.NewBoundingBox()
	for _, triangle := range soup.Triangles {
		bbox.ExtendTriangle(triangle)
	}
	return bbox, nil
}

// ComputeFootprint converts the box extent from millimeters to meters
func ComputeFootprint(bbox geometry.BoundingBox) Footprint {
	size := bbox.Size()
	return Footprint{
		Width:  round(size.X*mmToMeters, 4),
		Depth:  round(size.Y*mmToMeters, 4),
		Height: round(size.Z*mmToMeters, 4),
	}
}

// ComputeVolume sums signed tetrahedra against the origin. A closed,
// consistently wound mesh yields its true volume.
func ComputeVolume(soup *stl.Soup) float64 {
	volume := 0.0
	for _, triangle := range soup.Triangles {
		volume += triangle.SignedVolume()
	}
	return math.Abs(volume)
}

// ComputeSurfaceArea sums the area of every triangle
func ComputeSurfaceArea(soup *stl.Soup) float64 {
	area := 0.0
	for _, triangle := range soup.Triangles {
		area += triangle.Area()
	}
	return area
}

// ComputePrintStatistics estimates PLA weight and print time
func ComputePrintStatistics(soup *stl.Soup, bbox geometry.BoundingBox) (PrintStatistics, error) {
	if soup == nil || soup.TriangleCount() == 0 || bbox.IsEmpty() {
		return PrintStatistics{}, ErrEmptyGeometry
	}

	volume := ComputeVolume(soup)
	area := ComputeSurfaceArea(soup)
	// mm^3 -> cm^3
	weight := volume / 1000.0 * plaDensity

	return PrintStatistics{
		Volume:        round(volume, 2),
		SurfaceArea:   round(area, 2),
		Weight:        round(weight, 2),
		PrintMinutes:  round(weight*minutesPerGram, 1),
		TriangleCount: soup.TriangleCount(),
	}, nil
}

// ComputeEdgeStatistics collects min/max/average edge length
func ComputeEdgeStatistics(soup *stl.Soup) EdgeStatistics {
	stats := EdgeStatistics{MinEdgeLength: math.MaxFloat64}
	total := 0.0

	for _, triangle := range soup.Triangles {
		for _, length := range triangle.EdgeLengths() {
			total += length
			stats.EdgeCount++
			if length < stats.MinEdgeLength {
				stats.MinEdgeLength = length
			}
			if length > stats.MaxEdgeLength {
				stats.MaxEdgeLength = length
			}
		}
	}

	if stats.EdgeCount == 0 {
		stats.MinEdgeLength = 0
		return stats
	}
	stats.AvgEdgeLength = total / float64(stats.EdgeCount)
	return stats
}

// Analyze computes every measurement for the current soup state
func Analyze(soup *stl.Soup) (*Report, error) {
	bbox, err := ComputeAABB(soup)
	if err != nil {
		return nil, err
	}
	stats, err := ComputePrintStatistics(soup, bbox)
	if err != nil {
		return nil, err
	}
	return &Report{
		BoundingBox: bbox,
		Dimensions:  bbox.Size(),
		Footprint:   ComputeFootprint(bbox),
		Stats:       stats,
		Edges:       ComputeEdgeStatistics(soup),
	}, nil
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

// FormatMeasurement formats a measurement with appropriate units
func FormatMeasurement(value float64, unit string) string {
	if unit == "" {
		unit = "units"
	}
	return fmt.Sprintf("%.6f %s", value, unit)
}

// FormatVector formats a 3D vector
func FormatVector(v geometry.Vector3) string {
	return fmt.Sprintf("(%.6f, %.6f, %.6f)", v.X, v.Y, v.Z)
}
