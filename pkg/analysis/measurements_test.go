package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/stl/stltest"
)

func TestCubeMeasurements(t *testing.T) {
	cube := stltest.Cube(10)

	report, err := Analyze(cube)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if math.Abs(report.Stats.Volume-1000) > 1e-6 {
		t.Errorf("Volume failed: expected 1000, got %v", report.Stats.Volume)
	}
	if math.Abs(report.Stats.SurfaceArea-600) > 1e-6 {
		t.Errorf("SurfaceArea failed: expected 600, got %v", report.Stats.SurfaceArea)
	}

	expected := Footprint{Width: 0.01, Depth: 0.01, Height: 0.01}
	if report.Footprint != expected {
		t.Errorf("Footprint failed: expected %v, got %v", expected, report.Footprint)
	}

	// 1 cm^3 of PLA
	if math.Abs(report.Stats.Weight-1.24) > 1e-9 {
		t.Errorf("Weight failed: expected 1.24, got %v", report.Stats.Weight)
	}
	if math.Abs(report.Stats.PrintMinutes-2.5) > 1e-9 {
		t.Errorf("PrintMinutes failed: expected 2.5, got %v", report.Stats.PrintMinutes)
	}
	if report.Stats.TriangleCount != 12 {
		t.Errorf("TriangleCount failed: expected 12, got %d", report.Stats.TriangleCount)
	}
	if report.Edges.EdgeCount != 36 {
		t.Errorf("EdgeCount failed: expected 36, got %d", report.Edges.EdgeCount)
	}
	if math.Abs(report.Edges.MinEdgeLength-10) > 1e-9 {
		t.Errorf("MinEdgeLength failed: expected 10, got %v", report.Edges.MinEdgeLength)
	}
}

func TestEmptyGeometry(t *testing.T) {
	empty := stl.NewSoup("", true)

	if _, err := ComputeAABB(empty); !errors.Is(err, ErrEmptyGeometry) {
		t.Errorf("ComputeAABB failed: expected ErrEmptyGeometry, got %v", err)
	}
	if _, err := Analyze(empty); !errors.Is(err, ErrEmptyGeometry) {
		t.Errorf("Analyze failed: expected ErrEmptyGeometry, got %v", err)
	}
	if _, err := ComputePrintStatistics(empty, geometry.NewBoundingBox()); !errors.Is(err, ErrEmptyGeometry) {
		t.Errorf("ComputePrintStatistics failed: expected ErrEmptyGeometry, got %v", err)
	}
}

func rotateZ(p geometry.Vector3, angle float64) geometry.Vector3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return geometry.NewVector3(p.X*c-p.Y*s, p.X*s+p.Y*c, p.Z)
}

func rotateX(p geometry.Vector3, angle float64) geometry.Vector3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return geometry.NewVector3(p.X, p.Y*c-p.Z*s, p.Y*s+p.Z*c)
}

func TestVolumeAndAreaRigidInvariance(t *testing.T) {
	shapes := []*stl.Soup{stltest.Cube(10), stltest.Tetrahedron(6), stltest.Box(3, 5, 7)}
	offset := geometry.NewVector3(125.5, -40, 17.25)

	for _, shape := range shapes {
		baseVolume := ComputeVolume(shape)
		baseArea := ComputeSurfaceArea(shape)

		moved := shape.Clone()
		for i, tri := range moved.Triangles {
			transform := func(p geometry.Vector3) geometry.Vector3 {
				return rotateX(rotateZ(p, 0.7), -1.3).Add(offset)
			}
			moved.Triangles[i] = geometry.NewTriangle(tri.Normal, transform(tri.V1), transform(tri.V2), transform(tri.V3))
		}

		if v := ComputeVolume(moved); math.Abs(v-baseVolume) > 1e-6*baseVolume {
			t.Errorf("%s: volume changed under rigid motion: expected %v, got %v", shape.Name, baseVolume, v)
		}
		if a := ComputeSurfaceArea(moved); math.Abs(a-baseArea) > 1e-6*baseArea {
			t.Errorf("%s: area changed under rigid motion: expected %v, got %v", shape.Name, baseArea, a)
		}
	}
}

func TestTetrahedronVolume(t *testing.T) {
	volume := ComputeVolume(stltest.Tetrahedron(6))
	expected := 36.0 // 6^3 / 6

	if math.Abs(volume-expected) > 1e-9 {
		t.Errorf("Volume failed: expected %v, got %v", expected, volume)
	}
}

func TestFootprintRounding(t *testing.T) {
	bbox := geometry.BoundingBox{
		Min: geometry.NewVector3(0, 0, 0),
		Max: geometry.NewVector3(123.456, 7.89, 0.04),
	}

	footprint := ComputeFootprint(bbox)
	expected := Footprint{Width: 0.1235, Depth: 0.0079, Height: 0}

	if footprint != expected {
		t.Errorf("Footprint failed: expected %v, got %v", expected, footprint)
	}
}
