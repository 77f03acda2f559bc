package gltfconv

import (
	"math"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
)

const (
	attrPosition = "POSITION"
	attrNormal   = "NORMAL"
	attrTexcoord = "TEXCOORD_0"
	attrColor    = "COLOR_0"

	mmToMeters = 0.001
)

// attribute is one per-vertex stream before it is written to a buffer
type attribute struct {
	name       string
	components int
	values     []float32

	// Set by quantize; values is dropped by prune once these exist
	quantized []int16
	bits      int

	// Set by dedup when an earlier attribute has identical content
	shared *attribute
}

func (a *attribute) count() int {
	if a.shared != nil {
		return a.shared.count()
	}
	if a.components == 0 {
		return 0
	}
	if a.quantized != nil {
		return len(a.quantized) / a.components
	}
	return len(a.values) / a.components
}

func (a *attribute) vector(i int) geometry.Vector3 {
	j := i * a.components
	return geometry.NewVector3(float64(a.values[j]), float64(a.values[j+1]), float64(a.values[j+2]))
}

// meshData is the indexed intermediate the compression passes work on
type meshData struct {
	attributes []*attribute
	indices    []uint32

	// Dequantization transform carried by the mesh node
	quantized   bool
	translation [3]float64
	scale       float64
}

func (m *meshData) attribute(name string) *attribute {
	for _, attr := range m.attributes {
		if attr.name == name {
			return attr
		}
	}
	return nil
}

func (m *meshData) vertexCount() int {
	if pos := m.attribute(attrPosition); pos != nil {
		return pos.count()
	}
	return 0
}

func (m *meshData) triangleCount() int {
	return len(m.indices) / 3
}

// toTarget maps a source Z-up millimeter position into Y-up meters
func toTarget(p geometry.Vector3) geometry.Vector3 {
	return p.SwapYZ().Mul(mmToMeters)
}

// buildMesh emits three unshared vertices per triangle. Swapping Y and Z
// mirrors the mesh, so each triple is reordered (v0, v2, v1) to keep the
// winding outward. Normals are recomputed from the reordered triple and fall
// back to the stored normal when degenerate.
func buildMesh(soup *stl.Soup) *meshData {
	n := soup.TriangleCount()
	positions := make([]float32, 0, n*9)
	normals := make([]float32, 0, n*9)
	indices := make([]uint32, 0, n*3)

	for _, triangle := range soup.Triangles {
		a := toTarget(triangle.V1)
		b := toTarget(triangle.V3)
		c := toTarget(triangle.V2)

		normal := faceNormal(a, b, c, triangle.Normal.SwapYZ())

		for _, p := range [3]geometry.Vector3{a, b, c} {
			indices = append(indices, uint32(len(positions)/3))
			positions = append(positions, float32(p.X), float32(p.Y), float32(p.Z))
			normals = append(normals, float32(normal.X), float32(normal.Y), float32(normal.Z))
		}
	}

	return &meshData{
		attributes: []*attribute{
			{name: attrPosition, components: 3, values: positions},
			{name: attrNormal, components: 3, values: normals},
		},
		indices: indices,
		scale:   1,
	}
}

// faceNormal returns the unit normal of (a, b, c), or the normalized fallback
// when the triangle is degenerate
func faceNormal(a, b, c, fallback geometry.Vector3) geometry.Vector3 {
	normal := b.Sub(a).Cross(c.Sub(a))
	length := normal.Length()
	if length > 0 && normal.IsFinite() && !math.IsInf(length, 0) {
		return normal.Mul(1 / length)
	}
	if l := fallback.Length(); l > 0 && fallback.IsFinite() {
		return fallback.Mul(1 / l)
	}
	return fallback
}
