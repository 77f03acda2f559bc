package watermark

import (
	"fmt"
	"math"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
)

const (
	// Magnitude is the vertex offset in millimeters, well below printer
	// resolution
	Magnitude = 0.0005

	// A triangle is selected when its first stream byte is below this,
	// about 7.8% of triangles
	selectThreshold = 20

	verifyTolerance = Magnitude / 4
)

// decision is the stream output for one triangle
type decision struct {
	selected bool
	sign     float64
}

// decisions consumes exactly two bytes per triangle in storage order, whether
// or not the triangle ends up moved
func decisions(p Payload, n int) []decision {
	stream := NewStream(Seed(p))
	out := make([]decision, n)
	for i := range out {
		selector, signBit := stream.Byte(), stream.Byte()
		out[i].selected = selector < selectThreshold
		out[i].sign = 1
		if signBit&1 == 1 {
			out[i].sign = -1
		}
	}
	return out
}

// offsetDirection prefers the stored unit normal and falls back to the facet
// normal
func offsetDirection(t geometry.Triangle) (geometry.Vector3, bool) {
	if l := t.Normal.Length(); l > 0 && t.Normal.IsFinite() && !math.IsInf(l, 0) {
		return t.Normal.Mul(1 / l), true
	}
	return t.FacetNormal()
}

// EmbedInGeometry perturbs the selected triangles in place and returns how
// many were moved. It must run exactly once per upload; a second pass
// doubles the offsets.
func EmbedInGeometry(soup *stl.Soup, p Payload) (int, error) {
	if soup == nil || soup.TriangleCount() == 0 {
		return 0, analysis.ErrEmptyGeometry
	}

	embedded := 0
	for i, d := range decisions(p, soup.TriangleCount()) {
		if !d.selected {
			continue
		}
		triangle := soup.Triangles[i]
		direction, ok := offsetDirection(triangle)
		if !ok {
			continue
		}
		soup.Triangles[i] = triangle.Translate(direction.Mul(d.sign * Magnitude))
		embedded++
	}
	return embedded, nil
}

// SelectionPattern lists the triangle indices a payload selects in a soup of
// n triangles
func SelectionPattern(p Payload, n int) []int {
	var selected []int
	for i, d := range decisions(p, n) {
		if d.selected {
			selected = append(selected, i)
		}
	}
	return selected
}

// Verification reports how much of a payload's pattern a candidate carries
type Verification struct {
	Selected int
	Matched  int
}

// Score is the matched fraction of the checkable selected triangles
func (v Verification) Score() float64 {
	if v.Selected == 0 {
		return 0
	}
	return float64(v.Matched) / float64(v.Selected)
}

// Verify compares a candidate against the unmarked reference and counts the
// selected triangles whose vertices all moved by the expected signed offset
func Verify(reference, candidate *stl.Soup, p Payload) (Verification, error) {
	if reference.TriangleCount() != candidate.TriangleCount() {
		return Verification{}, fmt.Errorf("triangle count mismatch: reference %d, candidate %d",
			reference.TriangleCount(), candidate.TriangleCount())
	}

	var result Verification
	for i, d := range decisions(p, reference.TriangleCount()) {
		if !d.selected {
			continue
		}
		direction, ok := offsetDirection(reference.Triangles[i])
		if !ok {
			continue
		}
		result.Selected++

		want := d.sign * Magnitude
		before := reference.Triangles[i].Vertices()
		after := candidate.Triangles[i].Vertices()
		matched := true
		for k := range before {
			moved := after[k].Sub(before[k])
			along := moved.Dot(direction)
			lateral := moved.Sub(direction.Mul(along)).Length()
			if math.Abs(along-want) > verifyTolerance || lateral > verifyTolerance {
				matched = false
				break
			}
		}
		if matched {
			result.Matched++
		}
	}
	return result, nil
}
