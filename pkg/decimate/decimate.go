// Package decimate reduces triangle count by culling the smallest triangles.
//
// The culling is area-based and not topology-preserving, so it can open holes
// in a closed mesh. Survivors keep their original relative order.
package decimate

import (
	"math"
	"sort"

	"github.com/philipparndt/meshvault/pkg/stl"
)

// MaxLevel is the highest decimation percentage accepted on ingest
const MaxLevel = 90

// Decimate drops the smallest percent% of triangles by count. Percent outside
// (0,100), NaN included, leaves the soup untouched. The soup is modified in place and
// returned.
func Decimate(soup *stl.Soup, percent float64) *stl.Soup {
	n := soup.TriangleCount()
	if !inRange(percent) || n == 0 {
		return soup
	}

	keep := Survivors(n, percent)
	if keep >= n {
		return soup
	}

	areas := make([]float64, n)
	order := make([]int, n)
	for i, triangle := range soup.Triangles {
		areas[i] = triangle.Area()
		order[i] = i
	}

	// Stable so equal areas are culled in storage order
	sort.SliceStable(order, func(a, b int) bool {
		return areas[order[a]] < areas[order[b]]
	})

	dropped := make([]bool, n)
	for _, idx := range order[:n-keep] {
		dropped[idx] = true
	}

	survivors := soup.Triangles[:0]
	for i, triangle := range soup.Triangles {
		if !dropped[i] {
			survivors = append(survivors, triangle)
		}
	}
	soup.Triangles = survivors
	return soup
}

// Survivors returns ceil(n * (100 - percent) / 100), the number of triangles
// kept at the given level
func Survivors(n int, percent float64) int {
	if !inRange(percent) {
		return n
	}
	if whole := math.Trunc(percent); whole == percent {
		remaining := 100 - int(whole)
		return (n*remaining + 99) / 100
	}
	return int(math.Ceil(float64(n) * (100 - percent) / 100))
}

// Candidates returns the indices of the triangles that would be culled at the
// given level, smallest first
func Candidates(soup *stl.Soup, percent float64) []int {
	n := soup.TriangleCount()
	drop := n - Survivors(n, percent)
	if drop <= 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return soup.Triangles[order[a]].Area() < soup.Triangles[order[b]].Area()
	})
	return order[:drop]
}

// inRange reports whether percent lies strictly inside (0,100)
func inRange(percent float64) bool {
	return !math.IsNaN(percent) && percent > 0 && percent < 100
}
