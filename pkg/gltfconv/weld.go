package gltfconv

import "math"

const (
	// weldTolerance is 0.1 mm in target units
	weldTolerance = 1e-4

	normalTolerance = 1e-3
)

// cellKey addresses a weldTolerance-sized cube of the spatial hash
type cellKey [3]int64

func gridCell(v float32, tolerance float64) int64 {
	return int64(math.Floor(float64(v) / tolerance))
}

func positionCell(values []float32, j int) cellKey {
	return cellKey{
		gridCell(values[j], weldTolerance),
		gridCell(values[j+1], weldTolerance),
		gridCell(values[j+2], weldTolerance),
	}
}

// distance3 is the euclidean distance between the 3-component elements at a
// and b
func distance3(values []float32, a, b int) float64 {
	dx := float64(values[a]) - float64(values[b])
	dy := float64(values[a+1]) - float64(values[b+1])
	dz := float64(values[a+2]) - float64(values[b+2])
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// weld merges each vertex into the nearest kept vertex within weldTolerance
// whose normal is within normalTolerance. Cells are as wide as the tolerance,
// so every match lies in the 27 cells around the vertex. The first vertex of
// a cluster is kept. Triangles left with a repeated index are removed.
func weld(m *meshData) {
	pos := m.attribute(attrPosition)
	if pos == nil {
		return
	}
	nrm := m.attribute(attrNormal)
	if nrm != nil && nrm.count() != pos.count() {
		nrm = nil
	}

	cells := make(map[cellKey][]int, pos.count())
	remap := make([]uint32, pos.count())
	kept := make([]int, 0, pos.count())
	slot := make(map[int]uint32, pos.count())

	for i := 0; i < pos.count(); i++ {
		j := i * 3
		home := positionCell(pos.values, j)

		match, best := -1, math.Inf(1)
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for dz := int64(-1); dz <= 1; dz++ {
					key := cellKey{home[0] + dx, home[1] + dy, home[2] + dz}
					for _, k := range cells[key] {
						d := distance3(pos.values, k*3, j)
						if d > weldTolerance || d > best {
							continue
						}
						if nrm != nil && distance3(nrm.values, k*3, j) > normalTolerance {
							continue
						}
						if d == best && k > match {
							continue
						}
						match, best = k, d
					}
				}
			}
		}

		if match >= 0 {
			remap[i] = slot[match]
			continue
		}
		idx := uint32(len(kept))
		slot[i] = idx
		kept = append(kept, i)
		cells[home] = append(cells[home], i)
		remap[i] = idx
	}

	for _, attr := range m.attributes {
		attr.values = gather(attr.values, attr.components, kept)
	}

	indices := m.indices[:0]
	for t := 0; t+2 < len(m.indices); t += 3 {
		a, b, c := remap[m.indices[t]], remap[m.indices[t+1]], remap[m.indices[t+2]]
		if a == b || b == c || a == c {
			continue
		}
		indices = append(indices, a, b, c)
	}
	m.indices = indices
}

// gather copies the listed elements into a new slice
func gather[T any](values []T, components int, elements []int) []T {
	if values == nil {
		return nil
	}
	out := make([]T, 0, len(elements)*components)
	for _, e := range elements {
		out = append(out, values[e*components:(e+1)*components]...)
	}
	return out
}
