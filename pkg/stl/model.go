package stl

import (
	"github.com/philipparndt/meshvault/pkg/geometry"
)

// Soup is an ordered triangle soup decoded from an STL file. Triangles are
// stored by value and owned exclusively by the soup.
type Soup struct {
	Name      string
	Binary    bool
	Triangles []geometry.Triangle
}

// NewSoup creates an empty soup
func NewSoup(name string, binary bool) *Soup {
	return &Soup{
		Name:      name,
		Binary:    binary,
		Triangles: make([]geometry.Triangle, 0),
	}
}

// AddTriangle appends a triangle to the soup
func (s *Soup) AddTriangle(triangle geometry.Triangle) {
	s.Triangles = append(s.Triangles, triangle)
}

// TriangleCount returns the number of triangles in the soup
func (s *Soup) TriangleCount() int {
	return len(s.Triangles)
}

// Clone returns a deep copy that shares no storage with s
func (s *Soup) Clone() *Soup {
	triangles := make([]geometry.Triangle, len(s.Triangles))
	copy(triangles, s.Triangles)
	return &Soup{
		Name:      s.Name,
		Binary:    s.Binary,
		Triangles: triangles,
	}
}
