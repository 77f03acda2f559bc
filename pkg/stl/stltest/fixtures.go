// Package stltest provides triangle soups for tests.
package stltest

import (
	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
)

func v(x, y, z float64) geometry.Vector3 { return geometry.NewVector3(x, y, z) }

// Cube returns a closed, outward-wound 12-triangle cube spanning [0,side]^3
func Cube(side float64) *stl.Soup {
	s := side
	faces := []struct {
		normal     geometry.Vector3
		a, b, c, d geometry.Vector3
	}{
		{v(0, 0, -1), v(0, 0, 0), v(0, s, 0), v(s, s, 0), v(s, 0, 0)},
		{v(0, 0, 1), v(0, 0, s), v(s, 0, s), v(s, s, s), v(0, s, s)},
		{v(0, -1, 0), v(0, 0, 0), v(s, 0, 0), v(s, 0, s), v(0, 0, s)},
		{v(0, 1, 0), v(0, s, 0), v(0, s, s), v(s, s, s), v(s, s, 0)},
		{v(-1, 0, 0), v(0, 0, 0), v(0, 0, s), v(0, s, s), v(0, s, 0)},
		{v(1, 0, 0), v(s, 0, 0), v(s, s, 0), v(s, s, s), v(s, 0, s)},
	}

	soup := stl.NewSoup("cube", true)
	for _, f := range faces {
		soup.AddTriangle(geometry.NewTriangle(f.normal, f.a, f.b, f.c))
		soup.AddTriangle(geometry.NewTriangle(f.normal, f.a, f.c, f.d))
	}
	return soup
}

// Box returns a closed box spanning [0,x]x[0,y]x[0,z]
func Box(x, y, z float64) *stl.Soup {
	soup := Cube(1)
	soup.Name = "box"
	for i, t := range soup.Triangles {
		soup.Triangles[i] = geometry.NewTriangle(t.Normal, scale(t.V1, x, y, z), scale(t.V2, x, y, z), scale(t.V3, x, y, z))
	}
	return soup
}

func scale(p geometry.Vector3, x, y, z float64) geometry.Vector3 {
	return v(p.X*x, p.Y*y, p.Z*z)
}

// Tetrahedron returns a closed, outward-wound tetrahedron with legs of the
// given length along each axis
func Tetrahedron(leg float64) *stl.Soup {
	o, a, b, c := v(0, 0, 0), v(leg, 0, 0), v(0, leg, 0), v(0, 0, leg)
	soup := stl.NewSoup("tetrahedron", true)
	for _, tri := range [][3]geometry.Vector3{
		{o, b, a},
		{o, a, c},
		{o, c, b},
		{a, b, c},
	} {
		t := geometry.NewTriangle(geometry.Vector3{}, tri[0], tri[1], tri[2])
		t.Normal = t.CalculateNormal()
		soup.AddTriangle(t)
	}
	return soup
}

// Strip returns n disjoint triangles in the z=0 plane with distinct,
// index-dependent areas
func Strip(n int) *stl.Soup {
	soup := stl.NewSoup("strip", true)
	for i := 0; i < n; i++ {
		x := float64(i) * 2
		height := 1 + float64((i*7919)%1000)/100 + float64(i)*1e-6
		soup.AddTriangle(geometry.NewTriangle(
			v(0, 0, 1),
			v(x, 0, 0),
			v(x+1, 0, 0),
			v(x, height, 0),
		))
	}
	return soup
}

// Grid returns a flat n x n grid of square cells in the z=0 plane, two
// triangles per cell, wound upward
func Grid(n int, cell float64) *stl.Soup {
	soup := stl.NewSoup("grid", true)
	up := v(0, 0, 1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x0, y0 := float64(i)*cell, float64(j)*cell
			x1, y1 := x0+cell, y0+cell
			soup.AddTriangle(geometry.NewTriangle(up, v(x0, y0, 0), v(x1, y0, 0), v(x1, y1, 0)))
			soup.AddTriangle(geometry.NewTriangle(up, v(x0, y0, 0), v(x1, y1, 0), v(x0, y1, 0)))
		}
	}
	return soup
}
