package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/philipparndt/meshvault/pkg/analysis"
	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/stl/stltest"
)

func rasterize(t *testing.T, soup *stl.Soup, size int) *image.RGBA {
	t.Helper()
	bbox, err := analysis.ComputeAABB(soup)
	if err != nil {
		t.Fatalf("ComputeAABB failed: %v", err)
	}
	out, err := Rasterize(soup, bbox, size)
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	return out
}

func gray(v uint8) color.RGBA {
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

func TestRasterizeCubeTopFace(t *testing.T) {
	img := rasterize(t, stltest.Cube(10), 64)

	for _, p := range [][2]int{{0, 0}, {63, 63}, {32, 32}, {0, 63}} {
		if got := img.RGBAAt(p[0], p[1]); got != gray(240) {
			t.Errorf("pixel %v failed: expected %v, got %v", p, gray(240), got)
		}
	}
}

func TestRasterizeTetrahedronShading(t *testing.T) {
	img := rasterize(t, stltest.Tetrahedron(10), 65)

	// World origin maps to the bottom-left pixel, where the apex sits
	if got := img.RGBAAt(0, 64); got != gray(240) {
		t.Errorf("apex pixel failed: expected %v, got %v", gray(240), got)
	}
	// Outside the x+y <= leg footprint
	if got := img.RGBAAt(64, 0); got != Background {
		t.Errorf("background pixel failed: expected %v, got %v", Background, got)
	}
	// Halfway up the sloped face: z = 10 - 2.5 - 2.5
	if got := img.RGBAAt(16, 48); got != gray(150) {
		t.Errorf("slope pixel failed: expected %v, got %v", gray(150), got)
	}
}

func TestRasterizeFlatSoup(t *testing.T) {
	img := rasterize(t, stltest.Grid(4, 1), 16)
	if got := img.RGBAAt(8, 8); got != gray(240) {
		t.Errorf("flat soup failed: expected full brightness, got %v", got)
	}
}

func TestRasterizeSkipsDegenerate(t *testing.T) {
	soup := stl.NewSoup("line", true)
	soup.AddTriangle(geometry.NewTriangle(
		geometry.NewVector3(0, 0, 1),
		geometry.NewVector3(0, 0, 0),
		geometry.NewVector3(5, 5, 1),
		geometry.NewVector3(10, 10, 2),
	))

	img := rasterize(t, soup, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if got := img.RGBAAt(x, y); got != Background {
				t.Fatalf("pixel (%d,%d) failed: expected background, got %v", x, y, got)
			}
		}
	}
}

func TestRasterizeInvalidSize(t *testing.T) {
	if _, err := Rasterize(stltest.Cube(1), geometry.NewBoundingBox(), 0); err == nil {
		t.Errorf("Rasterize failed: expected an error for size 0")
	}
}

func TestEncodePNG(t *testing.T) {
	img := rasterize(t, stltest.Cube(10), 32)
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("EncodePNG failed: expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}
}
