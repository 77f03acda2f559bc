// Package thumbnail renders orthographic, height-shaded top-down previews of
// triangle soups without a GPU or window system.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
)

// Background fills pixels no triangle covers
var Background = color.RGBA{R: 24, G: 24, B: 28, A: 255}

const (
	shadeMin   = 60
	shadeRange = 180
)

// Rasterize projects the soup onto the XY plane and shades each covered
// pixel by the highest surface Z seen there. X and Y are scaled
// independently to fill the image; image Y grows downward, so world Y is
// flipped.
func Rasterize(soup *stl.Soup, bbox geometry.BoundingBox, size int) (*image.RGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	zbuffer := make([]float64, size*size)
	for i := range zbuffer {
		zbuffer[i] = math.Inf(-1)
	}

	extent := bbox.Size()
	scaleX := float64(size-1) / nonZero(extent.X)
	scaleY := float64(size-1) / nonZero(extent.Y)

	project := func(p geometry.Vector3) (float64, float64, float64) {
		x := (p.X - bbox.Min.X) * scaleX
		y := float64(size-1) - (p.Y-bbox.Min.Y)*scaleY
		return x, y, p.Z
	}

	for _, triangle := range soup.Triangles {
		x1, y1, z1 := project(triangle.V1)
		x2, y2, z2 := project(triangle.V2)
		x3, y3, z3 := project(triangle.V3)
		fillTriangleMaxDepth(zbuffer, size, x1, y1, z1, x2, y2, z2, x3, y3, z3)
	}

	height := extent.Z
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			z := zbuffer[y*size+x]
			if math.IsInf(z, -1) {
				img.SetRGBA(x, y, Background)
				continue
			}
			img.SetRGBA(x, y, shade(z, bbox.Min.Z, height))
		}
	}
	return img, nil
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// shade maps a height onto the [60,240] gray ramp. A flat soup is fully lit.
func shade(z, minZ, height float64) color.RGBA {
	t := 1.0
	if height > 0 {
		t = math.Max(0, math.Min(1, (z-minZ)/height))
	}
	g := uint8(math.Round(shadeMin + t*shadeRange))
	return color.RGBA{R: g, G: g, B: g, A: 255}
}

// fillTriangleMaxDepth tests every pixel in the triangle's screen bounds with
// barycentric weights and keeps the highest interpolated Z. Degenerate
// triangles are skipped.
func fillTriangleMaxDepth(zbuffer []float64, size int, x1, y1, z1, x2, y2, z2, x3, y3, z3 float64) {
	denom := (y2-y3)*(x1-x3) + (x3-x2)*(y1-y3)
	if math.Abs(denom) < 1e-12 {
		return
	}

	minX := int(math.Max(0, math.Floor(math.Min(x1, math.Min(x2, x3)))))
	maxX := int(math.Min(float64(size-1), math.Ceil(math.Max(x1, math.Max(x2, x3)))))
	minY := int(math.Max(0, math.Floor(math.Min(y1, math.Min(y2, y3)))))
	maxY := int(math.Min(float64(size-1), math.Ceil(math.Max(y1, math.Max(y2, y3)))))

	const eps = 1e-9
	for y := minY; y <= maxY; y++ {
		fy := float64(y)
		for x := minX; x <= maxX; x++ {
			fx := float64(x)
			w1 := ((y2-y3)*(fx-x3) + (x3-x2)*(fy-y3)) / denom
			w2 := ((y3-y1)*(fx-x3) + (x1-x3)*(fy-y3)) / denom
			w3 := 1 - w1 - w2
			if w1 < -eps || w2 < -eps || w3 < -eps {
				continue
			}

			z := w1*z1 + w2*z2 + w3*z3
			if idx := y*size + x; z > zbuffer[idx] {
				zbuffer[idx] = z
			}
		}
	}
}

// EncodePNG encodes the image as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
