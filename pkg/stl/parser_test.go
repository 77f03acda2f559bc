package stl_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/pkg/stl/stltest"
)

func vectorsClose(a, b geometry.Vector3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

func TestDecodeBinaryRoundTrip(t *testing.T) {
	cube := stltest.Cube(10)

	data, err := stl.Encode(cube, "round trip")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != 84+12*50 {
		t.Fatalf("Encode failed: expected %d bytes, got %d", 84+12*50, len(data))
	}

	decoded, err := stl.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Binary {
		t.Errorf("Decode failed: expected binary flag")
	}
	if decoded.Name != "round trip" {
		t.Errorf("Decode failed: expected name %q, got %q", "round trip", decoded.Name)
	}
	if decoded.TriangleCount() != cube.TriangleCount() {
		t.Fatalf("Decode failed: expected %d triangles, got %d", cube.TriangleCount(), decoded.TriangleCount())
	}
	for i := range cube.Triangles {
		if decoded.Triangles[i] != cube.Triangles[i] {
			t.Errorf("triangle %d: expected %v, got %v", i, cube.Triangles[i], decoded.Triangles[i])
		}
	}

	reencoded, err := stl.Encode(decoded, "round trip")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(data, reencoded) {
		t.Errorf("Encode(Decode(bytes)) did not reproduce the input")
	}
}

func TestDecodeASCIIMatchesBinary(t *testing.T) {
	tetra := stltest.Tetrahedron(7.5)

	binaryData, err := stl.Encode(tetra, "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	fromBinary, err := stl.Decode(binaryData)
	if err != nil {
		t.Fatalf("Decode binary failed: %v", err)
	}

	fromASCII, err := stl.Decode(stl.EncodeASCII(tetra))
	if err != nil {
		t.Fatalf("Decode ASCII failed: %v", err)
	}
	if fromASCII.Binary {
		t.Errorf("Decode failed: expected ASCII flag")
	}
	if fromASCII.Name != "tetrahedron" {
		t.Errorf("Decode failed: expected solid name %q, got %q", "tetrahedron", fromASCII.Name)
	}
	if fromASCII.TriangleCount() != fromBinary.TriangleCount() {
		t.Fatalf("expected %d triangles, got %d", fromBinary.TriangleCount(), fromASCII.TriangleCount())
	}

	for i := range fromBinary.Triangles {
		a, b := fromASCII.Triangles[i], fromBinary.Triangles[i]
		if !vectorsClose(a.Normal, b.Normal, 1e-6) ||
			!vectorsClose(a.V1, b.V1, 1e-6) ||
			!vectorsClose(a.V2, b.V2, 1e-6) ||
			!vectorsClose(a.V3, b.V3, 1e-6) {
			t.Errorf("triangle %d differs: ascii %v, binary %v", i, a, b)
		}
	}
}

func TestDecodeBinaryTruncated(t *testing.T) {
	data, err := stl.Encode(stltest.Cube(1), "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err = stl.Decode(data[:len(data)-10])
	if !errors.Is(err, stl.ErrMalformedFile) {
		t.Errorf("expected ErrMalformedFile for truncated data, got %v", err)
	}

	// Declare more triangles than present
	tampered := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(tampered[80:84], 13)
	_, err = stl.Decode(tampered)
	if !errors.Is(err, stl.ErrMalformedFile) {
		t.Errorf("expected ErrMalformedFile for count mismatch, got %v", err)
	}

	_, err = stl.Decode([]byte("short"))
	if !errors.Is(err, stl.ErrMalformedFile) {
		t.Errorf("expected ErrMalformedFile for short preamble, got %v", err)
	}
}

func TestDecodeASCIIIncompleteFacet(t *testing.T) {
	cases := map[string]string{
		"two vertices": `solid broken
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
    endloop
  endfacet
endsolid broken
`,
		"bad float": `solid broken
  facet normal 0 0 1
    outer loop
      vertex 0 0 zero
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
endsolid broken
`,
		"unterminated": `solid broken
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
`,
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := stl.Decode([]byte(src))
			if !errors.Is(err, stl.ErrMalformedFile) {
				t.Errorf("expected ErrMalformedFile, got %v", err)
			}
		})
	}
}

func TestEncodeHeaderTruncation(t *testing.T) {
	long := string(bytes.Repeat([]byte("x"), 120))
	data, err := stl.Encode(stltest.Cube(1), long)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data[:80]) != long[:80] {
		t.Errorf("expected header truncated to 80 bytes")
	}
	if binary.LittleEndian.Uint32(data[80:84]) != 12 {
		t.Errorf("expected triangle count 12 after header")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.stl")
	data, err := stl.Encode(stltest.Cube(2), "file")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	soup, err := stl.Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if soup.TriangleCount() != 12 {
		t.Errorf("Parse failed: expected 12 triangles, got %d", soup.TriangleCount())
	}

	if _, err := stl.Parse(filepath.Join(t.TempDir(), "missing.stl")); err == nil {
		t.Errorf("Parse failed: expected error for missing file")
	}
}

func TestSoupClone(t *testing.T) {
	original := stltest.Cube(1)
	clone := original.Clone()
	clone.Triangles[0].V1 = geometry.NewVector3(99, 99, 99)

	if original.Triangles[0].V1 == clone.Triangles[0].V1 {
		t.Errorf("Clone failed: mutation leaked into the original")
	}
}
