package stl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/philipparndt/meshvault/pkg/geometry"
)

// Encode serializes the soup as binary STL. The header text is truncated or
// NUL-padded to 80 bytes.
func Encode(soup *Soup, header string) ([]byte, error) {
	count := len(soup.Triangles)
	if uint64(count) > math.MaxUint32 {
		return nil, fmt.Errorf("triangle count %d exceeds the binary STL limit", count)
	}

	buf := make([]byte, preambleSize+count*facetSize)
	copy(buf[:headerSize], header)
	binary.LittleEndian.PutUint32(buf[headerSize:preambleSize], uint32(count))

	offset := preambleSize
	for _, triangle := range soup.Triangles {
		putVector(buf[offset:], triangle.Normal)
		putVector(buf[offset+12:], triangle.V1)
		putVector(buf[offset+24:], triangle.V2)
		putVector(buf[offset+36:], triangle.V3)
		// Attribute byte count stays zero
		offset += facetSize
	}

	return buf, nil
}

// EncodeASCII serializes the soup as ASCII STL
func EncodeASCII(soup *Soup) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "solid %s\n", soup.Name)
	for _, triangle := range soup.Triangles {
		n := triangle.Normal
		fmt.Fprintf(&buf, "  facet normal %.9e %.9e %.9e\n", n.X, n.Y, n.Z)
		buf.WriteString("    outer loop\n")
		for _, v := range triangle.Vertices() {
			fmt.Fprintf(&buf, "      vertex %.9e %.9e %.9e\n", v.X, v.Y, v.Z)
		}
		buf.WriteString("    endloop\n")
		buf.WriteString("  endfacet\n")
	}
	fmt.Fprintf(&buf, "endsolid %s\n", soup.Name)
	return buf.Bytes()
}

func putVector(b []byte, v geometry.Vector3) {
	_ = b[11] // early bounds check
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(v.Z)))
}
