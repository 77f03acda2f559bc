package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/philipparndt/meshvault/pkg/geometry"
)

// ErrMalformedFile is returned when STL data is truncated or unparseable
var ErrMalformedFile = errors.New("malformed STL file")

const (
	headerSize   = 80
	preambleSize = headerSize + 4
	facetSize    = 50
)

// Parse reads an STL file from disk and decodes it
func Parse(filename string) (*Soup, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Decode(data)
}

// Decode decodes binary or ASCII STL data. Data starting with "solid" is
// treated as ASCII; anything else is binary.
func Decode(data []byte) (*Soup, error) {
	if len(data) >= 5 && string(data[:5]) == "solid" {
		return decodeASCII(data)
	}
	return decodeBinary(data)
}

// decodeBinary parses the 80-byte header, little-endian count and 50-byte facets
func decodeBinary(data []byte) (*Soup, error) {
	if len(data) < preambleSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the binary preamble", ErrMalformedFile, len(data))
	}

	count := binary.LittleEndian.Uint32(data[headerSize:preambleSize])
	expected := uint64(preambleSize) + uint64(count)*facetSize
	if uint64(len(data)) < expected {
		return nil, fmt.Errorf("%w: header declares %d triangles (%d bytes), got %d bytes",
			ErrMalformedFile, count, expected, len(data))
	}

	soup := NewSoup(headerName(data[:headerSize]), true)
	soup.Triangles = make([]geometry.Triangle, 0, count)

	offset := preambleSize
	for i := uint32(0); i < count; i++ {
		facet := data[offset : offset+facetSize]
		soup.AddTriangle(geometry.NewTriangle(
			readVector(facet[0:]),
			readVector(facet[12:]),
			readVector(facet[24:]),
			readVector(facet[36:]),
		))
		offset += facetSize
	}

	return soup, nil
}

func headerName(header []byte) string {
	return strings.TrimRight(string(bytes.TrimRight(header, "\x00")), " ")
}

func readVector(b []byte) geometry.Vector3 {
	return geometry.NewVector3(
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))),
	)
}

// decodeASCII parses facet normal / outer loop / vertex x3 / endloop / endfacet blocks
func decodeASCII(data []byte) (*Soup, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	soup := NewSoup("", false)

	var (
		currentNormal geometry.Vector3
		vertices      []geometry.Vector3
		inFacet       bool
		lineNumber    int
	)

	for scanner.Scan() {
		lineNumber++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "solid":
			if len(fields) > 1 {
				soup.Name = strings.Join(fields[1:], " ")
			}

		case "facet":
			if inFacet {
				return nil, fmt.Errorf("%w: line %d: facet opened before endfacet", ErrMalformedFile, lineNumber)
			}
			inFacet = true
			vertices = vertices[:0]
			currentNormal = geometry.Vector3{}
			if len(fields) >= 5 && fields[1] == "normal" {
				normal, err := parseVector(fields[2:5])
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedFile, lineNumber, err)
				}
				currentNormal = normal
			}

		case "vertex":
			if !inFacet {
				return nil, fmt.Errorf("%w: line %d: vertex outside facet", ErrMalformedFile, lineNumber)
			}
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: line %d: vertex needs 3 coordinates", ErrMalformedFile, lineNumber)
			}
			vertex, err := parseVector(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedFile, lineNumber, err)
			}
			vertices = append(vertices, vertex)

		case "endfacet":
			if !inFacet || len(vertices) != 3 {
				return nil, fmt.Errorf("%w: line %d: facet has %d vertices, expected 3",
					ErrMalformedFile, lineNumber, len(vertices))
			}
			soup.AddTriangle(geometry.NewTriangle(currentNormal, vertices[0], vertices[1], vertices[2]))
			inFacet = false
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFile, err)
	}
	if inFacet {
		return nil, fmt.Errorf("%w: unterminated facet at end of file", ErrMalformedFile)
	}

	return soup, nil
}

func parseVector(fields []string) (geometry.Vector3, error) {
	var c [3]float64
	for i, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return geometry.Vector3{}, fmt.Errorf("invalid float %q", field)
		}
		c[i] = value
	}
	return geometry.NewVector3(c[0], c[1], c[2]), nil
}
