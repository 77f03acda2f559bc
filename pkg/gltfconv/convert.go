// Package gltfconv converts triangle soups into compressed binary glTF
// containers and back.
//
// Forward conversion welds coincident vertices, deduplicates identical
// attribute streams, quantizes attributes (KHR_mesh_quantization), prunes
// leftovers, and optionally applies an entropy stage over the binary chunk.
package gltfconv

import (
	"errors"
	"fmt"

	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/philipparndt/meshvault/version"
)

// ErrConversionFailed marks a failed conversion or compression step
var ErrConversionFailed = errors.New("conversion failed")

// Options controls forward conversion
type Options struct {
	// EnableCompression applies the entropy stage after the mesh passes
	EnableCompression bool

	// CompressionLevel trades speed (0) for ratio (10)
	CompressionLevel int

	// Name is written to the mesh and node
	Name string
}

// DefaultOptions returns compression enabled at level 7
func DefaultOptions() Options {
	return Options{EnableCompression: true, CompressionLevel: 7}
}

// Convert builds a container from the soup. The mesh passes run in a fixed
// order: weld, dedup, quantize, prune. Quantizing before welding would hide
// exact matches, and pruning last drops the float copies quantization
// replaced.
func Convert(soup *stl.Soup, opts Options) (*Container, error) {
	if soup == nil || soup.TriangleCount() == 0 {
		return nil, fmt.Errorf("%w: no triangles", ErrConversionFailed)
	}

	mesh := buildMesh(soup)
	weld(mesh)
	dedup(mesh)
	quantize(mesh)
	prune(mesh)

	if mesh.triangleCount() == 0 {
		return nil, fmt.Errorf("%w: every triangle collapsed during welding", ErrConversionFailed)
	}

	name := opts.Name
	if name == "" {
		name = soup.Name
	}
	container := &Container{Document: mesh.document(name, "meshvault "+version.Version)}

	if !opts.EnableCompression {
		return container, nil
	}
	return Compress(container, opts.CompressionLevel)
}
