package gltfconv

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/qmuntal/gltf"
)

// Container is a GLB document held in memory for one job
type Container struct {
	Document *gltf.Document
}

// Encode serializes the container as binary glTF
func (c *Container) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(c.Document); err != nil {
		return nil, fmt.Errorf("failed to encode GLB: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the encoded container to path
func (c *Container) Save(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	return nil
}

// Decode parses a GLB (or glTF JSON) byte stream
func Decode(data []byte) (*Container, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode container: %w", err)
	}
	return &Container{Document: doc}, nil
}

// Load reads and decodes a container file
func Load(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	return Decode(data)
}

// TriangleCount counts triangles across all triangle-list primitives
func (c *Container) TriangleCount() int {
	total := 0
	for _, mesh := range c.Document.Meshes {
		for _, primitive := range mesh.Primitives {
			if primitive.Mode != gltf.PrimitiveTriangles {
				continue
			}
			if primitive.Indices != nil && *primitive.Indices < len(c.Document.Accessors) {
				total += c.Document.Accessors[*primitive.Indices].Count / 3
			} else if pos, ok := primitive.Attributes[attrPosition]; ok && pos < len(c.Document.Accessors) {
				total += c.Document.Accessors[pos].Count / 3
			}
		}
	}
	return total
}

// Compression returns the entropy stage descriptor when present
func (c *Container) Compression() (*CompressionInfo, bool) {
	raw, ok := c.Document.Extensions[ExtCompression]
	if !ok || raw == nil {
		return nil, false
	}
	info, err := decodeExtension[CompressionInfo](raw)
	if err != nil {
		return nil, false
	}
	return info, true
}

// decodeExtension converts a decoded extension value (raw JSON, a generic
// map, or the typed struct) into T
func decodeExtension[T any](value any) (*T, error) {
	if typed, ok := value.(*T); ok {
		return typed, nil
	}
	if typed, ok := value.(T); ok {
		return &typed, nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
