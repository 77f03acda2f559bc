package gltfconv

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
)

const extMeshQuantization = "KHR_mesh_quantization"

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// binWriter packs buffer views into the single GLB binary chunk
type binWriter struct {
	data []byte
}

func (w *binWriter) add(doc *gltf.Document, p []byte, stride int, target gltf.Target) int {
	for len(w.data)%4 != 0 {
		w.data = append(w.data, 0)
	}
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: len(w.data),
		ByteLength: len(p),
		ByteStride: stride,
		Target:     target,
	}
	w.data = append(w.data, p...)
	doc.BufferViews = append(doc.BufferViews, view)
	return len(doc.BufferViews) - 1
}

func accessorType(components int) gltf.AccessorType {
	switch components {
	case 1:
		return gltf.AccessorScalar
	case 2:
		return gltf.AccessorVec2
	case 4:
		return gltf.AccessorVec4
	default:
		return gltf.AccessorVec3
	}
}

// writeAttribute appends one vertex stream and returns its accessor index.
// Quantized elements are padded to four bytes.
func writeAttribute(doc *gltf.Document, w *binWriter, attr *attribute) int {
	count := attr.count()
	acc := &gltf.Accessor{
		Count: count,
		Type:  accessorType(attr.components),
	}

	var (
		payload []byte
		stride  int
	)
	lo := make([]float64, attr.components)
	hi := make([]float64, attr.components)
	for c := range lo {
		lo[c], hi[c] = math.Inf(1), math.Inf(-1)
	}

	if attr.quantized != nil {
		element := attr.components * 2
		stride = (element + 3) &^ 3
		payload = make([]byte, count*stride)
		for i, v := range attr.quantized {
			e, c := i/attr.components, i%attr.components
			binary.LittleEndian.PutUint16(payload[e*stride+c*2:], uint16(v))
			f := dequantizeShort(v)
			lo[c], hi[c] = math.Min(lo[c], f), math.Max(hi[c], f)
		}
		acc.ComponentType = gltf.ComponentShort
		acc.Normalized = true
		if stride == element {
			stride = 0
		}
	} else {
		payload = make([]byte, len(attr.values)*4)
		for i, v := range attr.values {
			binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
			c := i % attr.components
			lo[c], hi[c] = math.Min(lo[c], float64(v)), math.Max(hi[c], float64(v))
		}
		acc.ComponentType = gltf.ComponentFloat
	}

	if attr.name == attrPosition && count > 0 {
		acc.Min, acc.Max = lo, hi
	}
	acc.BufferView = intPtr(w.add(doc, payload, stride, gltf.TargetArrayBuffer))
	doc.Accessors = append(doc.Accessors, acc)
	return len(doc.Accessors) - 1
}

func writeIndices(doc *gltf.Document, w *binWriter, indices []uint32, vertexCount int) int {
	acc := &gltf.Accessor{
		Count: len(indices),
		Type:  gltf.AccessorScalar,
	}

	var payload []byte
	if vertexCount <= math.MaxUint16 {
		acc.ComponentType = gltf.ComponentUshort
		payload = make([]byte, len(indices)*2)
		for i, idx := range indices {
			binary.LittleEndian.PutUint16(payload[i*2:], uint16(idx))
		}
	} else {
		acc.ComponentType = gltf.ComponentUint
		payload = make([]byte, len(indices)*4)
		for i, idx := range indices {
			binary.LittleEndian.PutUint32(payload[i*4:], idx)
		}
	}

	acc.BufferView = intPtr(w.add(doc, payload, 0, gltf.TargetElementArrayBuffer))
	doc.Accessors = append(doc.Accessors, acc)
	return len(doc.Accessors) - 1
}

// newMaterial is the fixed terrain material: light gray, non-metallic,
// semi-rough
func newMaterial() *gltf.Material {
	return &gltf.Material{
		Name: "terrain",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.8, 0.8, 0.8, 1},
			MetallicFactor:  floatPtr(0),
			RoughnessFactor: floatPtr(0.7),
		},
	}
}

// document writes the mesh as a single-node, single-material glTF document
func (m *meshData) document(name, generator string) *gltf.Document {
	doc := &gltf.Document{
		Asset: gltf.Asset{Version: "2.0", Generator: generator},
	}
	w := &binWriter{}

	accessors := make(map[*attribute]int, len(m.attributes))
	attributes := make(map[string]int, len(m.attributes))
	for _, attr := range m.attributes {
		if attr.shared != nil {
			continue
		}
		accessors[attr] = writeAttribute(doc, w, attr)
	}
	for _, attr := range m.attributes {
		canonical := attr
		if attr.shared != nil {
			canonical = attr.shared
		}
		attributes[attr.name] = accessors[canonical]
	}

	primitive := &gltf.Primitive{
		Attributes: attributes,
		Indices:    intPtr(writeIndices(doc, w, m.indices, m.vertexCount())),
		Material:   intPtr(0),
		Mode:       gltf.PrimitiveTriangles,
	}

	node := &gltf.Node{
		Name:        name,
		Mesh:        intPtr(0),
		Matrix:      identityMatrix,
		Rotation:    [4]float64{0, 0, 0, 1},
		Scale:       [3]float64{1, 1, 1},
		Translation: [3]float64{0, 0, 0},
	}
	if m.quantized {
		node.Translation = m.translation
		node.Scale = [3]float64{m.scale, m.scale, m.scale}
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, extMeshQuantization)
		doc.ExtensionsRequired = append(doc.ExtensionsRequired, extMeshQuantization)
	}

	doc.Materials = []*gltf.Material{newMaterial()}
	doc.Meshes = []*gltf.Mesh{{Name: name, Primitives: []*gltf.Primitive{primitive}}}
	doc.Nodes = []*gltf.Node{node}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0}}}
	doc.Scene = intPtr(0)
	doc.Buffers = []*gltf.Buffer{{ByteLength: len(w.data), Data: w.data}}
	return doc
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	default:
		return 16
	}
}

// readComponent decodes one component, applying glTF normalization rules
func readComponent(b []byte, ct gltf.ComponentType, normalized bool) float64 {
	switch ct {
	case gltf.ComponentByte:
		v := int8(b[0])
		if normalized {
			return math.Max(float64(v)/127, -1)
		}
		return float64(v)
	case gltf.ComponentUbyte:
		if normalized {
			return float64(b[0]) / 255
		}
		return float64(b[0])
	case gltf.ComponentShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if normalized {
			return dequantizeShort(v)
		}
		return float64(v)
	case gltf.ComponentUshort:
		v := binary.LittleEndian.Uint16(b)
		if normalized {
			return float64(v) / 65535
		}
		return float64(v)
	case gltf.ComponentUint:
		return float64(binary.LittleEndian.Uint32(b))
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

// readAccessor returns the accessor's elements flattened, plus the component
// count per element
func readAccessor(doc *gltf.Document, index int) ([]float64, int, error) {
	if index < 0 || index >= len(doc.Accessors) {
		return nil, 0, fmt.Errorf("accessor %d out of range", index)
	}
	acc := doc.Accessors[index]
	components := componentCount(acc.Type)
	if acc.BufferView == nil {
		return nil, 0, fmt.Errorf("accessor %d has no buffer view", index)
	}
	if *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, 0, fmt.Errorf("accessor %d references missing buffer view %d", index, *acc.BufferView)
	}
	view := doc.BufferViews[*acc.BufferView]
	if view.Buffer < 0 || view.Buffer >= len(doc.Buffers) {
		return nil, 0, fmt.Errorf("buffer view %d references missing buffer %d", *acc.BufferView, view.Buffer)
	}
	data := doc.Buffers[view.Buffer].Data

	size := componentSize(acc.ComponentType)
	element := size * components
	stride := view.ByteStride
	if stride == 0 {
		stride = element
	}

	start := view.ByteOffset + acc.ByteOffset
	if acc.Count > 0 {
		end := start + (acc.Count-1)*stride + element
		if start < 0 || end > len(data) || end > view.ByteOffset+view.ByteLength {
			return nil, 0, fmt.Errorf("accessor %d exceeds its buffer", index)
		}
	}

	out := make([]float64, 0, acc.Count*components)
	for e := 0; e < acc.Count; e++ {
		base := start + e*stride
		for c := 0; c < components; c++ {
			out = append(out, readComponent(data[base+c*size:], acc.ComponentType, acc.Normalized))
		}
	}
	return out, components, nil
}
