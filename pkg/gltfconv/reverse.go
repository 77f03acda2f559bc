package gltfconv

import (
	"fmt"

	"github.com/philipparndt/meshvault/pkg/geometry"
	"github.com/philipparndt/meshvault/pkg/stl"
	"github.com/qmuntal/gltf"
)

// mat4 is a column-major 4x4 matrix as used by glTF
type mat4 [16]float64

func (a mat4) mul(b mat4) mat4 {
	var out mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func (a mat4) apply(p geometry.Vector3) geometry.Vector3 {
	return geometry.NewVector3(
		a[0]*p.X+a[4]*p.Y+a[8]*p.Z+a[12],
		a[1]*p.X+a[5]*p.Y+a[9]*p.Z+a[13],
		a[2]*p.X+a[6]*p.Y+a[10]*p.Z+a[14],
	)
}

func (a mat4) applyDirection(d geometry.Vector3) geometry.Vector3 {
	return geometry.NewVector3(
		a[0]*d.X+a[4]*d.Y+a[8]*d.Z,
		a[1]*d.X+a[5]*d.Y+a[9]*d.Z,
		a[2]*d.X+a[6]*d.Y+a[10]*d.Z,
	)
}

// nodeMatrix uses the explicit matrix when set, else composes T * R * S
func nodeMatrix(node *gltf.Node) mat4 {
	if node.Matrix != identityMatrix && node.Matrix != [16]float64{} {
		return mat4(node.Matrix)
	}

	x, y, z, w := node.Rotation[0], node.Rotation[1], node.Rotation[2], node.Rotation[3]
	if x == 0 && y == 0 && z == 0 && w == 0 {
		w = 1
	}
	sx, sy, sz := node.Scale[0], node.Scale[1], node.Scale[2]
	t := node.Translation

	return mat4{
		(1 - 2*(y*y+z*z)) * sx, (2 * (x*y + z*w)) * sx, (2 * (x*z - y*w)) * sx, 0,
		(2 * (x*y - z*w)) * sy, (1 - 2*(x*x+z*z)) * sy, (2 * (y*z + x*w)) * sy, 0,
		(2 * (x*z + y*w)) * sz, (2 * (y*z - x*w)) * sz, (1 - 2*(x*x+y*y)) * sz, 0,
		t[0], t[1], t[2], 1,
	}
}

type meshInstance struct {
	mesh   int
	matrix mat4
}

// instances resolves the world transform of every node that carries a mesh.
// Meshes no node references are emitted once, untransformed.
func instances(doc *gltf.Document) []meshInstance {
	var out []meshInstance
	visited := make(map[int]bool)

	var visit func(index int, parent mat4)
	visit = func(index int, parent mat4) {
		if index < 0 || index >= len(doc.Nodes) || visited[index] {
			return
		}
		visited[index] = true
		node := doc.Nodes[index]
		world := parent.mul(nodeMatrix(node))
		if node.Mesh != nil {
			out = append(out, meshInstance{mesh: *node.Mesh, matrix: world})
		}
		for _, child := range node.Children {
			visit(child, world)
		}
	}

	for _, scene := range doc.Scenes {
		for _, root := range scene.Nodes {
			visit(root, mat4(identityMatrix))
		}
	}
	for i := range doc.Nodes {
		visit(i, mat4(identityMatrix))
	}

	referenced := make(map[int]bool, len(out))
	for _, inst := range out {
		referenced[inst.mesh] = true
	}
	for i := range doc.Meshes {
		if !referenced[i] {
			out = append(out, meshInstance{mesh: i, matrix: mat4(identityMatrix)})
		}
	}
	return out
}

// toSource maps a Y-up meter position back to Z-up millimeters
func toSource(p geometry.Vector3) geometry.Vector3 {
	return p.SwapYZ().Mul(1 / mmToMeters)
}

// ConvertReverse rebuilds a triangle soup from a container, inflating it
// first when the entropy stage was applied. Normals are recomputed from the
// restored winding.
func ConvertReverse(c *Container) (*stl.Soup, error) {
	inflated, err := Inflate(c)
	if err != nil {
		return nil, err
	}
	doc := inflated.Document

	soup := stl.NewSoup("", true)
	if len(doc.Meshes) > 0 {
		soup.Name = doc.Meshes[0].Name
	}

	for _, inst := range instances(doc) {
		if inst.mesh < 0 || inst.mesh >= len(doc.Meshes) {
			return nil, fmt.Errorf("%w: node references missing mesh %d", ErrConversionFailed, inst.mesh)
		}
		for p, primitive := range doc.Meshes[inst.mesh].Primitives {
			if primitive.Mode != gltf.PrimitiveTriangles {
				continue
			}
			if err := appendPrimitive(soup, doc, primitive, inst.matrix); err != nil {
				return nil, fmt.Errorf("%w: mesh %d primitive %d: %w", ErrConversionFailed, inst.mesh, p, err)
			}
		}
	}
	return soup, nil
}

func appendPrimitive(soup *stl.Soup, doc *gltf.Document, primitive *gltf.Primitive, world mat4) error {
	posIndex, ok := primitive.Attributes[attrPosition]
	if !ok {
		return fmt.Errorf("missing %s attribute", attrPosition)
	}
	positions, components, err := readAccessor(doc, posIndex)
	if err != nil {
		return err
	}
	if components != 3 {
		return fmt.Errorf("%s has %d components", attrPosition, components)
	}
	vertexCount := len(positions) / 3

	var normals []float64
	if nrmIndex, ok := primitive.Attributes[attrNormal]; ok {
		if values, n, err := readAccessor(doc, nrmIndex); err == nil && n == 3 && len(values) == len(positions) {
			normals = values
		}
	}

	var indices []int
	if primitive.Indices != nil {
		raw, _, err := readAccessor(doc, *primitive.Indices)
		if err != nil {
			return err
		}
		indices = make([]int, len(raw))
		for i, v := range raw {
			indices[i] = int(v)
			if indices[i] >= vertexCount {
				return fmt.Errorf("index %d out of range", indices[i])
			}
		}
	} else {
		indices = make([]int, vertexCount)
		for i := range indices {
			indices[i] = i
		}
	}

	vertex := func(i int) geometry.Vector3 {
		p := geometry.NewVector3(positions[i*3], positions[i*3+1], positions[i*3+2])
		return toSource(world.apply(p))
	}

	for t := 0; t+2 < len(indices); t += 3 {
		// Undo the (v0, v2, v1) reorder of forward conversion
		a, b, c := vertex(indices[t]), vertex(indices[t+2]), vertex(indices[t+1])
		triangle := geometry.NewTriangle(geometry.Vector3{}, a, b, c)

		if normal, ok := triangle.FacetNormal(); ok {
			triangle.Normal = normal
		} else if normals != nil {
			i := indices[t]
			stored := world.applyDirection(geometry.NewVector3(normals[i*3], normals[i*3+1], normals[i*3+2]))
			triangle.Normal = stored.SwapYZ().Normalize()
		}
		soup.AddTriangle(triangle)
	}
	return nil
}
