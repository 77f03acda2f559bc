package gltfconv

// prune drops empty attributes and unreferenced vertices, then releases the
// float copies that quantization superseded
func prune(m *meshData) {
	attributes := m.attributes[:0]
	for _, attr := range m.attributes {
		if attr.count() > 0 {
			attributes = append(attributes, attr)
		}
	}
	m.attributes = attributes

	compactVertices(m)

	for _, attr := range m.attributes {
		if attr.shared != nil {
			attr.values, attr.quantized = nil, nil
			continue
		}
		if attr.quantized != nil {
			attr.values = nil
		}
	}
}

func compactVertices(m *meshData) {
	count := m.vertexCount()
	if count == 0 {
		return
	}

	referenced := make([]bool, count)
	for _, idx := range m.indices {
		referenced[idx] = true
	}

	remap := make([]uint32, count)
	kept := make([]int, 0, count)
	for i, used := range referenced {
		if used {
			remap[i] = uint32(len(kept))
			kept = append(kept, i)
		}
	}
	if len(kept) == count {
		return
	}

	for _, attr := range m.attributes {
		if attr.shared != nil {
			continue
		}
		attr.values = gather(attr.values, attr.components, kept)
		attr.quantized = gather(attr.quantized, attr.components, kept)
	}
	for i, idx := range m.indices {
		m.indices[i] = remap[idx]
	}
}
