package gltfconv

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/zeebo/blake3"
)

// dedup links attributes with byte-identical content so they share one
// accessor when the document is written
func dedup(m *meshData) {
	seen := make(map[[32]byte][]*attribute)

	for _, attr := range m.attributes {
		if attr.shared != nil || attr.count() == 0 {
			continue
		}
		content := attributeBytes(attr)
		digest := blake3.Sum256(content)

		for _, prior := range seen[digest] {
			if sameEncoding(prior, attr) && bytes.Equal(attributeBytes(prior), content) {
				attr.shared = prior
				break
			}
		}
		if attr.shared == nil {
			seen[digest] = append(seen[digest], attr)
		}
	}
}

func attributeBytes(attr *attribute) []byte {
	if attr.quantized != nil {
		out := make([]byte, len(attr.quantized)*2)
		for i, v := range attr.quantized {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out
	}
	out := make([]byte, len(attr.values)*4)
	for i, v := range attr.values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// sameEncoding reports whether two attributes would be quantized the same way
func sameEncoding(a, b *attribute) bool {
	if a.components != b.components {
		return false
	}
	if (a.name == attrPosition) != (b.name == attrPosition) {
		return false
	}
	return quantizationBits[a.name] == quantizationBits[b.name]
}
