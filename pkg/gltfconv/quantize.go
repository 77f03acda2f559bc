package gltfconv

import (
	"math"
)

// quantizationBits is the effective precision per attribute. Values are
// stored as normalized SHORT, so the reduced grid is rescaled to 16 bits.
var quantizationBits = map[string]int{
	attrPosition: 14,
	attrNormal:   10,
	attrTexcoord: 12,
	attrColor:    8,
}

const shortMax = 32767

// quantizeValue snaps x in [-1,1] to a grid of 2^(bits-1)-1 steps and stores
// it as a normalized short
func quantizeValue(x float64, bits int) int16 {
	x = math.Max(-1, math.Min(1, x))
	steps := float64(int(1)<<(bits-1) - 1)
	snapped := math.Round(x*steps) / steps
	return int16(math.Round(snapped * shortMax))
}

// dequantizeShort is the glTF normalized SHORT decode
func dequantizeShort(v int16) float64 {
	return math.Max(float64(v)/shortMax, -1)
}

// quantize rewrites known attributes as normalized shorts. Positions are
// first mapped into the unit cube around their centre with a uniform scale
// that the mesh node undoes.
func quantize(m *meshData) {
	for _, attr := range m.attributes {
		bits, ok := quantizationBits[attr.name]
		if !ok || attr.shared != nil || attr.count() == 0 {
			continue
		}

		offset := make([]float64, attr.components)
		scale := 1.0
		if attr.name == attrPosition {
			offset, scale = positionTransform(attr)
			for i := 0; i < 3; i++ {
				m.translation[i] = offset[i]
			}
			m.scale = scale
			m.quantized = true
		}

		attr.quantized = make([]int16, len(attr.values))
		for i, v := range attr.values {
			c := i % attr.components
			attr.quantized[i] = quantizeValue((float64(v)-offset[c])/scale, bits)
		}
		attr.bits = bits
	}
}

// positionTransform returns the box centre and the largest half extent
func positionTransform(pos *attribute) ([]float64, float64) {
	lo := []float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i, v := range pos.values {
		c := i % 3
		lo[c] = math.Min(lo[c], float64(v))
		hi[c] = math.Max(hi[c], float64(v))
	}

	centre := make([]float64, 3)
	half := 0.0
	for c := 0; c < 3; c++ {
		centre[c] = (lo[c] + hi[c]) / 2
		half = math.Max(half, (hi[c]-lo[c])/2)
	}
	if half == 0 {
		half = 1
	}
	return centre, half
}
