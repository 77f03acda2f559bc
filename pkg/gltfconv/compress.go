package gltfconv

import (
	"errors"
	"fmt"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/qmuntal/gltf"
)

// ExtCompression is the root extension describing the entropy stage
const ExtCompression = "EXT_meshvault_compression"

const (
	CodecLZ4  = "lz4"
	CodecZstd = "zstd"

	// MaxCompressionLevel is the slowest, densest setting
	MaxCompressionLevel = 10
)

// CompressionInfo is stored under ExtCompression. ByteLength is the size of
// the binary chunk before compression.
type CompressionInfo struct {
	Codec      string `json:"codec"`
	ByteLength int    `json:"byteLength"`
	Level      int    `json:"level"`
}

var errIncompressible = errors.New("data is incompressible")

// zstd.Decoder is safe for concurrent use
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("gltfconv: zstd decoder initialization failed: " + err.Error())
	}
}

// lz4Depths maps levels 1-3 onto LZ4 HC search depths; level 0 is the fast
// block compressor
var lz4Depths = [...]lz4.CompressionLevel{lz4.Fast, lz4.Level3, lz4.Level6, lz4.Level9}

// codecForLevel maps 0-3 onto LZ4 and 4-10 onto zstd levels 1-22
func codecForLevel(level int) (string, zstd.EncoderLevel) {
	if level <= 3 {
		return CodecLZ4, 0
	}
	zstdLevel := 1 + (level-4)*21/(MaxCompressionLevel-4)
	return CodecZstd, zstd.EncoderLevelFromZstd(zstdLevel)
}

// Compress applies the entropy stage to a container's binary chunk. The
// chunk is BG4-transposed, then compressed with the codec chosen by level.
// The input container is left untouched.
func Compress(c *Container, level int) (*Container, error) {
	if level < 0 || level > MaxCompressionLevel {
		return nil, fmt.Errorf("%w: compression level %d outside [0,%d]", ErrConversionFailed, level, MaxCompressionLevel)
	}
	if _, ok := c.Compression(); ok {
		return nil, fmt.Errorf("%w: container is already compressed", ErrConversionFailed)
	}
	if len(c.Document.Buffers) != 1 || len(c.Document.Buffers[0].Data) == 0 {
		return nil, fmt.Errorf("%w: expected a single embedded buffer", ErrConversionFailed)
	}

	data := c.Document.Buffers[0].Data
	codec, zstdLevel := codecForLevel(level)

	var (
		packed []byte
		err    error
	)
	transposed := bg4Transpose(data)
	switch codec {
	case CodecLZ4:
		packed, err = compressLZ4(transposed, lz4Depths[level])
	default:
		packed, err = compressZstd(transposed, zstdLevel)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	doc := *c.Document
	doc.Buffers = []*gltf.Buffer{{ByteLength: len(packed), Data: packed}}
	doc.Extensions = gltf.Extensions{}
	for k, v := range c.Document.Extensions {
		doc.Extensions[k] = v
	}
	doc.Extensions[ExtCompression] = &CompressionInfo{
		Codec:      codec,
		ByteLength: len(data),
		Level:      level,
	}
	doc.ExtensionsUsed = appendUnique(slices.Clone(doc.ExtensionsUsed), ExtCompression)
	doc.ExtensionsRequired = appendUnique(slices.Clone(doc.ExtensionsRequired), ExtCompression)

	return &Container{Document: &doc}, nil
}

// Inflate reverses Compress. A container without the extension is returned
// as is.
func Inflate(c *Container) (*Container, error) {
	info, ok := c.Compression()
	if !ok {
		return c, nil
	}
	if len(c.Document.Buffers) != 1 {
		return nil, fmt.Errorf("%w: compressed container must have one buffer", ErrConversionFailed)
	}

	buffer := c.Document.Buffers[0]
	packed := buffer.Data
	if buffer.ByteLength > 0 && buffer.ByteLength < len(packed) {
		packed = packed[:buffer.ByteLength]
	}

	var (
		transposed []byte
		err        error
	)
	switch info.Codec {
	case CodecLZ4:
		transposed, err = decompressLZ4(packed, info.ByteLength)
	case CodecZstd:
		transposed, err = decompressZstd(packed, info.ByteLength)
	default:
		err = fmt.Errorf("unknown codec %q", info.Codec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	data := bg4Untranspose(transposed)

	doc := *c.Document
	doc.Buffers = []*gltf.Buffer{{ByteLength: len(data), Data: data}}
	doc.Extensions = gltf.Extensions{}
	for k, v := range c.Document.Extensions {
		if k != ExtCompression {
			doc.Extensions[k] = v
		}
	}
	doc.ExtensionsUsed = removeValue(doc.ExtensionsUsed, ExtCompression)
	doc.ExtensionsRequired = removeValue(doc.ExtensionsRequired, ExtCompression)

	return &Container{Document: &doc}, nil
}

func appendUnique(list []string, value string) []string {
	if slices.Contains(list, value) {
		return list
	}
	return append(list, value)
}

func removeValue(list []string, value string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compressLZ4(data []byte, depth lz4.CompressionLevel) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	var (
		written int
		err     error
	)
	if depth == lz4.Fast {
		written, err = lz4.CompressBlock(data, destination, nil)
	} else {
		written, err = lz4.CompressBlockHC(data, destination, depth, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// Both block compressors return 0 for incompressible input
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

// bg4Transpose groups bytes by their position within each 4-byte word.
// Trailing bytes are copied unchanged.
func bg4Transpose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		output[i] = data[i*4]
		output[groups+i] = data[i*4+1]
		output[groups*2+i] = data[i*4+2]
		output[groups*3+i] = data[i*4+3]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}

func bg4Untranspose(data []byte) []byte {
	groups := len(data) / 4
	output := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		output[i*4] = data[i]
		output[i*4+1] = data[groups+i]
		output[i*4+2] = data[groups*2+i]
		output[i*4+3] = data[groups*3+i]
	}
	copy(output[groups*4:], data[groups*4:])
	return output
}
