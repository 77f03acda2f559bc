package watermark

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// errNotPNG marks input that does not start with a PNG IHDR chunk
var errNotPNG = errors.New("not a PNG stream")

type textChunk struct {
	keyword string
	text    string
}

// insertTextChunks places tEXt chunks directly after IHDR
func insertTextChunks(data []byte, chunks []textChunk) ([]byte, error) {
	// signature + IHDR (length, type, 13 bytes, crc)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd || !bytes.Equal(data[:8], pngSignature) || string(data[12:16]) != "IHDR" {
		return nil, errNotPNG
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 256)
	buf.Write(data[:ihdrEnd])
	for _, chunk := range chunks {
		if len(chunk.keyword) == 0 || len(chunk.keyword) > 79 {
			return nil, fmt.Errorf("invalid tEXt keyword %q", chunk.keyword)
		}
		body := make([]byte, 0, len(chunk.keyword)+1+len(chunk.text))
		body = append(body, chunk.keyword...)
		body = append(body, 0)
		body = append(body, chunk.text...)
		writeChunk(&buf, "tEXt", body)
	}
	buf.Write(data[ihdrEnd:])
	return buf.Bytes(), nil
}

func writeChunk(buf *bytes.Buffer, kind string, body []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	copy(header[4:], kind)
	buf.Write(header[:])
	buf.Write(body)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(body)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}

// ReadTextChunks returns every tEXt keyword/value pair of a PNG stream
func ReadTextChunks(data []byte) (map[string]string, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil, errNotPNG
	}

	out := map[string]string{}
	for offset := 8; offset+12 <= len(data); {
		length := int(binary.BigEndian.Uint32(data[offset:]))
		kind := string(data[offset+4 : offset+8])
		end := offset + 12 + length
		if length < 0 || end > len(data) {
			return nil, fmt.Errorf("truncated %s chunk", kind)
		}
		if kind == "tEXt" {
			body := data[offset+8 : offset+8+length]
			if sep := bytes.IndexByte(body, 0); sep > 0 {
				out[string(body[:sep])] = string(body[sep+1:])
			}
		}
		if kind == "IEND" {
			break
		}
		offset = end
	}
	return out, nil
}
