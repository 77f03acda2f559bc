package watermark

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Seed derives the 32-byte stream key for a payload
func Seed(p Payload) [32]byte {
	material := make([]byte, 0, len(p.ArtistID)+len(p.WatermarkID)+len(p.PlatformID))
	material = append(material, p.ArtistID...)
	material = append(material, p.WatermarkID...)
	material = append(material, p.PlatformID...)
	return blake3.Sum256(material)
}

// Stream is a reproducible byte stream. Block k is the BLAKE3 hash of the
// little-endian counter k, keyed by the seed.
type Stream struct {
	hasher  *blake3.Hasher
	counter uint64
	block   []byte
	pos     int
}

// NewStream starts a stream at counter zero
func NewStream(seed [32]byte) *Stream {
	// NewKeyed only fails for keys that are not 32 bytes
	hasher, err := blake3.NewKeyed(seed[:])
	if err != nil {
		panic("watermark: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Stream{hasher: hasher}
}

// Byte returns the next byte of the stream
func (s *Stream) Byte() byte {
	if s.pos == len(s.block) {
		s.refill()
	}
	b := s.block[s.pos]
	s.pos++
	return b
}

func (s *Stream) refill() {
	var counter [8]byte
	binary.LittleEndian.PutUint64(counter[:], s.counter)
	s.counter++

	s.hasher.Reset()
	s.hasher.Write(counter[:])
	s.block = s.hasher.Sum(s.block[:0])
	s.pos = 0
}
