// Package watermark attributes meshes and their previews to an artist.
//
// Geometry marking nudges a deterministic subset of triangles along their
// normals by a sub-micron offset. The subset and the offset signs come from
// a counter-mode BLAKE3 stream seeded by the payload, so the same payload
// and input mesh always reproduce the same pattern.
package watermark

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Payload identifies one embedding
type Payload struct {
	ArtistID    string            `json:"artist_id"`
	PlatformID  string            `json:"platform_id"`
	WatermarkID string            `json:"watermark_id"`
	EmbeddedAt  time.Time         `json:"embedded_at"`
	Origin      map[string]string `json:"origin,omitempty"`
}

// BuildPayload creates a payload with a fresh watermark identifier
func BuildPayload(artistID, platformID string, origin map[string]string) Payload {
	return Payload{
		ArtistID:    artistID,
		PlatformID:  platformID,
		WatermarkID: uuid.NewString(),
		EmbeddedAt:  time.Now().UTC(),
		Origin:      maps.Clone(origin),
	}
}

// ProvenanceHeader is the text written into the 80-byte binary STL header
// of downloads
func ProvenanceHeader(p Payload) string {
	return fmt.Sprintf("meshvault wm=%s artist=%s", p.WatermarkID, p.ArtistID)
}

// OverlayText is the short identifier drawn onto preview images
func OverlayText(p Payload) string {
	return truncate(p.ArtistID, 8) + "/" + truncate(p.WatermarkID, 8)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
