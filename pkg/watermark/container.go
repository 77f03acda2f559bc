package watermark

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/philipparndt/meshvault/pkg/gltfconv"
)

// ExtrasKey is the container extras entry holding the stamp
const ExtrasKey = "watermark"

// ErrAlreadyStamped is returned when a container carries a different stamp
var ErrAlreadyStamped = errors.New("container already carries a different watermark")

// Stamp is the container metadata form of a payload
type Stamp struct {
	ArtistID    string    `json:"artist_id"`
	WatermarkID string    `json:"watermark_id"`
	PlatformID  string    `json:"platform_id"`
	EmbeddedAt  time.Time `json:"embedded_at"`
}

// StampContainer merges the payload into the document extras, keeping every
// other extras entry
func StampContainer(c *gltfconv.Container, p Payload) error {
	if c == nil || c.Document == nil {
		return errors.New("stamp: nil container")
	}

	extras, err := extrasMap(c.Document.Extras)
	if err != nil {
		return fmt.Errorf("stamp: %w", err)
	}

	if existing, ok := extras[ExtrasKey]; ok {
		prior, err := decodeStamp(existing)
		if err != nil {
			return fmt.Errorf("stamp: unreadable existing watermark: %w", err)
		}
		if prior.WatermarkID != p.WatermarkID {
			return fmt.Errorf("stamp: %w: %s", ErrAlreadyStamped, prior.WatermarkID)
		}
	}

	extras[ExtrasKey] = Stamp{
		ArtistID:    p.ArtistID,
		WatermarkID: p.WatermarkID,
		PlatformID:  p.PlatformID,
		EmbeddedAt:  p.EmbeddedAt,
	}
	c.Document.Extras = extras
	return nil
}

// ReadStamp returns the stamp of a container, if any
func ReadStamp(c *gltfconv.Container) (*Stamp, bool, error) {
	extras, err := extrasMap(c.Document.Extras)
	if err != nil {
		return nil, false, err
	}
	raw, ok := extras[ExtrasKey]
	if !ok {
		return nil, false, nil
	}
	stamp, err := decodeStamp(raw)
	if err != nil {
		return nil, false, err
	}
	return stamp, true, nil
}

// extrasMap normalizes the extras value, which is a generic map once decoded
// and may be raw JSON or nil
func extrasMap(extras any) (map[string]any, error) {
	switch v := extras.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported extras %T: %w", extras, err)
		}
		if string(data) == "null" {
			return map[string]any{}, nil
		}
		out := map[string]any{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("extras is not an object: %w", err)
		}
		return out, nil
	}
}

func decodeStamp(value any) (*Stamp, error) {
	if s, ok := value.(Stamp); ok {
		return &s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	stamp := new(Stamp)
	if err := json.Unmarshal(data, stamp); err != nil {
		return nil, err
	}
	return stamp, nil
}
