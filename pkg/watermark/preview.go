package watermark

import (
	"bytes"
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/goccy/go-json"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// PreviewOptions configures the visible overlay
type PreviewOptions struct {
	// FontPath points at a TTF file; empty uses the built-in bitmap face
	FontPath string
	FontSize float64

	// Opacity of the overlay text in (0,1]
	Opacity float64
}

// DefaultPreviewOptions returns a faint overlay in the built-in face
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{FontSize: 12, Opacity: 0.08}
}

// Marker applies preview watermarks with a preloaded font face
type Marker struct {
	face    font.Face
	opacity float64
}

// NewMarker loads the configured font
func NewMarker(opts PreviewOptions) (*Marker, error) {
	if opts.Opacity <= 0 || opts.Opacity > 1 {
		return nil, fmt.Errorf("overlay opacity %v outside (0,1]", opts.Opacity)
	}
	if opts.FontPath == "" {
		return &Marker{face: basicfont.Face7x13, opacity: opts.Opacity}, nil
	}

	face, err := loadFontFace(opts.FontPath, opts.FontSize)
	if err != nil {
		return nil, err
	}
	return &Marker{face: face, opacity: opts.Opacity}, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// WatermarkPreviewImage marks an encoded image with the default marker
func WatermarkPreviewImage(imageBytes []byte, p Payload) ([]byte, error) {
	marker, err := NewMarker(DefaultPreviewOptions())
	if err != nil {
		return nil, err
	}
	return marker.Apply(imageBytes, p)
}

// Apply tiles the overlay text diagonally across the image, re-encodes it
// as PNG and records the payload in tEXt metadata
func (m *Marker) Apply(imageBytes []byte, p Payload) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}

	dc := gg.NewContextForImage(img)
	w, h := float64(dc.Width()), float64(dc.Height())
	text := OverlayText(p)

	dc.SetFontFace(m.face)
	dc.SetRGBA(1, 1, 1, m.opacity)
	tw, th := dc.MeasureString(text)
	stepX, stepY := tw*1.5+8, th*4+8

	dc.Push()
	dc.RotateAbout(gg.Radians(-30), w/2, h/2)
	// The rotated tiling must still cover the corners
	span := w + h
	for y := -span / 2; y < h+span/2; y += stepY {
		for x := -span / 2; x < w+span/2; x += stepX {
			dc.DrawString(text, x, y)
		}
	}
	dc.Pop()

	var out bytes.Buffer
	if err := dc.EncodePNG(&out); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	comment, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return insertTextChunks(out.Bytes(), []textChunk{
		{keyword: "Author", text: p.ArtistID},
		{keyword: "Copyright", text: fmt.Sprintf("Copyright %s, distributed by %s", p.ArtistID, p.PlatformID)},
		{keyword: "Description", text: fmt.Sprintf("meshvault watermark %s", p.WatermarkID)},
		{keyword: "Comment", text: string(comment)},
	})
}
