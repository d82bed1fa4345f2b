package camera

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Encoder prepares camera frames for upload to the inference service
type Encoder struct {
	maxWidth int
	quality  int
}

// NewEncoder creates an encoder that downscales frames wider than maxWidth
// (0 disables resizing) and re-encodes them as JPEG at quality
func NewEncoder(maxWidth, quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Encoder{
		maxWidth: maxWidth,
		quality:  quality,
	}
}

// Encode returns the JPEG payload for frame, or ErrNoFrame if the source has
// not produced a frame with valid dimensions yet
func (e *Encoder) Encode(frame Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, ErrNoFrame
	}

	img, err := imaging.Decode(bytes.NewReader(frame.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if e.maxWidth > 0 && img.Bounds().Dx() > e.maxWidth {
		img = imaging.Resize(img, e.maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
