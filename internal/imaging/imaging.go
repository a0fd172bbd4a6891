// Package imaging normalizes uploaded photos before they are embedded and stored.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used for every re-encoded photo.
const JPEGQuality = 90

// ErrEmpty is returned for zero-length input.
var ErrEmpty = errors.New("image is empty")

// Image is a normalized JPEG photo.
type Image struct {
	Data         []byte
	Width        int
	Height       int
	SourceFormat string // format name reported by the decoder, e.g. "png"
}

// Normalize decodes data, downscales it so neither edge exceeds maxSize
// (maxSize <= 0 keeps the original size) and re-encodes it as JPEG.
func Normalize(data []byte, maxSize int) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", width, height)
	}

	newWidth, newHeight := fitWithin(width, height, maxSize)
	if newWidth != width || newHeight != height {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Image{
		Data:         buf.Bytes(),
		Width:        newWidth,
		Height:       newHeight,
		SourceFormat: format,
	}, nil
}

// fitWithin scales (width, height) down to fit a maxSize square, keeping the aspect ratio.
func fitWithin(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}
