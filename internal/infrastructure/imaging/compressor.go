package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

const defaultQuality = 80

// Compressor re-encodes photos as JPEG bounded by a maximum dimension.
type Compressor struct {
	quality int
}

func NewCompressor(quality int) *Compressor {
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	return &Compressor{quality: quality}
}

func (c *Compressor) Compress(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode image", err)
	}

	dst := src
	if w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), maxDim); w != src.Bounds().Dx() || h != src.Bounds().Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h down so the longest side is at most maxDim. Images that
// already fit keep their size.
func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
