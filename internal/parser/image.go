package parser

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageParser decodes a single raster image as one page.
type ImageParser struct{}

func (p *ImageParser) Parse(ctx context.Context, r io.Reader, filename string) ([]image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode %s: empty %s image", filename, format)
	}
	return []image.Image{img}, nil
}
