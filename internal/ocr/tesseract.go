//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer runs regions through libtesseract. gosseract clients
// are not safe for concurrent use, so each worker borrows one from a fixed
// set.
type TesseractRecognizer struct {
	clients chan *gosseract.Client
}

func NewTesseractRecognizer(lang string, size int) (*TesseractRecognizer, error) {
	if size <= 0 {
		size = 1
	}
	if lang == "" {
		lang = "vie"
	}
	t := &TesseractRecognizer{clients: make(chan *gosseract.Client, size)}
	for i := 0; i < size; i++ {
		c := gosseract.NewClient()
		if err := c.SetLanguage(strings.Split(lang, "+")...); err != nil {
			c.Close()
			t.Close()
			return nil, fmt.Errorf("tesseract language %q: %w", lang, err)
		}
		if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			c.Close()
			t.Close()
			return nil, fmt.Errorf("tesseract page seg mode: %w", err)
		}
		t.clients <- c
	}
	return t, nil
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	raw, err := encodePNG(img)
	if err != nil {
		return Recognition{}, err
	}

	var c *gosseract.Client
	select {
	case c = <-t.clients:
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	}
	defer func() { t.clients <- c }()

	if err := c.SetImageFromBytes(raw); err != nil {
		return Recognition{}, fmt.Errorf("tesseract set image: %w", err)
	}
	out, err := c.HOCRText()
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract recognize: %w", err)
	}
	return ParseHOCR(strings.NewReader(out))
}

// Close releases every pooled client.
func (t *TesseractRecognizer) Close() {
	for {
		select {
		case c := <-t.clients:
			c.Close()
		default:
			return
		}
	}
}
