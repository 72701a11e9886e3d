//go:build !ocr

package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrOCRNotEnabled is returned when the binary was built without the ocr
// tag and therefore without libtesseract.
var ErrOCRNotEnabled = errors.New("tesseract support not compiled in (build with -tags ocr)")

type TesseractRecognizer struct{}

func NewTesseractRecognizer(lang string, size int) (*TesseractRecognizer, error) {
	return nil, ErrOCRNotEnabled
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	return Recognition{}, ErrOCRNotEnabled
}

func (t *TesseractRecognizer) Close() {}
