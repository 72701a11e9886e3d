// Package ocr runs text recognition over region crops. Engines sit behind
// the Recognizer interface; Pool fans crops out to a bounded set of
// workers and returns results in region order.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
)

// Recognition is the text read from one region and the engine's
// confidence in it, from 0 to 100.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Recognition, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, img image.Image) (Recognition, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	return f(ctx, img)
}

// Text joins the non-blank region texts with newlines, in the order given.
// Blank texts are dropped: an empty line would read as a paragraph break
// to the extraction rules.
func Text(results []Recognition) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// MeanConfidence averages the confidences of regions that produced text.
func MeanConfidence(results []Recognition) float64 {
	var sum float64
	n := 0
	for _, r := range results {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		sum += r.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	return buf.Bytes(), nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
