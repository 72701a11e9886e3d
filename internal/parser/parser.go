// Package parser turns an uploaded file into page images.
package parser

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
)

// Parser converts raw file bytes into page images in page order.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, filename string) ([]image.Image, error)
}

// Options control rasterisation of vector inputs.
type Options struct {
	DPI          int
	PdftoppmPath string
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
	".pdf":  true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp":
		return &ImageParser{}, nil
	case ".pdf":
		return &PDFParser{DPI: opts.DPI, Pdftoppm: opts.PdftoppmPath}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// BaseName strips directory and extension from filename.
func BaseName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
