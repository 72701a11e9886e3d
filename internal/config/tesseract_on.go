//go:build ocr

package config

// TesseractBuilt reports whether the binary links the local Tesseract engine.
const TesseractBuilt = true
