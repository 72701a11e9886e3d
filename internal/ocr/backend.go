package ocr

import (
	"fmt"

	"github.com/dgallion1/docrecon/internal/config"
)

// NewBackend builds the recognizer named by cfg.OCRBackend. The returned
// close function releases engine resources.
func NewBackend(cfg *config.Config) (Recognizer, func(), error) {
	switch cfg.OCRBackend {
	case config.BackendHTTP:
		c := NewHTTPRecognizer(cfg.OCRURL, cfg.OCRToken, cfg.OCRLang, cfg.OCRTimeout)
		return c, c.Close, nil
	case config.BackendTesseract:
		t, err := NewTesseractRecognizer(cfg.OCRLang, cfg.OCRWorkers)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown ocr backend %q", cfg.OCRBackend)
}
