package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// OCR backends.
const (
	BackendTesseract = "tesseract"
	BackendHTTP      = "http"
)

type Config struct {
	Port string

	// Pipeline tuning file; empty means the embedded default.
	PipelineConfigPath string

	// Text recognition
	OCRBackend   string
	OCRURL       string
	OCRToken     string
	OCRLang      string
	OCRWorkers   int
	OCRTimeout   time.Duration
	OCRCacheSize int
	OCRCacheTTL  time.Duration

	// PDF rasterisation
	PDFDPI       int
	PdftoppmPath string

	// Persistence and output
	DBPath    string
	OutputDir string

	// Job queue
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Upload limits
	MaxUploadBytes int64

	WriteDocx bool
}

// DefaultBackend is tesseract when the engine is linked in and the HTTP
// client otherwise.
func DefaultBackend() string {
	if TesseractBuilt {
		return BackendTesseract
	}
	return BackendHTTP
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG"),

		OCRBackend:   envOr("OCR_BACKEND", DefaultBackend()),
		OCRURL:       os.Getenv("OCR_URL"),
		OCRToken:     os.Getenv("OCR_TOKEN"),
		OCRLang:      envOr("OCR_LANG", "vie"),
		OCRWorkers:   envInt("OCR_WORKERS", runtime.NumCPU()),
		OCRTimeout:   envDuration("OCR_TIMEOUT", 60*time.Second),
		OCRCacheSize: envInt("OCR_CACHE_SIZE", 1000),
		OCRCacheTTL:  envDuration("OCR_CACHE_TTL", 24*time.Hour),

		PDFDPI:       envInt("PDF_DPI", 300),
		PdftoppmPath: envOr("PDFTOPPM_PATH", "pdftoppm"),

		DBPath:    envOr("DB_PATH", "docrecon.db"),
		OutputDir: envOr("OUTPUT_DIR", "output"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),
		JobTTL:       envDuration("JOB_TTL", 1*time.Hour),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10485760), // 10MB

		WriteDocx: envBool("WRITE_DOCX", true),
	}

	if cfg.OCRWorkers <= 0 {
		cfg.OCRWorkers = runtime.NumCPU()
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 60 * time.Second
	}
	if cfg.OCRCacheSize <= 0 {
		cfg.OCRCacheSize = 1000
	}
	if cfg.OCRCacheTTL <= 0 {
		cfg.OCRCacheTTL = 24 * time.Hour
	}
	if cfg.PDFDPI <= 0 {
		cfg.PDFDPI = 300
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10485760
	}

	return cfg
}

func (c Config) Validate() error {
	switch c.OCRBackend {
	case BackendTesseract:
		if !TesseractBuilt {
			return fmt.Errorf("OCR_BACKEND=%s requires a build with -tags ocr; set OCR_BACKEND=%s and OCR_URL instead", BackendTesseract, BackendHTTP)
		}
	case BackendHTTP:
		if c.OCRURL == "" {
			return fmt.Errorf("OCR_URL is required when OCR_BACKEND=%s", BackendHTTP)
		}
	default:
		return fmt.Errorf("unknown OCR_BACKEND %q", c.OCRBackend)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
