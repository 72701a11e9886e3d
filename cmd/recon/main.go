// Command recon reconstructs scanned documents from the command line,
// writing the same output tree the server produces.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/ocr"
	"github.com/dgallion1/docrecon/internal/output"
	"github.com/dgallion1/docrecon/internal/parser"
	"github.com/dgallion1/docrecon/internal/pipeline"
	"github.com/dgallion1/docrecon/internal/store"
)

type fileSummary struct {
	File         string   `json:"file"`
	Success      bool     `json:"success"`
	NumPages     int      `json:"num_pages"`
	NumDocuments int      `json:"num_documents"`
	OutputDir    string   `json:"output_dir,omitempty"`
	DocumentIDs  []int64  `json:"document_ids,omitempty"`
	Error        string   `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.PipelineConfigPath, "pipeline", cfg.PipelineConfigPath, "pipeline tuning file (default: embedded)")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "output root directory")
	flag.StringVar(&cfg.OCRBackend, "backend", cfg.OCRBackend, "ocr backend: tesseract or http")
	flag.StringVar(&cfg.OCRURL, "ocr-url", cfg.OCRURL, "ocr service url for the http backend")
	flag.StringVar(&cfg.OCRLang, "lang", cfg.OCRLang, "recognition language")
	flag.IntVar(&cfg.PDFDPI, "dpi", cfg.PDFDPI, "pdf rasterisation resolution")
	flag.BoolVar(&cfg.WriteDocx, "docx", cfg.WriteDocx, "write a .docx per document")
	dbPath := flag.String("db", "", "also save results to this sqlite database")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, *dbPath, flag.Args(), log); err != nil {
		log.Error("recon failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, dbPath string, files []string, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	pcfg, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, closeRec, err := ocr.NewBackend(&cfg)
	if err != nil {
		return fmt.Errorf("init ocr backend: %w", err)
	}
	defer closeRec()
	pool := ocr.NewPool(rec, ocr.NewMemoryCache(cfg.OCRCacheSize, cfg.OCRCacheTTL), ocr.NewStats(time.Hour), cfg.OCRWorkers, log)

	proc, err := pipeline.NewProcessor(pcfg, pool, log)
	if err != nil {
		return err
	}

	var st *store.Store
	if dbPath != "" {
		st, err = store.Open(dbPath, log)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	load := pipeline.ParserLoader(parser.Options{DPI: cfg.PDFDPI, PdftoppmPath: cfg.PdftoppmPath})
	writer := output.NewWriter(cfg.OutputDir, cfg.WriteDocx, log)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := 0
	for _, path := range files {
		sum := processFile(ctx, path, load, proc, writer, st, log)
		if !sum.Success {
			failed++
		}
		if err := enc.Encode(sum); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func processFile(ctx context.Context, path string, load pipeline.Loader, proc *pipeline.Processor, writer *output.Writer, st *store.Store, log *slog.Logger) fileSummary {
	name := filepath.Base(path)
	sum := fileSummary{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		sum.Error = err.Error()
		return sum
	}
	pages, err := load(ctx, name, data)
	if err != nil {
		sum.Error = err.Error()
		return sum
	}

	res := proc.Process(ctx, pages)
	sum.NumPages = res.NumPages
	sum.NumDocuments = res.NumDocuments
	sum.Warnings = res.Warnings
	if !res.Success {
		sum.Error = res.Error
		return sum
	}

	if sum.OutputDir, err = writer.Write(res, name); err != nil {
		sum.Error = err.Error()
		return sum
	}
	if st != nil {
		if sum.DocumentIDs, err = st.SaveResult(ctx, pipeline.NewJobID(), name, res); err != nil {
			sum.Error = err.Error()
			return sum
		}
	}
	log.Info("file reconstructed", "file", path, "documents", res.NumDocuments, "output_dir", sum.OutputDir)
	sum.Success = true
	return sum
}
