package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docrecon/internal/api"
	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/ocr"
	"github.com/dgallion1/docrecon/internal/output"
	"github.com/dgallion1/docrecon/internal/parser"
	"github.com/dgallion1/docrecon/internal/pipeline"
	"github.com/dgallion1/docrecon/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	pcfg, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		log.Error("invalid pipeline configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}

	rec, closeRec, err := ocr.NewBackend(&cfg)
	if err != nil {
		log.Error("init ocr backend", "backend", cfg.OCRBackend, "error", err)
		os.Exit(1)
	}
	cache := ocr.NewMemoryCache(cfg.OCRCacheSize, cfg.OCRCacheTTL)
	stats := ocr.NewStats(time.Hour)
	pool := ocr.NewPool(rec, cache, stats, cfg.OCRWorkers, log)

	proc, err := pipeline.NewProcessor(pcfg, pool, log)
	if err != nil {
		log.Error("init processor", "error", err)
		os.Exit(1)
	}
	loader := pipeline.ParserLoader(parser.Options{DPI: cfg.PDFDPI, PdftoppmPath: cfg.PdftoppmPath})
	writer := output.NewWriter(cfg.OutputDir, cfg.WriteDocx, log)
	worker := pipeline.NewWorker(loader, proc, st, writer, log)

	orch := pipeline.NewOrchestrator(worker, cfg.WorkerCount, cfg.MaxQueueSize, cfg.JobTTL, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, st, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown. main waits on done so the queue drains and the
	// database closes before the process exits.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		cancel()
		closeRec()
		st.Close()
	}()

	log.Info("starting docrecon",
		"port", cfg.Port,
		"ocr_backend", cfg.OCRBackend,
		"workers", cfg.WorkerCount,
		"output_dir", cfg.OutputDir,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
	log.Info("shutdown complete")
}
