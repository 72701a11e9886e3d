package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/dgallion1/docrecon/internal/parser"
	"github.com/dgallion1/docrecon/internal/record"
)

// Loader turns an uploaded file into page images.
type Loader func(ctx context.Context, filename string, data []byte) ([]image.Image, error)

// ResultStore persists a finished result.
type ResultStore interface {
	SaveResult(ctx context.Context, jobID, sourceFile string, res record.ProcessResult) ([]int64, error)
}

// OutputWriter lays a finished result out on disk.
type OutputWriter interface {
	Write(res record.ProcessResult, sourceFile string) (string, error)
}

// ParserLoader loads files with the parser package.
func ParserLoader(opts parser.Options) Loader {
	return func(ctx context.Context, filename string, data []byte) ([]image.Image, error) {
		p, err := parser.ForFile(filename, opts)
		if err != nil {
			return nil, err
		}
		return p.Parse(ctx, bytes.NewReader(data), filename)
	}
}

// Worker processes a single job. store and out may be nil.
type Worker struct {
	load  Loader
	proc  *Processor
	store ResultStore
	out   OutputWriter
	log   *slog.Logger
}

func NewWorker(load Loader, proc *Processor, store ResultStore, out OutputWriter, log *slog.Logger) *Worker {
	return &Worker{
		load:  load,
		proc:  proc,
		store: store,
		out:   out,
		log:   log,
	}
}

// Process runs the full reconstruction for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Load
	job.SetStatus(StatusLoading, "loading")
	pages, err := w.load(ctx, job.Filename, job.FileData())
	if err != nil {
		log.Error("load failed", "error", err)
		job.AddError(fmt.Sprintf("load: %s", err))
		job.SetStatus(StatusFailed, "loading")
		return
	}
	// The raw bytes are not needed past this point.
	job.SetFileData(nil)
	job.SetTotalPages(len(pages))
	log.Info("file loaded", "pages", len(pages))

	// Phase 2: Recognize and merge
	job.SetStatus(StatusRecognizing, "recognizing")
	res := w.proc.ProcessObserved(ctx, pages, func(n int) {
		job.IncrPagesProcessed()
		if n == len(pages) {
			job.SetStatus(StatusMerging, "merging")
		}
	})
	job.SetResult(res)
	for _, warn := range res.Warnings {
		job.AddError(warn)
	}
	if !res.Success {
		log.Error("processing failed", "error", res.Error)
		job.AddError(res.Error)
		job.SetStatus(StatusFailed, "merging")
		return
	}
	log.Info("processing complete", "pages", res.NumPages, "documents", res.NumDocuments)

	// Phase 3: Save
	job.SetStatus(StatusSaving, "saving")
	var dir string
	if w.out != nil {
		dir, err = w.out.Write(res, job.Filename)
		if err != nil {
			log.Error("output write failed", "error", err)
			job.AddError(fmt.Sprintf("output: %s", err))
			job.SetStatus(StatusFailed, "saving")
			return
		}
	}
	var ids []int64
	if w.store != nil {
		ids, err = w.store.SaveResult(ctx, job.ID, job.Filename, res)
		if err != nil {
			log.Error("store failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
			job.SetStatus(StatusFailed, "saving")
			return
		}
	}
	job.SetSaved(ids, dir)
	job.SetStatus(StatusCompleted, "done")
}
