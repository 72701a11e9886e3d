package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/extract"
	"github.com/dgallion1/docrecon/internal/imaging"
	"github.com/dgallion1/docrecon/internal/merge"
	"github.com/dgallion1/docrecon/internal/ocr"
	"github.com/dgallion1/docrecon/internal/record"
	"github.com/dgallion1/docrecon/internal/segment"
	"github.com/dgallion1/docrecon/internal/table"
)

// ErrNoUsablePages is reported when every page of an input came out empty.
var ErrNoUsablePages = errors.New("no page produced a usable result")

// RegionReader recognizes a page's region crops, returning one result per
// crop in crop order.
type RegionReader interface {
	RecognizeAll(ctx context.Context, crops []image.Image) []ocr.Recognition
}

// Processor drives the pages of one input through reconstruction and
// hands the page sequence to the merger.
type Processor struct {
	pre    *imaging.Preprocessor
	seg    *segment.Segmenter
	tables *table.Detector
	reader RegionReader
	ex     *extract.Extractor
	merger *merge.Merger
	log    *slog.Logger

	// pageHook runs at the start of every page; tests use it to inject
	// failures.
	pageHook func(n int)
}

type processorOptions struct {
	now func() time.Time
}

type Option func(*processorOptions)

// WithClock sets the time stamped on extraction and document metadata.
func WithClock(now func() time.Time) Option {
	return func(o *processorOptions) { o.now = now }
}

// NewProcessor wires every stage from one validated pipeline config.
func NewProcessor(p config.Pipeline, reader RegionReader, log *slog.Logger, opts ...Option) (*Processor, error) {
	o := processorOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	ex, err := extract.New(p.ExtractionPatterns, extract.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	m, err := merge.New(ex, p.DocumentPatterns, log, merge.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	return &Processor{
		pre:    imaging.NewPreprocessor(p.Preprocessing),
		seg:    segment.New(p.Segmentation),
		tables: table.New(p.TableDetection, log),
		reader: reader,
		ex:     ex,
		merger: m,
		log:    log,
	}, nil
}

// Process runs every page in order, then merges. Failures on a page
// leave that page empty; nothing panics out. When no page is usable the
// result carries Success=false and ErrNoUsablePages as its error.
func (p *Processor) Process(ctx context.Context, pages []image.Image) record.ProcessResult {
	return p.ProcessObserved(ctx, pages, nil)
}

// ProcessObserved is Process with onPage called after each page with its
// 1-based number.
func (p *Processor) ProcessObserved(ctx context.Context, pages []image.Image, onPage func(n int)) record.ProcessResult {
	res := record.ProcessResult{Documents: []record.MergedDocument{}}
	all := make([]record.PageResult, 0, len(pages))
	for i, img := range pages {
		n := i + 1
		page, err := p.safePage(ctx, n, img)
		if err != nil {
			p.log.Error("page failed", "page", n, "error", err)
			res.Warnings = append(res.Warnings, err.Error())
		}
		all = append(all, page)
		if onPage != nil {
			onPage(n)
		}
	}
	res.Pages = all

	merged, err := p.safeMerge(all)
	if err != nil {
		p.log.Error("merge failed", "error", err)
		res.Error = err.Error()
		return res
	}
	res.Warnings = append(res.Warnings, merged.Errors...)
	res.GroupedPages = merged.Pages
	res.NumPages = len(merged.Pages)
	if len(merged.Pages) == 0 {
		res.Error = ErrNoUsablePages.Error()
		return res
	}

	res.Success = true
	res.Documents = merged.Documents
	res.NumDocuments = len(merged.Documents)
	return res
}

func (p *Processor) safePage(ctx context.Context, n int, img image.Image) (page record.PageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			page = emptyPage(n, img)
			err = fmt.Errorf("page %d: %v", n, r)
		}
	}()
	if p.pageHook != nil {
		p.pageHook(n)
	}
	return p.processPage(ctx, n, img), nil
}

func (p *Processor) processPage(ctx context.Context, n int, img image.Image) record.PageResult {
	log := p.log.With("page", n)

	prep := p.pre.Process(img)
	regions := p.seg.FindTextRegions(prep.Blocks)
	if len(regions) == 0 {
		log.Warn("no text regions found")
		page := emptyPage(n, prep.Gray)
		page.Regions = regions
		return page
	}

	crops := segment.ExtractRegions(prep.Gray, regions)
	recs := p.reader.RecognizeAll(ctx, crops)
	text := ocr.Text(recs)

	extracted, err := p.ex.SafeExtract(text, "")
	if err != nil {
		log.Warn("field extraction failed", "error", err)
	}

	tables, err := p.tables.DetectTables(prep.Gray)
	if err != nil {
		log.Warn("table detection failed", "error", err)
		tables = []record.TableInfo{}
	}

	var overlay image.Image = segment.DrawRegions(prep.Gray, regions)
	for _, t := range tables {
		overlay = table.DrawTableBoundaries(overlay, t)
	}

	log.Info("page processed",
		"regions", len(regions),
		"tables", len(tables),
		"chars", len(text),
		"confidence", ocr.MeanConfidence(recs),
	)
	return record.PageResult{
		PageNumber:    n,
		OCRText:       text,
		ExtractedInfo: extracted.Info,
		Regions:       regions,
		Tables:        tables,
		Source:        prep.Gray,
		Overlay:       overlay,
	}
}

func (p *Processor) safeMerge(pages []record.PageResult) (res merge.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("merge pages: %v", r)
		}
	}()
	return p.merger.Merge(pages), nil
}

func emptyPage(n int, img image.Image) record.PageResult {
	return record.PageResult{
		PageNumber: n,
		Regions:    []record.Region{},
		Tables:     []record.TableInfo{},
		Source:     img,
	}
}
