// Package output writes a processed input to disk: page images and
// overlays, per-page and per-document JSON, Word exports and an HTML
// report.
package output

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dgallion1/docrecon/internal/parser"
	"github.com/dgallion1/docrecon/internal/record"
)

// Writer lays results out under root/<YYYYMMDD>/<input>/.
type Writer struct {
	root      string
	writeDocx bool
	log       *slog.Logger
	now       func() time.Time
}

func NewWriter(root string, writeDocx bool, log *slog.Logger) *Writer {
	return &Writer{root: root, writeDocx: writeDocx, log: log, now: time.Now}
}

type pageMeta struct {
	PageNumber     int    `json:"page_number"`
	ExtractionTime string `json:"extraction_time"`
	Version        string `json:"version"`
}

type pageBody struct {
	TextRegions   []record.Region    `json:"text_regions"`
	Tables        []record.TableInfo `json:"tables"`
	ExtractedInfo record.FieldRecord `json:"extracted_info"`
}

type pageInfo struct {
	Metadata pageMeta `json:"metadata"`
	PageInfo pageBody `json:"page_info"`
}

// Write stores every page of res and every merged document, returning
// the directory written.
func (w *Writer) Write(res record.ProcessResult, sourceFile string) (string, error) {
	now := w.now()
	name := Slugify(parser.BaseName(sourceFile))
	if name == "" {
		name = "input"
	}
	base := filepath.Join(w.root, now.Format("20060102"), name)
	for _, d := range []string{base, filepath.Join(base, "pages"), filepath.Join(base, "documents")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}

	stamp := now.Format(time.RFC3339)
	for _, p := range res.Pages {
		if err := w.writePage(filepath.Join(base, "pages", "page_"+pad(p.PageNumber)), p, stamp); err != nil {
			return "", err
		}
	}

	docs := res.Documents
	if docs == nil {
		docs = []record.MergedDocument{}
	}
	for i, d := range docs {
		id := d.Metadata.DocumentID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		if err := w.writeDocument(filepath.Join(base, "documents", "document_"+padID(id)), d); err != nil {
			return "", err
		}
	}

	if err := writeJSON(filepath.Join(base, "documents.json"), docs); err != nil {
		return "", err
	}
	if err := writeReport(filepath.Join(base, "report.html"), sourceFile, res); err != nil {
		return "", err
	}

	w.log.Info("output written", "dir", base, "pages", len(res.Pages), "documents", len(docs))
	return base, nil
}

func (w *Writer) writePage(dir string, p record.PageResult, stamp string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	if p.Source != nil {
		if err := writePNG(filepath.Join(dir, "image.png"), p.Source); err != nil {
			return err
		}
	}
	if p.Overlay != nil {
		if err := writePNG(filepath.Join(dir, "regions.png"), p.Overlay); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "full_text.txt"), []byte(p.OCRText), 0o644); err != nil {
		return fmt.Errorf("write page text: %w", err)
	}

	tables := make([]record.TableInfo, len(p.Tables))
	for ti, t := range p.Tables {
		tdir := filepath.Join("tables", "table_"+pad(ti+1))
		cells := make([]record.Cell, len(t.Cells))
		for ci, c := range t.Cells {
			if c.Image != nil {
				ref := filepath.Join(tdir, fmt.Sprintf("cell_%d_%d.png", c.RowIndex, c.ColIndex))
				if err := os.MkdirAll(filepath.Join(dir, tdir), 0o755); err != nil {
					return fmt.Errorf("create table dir: %w", err)
				}
				if err := writePNG(filepath.Join(dir, ref), c.Image); err != nil {
					return err
				}
				c.ImageRef = filepath.ToSlash(ref)
			}
			cells[ci] = c
		}
		t.Cells = cells
		tables[ti] = t
	}

	regions := p.Regions
	if regions == nil {
		regions = []record.Region{}
	}
	return writeJSON(filepath.Join(dir, "info.json"), pageInfo{
		Metadata: pageMeta{PageNumber: p.PageNumber, ExtractionTime: stamp, Version: record.Version},
		PageInfo: pageBody{TextRegions: regions, Tables: tables, ExtractedInfo: p.ExtractedInfo},
	})
}

func (w *Writer) writeDocument(dir string, d record.MergedDocument) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "info.json"), d); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "full_text.txt"), []byte(d.Info.Content), 0o644); err != nil {
		return fmt.Errorf("write document text: %w", err)
	}
	if w.writeDocx {
		if err := writeDocx(filepath.Join(dir, "document.docx"), d); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func pad(n int) string {
	return fmt.Sprintf("%03d", n)
}

// padID zero-pads numeric ids and leaves anything else as is.
func padID(id string) string {
	if n, err := strconv.Atoi(id); err == nil {
		return pad(n)
	}
	return Slugify(id)
}
