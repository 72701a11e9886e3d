package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/dgallion1/docrecon/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() record.ProcessResult {
	return record.ProcessResult{
		Success:      true,
		NumPages:     3,
		NumDocuments: 2,
		Documents: []record.MergedDocument{
			{
				Metadata: record.Metadata{DocumentID: "1", ExtractionTime: "2024-05-01T08:00:00Z", Version: record.Version},
				Info: record.FieldRecord{
					DocumentType:   "QUYẾT ĐỊNH",
					DocumentNumber: "12/QĐ-BTC",
					IssueDate:      "2/1/2024",
					Content:        "trang một\n\ntrang hai",
					PageNumbers:    []int{1, 2},
				},
			},
			{
				Metadata: record.Metadata{DocumentID: "2", ExtractionTime: "2024-05-01T08:00:00Z", Version: record.Version},
				Info: record.FieldRecord{
					DocumentType: "THÔNG BÁO",
					Content:      "trang ba",
					PageNumbers:  []int{3},
				},
			},
		},
		GroupedPages: []record.PageResult{
			{PageNumber: 1, OCRText: "trang một", Regions: []record.Region{{X: 1, Y: 2, Width: 3, Height: 4}}},
			{PageNumber: 2, OCRText: "trang hai", Tables: []record.TableInfo{{NumRows: 2, NumColumns: 2}}},
			{PageNumber: 3, OCRText: "trang ba", ExtractedInfo: record.FieldRecord{DocumentType: "THÔNG BÁO"}},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids, err := s.SaveResult(ctx, "job-1", "bundle.pdf", sampleResult())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	d, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.JobID != "job-1" || d.SourceFile != "bundle.pdf" || d.Index != 1 {
		t.Errorf("unexpected document header %+v", d)
	}
	if d.Info.DocumentNumber != "12/QĐ-BTC" || d.Info.Content != "trang một\n\ntrang hai" {
		t.Errorf("unexpected document info %+v", d.Info)
	}
	if !reflect.DeepEqual(d.Info.PageNumbers, []int{1, 2}) {
		t.Errorf("expected page numbers [1 2], got %v", d.Info.PageNumbers)
	}
	if d.CreatedAt != "2024-05-01T09:00:00Z" {
		t.Errorf("unexpected created_at %q", d.CreatedAt)
	}
}

func TestPages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids, err := s.SaveResult(ctx, "job-1", "bundle.pdf", sampleResult())
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	pages, err := s.Pages(ctx, ids[0])
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].PageNumber != 1 || pages[1].PageNumber != 2 {
		t.Errorf("expected pages 1 and 2, got %d and %d", pages[0].PageNumber, pages[1].PageNumber)
	}
	if len(pages[0].Regions) != 1 || pages[0].Regions[0].Width != 3 {
		t.Errorf("unexpected regions %+v", pages[0].Regions)
	}
	if len(pages[1].Tables) != 1 || pages[1].Tables[0].NumRows != 2 {
		t.Errorf("unexpected tables %+v", pages[1].Tables)
	}

	if _, err := s.Pages(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, job := range []string{"job-1", "job-2"} {
		if _, err := s.SaveResult(ctx, job, "bundle.pdf", sampleResult()); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	docs, total, err := s.List(ctx, ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(docs) != 3 {
		t.Fatalf("expected 3 of 4, got %d of %d", len(docs), total)
	}
	if docs[0].ID < docs[1].ID {
		t.Error("expected newest first")
	}

	docs, total, err = s.List(ctx, ListOptions{DocumentType: "THÔNG BÁO"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(docs) != 2 {
		t.Errorf("expected 2 notices, got %d of %d", len(docs), total)
	}

	docs, _, err = s.List(ctx, ListOptions{Offset: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("expected empty non-nil page, got %v", docs)
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids, err := s.SaveResult(ctx, "job-1", "bundle.pdf", sampleResult())
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	d, err := s.Update(ctx, ids[0], map[string]string{
		record.FieldSigner:    " TRẦN VĂN BÌNH ",
		record.FieldIssueDate: "05/02/2024",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d.Info.Signer != "TRẦN VĂN BÌNH" {
		t.Errorf("expected trimmed signer, got %q", d.Info.Signer)
	}
	if d.Info.IssueDate != "5/2/2024" {
		t.Errorf("expected normalized date, got %q", d.Info.IssueDate)
	}
	if d.Info.DocumentNumber != "12/QĐ-BTC" {
		t.Errorf("expected untouched number, got %q", d.Info.DocumentNumber)
	}

	tests := []struct {
		name   string
		fields map[string]string
		field  string
	}{
		{"unknown field", map[string]string{"title": "x"}, "title"},
		{"bad date shape", map[string]string{record.FieldIssueDate: "2024-02-05"}, record.FieldIssueDate},
		{"impossible date", map[string]string{record.FieldIssueDate: "31/2/2024"}, record.FieldIssueDate},
		{"nothing", map[string]string{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update(ctx, ids[0], tt.fields)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}

	if _, err := s.Update(ctx, 999, map[string]string{record.FieldSigner: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ids, err := s.SaveResult(ctx, "job-1", "bundle.pdf", sampleResult())
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pages WHERE document_id = ?", ids[0]).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected pages removed with document, got %d", n)
	}
	if err := s.Delete(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
