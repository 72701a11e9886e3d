package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/ocr"
	"github.com/dgallion1/docrecon/internal/pipeline"
	"github.com/dgallion1/docrecon/internal/record"
	"github.com/dgallion1/docrecon/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv   *Server
	store *store.Store
	orch  *pipeline.Orchestrator
}

func newTestEnv(t *testing.T, stats *ocr.Stats) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	// Never started, so queued jobs stay queued.
	orch := pipeline.NewOrchestrator(nil, 1, 2, time.Hour, testLogger())
	cfg := config.Config{MaxUploadBytes: 64, OCRBackend: config.BackendHTTP}
	return &testEnv{
		srv:   NewServer(orch, st, stats, testLogger(), cfg),
		store: st,
		orch:  orch,
	}
}

func (e *testEnv) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func seed(t *testing.T, st *store.Store) []int64 {
	t.Helper()
	res := record.ProcessResult{
		Success:      true,
		NumPages:     2,
		NumDocuments: 2,
		Documents: []record.MergedDocument{
			{Info: record.FieldRecord{DocumentType: "QUYẾT ĐỊNH", DocumentNumber: "12/QĐ-BTC", PageNumbers: []int{1}}},
			{Info: record.FieldRecord{DocumentType: "THÔNG BÁO", PageNumbers: []int{2}}},
		},
		GroupedPages: []record.PageResult{
			{PageNumber: 1, OCRText: "trang một"},
			{PageNumber: 2, OCRText: "trang hai"},
		},
	}
	ids, err := st.SaveResult(context.Background(), "job-1", "bundle.pdf", res)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ids
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != "ok" {
		t.Errorf("expected status ok, got %v", got)
	}
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name  string
		field string
		file  string
		data  []byte
		code  int
	}{
		{"accepted", "file", "scan.png", []byte("not really a png"), http.StatusAccepted},
		{"unsupported type", "file", "notes.txt", []byte("hello"), http.StatusBadRequest},
		{"missing file", "other", "scan.png", []byte("x"), http.StatusBadRequest},
		{"empty file", "file", "scan.png", []byte{}, http.StatusBadRequest},
		{"too large", "file", "scan.png", bytes.Repeat([]byte("x"), 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			body, ct := multipartBody(t, tt.field, map[string][]byte{tt.file: tt.data})
			rec := e.do(http.MethodPost, "/api/documents", body, ct)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code != http.StatusAccepted {
				return
			}
			out := decode(t, rec)
			id, _ := out["job_id"].(string)
			if e.orch.GetJob(id) == nil {
				t.Fatalf("expected job %q to be registered", id)
			}
			if out["poll_url"] != "/api/jobs/"+id {
				t.Errorf("unexpected poll url %v", out["poll_url"])
			}
		})
	}
}

func TestBatchUpload(t *testing.T) {
	e := newTestEnv(t, nil)
	body, ct := multipartBody(t, "files", map[string][]byte{
		"a.pdf":  []byte("%PDF"),
		"b.docx": []byte("PK"),
		"c.tiff": []byte("II*"),
	})
	rec := e.do(http.MethodPost, "/api/documents/batch", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	jobs, _ := decode(t, rec)["jobs"].([]any)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(jobs))
	}
	failed := 0
	for _, j := range jobs {
		if _, ok := j.(map[string]any)["error"]; ok {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected 1 rejected file, got %d", failed)
	}
	if e.orch.QueueDepth() != 2 {
		t.Errorf("expected 2 queued jobs, got %d", e.orch.QueueDepth())
	}
}

func TestJobStatusAndResult(t *testing.T) {
	e := newTestEnv(t, nil)
	job := pipeline.NewJob("scan.png", []byte("x"))
	if err := e.orch.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if rec := e.do(http.MethodGet, "/api/jobs/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing job, got %d", rec.Code)
	}

	rec := e.do(http.MethodGet, "/api/jobs/"+job.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != string(pipeline.StatusQueued) {
		t.Errorf("expected queued, got %v", got)
	}

	if rec := e.do(http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before completion, got %d", rec.Code)
	}

	job.SetResult(record.ProcessResult{Success: true, NumDocuments: 1, Documents: []record.MergedDocument{}})
	job.SetStatus(pipeline.StatusCompleted, "done")
	rec = e.do(http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	res, _ := decode(t, rec)["result"].(map[string]any)
	if res["num_documents"] != float64(1) {
		t.Errorf("expected num_documents 1, got %v", res["num_documents"])
	}
}

func TestJobResult_FailedWithoutResult(t *testing.T) {
	e := newTestEnv(t, nil)
	job := pipeline.NewJob("scan.png", []byte("x"))
	e.orch.Submit(job)
	job.AddError("load: bad file")
	job.SetStatus(pipeline.StatusFailed, "loading")

	rec := e.do(http.MethodGet, "/api/jobs/"+job.ID+"/result", nil, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bad file") {
		t.Errorf("expected error detail in body, got %s", rec.Body.String())
	}
}

func TestDocuments_ListGetPages(t *testing.T) {
	e := newTestEnv(t, nil)
	ids := seed(t, e.store)

	rec := e.do(http.MethodGet, "/api/documents?limit=1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["total"] != float64(2) {
		t.Errorf("expected total 2, got %v", out["total"])
	}
	if docs, _ := out["documents"].([]any); len(docs) != 1 {
		t.Errorf("expected 1 document on the page, got %d", len(docs))
	}

	rec = e.do(http.MethodGet, "/api/documents?document_type="+url.QueryEscape("THÔNG BÁO"), nil, "")
	if out := decode(t, rec); out["total"] != float64(1) {
		t.Errorf("expected 1 filtered document, got %v", out["total"])
	}

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/documents/%d", ids[0]), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	info, _ := decode(t, rec)["document_info"].(map[string]any)
	if info["document_number"] != "12/QĐ-BTC" {
		t.Errorf("unexpected document number %v", info["document_number"])
	}

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/documents/%d/pages", ids[0]), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if pages, _ := decode(t, rec)["pages"].([]any); len(pages) != 1 {
		t.Errorf("expected 1 page, got %d", len(pages))
	}
}

func TestDocuments_Errors(t *testing.T) {
	e := newTestEnv(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"bad id", http.MethodGet, "/api/documents/abc", http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/documents/999", http.StatusNotFound},
		{"missing pages", http.MethodGet, "/api/documents/999/pages", http.StatusNotFound},
		{"bad offset", http.MethodGet, "/api/documents?offset=-1", http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/api/documents/999", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(tt.method, tt.path, nil, ""); rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestDocuments_UpdateAndDelete(t *testing.T) {
	e := newTestEnv(t, nil)
	ids := seed(t, e.store)
	path := fmt.Sprintf("/api/documents/%d", ids[0])

	rec := e.do(http.MethodPatch, path, strings.NewReader(`{"signer":"TRẦN VĂN BÌNH","issue_date":"02/01/2024"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	info, _ := decode(t, rec)["document_info"].(map[string]any)
	if info["signer"] != "TRẦN VĂN BÌNH" {
		t.Errorf("expected signer updated, got %v", info["signer"])
	}

	for _, body := range []string{`{"colour":"red"}`, `{"issue_date":"31/2/2024"}`, `not json`, `{}`} {
		if rec := e.do(http.MethodPatch, path, strings.NewReader(body), "application/json"); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}

	if rec := e.do(http.MethodDelete, path, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, path, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestOCRStats(t *testing.T) {
	e := newTestEnv(t, nil)
	if rec := e.do(http.MethodGet, "/api/stats/ocr", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without stats, got %d", rec.Code)
	}

	stats := ocr.NewStats(time.Hour)
	stats.Record(40)
	e = newTestEnv(t, stats)
	rec := e.do(http.MethodGet, "/api/stats/ocr", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["backend"] != config.BackendHTTP {
		t.Errorf("expected backend %q, got %v", config.BackendHTTP, out["backend"])
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"scan.pdf", "scan.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\an\quyet dinh.png`, "quyet dinh.png"},
		{"a..b.png", "a_b.png"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
