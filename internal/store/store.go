// Package store persists reconstructed documents and their pages in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/docrecon/internal/record"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// ValidationError reports an update that names an unknown field or
// carries a malformed value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id            TEXT NOT NULL,
	source_file       TEXT NOT NULL,
	document_index    INTEGER NOT NULL,
	document_type     TEXT NOT NULL DEFAULT '',
	document_number   TEXT NOT NULL DEFAULT '',
	issue_location    TEXT NOT NULL DEFAULT '',
	issue_date        TEXT NOT NULL DEFAULT '',
	issuing_agency    TEXT NOT NULL DEFAULT '',
	recipients        TEXT NOT NULL DEFAULT '',
	recipient_address TEXT NOT NULL DEFAULT '',
	signer            TEXT NOT NULL DEFAULT '',
	position          TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	content           TEXT NOT NULL DEFAULT '',
	page_numbers      TEXT NOT NULL DEFAULT '[]',
	extraction_time   TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
CREATE INDEX IF NOT EXISTS idx_documents_job ON documents(job_id);

CREATE TABLE IF NOT EXISTS pages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id    INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number    INTEGER NOT NULL,
	ocr_text       TEXT NOT NULL DEFAULT '',
	extracted_info TEXT NOT NULL DEFAULT '{}',
	regions        TEXT NOT NULL DEFAULT '[]',
	tables         TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_pages_document ON pages(document_id, page_number);
`

// Store wraps the SQLite handle.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Document is a stored merged document.
type Document struct {
	ID             int64              `json:"id"`
	JobID          string             `json:"job_id"`
	SourceFile     string             `json:"source_file"`
	Index          int                `json:"document_index"`
	Info           record.FieldRecord `json:"document_info"`
	ExtractionTime string             `json:"extraction_time"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

// Page is a stored page belonging to one document.
type Page struct {
	ID            int64              `json:"id"`
	DocumentID    int64              `json:"document_id"`
	PageNumber    int                `json:"page_number"`
	OCRText       string             `json:"ocr_text"`
	ExtractedInfo record.FieldRecord `json:"extracted_info"`
	Regions       []record.Region    `json:"regions"`
	Tables        []record.TableInfo `json:"tables"`
}

// SaveResult stores every document of res together with the grouped
// pages it covers, in one transaction. It returns the new document ids in
// document order.
func (s *Store) SaveResult(ctx context.Context, jobID, sourceFile string, res record.ProcessResult) ([]int64, error) {
	pagesByNumber := make(map[int]record.PageResult, len(res.GroupedPages))
	for _, p := range res.GroupedPages {
		pagesByNumber[p.PageNumber] = p
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339)
	ids := make([]int64, 0, len(res.Documents))
	for i, doc := range res.Documents {
		pn, err := json.Marshal(nonNilInts(doc.Info.PageNumbers))
		if err != nil {
			return nil, fmt.Errorf("encode page numbers: %w", err)
		}
		info := doc.Info
		r, err := tx.ExecContext(ctx, `INSERT INTO documents (
			job_id, source_file, document_index,
			document_type, document_number, issue_location, issue_date, issuing_agency,
			recipients, recipient_address, signer, position, subject, content,
			page_numbers, extraction_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, sourceFile, i+1,
			info.DocumentType, info.DocumentNumber, info.IssueLocation, info.IssueDate, info.IssuingAgency,
			info.Recipients, info.RecipientAddress, info.Signer, info.Position, info.Subject, info.Content,
			string(pn), doc.Metadata.ExtractionTime, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert document %d: %w", i+1, err)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("document id: %w", err)
		}
		ids = append(ids, id)

		for _, n := range info.PageNumbers {
			p, ok := pagesByNumber[n]
			if !ok {
				continue
			}
			if err := insertPage(ctx, tx, id, p); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("result stored", "job_id", jobID, "documents", len(ids))
	return ids, nil
}

func insertPage(ctx context.Context, tx *sql.Tx, docID int64, p record.PageResult) error {
	info, err := json.Marshal(p.ExtractedInfo)
	if err != nil {
		return fmt.Errorf("encode page info: %w", err)
	}
	regions := p.Regions
	if regions == nil {
		regions = []record.Region{}
	}
	rj, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}
	tables := p.Tables
	if tables == nil {
		tables = []record.TableInfo{}
	}
	tj, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pages (document_id, page_number, ocr_text, extracted_info, regions, tables) VALUES (?, ?, ?, ?, ?, ?)`,
		docID, p.PageNumber, p.OCRText, string(info), string(rj), string(tj),
	)
	if err != nil {
		return fmt.Errorf("insert page %d: %w", p.PageNumber, err)
	}
	return nil
}

const documentColumns = `id, job_id, source_file, document_index,
	document_type, document_number, issue_location, issue_date, issuing_agency,
	recipients, recipient_address, signer, position, subject, content,
	page_numbers, extraction_time, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var pn string
	err := row.Scan(&d.ID, &d.JobID, &d.SourceFile, &d.Index,
		&d.Info.DocumentType, &d.Info.DocumentNumber, &d.Info.IssueLocation, &d.Info.IssueDate, &d.Info.IssuingAgency,
		&d.Info.Recipients, &d.Info.RecipientAddress, &d.Info.Signer, &d.Info.Position, &d.Info.Subject, &d.Info.Content,
		&pn, &d.ExtractionTime, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pn), &d.Info.PageNumbers); err != nil {
		return nil, fmt.Errorf("decode page numbers of document %d: %w", d.ID, err)
	}
	return &d, nil
}

// ListOptions pages through documents, newest first.
type ListOptions struct {
	Offset       int
	Limit        int
	DocumentType string
}

// List returns one page of documents and the total matching count.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Document, int, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	where := ""
	var args []any
	if opts.DocumentType != "" {
		where = " WHERE document_type = ?"
		args = append(args, opts.DocumentType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents"+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return d, nil
}

// Update overwrites the named fields of a document. Field names are the
// FieldRecord JSON names; issue_date must be a real D/M/Y calendar date
// or empty.
func (s *Store) Update(ctx context.Context, id int64, fields map[string]string) (*Document, error) {
	if len(fields) == 0 {
		return nil, &ValidationError{Field: "-", Reason: "no fields to update"}
	}
	allowed := make(map[string]bool, len(record.FieldNames))
	for _, f := range record.FieldNames {
		allowed[f] = true
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, name := range record.FieldNames {
		v, ok := fields[name]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if name == record.FieldIssueDate && v != "" {
			d, err := record.ParseIssueDate(v)
			if err != nil {
				return nil, &ValidationError{Field: name, Reason: err.Error()}
			}
			if _, ok := d.Time(); !ok {
				return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("%q is not a calendar date", v)}
			}
			v = d.String()
		}
		sets = append(sets, name+" = ?")
		args = append(args, v)
	}
	for name := range fields {
		if !allowed[name] {
			return nil, &ValidationError{Field: name, Reason: "unknown field"}
		}
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC().Format(time.RFC3339), id)
	r, err := s.db.ExecContext(ctx, "UPDATE documents SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update document %d: %w", id, err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a document and its pages.
func (s *Store) Delete(ctx context.Context, id int64) error {
	r, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Pages returns a document's pages in page order.
func (s *Store) Pages(ctx context.Context, docID int64) ([]Page, error) {
	if _, err := s.Get(ctx, docID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, page_number, ocr_text, extracted_info, regions, tables
		 FROM pages WHERE document_id = ? ORDER BY page_number`, docID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := []Page{}
	for rows.Next() {
		var p Page
		var info, regions, tables string
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.OCRText, &info, &regions, &tables); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(info), &p.ExtractedInfo); err != nil {
			return nil, fmt.Errorf("decode page info: %w", err)
		}
		if err := json.Unmarshal([]byte(regions), &p.Regions); err != nil {
			return nil, fmt.Errorf("decode regions: %w", err)
		}
		if err := json.Unmarshal([]byte(tables), &p.Tables); err != nil {
			return nil, fmt.Errorf("decode tables: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
