// Package record defines the values that flow between the reconstruction
// stages: page results, extracted fields, tables and merged documents.
package record

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// Version is stamped on every extraction envelope.
const Version = "1.0"

// Region is an axis-aligned box on a page image.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) Area() int { return r.Width * r.Height }

// Rect converts the region to image coordinates.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// RegionFromRect converts an image rectangle.
func RegionFromRect(r image.Rectangle) Region {
	return Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Point is a clustered grid-line crossing in (row, col) pixel space.
type Point struct {
	Row float64 `json:"row"`
	Col float64 `json:"col"`
}

// Cell is one table cell. Image holds the crop used for audit output.
type Cell struct {
	RowIndex int         `json:"row_index"`
	ColIndex int         `json:"col_index"`
	BBox     Region      `json:"bbox"`
	ImageRef string      `json:"image_ref,omitempty"`
	Image    image.Image `json:"-"`
}

type TableInfo struct {
	Cells              []Cell  `json:"cells"`
	NumRows            int     `json:"num_rows"`
	NumColumns         int     `json:"num_columns"`
	IntersectionPoints []Point `json:"intersection_points"`
}

// Field names, shared by configuration, extraction and persistence.
const (
	FieldDocumentType     = "document_type"
	FieldDocumentNumber   = "document_number"
	FieldIssueLocation    = "issue_location"
	FieldIssueDate        = "issue_date"
	FieldIssuingAgency    = "issuing_agency"
	FieldRecipients       = "recipients"
	FieldRecipientAddress = "recipient_address"
	FieldSigner           = "signer"
	FieldPosition         = "position"
	FieldSubject          = "subject"
	FieldContent          = "content"
)

// FieldNames lists every string field of a FieldRecord in output order.
var FieldNames = []string{
	FieldDocumentType,
	FieldDocumentNumber,
	FieldIssueLocation,
	FieldIssueDate,
	FieldIssuingAgency,
	FieldRecipients,
	FieldRecipientAddress,
	FieldSigner,
	FieldPosition,
	FieldSubject,
	FieldContent,
}

// FieldRecord holds the metadata extracted for a page or a document.
// An empty string means the field was not found.
type FieldRecord struct {
	DocumentType     string `json:"document_type,omitempty"`
	DocumentNumber   string `json:"document_number,omitempty"`
	IssueLocation    string `json:"issue_location,omitempty"`
	IssueDate        string `json:"issue_date,omitempty"`
	IssuingAgency    string `json:"issuing_agency,omitempty"`
	Recipients       string `json:"recipients,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
	Signer           string `json:"signer,omitempty"`
	Position         string `json:"position,omitempty"`
	Subject          string `json:"subject,omitempty"`
	Content          string `json:"content,omitempty"`
	PageNumbers      []int  `json:"page_numbers,omitempty"`
}

func (f *FieldRecord) ptr(name string) *string {
	switch name {
	case FieldDocumentType:
		return &f.DocumentType
	case FieldDocumentNumber:
		return &f.DocumentNumber
	case FieldIssueLocation:
		return &f.IssueLocation
	case FieldIssueDate:
		return &f.IssueDate
	case FieldIssuingAgency:
		return &f.IssuingAgency
	case FieldRecipients:
		return &f.Recipients
	case FieldRecipientAddress:
		return &f.RecipientAddress
	case FieldSigner:
		return &f.Signer
	case FieldPosition:
		return &f.Position
	case FieldSubject:
		return &f.Subject
	case FieldContent:
		return &f.Content
	}
	return nil
}

// Get returns the named field, or "" for unknown names.
func (f FieldRecord) Get(name string) string {
	if p := f.ptr(name); p != nil {
		return *p
	}
	return ""
}

// Set assigns the named field. It reports false for unknown names.
func (f *FieldRecord) Set(name, value string) bool {
	p := f.ptr(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// IsEmpty reports whether no string field carries a value.
func (f FieldRecord) IsEmpty() bool {
	for _, name := range FieldNames {
		if strings.TrimSpace(f.Get(name)) != "" {
			return false
		}
	}
	return true
}

// IssueDate is a day/month/year triple as read from the text. It is not
// validated against the calendar so garbled dates survive a round trip.
type IssueDate struct {
	Day   int
	Month int
	Year  int
}

func (d IssueDate) String() string {
	return fmt.Sprintf("%d/%d/%d", d.Day, d.Month, d.Year)
}

// Time returns the date as a time.Time when it names a real calendar day.
func (d IssueDate) Time() (time.Time, bool) {
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != d.Day || int(t.Month()) != d.Month || t.Year() != d.Year {
		return time.Time{}, false
	}
	return t, true
}

// NewIssueDate builds a date from the three captured strings.
func NewIssueDate(day, month, year string) (IssueDate, error) {
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil {
		return IssueDate{}, fmt.Errorf("day %q: %w", day, err)
	}
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil {
		return IssueDate{}, fmt.Errorf("month %q: %w", month, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return IssueDate{}, fmt.Errorf("year %q: %w", year, err)
	}
	return IssueDate{Day: d, Month: m, Year: y}, nil
}

// ParseIssueDate parses the "D/M/Y" rendering.
func ParseIssueDate(s string) (IssueDate, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return IssueDate{}, fmt.Errorf("issue date %q: want D/M/Y", s)
	}
	return NewIssueDate(parts[0], parts[1], parts[2])
}

// PageResult is everything recorded for one processed page.
type PageResult struct {
	PageNumber    int         `json:"page_number"`
	OCRText       string      `json:"ocr_text"`
	ExtractedInfo FieldRecord `json:"extracted_info"`
	Regions       []Region    `json:"regions"`
	Tables        []TableInfo `json:"tables"`

	// Audit images; not serialized.
	Source  image.Image `json:"-"`
	Overlay image.Image `json:"-"`
}

// Metadata is the extraction envelope stamped on every field record.
type Metadata struct {
	DocumentID     string `json:"document_id"`
	ExtractionTime string `json:"extraction_time"`
	Version        string `json:"version"`
}

// NewMetadata stamps id with the given time.
func NewMetadata(id string, at time.Time) Metadata {
	return Metadata{
		DocumentID:     id,
		ExtractionTime: at.Format(time.RFC3339),
		Version:        Version,
	}
}

type MergedDocument struct {
	Metadata Metadata    `json:"metadata"`
	Info     FieldRecord `json:"document_info"`
}

// ProcessResult is the envelope returned for one input file.
type ProcessResult struct {
	Success      bool             `json:"success"`
	NumPages     int              `json:"num_pages"`
	NumDocuments int              `json:"num_documents"`
	Documents    []MergedDocument `json:"documents"`
	Error        string           `json:"error,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`

	// Every processed page, empty ones included, in processing order.
	Pages []PageResult `json:"-"`
	// Non-empty pages renumbered for grouping.
	GroupedPages []PageResult `json:"-"`
}
