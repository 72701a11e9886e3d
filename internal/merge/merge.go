// Package merge groups an ordered run of page results into documents and
// fuses each group's fields from its combined text.
package merge

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/extract"
	"github.com/dgallion1/docrecon/internal/record"
)

// Result is the outcome of merging one input's pages.
type Result struct {
	Documents []record.MergedDocument
	// Non-empty pages, renumbered 1..K in input order.
	Pages  []record.PageResult
	Errors []string
}

type fieldRules struct {
	field string
	rules []*regexp.Regexp
}

// Merger decides document boundaries over a page sequence.
type Merger struct {
	ex      *extract.Extractor
	numbers []*regexp.Regexp
	fields  []fieldRules
	log     *slog.Logger
	now     func() time.Time

	// sameHook and fuseHook run before the real checks; tests use them to
	// inject failures.
	sameHook func(a, b record.PageResult)
	fuseHook func(pages []record.PageResult)
}

type Option func(*Merger)

func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// New compiles the document-level patterns.
func New(ex *extract.Extractor, patterns config.DocumentPatterns, log *slog.Logger, opts ...Option) (*Merger, error) {
	numbers, err := extract.CompileRules("document_patterns.document_number", patterns.DocumentNumber)
	if err != nil {
		return nil, err
	}
	m := &Merger{ex: ex, numbers: numbers, log: log, now: time.Now}
	dedicated := []struct {
		field string
		exprs []string
	}{
		{record.FieldIssueLocation, patterns.IssueLocation},
		{record.FieldRecipients, patterns.Recipients},
		{record.FieldRecipientAddress, patterns.RecipientAddress},
		{record.FieldSigner, patterns.Signer},
		{record.FieldPosition, patterns.Position},
		{record.FieldSubject, patterns.Subject},
	}
	for _, d := range dedicated {
		rules, err := extract.CompileRules("document_patterns."+d.field, d.exprs)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			m.fields = append(m.fields, fieldRules{field: d.field, rules: rules})
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// IsEmptyPage reports whether a page is left out of grouping: no text, no
// extracted field, or no regions.
func IsEmptyPage(p record.PageResult) bool {
	if strings.TrimSpace(p.OCRText) == "" {
		return true
	}
	if p.ExtractedInfo.IsEmpty() {
		return true
	}
	return len(p.Regions) == 0
}

// Merge walks the non-empty pages in order. A page joins the open group
// when it belongs with the group's last page; otherwise the group is
// closed and a new one starts. The input slice is not modified.
func (m *Merger) Merge(pages []record.PageResult) Result {
	res := Result{
		Documents: []record.MergedDocument{},
		Pages:     []record.PageResult{},
	}
	for _, p := range pages {
		if IsEmptyPage(p) {
			continue
		}
		p.PageNumber = len(res.Pages) + 1
		res.Pages = append(res.Pages, p)
	}

	var groups [][]record.PageResult
	var current []record.PageResult
	for _, p := range res.Pages {
		if current != nil {
			same, err := m.safeSame(current[len(current)-1], p)
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				m.log.Warn("page comparison failed, starting new document", "page", p.PageNumber, "error", err)
			}
			if same {
				current = append(current, p)
				continue
			}
			groups = append(groups, current)
		}
		current = []record.PageResult{p}
	}
	if current != nil {
		groups = append(groups, current)
	}

	at := m.now()
	for i, g := range groups {
		info, err := m.safeFuse(g)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			m.log.Warn("document fusion failed, keeping minimal record", "document", i+1, "error", err)
		}
		res.Documents = append(res.Documents, record.MergedDocument{
			Metadata: record.NewMetadata(strconv.Itoa(i+1), at),
			Info:     info,
		})
	}

	m.log.Info("pages merged", "pages", len(pages), "usable_pages", len(res.Pages), "documents", len(res.Documents))
	return res
}

func (m *Merger) safeSame(a, b record.PageResult) (same bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			same = false
			err = fmt.Errorf("compare pages %d and %d: %v", a.PageNumber, b.PageNumber, r)
		}
	}()
	if m.sameHook != nil {
		m.sameHook(a, b)
	}
	return SameDocument(a, b), nil
}

// SameDocument reports whether b continues the document that a belongs to.
func SameDocument(a, b record.PageResult) bool {
	na := NumberKey(a.ExtractedInfo.DocumentNumber)
	nb := NumberKey(b.ExtractedInfo.DocumentNumber)
	if na != "" && na == nb {
		return true
	}

	if sharedWords(lastSentence(a.OCRText), firstSentence(b.OCRText)) >= 2 {
		return true
	}

	matches := 0
	for _, f := range []string{record.FieldDocumentType, record.FieldIssuingAgency, record.FieldIssueDate} {
		va := FieldKey(a.ExtractedInfo.Get(f))
		vb := FieldKey(b.ExtractedInfo.Get(f))
		if va != "" && va == vb {
			matches++
		}
	}
	return matches >= 2
}

// NumberKey lowercases a document number and collapses every run of
// characters other than letters and digits into one space, so
// "391-TTr/VTCCB-TH" and "391 TTr VTCCB TH" compare equal.
func NumberKey(s string) string {
	var sb strings.Builder
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			pendingSpace = false
			sb.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return sb.String()
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// FieldKey strips everything but letters, digits, underscores, spaces and
// hyphens, then lowercases and trims.
func FieldKey(s string) string {
	return strings.TrimSpace(strings.ToLower(punctRe.ReplaceAllString(s, "")))
}

func lastSentence(text string) string {
	parts := strings.Split(strings.TrimSpace(text), ".")
	return strings.TrimSpace(parts[len(parts)-1])
}

func firstSentence(text string) string {
	parts := strings.Split(strings.TrimSpace(text), ".")
	return strings.TrimSpace(parts[0])
}

func sharedWords(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(a)) {
		set[w] = true
	}
	n := 0
	for _, w := range strings.Fields(strings.ToLower(b)) {
		if set[w] {
			n++
			delete(set, w)
		}
	}
	return n
}

func (m *Merger) safeFuse(pages []record.PageResult) (info record.FieldRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = minimalRecord(pages)
			err = fmt.Errorf("fuse document at page %d: %v", pages[0].PageNumber, r)
		}
	}()
	if m.fuseHook != nil {
		m.fuseHook(pages)
	}
	return m.fuse(pages), nil
}

// fuse builds the document record from the group's combined text. Type,
// agency and date come from the first page. The number is seeded from the
// first page and refined against the full text. The remaining fields are
// re-derived from the full text since they may sit on any page: the
// document rules for a field go first, the page rules fill what they miss.
func (m *Merger) fuse(pages []record.PageResult) record.FieldRecord {
	first := pages[0].ExtractedInfo
	full := joinText(pages)
	normalized := extract.Normalize(full)

	info := m.ex.ExtractFields(full,
		record.FieldIssueLocation,
		record.FieldRecipients,
		record.FieldRecipientAddress,
		record.FieldSigner,
		record.FieldPosition,
		record.FieldSubject,
	)
	for _, fr := range m.fields {
		if v := extract.FirstMatch(fr.rules, normalized); v != "" {
			info.Set(fr.field, v)
		}
	}
	info.DocumentType = first.DocumentType
	info.IssuingAgency = first.IssuingAgency
	info.IssueDate = first.IssueDate
	if info.IssueDate == "" {
		info.IssueDate = m.ex.ExtractFields(full, record.FieldIssueDate).IssueDate
	}
	if first.DocumentNumber != "" {
		info.DocumentNumber = first.DocumentNumber
		if n := extract.FirstMatch(m.numbers, normalized); n != "" {
			info.DocumentNumber = n
		}
	}
	info.Content = full
	info.PageNumbers = pageNumbers(pages)
	return info
}

func minimalRecord(pages []record.PageResult) record.FieldRecord {
	info := pages[0].ExtractedInfo
	info.Content = joinText(pages)
	info.PageNumbers = pageNumbers(pages)
	return info
}

func joinText(pages []record.PageResult) string {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.OCRText != "" {
			texts = append(texts, p.OCRText)
		}
	}
	return strings.Join(texts, "\n\n")
}

func pageNumbers(pages []record.PageResult) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = p.PageNumber
	}
	return out
}
