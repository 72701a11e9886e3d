// Package extract pulls typed metadata fields out of recognized page text
// with ordered regular-expression rules.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/record"
)

// Result is a field record wrapped in its extraction envelope.
type Result struct {
	Metadata record.Metadata    `json:"metadata"`
	Info     record.FieldRecord `json:"document_info"`
}

type fieldRules struct {
	field string
	rules []*regexp.Regexp
}

// Extractor applies per-field rule lists. For each field the first rule
// that matches wins; rules are never scored against each other.
type Extractor struct {
	fields        []fieldRules
	locationDate  []*regexp.Regexp
	issueDate     []*regexp.Regexp
	dateLine      *regexp.Regexp
	agencyFilters []*regexp.Regexp
	now           func() time.Time
}

type Option func(*Extractor)

// WithClock overrides the time source used for extraction timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New compiles every configured rule. A rule that does not compile, or a
// date rule with the wrong number of groups, is an error.
func New(p config.ExtractionPatterns, opts ...Option) (*Extractor, error) {
	e := &Extractor{now: time.Now}
	for _, o := range opts {
		o(e)
	}

	simple := []struct {
		field string
		exprs []string
	}{
		{record.FieldDocumentType, p.DocumentType},
		{record.FieldDocumentNumber, p.DocumentNumber},
		{record.FieldIssuingAgency, p.IssuingAgency},
		{record.FieldRecipients, p.Recipients},
		{record.FieldRecipientAddress, p.RecipientAddress},
		{record.FieldSigner, p.Signer},
		{record.FieldPosition, p.Position},
		{record.FieldSubject, p.Subject},
	}
	for _, s := range simple {
		rules, err := compileAll(s.field, s.exprs, -1)
		if err != nil {
			return nil, err
		}
		e.fields = append(e.fields, fieldRules{field: s.field, rules: rules})
	}

	var err error
	if e.locationDate, err = compileAll("location_date", p.LocationDate, 4); err != nil {
		return nil, err
	}
	if e.issueDate, err = compileAll("issue_date", p.IssueDate, 3); err != nil {
		return nil, err
	}
	if e.agencyFilters, err = compileAll("agency_line_filters", p.AgencyLineFilters, -1); err != nil {
		return nil, err
	}
	if p.DateLine != "" {
		if e.dateLine, err = regexp.Compile(p.DateLine); err != nil {
			return nil, fmt.Errorf("extraction rule date_line: %w", err)
		}
	}
	return e, nil
}

// CompileRules compiles an ordered rule list for the given field.
func CompileRules(field string, exprs []string) ([]*regexp.Regexp, error) {
	return compileAll(field, exprs, -1)
}

func compileAll(field string, exprs []string, groups int) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("extraction rule %s[%d]: %w", field, i, err)
		}
		if groups >= 0 && re.NumSubexp() != groups {
			return nil, fmt.Errorf("extraction rule %s[%d]: want %d capture groups, got %d", field, i, groups, re.NumSubexp())
		}
		out = append(out, re)
	}
	return out, nil
}

// Normalize composes the text to NFC, converts every newline to "\n" and
// trims each line. Blank lines are kept since paragraph breaks delimit
// several fields.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}

// Extract runs every rule over text. Missing fields are left empty;
// Content is the input text as given.
func (e *Extractor) Extract(text, documentID string) Result {
	info := e.ExtractFields(text)
	info.Content = text
	return Result{
		Metadata: record.NewMetadata(documentID, e.now()),
		Info:     info,
	}
}

// SafeExtract is Extract with panics converted to an error.
func (e *Extractor) SafeExtract(text, documentID string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract fields: %v", r)
		}
	}()
	return e.Extract(text, documentID), nil
}

// ExtractFields runs the rules for the named fields only, or for all
// fields when none are named. Content is never set.
func (e *Extractor) ExtractFields(text string, fields ...string) record.FieldRecord {
	want := func(string) bool { return true }
	if len(fields) > 0 {
		set := make(map[string]bool, len(fields))
		for _, f := range fields {
			set[f] = true
		}
		want = func(f string) bool { return set[f] }
	}

	text = Normalize(text)
	var info record.FieldRecord

	for _, fr := range e.fields {
		if want(fr.field) {
			info.Set(fr.field, FirstMatch(fr.rules, text))
		}
	}

	if want(record.FieldIssueLocation) || want(record.FieldIssueDate) {
		loc, date := e.locationAndDate(text)
		if want(record.FieldIssueLocation) {
			info.IssueLocation = loc
		}
		if want(record.FieldIssueDate) {
			info.IssueDate = date
		}
	}

	if want(record.FieldIssuingAgency) && info.IssuingAgency == "" {
		info.IssuingAgency = e.agencyFallback(text)
	}
	return info
}

// FirstMatch returns the trimmed value of the first rule that matches text:
// its first capture group if it has one, otherwise the whole match. The
// first matching rule wins even when its value trims to nothing.
func FirstMatch(rules []*regexp.Regexp, text string) string {
	for _, re := range rules {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		return strings.TrimSpace(v)
	}
	return ""
}

// locationAndDate reads the "<place>, ngày D tháng M năm Y" line. When no
// such line exists the date alone is looked for.
func (e *Extractor) locationAndDate(text string) (string, string) {
	for _, re := range e.locationDate {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		d, err := record.NewIssueDate(m[2], m[3], m[4])
		if err != nil {
			continue
		}
		return strings.TrimSpace(m[1]), d.String()
	}
	for _, re := range e.issueDate {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if d, err := record.NewIssueDate(m[1], m[2], m[3]); err == nil {
			return "", d.String()
		}
	}
	return "", ""
}

// agencyFallback takes the first block of non-blank lines above the first
// date-like line, skipping lines caught by the agency filters.
func (e *Extractor) agencyFallback(text string) string {
	var block []string
	for _, line := range strings.Split(text, "\n") {
		if e.dateLine != nil && e.dateLine.MatchString(line) {
			break
		}
		if line == "" {
			if len(block) > 0 {
				break
			}
			continue
		}
		if e.filtered(line) {
			continue
		}
		block = append(block, line)
	}
	return strings.Join(block, " ")
}

func (e *Extractor) filtered(line string) bool {
	for _, re := range e.agencyFilters {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
