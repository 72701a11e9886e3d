package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/record"
)

const sampleProposal = `ỦY BAN NHÂN DÂN
THÀNH PHỐ HÀ NỘI
Số: 391-TTr/VTCCB-TH
CỘNG HÒA XÃ HỘI CHỦ NGHĨA VIỆT NAM
Độc lập - Tự do - Hạnh phúc
Hà Nội, ngày 15 tháng 3 năm 2024

TỜ TRÌNH
V/v đề nghị phê duyệt kế hoạch
đào tạo cán bộ năm 2024

Kính gửi: Ủy ban nhân dân Thành phố

Căn cứ kế hoạch công tác năm 2024.

Nơi nhận:
- Như trên;
- Lưu: VT.
KT. CHỦ TỊCH
PHÓ CHỦ TỊCH
NGUYỄN VĂN AN`

func defaultExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(config.DefaultPipeline().ExtractionPatterns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func TestExtract_AllFields(t *testing.T) {
	fixed := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	e, err := New(config.DefaultPipeline().ExtractionPatterns, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := e.Extract(sampleProposal, "7")

	want := record.FieldRecord{
		DocumentType:     "TỜ TRÌNH",
		DocumentNumber:   "391-TTr/VTCCB-TH",
		IssueLocation:    "Hà Nội",
		IssueDate:        "15/3/2024",
		IssuingAgency:    "ỦY BAN NHÂN DÂN",
		Recipients:       "Ủy ban nhân dân Thành phố",
		RecipientAddress: "- Như trên;\n- Lưu: VT.",
		Signer:           "NGUYỄN VĂN AN",
		Position:         "PHÓ CHỦ TỊCH",
		Subject:          "đề nghị phê duyệt kế hoạch\nđào tạo cán bộ năm 2024",
		Content:          sampleProposal,
	}
	for _, name := range record.FieldNames {
		if got := res.Info.Get(name); got != want.Get(name) {
			t.Errorf("%s: expected %q, got %q", name, want.Get(name), got)
		}
	}
	if res.Metadata.DocumentID != "7" {
		t.Errorf("expected document id %q, got %q", "7", res.Metadata.DocumentID)
	}
	if res.Metadata.Version != record.Version {
		t.Errorf("expected version %q, got %q", record.Version, res.Metadata.Version)
	}
	if res.Metadata.ExtractionTime != "2024-03-20T10:00:00Z" {
		t.Errorf("unexpected extraction time %q", res.Metadata.ExtractionTime)
	}
}

func TestExtract_NoMatchesLeavesFieldsEmpty(t *testing.T) {
	res := defaultExtractor(t).Extract("lorem ipsum dolor", "")
	for _, name := range record.FieldNames {
		if name == record.FieldContent || name == record.FieldIssuingAgency {
			continue
		}
		if v := res.Info.Get(name); v != "" {
			t.Errorf("%s: expected empty, got %q", name, v)
		}
	}
	if res.Info.Content != "lorem ipsum dolor" {
		t.Errorf("expected content to be the input text, got %q", res.Info.Content)
	}
}

func TestExtract_DateRendering(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		location string
		date     string
	}{
		{"leading zeros dropped", "Đà Nẵng, ngày 05 tháng 03 năm 2023", "Đà Nẵng", "5/3/2023"},
		{"impossible date kept", "Hà Nội, ngày 31 tháng 2 năm 2024", "Hà Nội", "31/2/2024"},
		{"date without location", "Ban hành ngày 1 tháng 12 năm 2022", "", "1/12/2022"},
		{"slash date", "Ngày 9/10/2021 tại trụ sở", "", "9/10/2021"},
		{"city after motto on one line", "Độc lập - Tự do - Hạnh phúc Hà Nội, ngày 2 tháng 9 năm 2020", "Hà Nội", "2/9/2020"},
	}
	e := defaultExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := e.ExtractFields(tt.text, record.FieldIssueLocation, record.FieldIssueDate)
			if info.IssueLocation != tt.location {
				t.Errorf("expected location %q, got %q", tt.location, info.IssueLocation)
			}
			if info.IssueDate != tt.date {
				t.Errorf("expected date %q, got %q", tt.date, info.IssueDate)
			}
		})
	}
}

func TestExtract_FirstRuleWins(t *testing.T) {
	e, err := New(config.ExtractionPatterns{
		DocumentNumber: []string{`Số:\s*(A\d+)`, `Số:\s*(\d+)`, `Số:\s*(\S+)`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		text string
		want string
	}{
		{"Số: A12 rồi Số: 34", "A12"},
		{"Số: 34 rồi Số: A12", "A12"},
		{"Số: 34", "34"},
		{"Số: X-9", "X-9"},
	}
	for _, tt := range tests {
		if got := e.ExtractFields(tt.text).DocumentNumber; got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestFirstMatch(t *testing.T) {
	rules, err := CompileRules("signer", []string{`Người ký:([^\n]*)`, `(?m)^([\p{Lu} ]+)$`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name string
		text string
		want string
	}{
		{"first rule", "Người ký: Trần Bình\nNGUYỄN VĂN AN", "Trần Bình"},
		{"falls through on no match", "NGUYỄN VĂN AN", "NGUYỄN VĂN AN"},
		{"blank first match still wins", "Người ký:   \nNGUYỄN VĂN AN", ""},
		{"no rule matches", "không có gì", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstMatch(rules, tt.text); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtract_WholeMatchWithoutGroup(t *testing.T) {
	e, err := New(config.ExtractionPatterns{DocumentType: []string{`QUYẾT ĐỊNH`}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.ExtractFields("x\nQUYẾT ĐỊNH\ny").DocumentType; got != "QUYẾT ĐỊNH" {
		t.Errorf("expected whole match, got %q", got)
	}
}

func TestExtract_DocumentNumberShapes(t *testing.T) {
	e := defaultExtractor(t)
	tests := []struct {
		text string
		want string
	}{
		{"Số: 391-TTr/VTCCB-TH", "391-TTr/VTCCB-TH"},
		{"Số: 12/QĐ-UBND", "12/QĐ-UBND"},
		{"Số 391 TTr VTCCB TH", "391 TTr VTCCB TH"},
		{"số lượng lớn", ""},
	}
	for _, tt := range tests {
		if got := e.ExtractFields(tt.text, record.FieldDocumentNumber).DocumentNumber; got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestExtract_SubjectStopsAtBlankLine(t *testing.T) {
	text := "Về việc: tăng cường công tác\nphòng chống dịch\n\nNội dung khác"
	got := defaultExtractor(t).ExtractFields(text, record.FieldSubject).Subject
	if got != "tăng cường công tác\nphòng chống dịch" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestExtract_AgencyFallback(t *testing.T) {
	p := config.DefaultPipeline().ExtractionPatterns
	p.IssuingAgency = nil
	e, err := New(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := e.ExtractFields(sampleProposal, record.FieldIssuingAgency).IssuingAgency
	if got != "ỦY BAN NHÂN DÂN THÀNH PHỐ HÀ NỘI" {
		t.Errorf("unexpected agency %q", got)
	}

	got = e.ExtractFields("Hà Nội, ngày 1 tháng 1 năm 2024\nSỞ Y TẾ", record.FieldIssuingAgency).IssuingAgency
	if got != "" {
		t.Errorf("expected no agency above a leading date line, got %q", got)
	}

	got = e.ExtractFields("\n\nTRƯỜNG ĐẠI HỌC\nKHOA LUẬT\n\nThông báo", record.FieldIssuingAgency).IssuingAgency
	if got != "TRƯỜNG ĐẠI HỌC KHOA LUẬT" {
		t.Errorf("expected first block only, got %q", got)
	}
}

func TestExtractFields_OnlyRequested(t *testing.T) {
	info := defaultExtractor(t).ExtractFields(sampleProposal, record.FieldSigner)
	if info.Signer != "NGUYỄN VĂN AN" {
		t.Errorf("expected signer, got %q", info.Signer)
	}
	if info.DocumentNumber != "" || info.IssuingAgency != "" || info.Content != "" {
		t.Errorf("expected other fields untouched, got %+v", info)
	}
}

func TestNew_RejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		p    config.ExtractionPatterns
		msg  string
	}{
		{"malformed", config.ExtractionPatterns{Signer: []string{`(unclosed`}}, "signer[0]"},
		{"location groups", config.ExtractionPatterns{LocationDate: []string{`(\d+)/(\d+)`}}, "want 4 capture groups"},
		{"date groups", config.ExtractionPatterns{IssueDate: []string{`(\d+)`}}, "want 3 capture groups"},
		{"date line", config.ExtractionPatterns{DateLine: `[`}, "date_line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("expected error mentioning %q, got %v", tt.msg, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	in := "  Hà Nội  \r\n\r\n\tdòng hai\rdòng ba  "
	want := "Hà Nội\n\ndòng hai\ndòng ba"
	if got := Normalize(in); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestExtract_DecomposedInputMatches(t *testing.T) {
	// "Số" spelled with combining marks.
	text := "Số: 12/QĐ-UBND"
	got := defaultExtractor(t).ExtractFields(text, record.FieldDocumentNumber).DocumentNumber
	if got != "12/QĐ-UBND" {
		t.Errorf("expected NFC-normalized match, got %q", got)
	}
}

func TestSafeExtract_RecoversPanic(t *testing.T) {
	var e *Extractor
	_, err := e.SafeExtract("text", "1")
	if err == nil {
		t.Fatal("expected error from nil extractor")
	}
}
