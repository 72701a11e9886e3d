package output

import (
	"fmt"
	"os"
	"strings"

	docx "github.com/fumiama/go-docx"

	"github.com/dgallion1/docrecon/internal/record"
)

var fieldLabels = map[string]string{
	record.FieldDocumentType:     "Loại văn bản",
	record.FieldDocumentNumber:   "Số",
	record.FieldIssueLocation:    "Nơi ban hành",
	record.FieldIssueDate:        "Ngày ban hành",
	record.FieldIssuingAgency:    "Cơ quan ban hành",
	record.FieldRecipients:       "Kính gửi",
	record.FieldRecipientAddress: "Nơi nhận",
	record.FieldSigner:           "Người ký",
	record.FieldPosition:         "Chức vụ",
	record.FieldSubject:          "Trích yếu",
}

// writeDocx exports one document: a title, the extracted fields, then the
// full text paragraph by paragraph.
func writeDocx(path string, d record.MergedDocument) error {
	w := docx.New().WithDefaultTheme()

	title := d.Info.DocumentType
	if title == "" {
		title = "Văn bản " + d.Metadata.DocumentID
	}
	w.AddParagraph().AddText(title).Size("32").Bold()

	for _, name := range record.FieldNames {
		label, ok := fieldLabels[name]
		if !ok {
			continue
		}
		v := d.Info.Get(name)
		if v == "" {
			continue
		}
		p := w.AddParagraph()
		p.AddText(label + ": ").Bold()
		p.AddText(strings.ReplaceAll(v, "\n", " "))
	}

	w.AddParagraph()
	for _, para := range strings.Split(d.Info.Content, "\n") {
		w.AddParagraph().AddText(para)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write docx: %w", err)
	}
	return f.Close()
}
