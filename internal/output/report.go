package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dgallion1/docrecon/internal/record"
)

// Summary renders res as Markdown: counts, then one field table per
// document.
func Summary(sourceFile string, res record.ProcessResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", escapeMD(sourceFile))
	fmt.Fprintf(&sb, "- Pages: %d\n- Documents: %d\n", res.NumPages, res.NumDocuments)
	if res.Error != "" {
		fmt.Fprintf(&sb, "- Error: %s\n", escapeMD(res.Error))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "- Warning: %s\n", escapeMD(w))
	}

	for _, d := range res.Documents {
		fmt.Fprintf(&sb, "\n## Document %s\n\n", escapeMD(d.Metadata.DocumentID))
		sb.WriteString("| Field | Value |\n| --- | --- |\n")
		for _, name := range record.FieldNames {
			if name == record.FieldContent {
				continue
			}
			v := d.Info.Get(name)
			if v == "" {
				continue
			}
			fmt.Fprintf(&sb, "| %s | %s |\n", name, escapeMD(strings.ReplaceAll(v, "\n", " ")))
		}
		fmt.Fprintf(&sb, "| pages | %s |\n", joinInts(d.Info.PageNumbers))
	}
	return sb.String()
}

func writeReport(path, sourceFile string, res record.ProcessResult) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(Summary(sourceFile, res)), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Report</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	if err := os.WriteFile(path, page.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// escapeMD backslash-escapes ASCII punctuation that Markdown would
// otherwise interpret.
func escapeMD(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune("\\`*_{}[]()#+-.!|<>&", r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
