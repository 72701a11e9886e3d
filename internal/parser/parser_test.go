package parser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestForFile(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"scan.PNG", "*parser.ImageParser", false},
		{"scan.jpeg", "*parser.ImageParser", false},
		{"scan.tiff", "*parser.ImageParser", false},
		{"scan.webp", "*parser.ImageParser", false},
		{"bundle.pdf", "*parser.PDFParser", false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ForFile(tt.name, Options{DPI: 200})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := typeName(p); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func typeName(v any) string {
	return reflect.TypeOf(v).String()
}

func TestIsSupportedExtension(t *testing.T) {
	for _, name := range []string{"a.png", "a.JPG", "a.bmp", "a.pdf", "a.tif"} {
		if !IsSupportedExtension(name) {
			t.Errorf("expected %q supported", name)
		}
	}
	for _, name := range []string{"a.docx", "a.txt", "a"} {
		if IsSupportedExtension(name) {
			t.Errorf("expected %q unsupported", name)
		}
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("/tmp/up/Tờ trình 391.pdf"); got != "Tờ trình 391" {
		t.Errorf("unexpected base name %q", got)
	}
}

func TestImageParser_DecodesPNG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 10))
	src.SetGray(3, 4, color.Gray{Y: 200})
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}

	pages, err := (&ImageParser{}).Parse(context.Background(), &buf, "page.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if b := pages[0].Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("expected 20x10, got %v", b)
	}
}

func TestImageParser_RejectsGarbage(t *testing.T) {
	_, err := (&ImageParser{}).Parse(context.Background(), strings.NewReader("not an image"), "x.png")
	if err == nil || !strings.Contains(err.Error(), "x.png") {
		t.Errorf("expected decode error naming the file, got %v", err)
	}
}

func TestPDFParser_RejectsInvalidPDF(t *testing.T) {
	p := &PDFParser{Pdftoppm: "/nonexistent/pdftoppm"}
	_, err := p.Parse(context.Background(), strings.NewReader("%PDF-1.4 truncated"), "broken.pdf")
	if err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}

func TestCountPages_MissingFile(t *testing.T) {
	if _, err := CountPages(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSortPageFiles(t *testing.T) {
	files := []string{"/t/page-10.png", "/t/page-2.png", "/t/page-1.png", "/t/page-03.png"}
	sortPageFiles(files)
	want := []string{"/t/page-1.png", "/t/page-2.png", "/t/page-03.png", "/t/page-10.png"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("expected %v, got %v", want, files)
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page-1.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	img, err := decodeFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("expected width 4, got %d", img.Bounds().Dx())
	}
}

func TestPDFParser_Rasterize(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}
	_, err := (&PDFParser{DPI: 72}).rasterize(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), t.TempDir())
	if err == nil {
		t.Error("expected pdftoppm to fail on a missing file")
	}
}
