package parser

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser rasterises every page with pdftoppm after checking the file
// opens as a PDF with at least one page.
type PDFParser struct {
	DPI      int
	Pdftoppm string
}

func (p *PDFParser) Parse(ctx context.Context, r io.Reader, filename string) ([]image.Image, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	dir, err := os.MkdirTemp("", "docrecon-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	tmp, err := os.Create(src)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	n, err := CountPages(src)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("pdf %s has no pages", filename)
	}

	files, err := p.rasterize(ctx, src, dir)
	if err != nil {
		return nil, err
	}
	pages := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := decodeFile(f)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", filename)
	}
	return pages, nil
}

// CountPages opens path with the PDF reader and returns its page count.
func CountPages(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf: %v", r)
		}
	}()
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}

func (p *PDFParser) rasterize(ctx context.Context, src, dir string) ([]string, error) {
	bin := p.Pdftoppm
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 300
	}
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, bin, "-r", strconv.Itoa(dpi), "-png", src, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	sortPageFiles(files)
	return files, nil
}

// sortPageFiles orders pdftoppm output by page number. pdftoppm pads the
// number to the width of the page count, so "page-2" and "page-10" can
// both appear.
func sortPageFiles(files []string) {
	num := func(f string) int {
		base := strings.TrimSuffix(filepath.Base(f), ".png")
		i := strings.LastIndexByte(base, '-')
		n, err := strconv.Atoi(base[i+1:])
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(files, func(i, j int) bool { return num(files[i]) < num(files[j]) })
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode page %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
