package ocr

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ParseHOCR reads an hOCR document into plain text and the mean word
// confidence. Lines become newline-separated, words within a line are
// joined by single spaces.
func ParseHOCR(r io.Reader) (Recognition, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Recognition{}, fmt.Errorf("parse hocr: %w", err)
	}

	var (
		lines   []string
		current []string
		sum     float64
		words   int
	)
	flush := func() {
		if len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			class := attr(n, "class")
			switch {
			case hasClass(class, "ocr_line"), hasClass(class, "ocrx_line"), hasClass(class, "ocr_caption"), hasClass(class, "ocr_textfloat"), hasClass(class, "ocr_header"):
				flush()
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
				flush()
				return
			case hasClass(class, "ocrx_word"):
				w := strings.TrimSpace(textContent(n))
				if w != "" {
					current = append(current, w)
					if conf, ok := wordConfidence(attr(n, "title")); ok {
						sum += conf
						words++
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()

	rec := Recognition{Text: strings.Join(lines, "\n")}
	if words > 0 {
		rec.Confidence = clampConfidence(sum / float64(words))
	}
	return rec, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(classes, want string) bool {
	for _, c := range strings.Fields(classes) {
		if c == want {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// wordConfidence reads "x_wconf N" from an hOCR title attribute.
func wordConfidence(title string) (float64, bool) {
	for _, prop := range strings.Split(title, ";") {
		fields := strings.Fields(prop)
		if len(fields) == 2 && fields[0] == "x_wconf" {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}
