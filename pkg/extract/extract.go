// Package extract turns uploaded files into plain text for chunking. Plain
// text and markdown pass through with UTF-8 cleanup, HTML is stripped to
// its text content, and further formats can be registered at startup.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

// Extractor converts one file format's raw bytes into plain text.
type Extractor func(data []byte) (string, error)

// Registry maps file extensions to extractors.
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(".txt", extractPlain)
	r.Register(".md", extractPlain)
	r.Register(".html", extractHTML)
	r.Register(".htm", extractHTML)
	return r
}

// Register adds or replaces the extractor for an extension. The extension
// must include the leading dot.
func (r *Registry) Register(ext string, fn Extractor) {
	r.extractors[strings.ToLower(ext)] = fn
}

// Supported reports whether filename's extension has an extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extract converts the file to plain text, choosing the extractor by the
// filename's extension.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fn, ok := r.extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	text, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", filename, err)
	}
	return text, nil
}

func extractPlain(data []byte) (string, error) {
	return sanitizeUTF8(string(data)), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
	})
	text := sb.String()
	if text == "" {
		text = doc.Text()
	}
	return sanitizeUTF8(collapseWhitespace(text)), nil
}

// collapseWhitespace folds runs of blank lines and intra-line whitespace
// left behind by removed markup.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		s = string(v)
	}
	return s
}
