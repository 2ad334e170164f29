package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText means the PDF has no extractable text layer (scanned or image only).
var ErrNoText = errors.New("no text could be extracted from PDF (may be scanned or image-based)")

// ParsePDF extracts text page by page as "--- Page N ---" blocks.
func ParsePDF(path string) (res *Result, err error) {
	// The reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("invalid or corrupted PDF file: %v", r)
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("invalid or corrupted PDF file: %w", err)
	}
	defer f.Close()

	pages := reader.NumPage()
	if pages == 0 {
		return nil, errors.New("PDF has no pages")
	}

	var blocks []string
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			blocks = append(blocks, fmt.Sprintf("--- Page %d ---\n%s", i, text))
		}
	}
	if len(blocks) == 0 {
		return nil, ErrNoText
	}

	return &Result{
		Text: strings.Join(blocks, "\n\n"),
		Metadata: map[string]any{
			"file_type":       "pdf",
			"file_size_bytes": info.Size(),
			"page_count":      pages,
		},
	}, nil
}
