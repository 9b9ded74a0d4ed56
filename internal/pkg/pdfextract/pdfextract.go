// Package pdfextract pulls per-page plain text out of PDF bytes.
package pdfextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"intellixdoc/internal/logger"
)

var pdfSignature = []byte("%PDF-")

// Page is the text of one PDF page. Number is 1-indexed.
type Page struct {
	Number int
	Text   string
}

// ExtractionError means the bytes could not be turned into text. It is
// terminal for the document.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func IsExtractionError(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns every page in order, blank pages included with empty
// text. It fails when the input is not a PDF or no page carries text.
func (e *Extractor) Extract(ctx context.Context, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, &ExtractionError{Reason: "file is empty"}
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfSignature) {
		return nil, &ExtractionError{Reason: "file is not a PDF"}
	}

	type result struct {
		pages []Page
		err   error
	}
	done := make(chan result, 1)
	go func() {
		pages, err := readPages(data)
		done <- result{pages: pages, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &ExtractionError{Reason: "timed out reading PDF", Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		for _, p := range res.pages {
			if strings.TrimSpace(p.Text) != "" {
				return res.pages, nil
			}
		}
		return nil, &ExtractionError{Reason: "PDF has no extractable text (scanned or image-only?)"}
	}
}

func readPages(data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractionError{Reason: "malformed PDF", Err: fmt.Errorf("%v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Reason: "cannot parse PDF", Err: err}
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, &ExtractionError{Reason: "PDF has no pages"}
	}

	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("pdfextract: page %d unreadable, treating as blank: %v", i, err)
			text = ""
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
