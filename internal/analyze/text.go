package analyze

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/fetch"
	"github.com/TobiSchelling/PaperTrail/internal/library"
)

// pdfMaxPages bounds extraction; the analyzer prompt is capped anyway
// and references usually appear well before page 30.
const pdfMaxPages = 30

// TextExtractor produces analysis input text for a paper, trying the
// richest source first: downloaded PDF, then landing page, then the
// stored abstract.
type TextExtractor struct {
	fetcher *fetch.Fetcher
}

func NewTextExtractor(fetcher *fetch.Fetcher) *TextExtractor {
	return &TextExtractor{fetcher: fetcher}
}

// Text returns the best available text for a paper. It never fails on a
// missing PDF; only a paper with no text source at all is an error.
func (t *TextExtractor) Text(ctx context.Context, p *catalog.Paper) (string, error) {
	if library.Exists(p.PDFPath) {
		text, err := PDFText(p.PDFPath, pdfMaxPages)
		if err == nil && len(text) > 200 {
			return text, nil
		}
		if err != nil {
			log.Printf("Could not extract text from %s: %v", p.PDFPath, err)
		}
	}

	if t.fetcher != nil && p.URL != "" {
		text, err := t.fetcher.LandingText(ctx, p.URL)
		if err == nil {
			return text, nil
		}
	}

	if strings.TrimSpace(p.Abstract) != "" {
		return p.Abstract, nil
	}

	return "", fmt.Errorf("no text available for %s", p.IdentityKey)
}

// PDFText extracts plain text from the first maxPages pages of a PDF.
func PDFText(path string, maxPages int) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	if maxPages <= 0 || maxPages > r.NumPage() {
		maxPages = r.NumPage()
	}

	var b strings.Builder
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
