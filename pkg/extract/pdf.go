package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const (
	// minDirectChars is the text length a page must reach to count as
	// carrying a usable text layer.
	minDirectChars = 20
	// densityNorm is the chars-per-page value treated as full density.
	densityNorm = 200.0
	// parseabilityThreshold routes PDFs at or above it to direct
	// extraction.
	parseabilityThreshold = 0.8

	successWeight = 0.6
	densityWeight = 0.4

	// pdfBatchPages is how many pages one direct-extraction goroutine
	// handles.
	pdfBatchPages  = 16
	pdfParallelism = 4
)

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	const op = "extract.Extract"

	r, err := openPDF(data)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}
	pages := r.NumPage()
	if pages <= 0 {
		return nil, apperr.New(op, apperr.Permanent, "pdf has no pages")
	}
	if pages > e.maxPages {
		e.logger.Warn("pdf exceeds page cap, truncating", "pages", pages, "cap", e.maxPages)
		pages = e.maxPages
	}

	score, sampled := e.parseability(r, pages)
	e.logger.Debug("pdf parseability probed", "score", score, "sampled", sampled, "pages", pages)

	if score >= parseabilityThreshold || e.ocr == nil {
		if score < parseabilityThreshold {
			e.logger.Warn("low parseability but no ocr runner configured, keeping direct text", "score", score)
		}
		return e.pdfDirect(ctx, r, pages)
	}
	return e.pdfOCR(ctx, data, r, pages)
}

// parseability samples evenly spread pages and scores how much of the
// document is readable without OCR. The score mixes the share of pages
// with a text layer and the average text density of the sample.
func (e *Extractor) parseability(r *pdf.Reader, pages int) (float64, int) {
	sample := samplePages(pages, e.samplePages)
	if len(sample) == 0 {
		return 0, 0
	}

	var success, chars int
	for _, n := range sample {
		text, err := pageText(r, n)
		if err != nil {
			continue
		}
		t := []rune(strings.TrimSpace(text))
		chars += len(t)
		if len(t) >= minDirectChars {
			success++
		}
	}
	return parseabilityScore(success, len(sample), chars), len(sample)
}

func parseabilityScore(success, sampled, chars int) float64 {
	if sampled <= 0 {
		return 0
	}
	successRate := float64(success) / float64(sampled)
	density := float64(chars) / float64(sampled) / densityNorm
	if density > 1 {
		density = 1
	}
	return successWeight*successRate + densityWeight*density
}

// samplePages picks up to want page numbers spread evenly over the
// document, always starting at page 1.
func samplePages(total, want int) []int {
	if total <= 0 || want <= 0 {
		return nil
	}
	if want >= total {
		pages := make([]int, total)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages
	}
	step := total / want
	pages := make([]int, want)
	for i := range pages {
		pages[i] = 1 + i*step
	}
	return pages
}

// pdfDirect reads the text layer of every page in parallel batches and
// assembles the document with per-page section headers.
func (e *Extractor) pdfDirect(ctx context.Context, r *pdf.Reader, pages int) (*Result, error) {
	const op = "extract.Extract"

	texts := make([]string, pages+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pdfParallelism)
	for start := 1; start <= pages; start += pdfBatchPages {
		start := start
		end := start + pdfBatchPages - 1
		if end > pages {
			end = pages
		}
		g.Go(func() error {
			for n := start; n <= end; n++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				text, err := pageText(r, n)
				if err != nil {
					e.logger.Debug("pdf page unreadable", "page", n, "error", err)
					continue
				}
				texts[n] = strings.TrimSpace(text)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(op, apperr.Cancelled, err)
	}

	var b strings.Builder
	withText := 0
	for n := 1; n <= pages; n++ {
		if texts[n] == "" {
			continue
		}
		withText++
		fmt.Fprintf(&b, "## Seite %d\n\n%s\n\n", n, texts[n])
	}
	return &Result{
		Text: strings.TrimSpace(b.String()),
		Stats: Stats{
			Method:         MethodDirect,
			PagesProcessed: pages,
			PagesWithText:  withText,
		},
	}, nil
}

// openPDF and pageText run the pdf library behind recover handlers.
// The library panics on malformed xref tables and content streams.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d unreadable: %v", n, p)
		}
	}()
	page := r.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d missing", n)
	}
	return page.GetPlainText(nil)
}
