package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// OCRRunner rasterises PDF pages and recognises text on them. The
// production implementation shells out to poppler and tesseract; tests
// substitute a fake.
type OCRRunner interface {
	// Rasterize renders one page of the PDF at pdfPath into an image
	// below dir and returns the image path.
	Rasterize(ctx context.Context, pdfPath string, page int, dir string) (string, error)
	// Recognize returns the text recognised on a page image.
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// pdfOCR extracts a low-parseability PDF page by page. Pages that do
// carry a text layer keep it; the rest are rasterised and recognised
// with bounded parallelism.
func (e *Extractor) pdfOCR(ctx context.Context, data []byte, r *pdf.Reader, pages int) (*Result, error) {
	const op = "extract.Extract"

	dir, err := afero.TempDir(e.fs, "", "extract-ocr")
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	defer func() {
		if err := e.fs.RemoveAll(dir); err != nil {
			e.logger.Warn("ocr scratch cleanup failed", "dir", dir, "error", err)
		}
	}()

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := afero.WriteFile(e.fs, pdfPath, data, 0o600); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	texts := make([]string, pages+1)
	direct := make([]bool, pages+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.ocrWorkers)
	for n := 1; n <= pages; n++ {
		n := n
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if text, err := pageText(r, n); err == nil {
				if t := strings.TrimSpace(text); len([]rune(t)) >= minDirectChars {
					texts[n] = t
					direct[n] = true
					return nil
				}
			}

			img, err := e.ocr.Rasterize(gctx, pdfPath, n, dir)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("page rasterisation failed", "page", n, "error", err)
				return nil
			}
			raw, err := e.ocr.Recognize(gctx, img)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("page recognition failed", "page", n, "error", err)
				return nil
			}
			texts[n] = markdownPass(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(op, apperr.Cancelled, err)
	}

	var b strings.Builder
	stats := Stats{Method: MethodOCR, PagesProcessed: pages}
	for n := 1; n <= pages; n++ {
		if texts[n] == "" {
			continue
		}
		if direct[n] {
			stats.PagesWithText++
		} else {
			stats.PagesWithOCR++
		}
		fmt.Fprintf(&b, "## Seite %d\n\n%s\n\n", n, texts[n])
	}
	return &Result{Text: strings.TrimSpace(b.String()), Stats: stats}, nil
}

const (
	headingMinLen = 3
	headingMaxLen = 60
)

// numberedLead matches "1. Einleitung", "2.1 Ziele" or "3) Punkt" but
// not a bare year starting a sentence.
var numberedLead = regexp.MustCompile(`^(\d+(\.\d+)+|\d+[.)])\s+\S`)

// markdownPass cleans raw OCR output: whitespace is collapsed and
// lines that look like headings (all caps, trailing colon, or a
// numbered lead) are promoted to markdown sections.
func markdownPass(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blanks++
			if blanks == 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		if isHeading(line) {
			out = append(out, "## "+strings.TrimSuffix(line, ":"))
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isHeading(line string) bool {
	runes := []rune(line)
	if len(runes) < headingMinLen || len(runes) > headingMaxLen {
		return false
	}
	if strings.HasPrefix(line, "#") {
		return false
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	if numberedLead.MatchString(line) {
		return true
	}
	hasUpper := false
	for _, r := range runes {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	return hasUpper
}

// ExternalOCR runs poppler's pdftoppm and tesseract as subprocesses.
// Both binaries must be on PATH (or configured explicitly), and the
// extractor must use the OS filesystem so the tools see its scratch
// files.
type ExternalOCR struct {
	PdftoppmPath  string
	TesseractPath string
	// Languages is the tesseract language spec, e.g. "deu+eng".
	Languages string
	DPI       int
}

// NewExternalOCR returns a runner with the standard tool names and
// German plus English recognition.
func NewExternalOCR() *ExternalOCR {
	return &ExternalOCR{
		PdftoppmPath:  "pdftoppm",
		TesseractPath: "tesseract",
		Languages:     "deu+eng",
		DPI:           200,
	}
}

// Rasterize renders a single page to PNG via pdftoppm.
func (o *ExternalOCR) Rasterize(ctx context.Context, pdfPath string, page int, dir string) (string, error) {
	const op = "extract.ExternalOCR.Rasterize"

	prefix := filepath.Join(dir, fmt.Sprintf("page-%d", page))
	cmd := exec.CommandContext(ctx, o.PdftoppmPath,
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(o.DPI),
		"-png", "-singlefile",
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperr.Wrapf(op, apperr.Transient, err, "pdftoppm page %d: %s", page, strings.TrimSpace(stderr.String()))
	}
	return prefix + ".png", nil
}

// Recognize runs tesseract over a page image, reading the text from
// stdout.
func (o *ExternalOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	const op = "extract.ExternalOCR.Recognize"

	cmd := exec.CommandContext(ctx, o.TesseractPath, imagePath, "stdout", "-l", o.Languages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperr.Wrapf(op, apperr.Transient, err, "tesseract: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
