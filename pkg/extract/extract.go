// Package extract turns uploaded document bytes into plain text for
// chunking and embedding.
//
// Format dispatch happens on the filename extension. PDFs take one of
// two paths: a direct text extraction when a sampled parseability
// score says the file carries a usable text layer, or a page-by-page
// OCR fallback for scanned documents. DOCX, TXT/MD and RTF are always
// extracted directly. Every extraction reports statistics about the
// method used and the pages touched.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/charmap"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Method names how text was obtained from a document.
type Method string

const (
	// MethodDirect means the text layer was read straight from the file.
	MethodDirect Method = "direct"
	// MethodOCR means pages were rasterised and recognised.
	MethodOCR Method = "ocr"
)

// Stats describes one extraction run.
type Stats struct {
	Method         Method        `json:"method"`
	PagesProcessed int           `json:"pages_processed"`
	PagesWithText  int           `json:"pages_with_direct_text"`
	PagesWithOCR   int           `json:"pages_with_ocr"`
	Duration       time.Duration `json:"duration"`
}

// Result is the extracted text plus run statistics.
type Result struct {
	Text  string `json:"text"`
	Stats Stats  `json:"stats"`
}

const (
	// DefaultMaxPages caps how many PDF pages one extraction touches.
	DefaultMaxPages = 1000

	defaultSamplePages = 5
	defaultOCRWorkers  = 2
)

// Config configures an Extractor. The zero value is usable; OCR stays
// disabled until a runner is set.
type Config struct {
	// MaxPages caps PDF processing. Defaults to DefaultMaxPages.
	MaxPages int
	// SamplePages is how many pages the parseability probe reads.
	SamplePages int
	// OCR recognises rasterised pages. Nil disables the OCR path and
	// low-parseability PDFs fall back to whatever direct text exists.
	OCR OCRRunner
	// OCRWorkers bounds concurrent page recognitions.
	OCRWorkers int
	// FS is the scratch filesystem for OCR intermediates. With the
	// external runner this must be the OS filesystem.
	FS     afero.Fs
	Logger hclog.Logger
}

// Extractor converts document bytes to text.
type Extractor struct {
	maxPages    int
	samplePages int
	ocr         OCRRunner
	ocrWorkers  int
	fs          afero.Fs
	logger      hclog.Logger
}

// New builds an Extractor, filling config defaults.
func New(cfg Config) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.SamplePages <= 0 {
		cfg.SamplePages = defaultSamplePages
	}
	if cfg.OCRWorkers <= 0 {
		cfg.OCRWorkers = defaultOCRWorkers
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Extractor{
		maxPages:    cfg.MaxPages,
		samplePages: cfg.SamplePages,
		ocr:         cfg.OCR,
		ocrWorkers:  cfg.OCRWorkers,
		fs:          cfg.FS,
		logger:      cfg.Logger.Named("extract"),
	}
}

// Extract converts document bytes into text, dispatching on the
// filename extension. It returns apperr.InvalidInput for unsupported
// or malformed input and apperr.Permanent when a document yields no
// text at all.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (*Result, error) {
	const op = "extract.Extract"
	if len(data) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "empty file")
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		res, err = e.extractPDF(ctx, data)
	case ".docx":
		res, err = extractDOCX(data)
	case ".txt", ".md", ".markdown":
		res, err = extractPlain(data)
	case ".rtf":
		res, err = extractRTF(data)
	default:
		return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unsupported file type %q", ext))
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, apperr.New(op, apperr.Permanent, "no extractable text")
	}

	res.Stats.Duration = time.Since(start)
	e.logger.Debug("text extracted",
		"filename", filename,
		"method", res.Stats.Method,
		"pages", res.Stats.PagesProcessed,
		"chars", len(res.Text),
		"duration", res.Stats.Duration,
	)
	return res, nil
}

func extractPlain(data []byte) (*Result, error) {
	return &Result{
		Text:  strings.TrimSpace(decodeText(data)),
		Stats: Stats{Method: MethodDirect},
	}, nil
}

// decodeText interprets bytes as UTF-8 and falls back to a latin-1
// reinterpretation when the bytes would decode to replacement
// characters, which covers the usual mis-encoded uploads from older
// office software.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
