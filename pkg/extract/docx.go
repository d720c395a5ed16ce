package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// extractDOCX walks word/document.xml with a streaming XML decoder.
// Runs of text inside one paragraph stay on one line; paragraphs are
// separated by blank lines so the chunker sees them as boundaries.
func extractDOCX(data []byte) (*Result, error) {
	const op = "extract.Extract"

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, apperr.New(op, apperr.InvalidInput, "docx has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}
	defer rc.Close()

	var (
		b    strings.Builder
		para strings.Builder
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(op, apperr.InvalidInput, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, apperr.Wrap(op, apperr.InvalidInput, err)
				}
				para.WriteString(s)
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				if text := strings.TrimRight(para.String(), " \t"); strings.TrimSpace(text) != "" {
					b.WriteString(text)
					b.WriteString("\n\n")
				}
				para.Reset()
			}
		}
	}

	return &Result{
		Text:  strings.TrimSpace(b.String()),
		Stats: Stats{Method: MethodDirect},
	}, nil
}
