package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// minimalPDF builds a structurally valid PDF with the given number of
// pages and no text layer, with a correctly computed xref table.
func minimalPDF(t *testing.T, pages int) []byte {
	t.Helper()

	var buf bytes.Buffer
	var offsets []int
	writeObj := func(s string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(s)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>\nendobj\n", 3+i))
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefPos)
	return buf.Bytes()
}

func TestExtractPDFMalformed(t *testing.T) {
	e := New(Config{FS: afero.NewMemMapFs()})

	_, err := e.Extract(context.Background(), []byte("%PDF-1.4 das ist kein PDF"), "kaputt.pdf")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestExtractPDFWithoutTextOrOCR(t *testing.T) {
	// No OCR runner configured: a scanned PDF has nothing to give.
	e := New(Config{FS: afero.NewMemMapFs()})

	_, err := e.Extract(context.Background(), minimalPDF(t, 2), "scan.pdf")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Permanent))
}

func TestParseabilityScore(t *testing.T) {
	cases := []struct {
		name    string
		success int
		sampled int
		chars   int
		want    float64
	}{
		{"dense text layer", 5, 5, 2000, 1.0},
		{"no text at all", 0, 5, 0, 0.0},
		{"patchy text", 3, 5, 500, 0.56},
		{"thin but present", 5, 5, 250, 0.7},
		{"nothing sampled", 0, 0, 0, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, parseabilityScore(tc.success, tc.sampled, tc.chars), 1e-9)
		})
	}
}

func TestSamplePages(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, samplePages(3, 5), "small documents are sampled fully")
	assert.Equal(t, []int{1, 21, 41, 61, 81}, samplePages(100, 5))
	assert.Equal(t, []int{1}, samplePages(10, 1))
	assert.Nil(t, samplePages(0, 5))
}
