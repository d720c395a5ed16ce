package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

type fakeOCR struct {
	mu         sync.Mutex
	dir        string
	rasterized []int
	failPages  map[int]bool
	pageText   map[int]string
}

func (f *fakeOCR) Rasterize(_ context.Context, _ string, page int, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dir = dir
	if f.failPages[page] {
		return "", errors.New("rasterisation failed")
	}
	f.rasterized = append(f.rasterized, page)
	return filepath.Join(dir, fmt.Sprintf("page-%d.png", page)), nil
}

func (f *fakeOCR) Recognize(_ context.Context, imagePath string) (string, error) {
	base := filepath.Base(imagePath)
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "page-"), ".png"))
	f.mu.Lock()
	text, ok := f.pageText[n]
	f.mu.Unlock()
	if ok {
		return text, nil
	}
	return fmt.Sprintf("Erkannter Inhalt der Seite %d.", n), nil
}

func TestExtractPDFRoutesToOCR(t *testing.T) {
	fs := afero.NewMemMapFs()
	fake := &fakeOCR{}
	e := New(Config{OCR: fake, FS: fs})

	res, err := e.Extract(context.Background(), minimalPDF(t, 3), "scan.pdf")
	require.NoError(t, err)

	assert.Equal(t, MethodOCR, res.Stats.Method)
	assert.Equal(t, 3, res.Stats.PagesProcessed)
	assert.Equal(t, 3, res.Stats.PagesWithOCR)
	assert.Equal(t, 0, res.Stats.PagesWithText)
	assert.ElementsMatch(t, []int{1, 2, 3}, fake.rasterized)

	assert.Contains(t, res.Text, "## Seite 1")
	assert.Contains(t, res.Text, "## Seite 3")
	assert.Contains(t, res.Text, "Erkannter Inhalt der Seite 2.")

	exists, err := afero.DirExists(fs, fake.dir)
	require.NoError(t, err)
	assert.False(t, exists, "scratch directory is cleaned up")
}

func TestExtractPDFOCRToleratesPageFailures(t *testing.T) {
	fake := &fakeOCR{failPages: map[int]bool{2: true}}
	e := New(Config{OCR: fake, FS: afero.NewMemMapFs()})

	res, err := e.Extract(context.Background(), minimalPDF(t, 3), "scan.pdf")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.PagesWithOCR)
	assert.Contains(t, res.Text, "## Seite 1")
	assert.NotContains(t, res.Text, "## Seite 2")
	assert.Contains(t, res.Text, "## Seite 3")
}

func TestExtractPDFHonorsPageCap(t *testing.T) {
	fake := &fakeOCR{}
	e := New(Config{OCR: fake, FS: afero.NewMemMapFs(), MaxPages: 2})

	res, err := e.Extract(context.Background(), minimalPDF(t, 6), "scan.pdf")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.PagesProcessed)
	assert.ElementsMatch(t, []int{1, 2}, fake.rasterized)
}

func TestExtractPDFCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(Config{OCR: &fakeOCR{}, FS: afero.NewMemMapFs()})
	_, err := e.Extract(ctx, minimalPDF(t, 3), "scan.pdf")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
}

func TestMarkdownPass(t *testing.T) {
	in := "ENERGIEPOLITIK\n\n\n\nDer   Ausbau geht    voran.  \nBeispiel:\nSolarpflicht ab 2027.\n2.1 Ziele des Programms\nWeiterer Text."
	want := "## ENERGIEPOLITIK\n\nDer Ausbau geht voran.\n## Beispiel\nSolarpflicht ab 2027.\n## 2.1 Ziele des Programms\nWeiterer Text."
	assert.Equal(t, want, markdownPass(in))
}

func TestIsHeading(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"KAPITEL EINS", true},
		{"Überschrift mit Doppelpunkt:", true},
		{"1. Einleitung", true},
		{"2.1 Ziele des Programms", true},
		{"3) Nummerierter Punkt", true},
		{"Ein ganz normaler Satz.", false},
		{"2027 war ein Rekordjahr für den Ausbau.", false},
		{"## Schon eine Überschrift", false},
		{"AB", false},
		{strings.Repeat("LANG ", 20), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isHeading(tc.line), "line %q", tc.line)
	}
}

func TestNewExternalOCRDefaults(t *testing.T) {
	o := NewExternalOCR()
	assert.Equal(t, "pdftoppm", o.PdftoppmPath)
	assert.Equal(t, "tesseract", o.TesseractPath)
	assert.Equal(t, "deu+eng", o.Languages)
	assert.Equal(t, 200, o.DPI)
}
