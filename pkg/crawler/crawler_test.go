package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const articleHTML = `<!DOCTYPE html>
<html lang="de">
<head>
  <title>Solarpflicht für Neubauten beschlossen</title>
  <meta name="description" content="Der Gemeinderat hat die Solarpflicht beschlossen.">
  <link rel="canonical" href="/politik/solarpflicht">
  <meta property="article:published_time" content="2026-03-02T10:30:00Z">
  <meta property="og:image" content="https://example.org/bild.jpg">
  <meta property="og:image:width" content="1200">
  <meta property="article:section" content="Kommunalpolitik">
</head>
<body>
  <nav>Startseite Themen Kontakt</nav>
  <article>
    <h1>Solarpflicht für Neubauten beschlossen</h1>
    <p>Der Gemeinderat hat am Montag die Solarpflicht für alle Neubauten beschlossen.
       Ab 2027 müssen Bauherren Photovoltaik auf mindestens der Hälfte der Dachfläche installieren.</p>
    <ul><li>Geltung ab Januar 2027</li><li>Mindestens 50 Prozent Dachfläche</li></ul>
    <p>Die Stadtwerke begleiten die Umsetzung mit einem Förderprogramm und kostenloser
       Beratung für private Bauherren in allen Stadtteilen.</p>
  </article>
  <footer>Impressum Datenschutz</footer>
</body>
</html>`

func serveHTML(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeHeadless struct {
	html     string
	finalURL string
	err      error
	calls    int
}

func (f *fakeHeadless) Fetch(_ context.Context, pageURL string) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	final := f.finalURL
	if final == "" {
		final = pageURL
	}
	return f.html, final, nil
}

func TestCrawlArticle(t *testing.T) {
	srv := serveHTML(t, articleHTML)
	c := New(Config{})

	res, err := c.Crawl(context.Background(), srv.URL+"/artikel", Options{EnhancedMetadata: true})
	require.NoError(t, err)
	require.True(t, res.Success, "error: %s", res.Error)

	assert.Equal(t, "Solarpflicht für Neubauten beschlossen", res.Title)
	assert.Equal(t, "Der Gemeinderat hat die Solarpflicht beschlossen.", res.Description)
	assert.Equal(t, srv.URL+"/politik/solarpflicht", res.Canonical)
	require.NotNil(t, res.PublishedDate)
	assert.True(t, res.PublishedDate.Equal(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)))

	assert.Contains(t, res.Content, "Gemeinderat")
	assert.Contains(t, res.Content, "Förderprogramm")
	assert.NotContains(t, res.Content, "Impressum")
	assert.NotContains(t, res.Content, "Startseite")

	assert.Contains(t, res.Markdown, "# Solarpflicht für Neubauten beschlossen")
	assert.Contains(t, res.Markdown, "- Geltung ab Januar 2027")

	assert.Greater(t, res.WordCount, 20)
	assert.Greater(t, res.CharCount, 200)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, srv.URL+"/artikel", res.FinalURL)

	assert.Equal(t, "https://example.org/bild.jpg", res.Metadata["og_image"])
	assert.Equal(t, "1200", res.Metadata["og_image_width"])
	assert.Equal(t, "Kommunalpolitik", res.Metadata["article_section"])
}

func TestCrawlBodyFallbackStripsBoilerplate(t *testing.T) {
	html := `<html><head><title>Ohne Container</title></head><body>
	  <nav>Menü Punkte</nav>
	  <div><p>` + strings.Repeat("Inhaltlicher Fließtext über Radverkehr. ", 10) + `</p></div>
	  <footer>Fußzeile</footer>
	</body></html>`
	srv := serveHTML(t, html)
	c := New(Config{})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Contains(t, res.Content, "Radverkehr")
	assert.NotContains(t, res.Content, "Menü")
	assert.NotContains(t, res.Content, "Fußzeile")
}

func TestCrawlValidatesURL(t *testing.T) {
	prod := New(Config{Production: true})
	dev := New(Config{})

	cases := []struct {
		name    string
		crawler *Crawler
		url     string
	}{
		{"unsupported scheme", dev, "ftp://example.org/datei"},
		{"empty url", dev, "   "},
		{"no host", dev, "https:///pfad"},
		{"loopback in production", prod, "http://127.0.0.1/intern"},
		{"localhost in production", prod, "http://localhost:8080/intern"},
		{"rfc1918 in production", prod, "http://10.1.2.3/intern"},
		{"link local in production", prod, "http://169.254.169.254/latest/meta-data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.crawler.Crawl(context.Background(), tc.url, Options{})
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
		})
	}
}

func TestCrawlHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{})
	res, err := c.Crawl(context.Background(), srv.URL+"/fehlt", Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 404", res.Error)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCrawlNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kein":"html"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{})
	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "content type")
}

func TestCrawlSizeLimit(t *testing.T) {
	srv := serveHTML(t, "<html><body>"+strings.Repeat("x", 4096)+"</body></html>")
	c := New(Config{MaxBytes: 1024})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exceeds")
}

func TestCrawlTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := New(Config{})
	res, err := c.Crawl(context.Background(), srv.URL, Options{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.Error)
}

func TestCrawlCancelled(t *testing.T) {
	srv := serveHTML(t, articleHTML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{})
	_, err := c.Crawl(ctx, srv.URL, Options{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
}

func thinAppShell() string {
	return `<html><head><title>App</title></head><body><div id="root"></div>` +
		strings.Repeat(`<script src="/chunk.js"></script>`, 12) + `</body></html>`
}

func renderedApp() string {
	return `<html><head><title>Gerenderte Seite</title></head><body><main><p>` +
		strings.Repeat("Clientseitig gerenderter Inhalt über kommunale Wärmeplanung. ", 8) +
		`</p></main></body></html>`
}

func TestCrawlJSRequiredFallsBackToHeadless(t *testing.T) {
	srv := serveHTML(t, thinAppShell())
	fake := &fakeHeadless{html: renderedApp()}
	c := New(Config{Headless: fake})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.True(t, res.Success, "error: %s", res.Error)

	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, res.Content, "Wärmeplanung")
	assert.Equal(t, "Gerenderte Seite", res.Title)
}

func TestCrawlJSRequiredWithoutHeadless(t *testing.T) {
	srv := serveHTML(t, thinAppShell())
	c := New(Config{})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "JavaScript required", res.Error)
}

func TestCrawlBotBlockRetriesHeadless(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html><body>Checking your browser. captcha</body></html>`))
	}))
	t.Cleanup(srv.Close)

	fake := &fakeHeadless{html: renderedApp()}
	c := New(Config{Headless: fake})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, res.Content, "Wärmeplanung")
}

func TestCrawlHeadlessFailureKeepsReason(t *testing.T) {
	srv := serveHTML(t, thinAppShell())
	fake := &fakeHeadless{err: errors.New("browser crashed")}
	c := New(Config{Headless: fake})

	res, err := c.Crawl(context.Background(), srv.URL, Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "JavaScript required")
	assert.Contains(t, res.Error, "browser crashed")
}

func TestCrawlRedirectTracksFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/alt", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/neu", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/neu", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{})
	res, err := c.Crawl(context.Background(), srv.URL+"/alt", Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, srv.URL+"/neu", res.FinalURL)
}
