package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fetchedPage is a successfully retrieved HTML document.
type fetchedPage struct {
	html       string
	finalURL   string
	statusCode int
	headless   bool
}

// fetchFailure describes why a fetch produced no usable page.
// retryHeadless marks failures a browser engine might get past.
type fetchFailure struct {
	reason        string
	statusCode    int
	finalURL      string
	retryHeadless bool
}

// Markers that show up in bot-protection interstitials.
var botBlockMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"just a moment",
	"attention required",
	"captcha",
	"access denied",
	"ddos protection",
}

// Markers that pages print when scripting is off.
var jsRequiredMarkers = []string{
	"enable javascript",
	"javascript is required",
	"javascript required",
	"javascript ist erforderlich",
	"aktivieren sie javascript",
}

const (
	// jsMinVisibleChars is the visible-text length under which a
	// script-heavy page counts as JavaScript-rendered.
	jsMinVisibleChars = 512
	jsMinScripts      = 10
)

func (c *Crawler) fetchPlain(ctx context.Context, pageURL string, maxBytes int64) (*fetchedPage, *fetchFailure) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &fetchFailure{reason: fmt.Sprintf("invalid request: %v", err), finalURL: pageURL}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err, pageURL)
	}
	defer resp.Body.Close()

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	// Read a bounded body even on error statuses: challenge pages
	// carry the markers that decide the headless retry.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		f := classifyFetchError(err, finalURL)
		f.statusCode = resp.StatusCode
		return nil, f
	}
	if int64(len(body)) > maxBytes {
		return nil, &fetchFailure{
			reason:     fmt.Sprintf("content exceeds %d bytes", maxBytes),
			statusCode: resp.StatusCode,
			finalURL:   finalURL,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &fetchFailure{
			reason:        fmt.Sprintf("HTTP %d", resp.StatusCode),
			statusCode:    resp.StatusCode,
			finalURL:      finalURL,
			retryHeadless: looksBotBlocked(resp.StatusCode, string(body)),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
		return nil, &fetchFailure{
			reason:     fmt.Sprintf("unsupported content type %q", contentType),
			statusCode: resp.StatusCode,
			finalURL:   finalURL,
		}
	}

	return &fetchedPage{html: string(body), finalURL: finalURL, statusCode: resp.StatusCode}, nil
}

func classifyFetchError(err error, finalURL string) *fetchFailure {
	f := &fetchFailure{finalURL: finalURL}
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		f.reason = "timeout"
	case errors.As(err, &dnsErr):
		f.reason = fmt.Sprintf("dns lookup failed for %s", dnsErr.Name)
	case errors.As(err, &netErr) && netErr.Timeout():
		f.reason = "timeout"
	case errors.Is(err, context.Canceled):
		f.reason = "cancelled"
	default:
		f.reason = fmt.Sprintf("fetch failed: %v", err)
	}
	return f
}

func looksBotBlocked(status int, body string) bool {
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable && status != http.StatusTooManyRequests {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range botBlockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	// Challenge pages without known markers still deserve one browser
	// attempt on these statuses.
	return status == http.StatusForbidden
}

// looksJSRequired reports whether a fetched page is an empty shell
// that needs scripting to render.
func (c *Crawler) looksJSRequired(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range jsRequiredMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	body := doc.Find("body").Clone()
	body.Find("script,style,noscript").Remove()
	visible := len([]rune(strings.TrimSpace(body.Text())))
	scripts := doc.Find("script").Length()
	return visible < jsMinVisibleChars && scripts > jsMinScripts
}
