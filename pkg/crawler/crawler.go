// Package crawler fetches single web pages and turns them into clean
// text, markdown, and metadata for enrichment and research flows.
//
// A crawl always tries a plain HTTP fetch first. When the response
// looks like it needs JavaScript (near-empty body behind a pile of
// scripts) or the site answers with bot-protection challenges, the
// crawl falls back to a headless browser when one is configured.
// Fetch-level failures never surface as Go errors: they come back as
// a Result with Success=false and a reason string, so orchestrations
// can treat a dead link as data, not as a pipeline fault.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const (
	// DefaultTimeout bounds one crawl end to end.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes caps the response body size.
	DefaultMaxBytes = 5 << 20

	defaultUserAgent = "Mozilla/5.0 (compatible; Gruenerator/1.0; +https://www.gruenerator.de)"

	maxRedirects = 10
)

// Options tune a single crawl.
type Options struct {
	// Timeout overrides the crawler default for this call.
	Timeout time.Duration
	// MaxBytes overrides the response size cap for this call.
	MaxBytes int64
	// EnhancedMetadata additionally extracts Open-Graph image data and
	// category hints into Result.Metadata.
	EnhancedMetadata bool
}

// Result is the outcome of one crawl. Success=false carries the
// failure reason in Error; the other fields are best effort.
type Result struct {
	Success       bool              `json:"success"`
	Content       string            `json:"content"`
	Markdown      string            `json:"markdown"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Canonical     string            `json:"canonical"`
	PublishedDate *time.Time        `json:"published_date,omitempty"`
	WordCount     int               `json:"word_count"`
	CharCount     int               `json:"char_count"`
	FinalURL      string            `json:"final_url"`
	StatusCode    int               `json:"status_code"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// HeadlessFetcher renders a page in a real browser engine. The
// production implementation is ChromeFetcher; tests substitute fakes.
type HeadlessFetcher interface {
	Fetch(ctx context.Context, pageURL string) (html string, finalURL string, err error)
}

// Config configures a Crawler.
type Config struct {
	// UserAgent is sent on plain fetches.
	UserAgent string
	// Timeout is the per-crawl default. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxBytes caps response bodies. Defaults to DefaultMaxBytes.
	MaxBytes int64
	// Production refuses loopback, RFC-1918, and link-local targets.
	Production bool
	// Headless enables the browser fallback. Nil means JavaScript-only
	// pages fail with a reason instead.
	Headless HeadlessFetcher
	// HTTPClient overrides the internal client; redirect policy is
	// installed on it.
	HTTPClient *http.Client
	Logger     hclog.Logger
}

// Crawler fetches and extracts web pages.
type Crawler struct {
	userAgent  string
	timeout    time.Duration
	maxBytes   int64
	production bool
	headless   HeadlessFetcher
	client     *http.Client
	conv       *md.Converter
	logger     hclog.Logger
}

// New builds a Crawler, filling config defaults.
func New(cfg Config) *Crawler {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	c := &Crawler{
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		maxBytes:   cfg.MaxBytes,
		production: cfg.Production,
		headless:   cfg.Headless,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger.Named("crawler"),
	}
	c.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		// Redirect targets get the same reachability policy as the
		// original URL.
		return c.checkTarget(req.URL)
	}
	c.conv = md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		CodeBlockStyle:   "fenced",
		BulletListMarker: "-",
	})
	return c
}

// Crawl fetches one page. It returns a Go error only for unusable
// input or caller cancellation; every fetch or extraction failure is
// reported inside the Result.
func (c *Crawler) Crawl(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	const op = "crawler.Crawl"

	u, err := c.validateURL(rawURL)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = c.maxBytes
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, fail := c.fetchPlain(ctx, u.String(), maxBytes)
	if fail != nil && fail.retryHeadless && c.headless != nil {
		c.logger.Debug("bot protection suspected, retrying headless", "url", u.String(), "reason", fail.reason)
		page, fail = c.fetchHeadless(ctx, u.String(), fail)
	}
	if fail == nil && c.looksJSRequired(page.html) {
		if c.headless == nil {
			fail = &fetchFailure{reason: "JavaScript required", statusCode: page.statusCode, finalURL: page.finalURL}
		} else {
			c.logger.Debug("page looks JavaScript-rendered, retrying headless", "url", u.String())
			page, fail = c.fetchHeadless(ctx, u.String(), &fetchFailure{reason: "JavaScript required"})
		}
	}
	if fail != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, apperr.Wrap(op, apperr.Cancelled, ctx.Err())
		}
		c.logger.Debug("crawl failed", "url", u.String(), "reason", fail.reason)
		return &Result{
			Success:    false,
			Error:      fail.reason,
			FinalURL:   fail.finalURL,
			StatusCode: fail.statusCode,
		}, nil
	}

	res := c.extractPage(page, opts)
	return res, nil
}

// validateURL enforces the crawl target policy.
func (c *Crawler) validateURL(rawURL string) (*url.URL, error) {
	const op = "crawler.Crawl"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "url has no host")
	}
	if err := c.checkTarget(u); err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}
	return u, nil
}

// checkTarget refuses internal network targets in production.
func (c *Crawler) checkTarget(u *url.URL) error {
	if !c.production {
		return nil
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("refusing to crawl %q", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("refusing to crawl internal address %q", host)
	}
	return nil
}

// fetchHeadless runs the browser fallback, keeping the original
// failure when the browser cannot do better.
func (c *Crawler) fetchHeadless(ctx context.Context, pageURL string, orig *fetchFailure) (*fetchedPage, *fetchFailure) {
	html, finalURL, err := c.headless.Fetch(ctx, pageURL)
	if err != nil {
		return nil, &fetchFailure{
			reason:     fmt.Sprintf("%s (headless fetch failed: %v)", orig.reason, err),
			statusCode: orig.statusCode,
			finalURL:   orig.finalURL,
		}
	}
	if finalURL == "" {
		finalURL = pageURL
	}
	return &fetchedPage{html: html, finalURL: finalURL, statusCode: http.StatusOK, headless: true}, nil
}
