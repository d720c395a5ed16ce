package crawler

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in headless Chrome via the DevTools
// protocol. Each fetch runs in a fresh browser context so sites cannot
// leak state into each other.
type ChromeFetcher struct {
	// UserAgent overrides the browser default when set.
	UserAgent string
	// Settle is extra wait time after the DOM is ready, giving
	// client-side rendering a chance to finish.
	Settle time.Duration
	// ExecPath points at a Chrome binary. Empty uses chromedp's
	// lookup.
	ExecPath string
}

// NewChromeFetcher returns a fetcher with a short settle window.
func NewChromeFetcher() *ChromeFetcher {
	return &ChromeFetcher{Settle: 1500 * time.Millisecond}
}

// Fetch navigates to the page and returns the rendered document.
func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if f.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.UserAgent))
	}
	if f.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	tasks := chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(f.Settle))
	}

	var html, finalURL string
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}
