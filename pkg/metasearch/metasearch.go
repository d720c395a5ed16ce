// Package metasearch queries a SearXNG-style meta-search aggregator
// and normalises its hits into ranked search results. Responses are
// cached under a stable hash of the query and options so repeated
// sub-queries inside one research run, and across runs, do not hit the
// aggregator again.
package metasearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/cenkalti/backoff/v4"
	"github.com/forPelevin/gomoji"
	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const (
	// DefaultTimeout bounds one aggregator round trip.
	DefaultTimeout = 10 * time.Second

	// DefaultTTL is how long general results stay cached.
	DefaultTTL = time.Hour

	// NewsTTL is the shorter lifetime for news-category results.
	NewsTTL = 15 * time.Minute

	// DefaultMaxResults caps the normalised result list.
	DefaultMaxResults = 10

	defaultMaxRetries    = 2
	defaultRetryInterval = 300 * time.Millisecond

	cacheKeyPrefix = "metasearch:"
)

// Categories the aggregator understands. News routes get a shorter
// cache TTL because their results age fast.
const (
	CategoryGeneral = "general"
	CategoryNews    = "news"
)

// Query describes one aggregator call.
type Query struct {
	Query      string
	Categories []string
	Language   string
	SafeSearch int
	// TimeRange is one of "day", "week", "month", "year", or empty.
	TimeRange  string
	MaxResults int
}

func (q Query) withDefaults() Query {
	if len(q.Categories) == 0 {
		q.Categories = []string{CategoryGeneral}
	}
	if q.Language == "" {
		q.Language = "de"
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	return q
}

func (q Query) ttl() time.Duration {
	for _, cat := range q.Categories {
		if cat == CategoryNews {
			return NewsTTL
		}
	}
	return DefaultTTL
}

// cacheKey hashes the query and every option that changes the result
// set, so two calls collide only when the aggregator would answer them
// identically.
func (q Query) cacheKey() string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%s|%d",
		q.Query, strings.Join(q.Categories, ","), q.Language, q.SafeSearch, q.TimeRange, q.MaxResults)
	sum := sha256.Sum256([]byte(canonical))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Result is one normalised search hit. Rank is the 1-based position
// after normalisation; Content stays empty until a crawler fills it.
type Result struct {
	Rank          int        `json:"rank"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Snippet       string     `json:"snippet"`
	Content       string     `json:"content,omitempty"`
	Domain        string     `json:"domain"`
	Engine        string     `json:"engine"`
	Score         float64    `json:"score"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	Category      string     `json:"category"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the aggregator root, e.g. "https://searx.example.org".
	BaseURL string
	// Timeout bounds one Search call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Cache stores serialised result lists. Nil disables caching.
	Cache Cache
	// MaxRetries bounds transient retries per call.
	MaxRetries int
	HTTPClient *http.Client
	Logger     hclog.Logger
}

// Client talks to one aggregator instance.
type Client struct {
	baseURL    string
	timeout    time.Duration
	cache      Cache
	maxRetries int
	client     *http.Client
	logger     hclog.Logger
}

// New builds a Client, filling config defaults.
func New(cfg Config) (*Client, error) {
	const op = "metasearch.New"

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		cache:      cfg.Cache,
		maxRetries: cfg.MaxRetries,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger.Named("metasearch"),
	}, nil
}

// searxResponse is the aggregator's JSON envelope. Only the result
// list matters; answers, infoboxes, and suggestions are ignored.
type searxResponse struct {
	Results []searxHit `json:"results"`
}

type searxHit struct {
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	Engine        string  `json:"engine"`
	Score         float64 `json:"score"`
	Category      string  `json:"category"`
	PublishedDate string  `json:"publishedDate"`
}

// Search runs one aggregator query, serving from cache when possible.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	const op = "metasearch.Search"

	if strings.TrimSpace(q.Query) == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "empty query")
	}
	q = q.withDefaults()
	key := q.cacheKey()

	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil && data != nil {
			var cached []Result
			if err := json.Unmarshal(data, &cached); err == nil {
				c.logger.Debug("cache hit", "query", q.Query, "results", len(cached))
				return cached, nil
			}
			// Unreadable entry: drop it and fetch fresh.
			_ = c.cache.Del(ctx, key)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var hits []searxHit
	err := c.retryTransient(ctx, func() error {
		var err error
		hits, err = c.fetch(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}

	results := normalize(q, hits)
	c.logger.Debug("search complete", "query", q.Query, "hits", len(hits), "results", len(results))

	if c.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			if err := c.cache.SetEx(ctx, key, q.ttl(), data); err != nil {
				c.logger.Warn("cache write failed", "error", err)
			}
		}
	}
	return results, nil
}

func (c *Client) fetch(ctx context.Context, q Query) ([]searxHit, error) {
	const op = "metasearch.Search"

	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("format", "json")
	params.Set("categories", strings.Join(q.Categories, ","))
	params.Set("language", q.Language)
	params.Set("safesearch", strconv.Itoa(q.SafeSearch))
	if q.TimeRange != "" {
		params.Set("time_range", q.TimeRange)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.InvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, apperr.Wrap(op, apperr.Cancelled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, apperr.Wrapf(op, apperr.Transient, err, "timeout")
		}
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(op, resp.StatusCode)
	}

	var payload searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrapf(op, apperr.Permanent, err, "response is not JSON")
	}
	return payload.Results, nil
}

func (c *Client) retryTransient(ctx context.Context, fn func() error) error {
	if c.maxRetries <= 0 {
		return fn()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if apperr.IsTransient(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// normalize turns raw hits into ranked results. Hits without a URL or
// title are malformed and skipped; rank counts surviving hits.
func normalize(q Query, hits []searxHit) []Result {
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		rawURL := strings.TrimSpace(hit.URL)
		title := strings.TrimSpace(gomoji.RemoveEmojis(hit.Title))
		if rawURL == "" || title == "" {
			continue
		}

		res := Result{
			Rank:     len(results) + 1,
			Title:    title,
			URL:      rawURL,
			Snippet:  strings.TrimSpace(hit.Content),
			Domain:   domainOf(rawURL),
			Engine:   hit.Engine,
			Score:    hit.Score,
			Category: hit.Category,
		}
		if res.Category == "" {
			res.Category = q.Categories[0]
		}
		if raw := strings.TrimSpace(hit.PublishedDate); raw != "" {
			if ts, err := dateparse.ParseAny(raw); err == nil {
				res.PublishedDate = &ts
			}
		}

		results = append(results, res)
		if len(results) >= q.MaxResults {
			break
		}
	}
	return results
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
