package metasearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const searxPayload = `{
  "query": "solarpflicht neubauten",
  "number_of_results": 4,
  "results": [
    {
      "url": "https://www.example.org/solar",
      "title": "☀️ Solarpflicht kommt 2027",
      "content": "Der Landtag hat die Solarpflicht beschlossen.",
      "engine": "duckduckgo",
      "score": 4.2,
      "category": "general",
      "publishedDate": "2026-02-14T08:00:00Z"
    },
    {
      "url": "https://zeitung.example.org/artikel/123",
      "title": "Kommentar zur Solarpflicht",
      "content": "Eine Einordnung.",
      "engine": "google",
      "score": 3.1,
      "category": ""
    },
    {
      "url": "",
      "title": "Kaputter Treffer ohne URL",
      "content": "wird übersprungen"
    },
    {
      "url": "https://example.org/drittes",
      "title": "Drittes Ergebnis",
      "content": "",
      "engine": "brave",
      "score": 1.0,
      "category": "general"
    }
  ]
}`

func serveSearx(t *testing.T, payload string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSearchNormalizesHits(t *testing.T) {
	srv, _ := serveSearx(t, searxPayload)
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), Query{Query: "solarpflicht neubauten"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	first := results[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "Solarpflicht kommt 2027", first.Title, "emoji stripped and trimmed")
	assert.Equal(t, "https://www.example.org/solar", first.URL)
	assert.Equal(t, "example.org", first.Domain)
	assert.Equal(t, "duckduckgo", first.Engine)
	assert.InDelta(t, 4.2, first.Score, 0.001)
	assert.Equal(t, "general", first.Category)
	require.NotNil(t, first.PublishedDate)
	assert.Equal(t, 2026, first.PublishedDate.Year())

	second := results[1]
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, "zeitung.example.org", second.Domain)
	assert.Equal(t, "general", second.Category, "empty category falls back to the requested one")
	assert.Nil(t, second.PublishedDate)

	// The hit without a URL is skipped, so the third result moves up.
	assert.Equal(t, 3, results[2].Rank)
	assert.Equal(t, "Drittes Ergebnis", results[2].Title)
}

func TestSearchSendsAggregatorParameters(t *testing.T) {
	var gotQuery, gotFormat, gotCategories, gotLanguage, gotSafe, gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = q.Get("q")
		gotFormat = q.Get("format")
		gotCategories = q.Get("categories")
		gotLanguage = q.Get("language")
		gotSafe = q.Get("safesearch")
		gotRange = q.Get("time_range")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{
		Query:      "wärmewende kommunal",
		Categories: []string{CategoryNews},
		Language:   "de",
		SafeSearch: 1,
		TimeRange:  "month",
	})
	require.NoError(t, err)

	assert.Equal(t, "wärmewende kommunal", gotQuery)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "news", gotCategories)
	assert.Equal(t, "de", gotLanguage)
	assert.Equal(t, "1", gotSafe)
	assert.Equal(t, "month", gotRange)
}

func TestSearchServesFromCache(t *testing.T) {
	srv, calls := serveSearx(t, searxPayload)
	c, err := New(Config{BaseURL: srv.URL, Cache: NewMemoryCache(10)})
	require.NoError(t, err)

	q := Query{Query: "solarpflicht neubauten"}
	first, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "second call must be served from cache")
	assert.Equal(t, first, second)

	// A different option set misses the cache.
	_, err = c.Search(context.Background(), Query{Query: "solarpflicht neubauten", TimeRange: "year"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchEmptyQuery(t *testing.T) {
	c, err := New(Config{BaseURL: "http://searx.invalid"})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{Query: "   "})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaputt", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, MaxRetries: -1})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{Query: "radwege"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestSearchNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>kein json</html>"))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, MaxRetries: -1})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{Query: "radwege"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Permanent))
	assert.Contains(t, err.Error(), "not JSON")
}

func TestSearchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MaxRetries: -1})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), Query{Query: "radwege"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestSearchRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "flattern", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searxPayload))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)

	results, err := c.Search(context.Background(), Query{Query: "solarpflicht"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchCancelled(t *testing.T) {
	srv, _ := serveSearx(t, searxPayload)
	c, err := New(Config{BaseURL: srv.URL, MaxRetries: -1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Search(ctx, Query{Query: "radwege"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestNormalizeTruncatesToMaxResults(t *testing.T) {
	hits := make([]searxHit, 0, 8)
	for i := 0; i < 8; i++ {
		hits = append(hits, searxHit{
			URL:   "https://example.org/" + strings.Repeat("a", i+1),
			Title: "Treffer",
		})
	}

	results := normalize(Query{Categories: []string{CategoryGeneral}, MaxResults: 3}, hits)
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{results[0].Rank, results[1].Rank, results[2].Rank})
}

func TestQueryTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, Query{Categories: []string{CategoryGeneral}}.ttl())
	assert.Equal(t, NewsTTL, Query{Categories: []string{CategoryNews}}.ttl())
	assert.Equal(t, NewsTTL, Query{Categories: []string{CategoryGeneral, CategoryNews}}.ttl())
}

func TestQueryCacheKey(t *testing.T) {
	base := Query{Query: "radwege", Categories: []string{CategoryGeneral}, Language: "de", MaxResults: 10}

	assert.Equal(t, base.cacheKey(), base.cacheKey())
	assert.True(t, strings.HasPrefix(base.cacheKey(), cacheKeyPrefix))

	variants := []Query{
		{Query: "radwege ausbau", Categories: []string{CategoryGeneral}, Language: "de", MaxResults: 10},
		{Query: "radwege", Categories: []string{CategoryNews}, Language: "de", MaxResults: 10},
		{Query: "radwege", Categories: []string{CategoryGeneral}, Language: "en", MaxResults: 10},
		{Query: "radwege", Categories: []string{CategoryGeneral}, Language: "de", MaxResults: 10, SafeSearch: 1},
		{Query: "radwege", Categories: []string{CategoryGeneral}, Language: "de", MaxResults: 10, TimeRange: "month"},
		{Query: "radwege", Categories: []string{CategoryGeneral}, Language: "de", MaxResults: 5},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.cacheKey(), v.cacheKey(), "query %+v must get its own key", v)
	}
}

func TestDomainOf(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.example.org/pfad", "example.org"},
		{"https://Zeitung.Example.org:8443/a", "zeitung.example.org"},
		{"https://example.org", "example.org"},
		{"nicht-absolut", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domainOf(tc.url), tc.url)
	}
}
