// Package algolia adapts Algolia to the search.TextIndex and
// search.TextIndexWriter interfaces. One Algolia index per chunk
// collection, named by an optional prefix.
//
// Algolia reports no numeric relevance on hits, so results carry a
// rank-derived score; rank fusion only consumes the ordering anyway.
package algolia

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	algoliasearch "github.com/algolia/algoliasearch-client-go/v3/algolia/search"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Config contains Algolia credentials.
type Config struct {
	AppID  string
	APIKey string

	// IndexPrefix namespaces collection indexes, e.g. "gruenerator-".
	IndexPrefix string
}

// Adapter talks to one Algolia application.
type Adapter struct {
	client *algoliasearch.Client
	prefix string

	mu      sync.Mutex
	ensured map[string]bool
}

var (
	_ search.TextIndex       = (*Adapter)(nil)
	_ search.TextIndexWriter = (*Adapter)(nil)
)

// NewAdapter creates an Algolia-backed text index.
func NewAdapter(cfg *Config) (*Adapter, error) {
	const op = "algolia.NewAdapter"
	if cfg == nil || cfg.AppID == "" || cfg.APIKey == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "algolia app id and api key required")
	}
	return &Adapter{
		client:  algoliasearch.NewClient(cfg.AppID, cfg.APIKey),
		prefix:  cfg.IndexPrefix,
		ensured: make(map[string]bool),
	}, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "algolia"
}

func (a *Adapter) indexName(collection string) string {
	return a.prefix + collection
}

// index returns the collection's Algolia index, declaring the filter
// facets once per process.
func (a *Adapter) index(collection string) (*algoliasearch.Index, error) {
	const op = "algolia.index"
	name := a.indexName(collection)
	idx := a.client.InitIndex(name)

	a.mu.Lock()
	done := a.ensured[name]
	a.mu.Unlock()
	if done {
		return idx, nil
	}

	res, err := idx.SetSettings(algoliasearch.Settings{
		AttributesForFaceting: opt.AttributesForFaceting(
			"filterOnly(owner_id)",
			"filterOnly(document_id)",
			"filterOnly(source_type)",
		),
		SearchableAttributes: opt.SearchableAttributes("chunk_text", "title"),
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	if err := res.Wait(); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	a.mu.Lock()
	a.ensured[name] = true
	a.mu.Unlock()
	return idx, nil
}

// IndexChunks writes chunk records keyed by the deterministic point id
// and waits until the write is applied.
func (a *Adapter) IndexChunks(ctx context.Context, collection string, records []vectorindex.ChunkRecord) error {
	const op = "algolia.IndexChunks"
	if len(records) == 0 {
		return nil
	}
	idx, err := a.index(collection)
	if err != nil {
		return err
	}

	objects := make([]map[string]interface{}, len(records))
	for i, r := range records {
		objects[i] = map[string]interface{}{
			"objectID":    strconv.FormatUint(docid.ChunkPointID(r.DocumentID, r.ChunkIndex), 10),
			"document_id": r.DocumentID,
			"owner_id":    r.OwnerID,
			"chunk_index": r.ChunkIndex,
			"chunk_text":  r.Text,
			"title":       r.Title,
			"filename":    r.Filename,
			"source_type": r.SourceType,
		}
	}

	res, err := idx.SaveObjects(objects, ctx)
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	if err := res.Wait(); err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return nil
}

// DeleteDocument removes all chunks of a document.
func (a *Adapter) DeleteDocument(ctx context.Context, collection, documentID string) error {
	const op = "algolia.DeleteDocument"
	if documentID == "" {
		return apperr.New(op, apperr.InvalidInput, "document id required")
	}
	idx, err := a.index(collection)
	if err != nil {
		return err
	}

	res, err := idx.DeleteBy(ctx, opt.Filters(fmt.Sprintf("document_id:%q", documentID)))
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	if err := res.Wait(); err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return nil
}

// SearchText runs a keyword search constrained by the filter.
func (a *Adapter) SearchText(ctx context.Context, collection, query string, filter vectorindex.Filter, limit int) ([]search.TextResult, error) {
	const op = "algolia.SearchText"
	if query == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "query is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	idx, err := a.index(collection)
	if err != nil {
		return nil, err
	}

	opts := []interface{}{ctx, opt.HitsPerPage(limit)}
	if expr := buildFilter(filter); expr != "" {
		opts = append(opts, opt.Filters(expr))
	}

	res, err := idx.Search(query, opts...)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	results := make([]search.TextResult, 0, len(res.Hits))
	for rank, hit := range res.Hits {
		tr, ok := decodeHit(hit, rank)
		if !ok {
			continue
		}
		results = append(results, tr)
	}
	return results, nil
}

// buildFilter renders the filter in Algolia's filter syntax. Returns
// "" for an empty filter.
func buildFilter(f vectorindex.Filter) string {
	var parts []string
	if f.Owner != "" {
		parts = append(parts, fmt.Sprintf("owner_id:%q", f.Owner))
	}
	if len(f.DocumentIDs) > 0 {
		ors := make([]string, len(f.DocumentIDs))
		for i, id := range f.DocumentIDs {
			ors[i] = fmt.Sprintf("document_id:%q", id)
		}
		if len(ors) == 1 {
			parts = append(parts, ors[0])
		} else {
			parts = append(parts, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if f.SourceType != "" {
		parts = append(parts, fmt.Sprintf("source_type:%q", f.SourceType))
	}
	return strings.Join(parts, " AND ")
}

// decodeHit maps one hit back to a TextResult with a rank-derived
// score.
func decodeHit(hit map[string]interface{}, rank int) (search.TextResult, bool) {
	tr := search.TextResult{Score: 1.0 / float64(rank+1)}
	tr.DocumentID, _ = hit["document_id"].(string)
	tr.Text, _ = hit["chunk_text"].(string)
	tr.Title, _ = hit["title"].(string)
	tr.Filename, _ = hit["filename"].(string)
	if v, ok := hit["chunk_index"].(float64); ok {
		tr.ChunkIndex = int(v)
	}
	return tr, tr.DocumentID != ""
}
