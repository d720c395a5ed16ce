// Package meilisearch adapts a Meilisearch instance to the
// search.TextIndex and search.TextIndexWriter interfaces. One
// Meilisearch index per chunk collection, named by an optional prefix.
package meilisearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// taskPollInterval is the wait cadence for Meilisearch task completion.
const taskPollInterval = 50 * time.Millisecond

// Config contains Meilisearch connection settings.
type Config struct {
	Host   string // e.g. "http://localhost:7700"
	APIKey string

	// IndexPrefix namespaces collection indexes, e.g. "gruenerator-".
	IndexPrefix string
}

// Adapter talks to one Meilisearch instance.
type Adapter struct {
	client meilisearch.ServiceManager
	prefix string

	mu      sync.Mutex
	ensured map[string]bool
}

var (
	_ search.TextIndex       = (*Adapter)(nil)
	_ search.TextIndexWriter = (*Adapter)(nil)
)

// NewAdapter connects and verifies the instance is reachable.
func NewAdapter(cfg *Config) (*Adapter, error) {
	const op = "meilisearch.NewAdapter"
	if cfg == nil || cfg.Host == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "meilisearch host required")
	}

	client := meilisearch.New(cfg.Host, meilisearch.WithAPIKey(cfg.APIKey))
	if _, err := client.Health(); err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	return &Adapter{
		client:  client,
		prefix:  cfg.IndexPrefix,
		ensured: make(map[string]bool),
	}, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "meilisearch"
}

func (a *Adapter) indexUID(collection string) string {
	return a.prefix + collection
}

// chunkDoc is the indexed shape of one chunk. ID is the deterministic
// point id shared with the vector index.
type chunkDoc struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkText  string `json:"chunk_text"`
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	SourceType string `json:"source_type"`
}

// ensureIndex creates the collection index and its settings once per
// process.
func (a *Adapter) ensureIndex(ctx context.Context, collection string) (meilisearch.IndexManager, error) {
	const op = "meilisearch.ensureIndex"
	uid := a.indexUID(collection)

	a.mu.Lock()
	done := a.ensured[uid]
	a.mu.Unlock()
	if done {
		return a.client.Index(uid), nil
	}

	if _, err := a.client.GetIndexWithContext(ctx, uid); err != nil {
		task, err := a.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		})
		if err != nil {
			return nil, apperr.Wrap(op, apperr.Transient, err)
		}
		// A concurrent creator may win; the settings updates below are
		// idempotent either way.
		_, _ = a.client.WaitForTaskWithContext(ctx, task.TaskUID, taskPollInterval)
	}

	idx := a.client.Index(uid)
	filterable := []interface{}{"owner_id", "document_id", "source_type"}
	task, err := idx.UpdateFilterableAttributesWithContext(ctx, &filterable)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	if err := a.waitForTask(ctx, op, task); err != nil {
		return nil, err
	}

	searchable := []string{"chunk_text", "title"}
	task, err = idx.UpdateSearchableAttributesWithContext(ctx, &searchable)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	if err := a.waitForTask(ctx, op, task); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.ensured[uid] = true
	a.mu.Unlock()
	return idx, nil
}

func (a *Adapter) waitForTask(ctx context.Context, op string, info *meilisearch.TaskInfo) error {
	task, err := a.client.WaitForTaskWithContext(ctx, info.TaskUID, taskPollInterval)
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	if task.Status != meilisearch.TaskStatusSucceeded {
		return apperr.New(op, apperr.Permanent,
			fmt.Sprintf("meilisearch task %d failed: %s", info.TaskUID, task.Error.Message))
	}
	return nil
}

// IndexChunks writes chunk records and waits for the task so ingestion
// sees the same applied-write semantics as the vector index.
func (a *Adapter) IndexChunks(ctx context.Context, collection string, records []vectorindex.ChunkRecord) error {
	const op = "meilisearch.IndexChunks"
	if len(records) == 0 {
		return nil
	}
	idx, err := a.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}

	docs := make([]chunkDoc, len(records))
	for i, r := range records {
		docs[i] = chunkDoc{
			ID:         strconv.FormatUint(docid.ChunkPointID(r.DocumentID, r.ChunkIndex), 10),
			DocumentID: r.DocumentID,
			OwnerID:    r.OwnerID,
			ChunkIndex: r.ChunkIndex,
			ChunkText:  r.Text,
			Title:      r.Title,
			Filename:   r.Filename,
			SourceType: r.SourceType,
		}
	}

	primaryKey := "id"
	task, err := idx.AddDocumentsWithContext(ctx, docs, &primaryKey)
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return a.waitForTask(ctx, op, task)
}

// DeleteDocument removes all chunks of a document.
func (a *Adapter) DeleteDocument(ctx context.Context, collection, documentID string) error {
	const op = "meilisearch.DeleteDocument"
	if documentID == "" {
		return apperr.New(op, apperr.InvalidInput, "document id required")
	}
	idx, err := a.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}

	task, err := idx.DeleteDocumentsByFilterWithContext(ctx, fmt.Sprintf("document_id = %q", documentID))
	if err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return a.waitForTask(ctx, op, task)
}

// SearchText runs a keyword search with ranking scores enabled.
func (a *Adapter) SearchText(ctx context.Context, collection, query string, filter vectorindex.Filter, limit int) ([]search.TextResult, error) {
	const op = "meilisearch.SearchText"
	if query == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "query is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	idx, err := a.ensureIndex(ctx, collection)
	if err != nil {
		return nil, err
	}

	resp, err := idx.SearchWithContext(ctx, query, &meilisearch.SearchRequest{
		Limit:            int64(limit),
		Filter:           buildFilter(filter),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	results := make([]search.TextResult, 0, len(resp.Hits))
	for _, raw := range resp.Hits {
		if tr, ok := decodeHit(raw); ok {
			results = append(results, tr)
		}
	}
	return results, nil
}

// buildFilter renders the filter in Meilisearch's filter expression
// syntax. Returns nil when the filter is empty.
func buildFilter(f vectorindex.Filter) interface{} {
	var parts []string
	if f.Owner != "" {
		parts = append(parts, fmt.Sprintf("owner_id = %q", f.Owner))
	}
	switch len(f.DocumentIDs) {
	case 0:
	case 1:
		parts = append(parts, fmt.Sprintf("document_id = %q", f.DocumentIDs[0]))
	default:
		quoted := make([]string, len(f.DocumentIDs))
		for i, id := range f.DocumentIDs {
			quoted[i] = strconv.Quote(id)
		}
		parts = append(parts, fmt.Sprintf("document_id IN [%s]", strings.Join(quoted, ", ")))
	}
	if f.SourceType != "" {
		parts = append(parts, fmt.Sprintf("source_type = %q", f.SourceType))
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, " AND ")
}

// decodeHit maps one raw hit back to a TextResult.
func decodeHit(raw interface{}) (search.TextResult, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return search.TextResult{}, false
	}
	tr := search.TextResult{}
	tr.DocumentID, _ = m["document_id"].(string)
	tr.Text, _ = m["chunk_text"].(string)
	tr.Title, _ = m["title"].(string)
	tr.Filename, _ = m["filename"].(string)
	if v, ok := m["chunk_index"].(float64); ok {
		tr.ChunkIndex = int(v)
	}
	if v, ok := m["_rankingScore"].(float64); ok {
		tr.Score = v
	}
	return tr, tr.DocumentID != ""
}
