// Package bleve adapts an embedded Bleve index to the search.TextIndex
// and search.TextIndexWriter interfaces. One Bleve index per chunk
// collection, created on first use under a shared base path.
//
// The analyzer mirrors the vector store's payload tokenizer (unicode
// word boundaries, lowercase, token length 2..50) so both keyword
// backends agree on what is findable.
package bleve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/hashicorp/go-multierror"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

const (
	chunkAnalyzer    = "chunk_text"
	lengthFilterName = "chunk_token_length"

	fieldDocumentID = "document_id"
	fieldOwnerID    = "owner_id"
	fieldChunkIndex = "chunk_index"
	fieldText       = "chunk_text"
	fieldTitle      = "title"
	fieldFilename   = "filename"
	fieldSourceType = "source_type"

	// deleteBatchSize bounds one round of delete-by-document, which
	// Bleve can only do as search-then-delete.
	deleteBatchSize = 500
)

// Config configures the Bleve adapter.
type Config struct {
	// IndexPath is the directory holding one <collection>.bleve index
	// per collection.
	IndexPath string
}

// Adapter holds the per-collection Bleve indexes.
type Adapter struct {
	path string

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

var (
	_ search.TextIndex       = (*Adapter)(nil)
	_ search.TextIndexWriter = (*Adapter)(nil)
)

// NewAdapter creates the base directory and returns an adapter.
// Collection indexes open lazily.
func NewAdapter(cfg *Config) (*Adapter, error) {
	const op = "bleve.NewAdapter"
	if cfg == nil || cfg.IndexPath == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "bleve index path required")
	}
	if err := os.MkdirAll(cfg.IndexPath, 0o755); err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	return &Adapter{
		path:    cfg.IndexPath,
		indexes: make(map[string]bleve.Index),
	}, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "bleve"
}

// chunkDoc is the indexed shape of one chunk.
type chunkDoc struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkText  string `json:"chunk_text"`
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	SourceType string `json:"source_type"`
}

// index returns the open Bleve index for a collection, creating it on
// first use.
func (a *Adapter) index(collection string) (bleve.Index, error) {
	const op = "bleve.index"
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.indexes[collection]; ok {
		return idx, nil
	}

	im, err := chunkIndexMapping()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	path := filepath.Join(a.path, collection+".bleve")
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	a.indexes[collection] = idx
	return idx, nil
}

// chunkIndexMapping builds the mapping with the contract analyzer.
func chunkIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenFilter(lengthFilterName, map[string]interface{}{
		"type": length.Name,
		"min":  float64(vectorindex.MinTokenLen),
		"max":  float64(vectorindex.MaxTokenLen),
	}); err != nil {
		return nil, err
	}
	if err := im.AddCustomAnalyzer(chunkAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, lengthFilterName},
	}); err != nil {
		return nil, err
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = chunkAnalyzer

	keyword := bleve.NewKeywordFieldMapping()
	numeric := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldDocumentID, keyword)
	doc.AddFieldMappingsAt(fieldOwnerID, keyword)
	doc.AddFieldMappingsAt(fieldSourceType, keyword)
	doc.AddFieldMappingsAt(fieldFilename, keyword)
	doc.AddFieldMappingsAt(fieldChunkIndex, numeric)

	im.AddDocumentMapping("_default", doc)
	return im, nil
}

// IndexChunks writes chunk records in one batch, keyed by the same
// deterministic point id the vector index uses.
func (a *Adapter) IndexChunks(ctx context.Context, collection string, records []vectorindex.ChunkRecord) error {
	const op = "bleve.IndexChunks"
	if len(records) == 0 {
		return nil
	}
	idx, err := a.index(collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, r := range records {
		id := strconv.FormatUint(docid.ChunkPointID(r.DocumentID, r.ChunkIndex), 10)
		if err := batch.Index(id, chunkDoc{
			DocumentID: r.DocumentID,
			OwnerID:    r.OwnerID,
			ChunkIndex: r.ChunkIndex,
			ChunkText:  r.Text,
			Title:      r.Title,
			Filename:   r.Filename,
			SourceType: r.SourceType,
		}); err != nil {
			return apperr.Wrap(op, apperr.Permanent, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return apperr.Wrap(op, apperr.Transient, err)
	}
	return nil
}

// DeleteDocument removes all chunks of a document by repeated
// search-then-delete rounds.
func (a *Adapter) DeleteDocument(ctx context.Context, collection, documentID string) error {
	const op = "bleve.DeleteDocument"
	if documentID == "" {
		return apperr.New(op, apperr.InvalidInput, "document id required")
	}
	idx, err := a.index(collection)
	if err != nil {
		return err
	}

	term := bleve.NewTermQuery(documentID)
	term.SetField(fieldDocumentID)

	for {
		req := bleve.NewSearchRequest(term)
		req.Size = deleteBatchSize

		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return apperr.Wrap(op, apperr.Transient, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return apperr.Wrap(op, apperr.Transient, err)
		}
	}
}

// SearchText runs a match query over the chunk text, constrained by
// the filter's keyword fields.
func (a *Adapter) SearchText(ctx context.Context, collection, searchQuery string, filter vectorindex.Filter, limit int) ([]search.TextResult, error) {
	const op = "bleve.SearchText"
	if searchQuery == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "query is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	idx, err := a.index(collection)
	if err != nil {
		return nil, err
	}

	match := bleve.NewMatchQuery(searchQuery)
	match.SetField(fieldText)
	match.Analyzer = chunkAnalyzer

	req := bleve.NewSearchRequest(withFilter(match, filter))
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	results := make([]search.TextResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		tr := search.TextResult{Score: hit.Score}
		if v, ok := hit.Fields[fieldDocumentID].(string); ok {
			tr.DocumentID = v
		}
		if v, ok := hit.Fields[fieldChunkIndex].(float64); ok {
			tr.ChunkIndex = int(v)
		}
		if v, ok := hit.Fields[fieldText].(string); ok {
			tr.Text = v
		}
		if v, ok := hit.Fields[fieldTitle].(string); ok {
			tr.Title = v
		}
		if v, ok := hit.Fields[fieldFilename].(string); ok {
			tr.Filename = v
		}
		results = append(results, tr)
	}
	return results, nil
}

// withFilter wraps the text query in a conjunction with the filter's
// keyword constraints.
func withFilter(q query.Query, filter vectorindex.Filter) query.Query {
	parts := []query.Query{q}

	if filter.Owner != "" {
		term := bleve.NewTermQuery(filter.Owner)
		term.SetField(fieldOwnerID)
		parts = append(parts, term)
	}
	if len(filter.DocumentIDs) > 0 {
		docs := bleve.NewDisjunctionQuery()
		for _, id := range filter.DocumentIDs {
			term := bleve.NewTermQuery(id)
			term.SetField(fieldDocumentID)
			docs.AddQuery(term)
		}
		parts = append(parts, docs)
	}
	if filter.SourceType != "" {
		term := bleve.NewTermQuery(filter.SourceType)
		term.SetField(fieldSourceType)
		parts = append(parts, term)
	}

	if len(parts) == 1 {
		return q
	}
	return bleve.NewConjunctionQuery(parts...)
}

// Count returns the number of indexed chunks in a collection.
func (a *Adapter) Count(collection string) (uint64, error) {
	idx, err := a.index(collection)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, apperr.Wrap("bleve.Count", apperr.Transient, err)
	}
	return n, nil
}

// Close closes all open collection indexes.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result *multierror.Error
	for name, idx := range a.indexes {
		if err := idx.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(a.indexes, name)
	}
	return result.ErrorOrNil()
}
