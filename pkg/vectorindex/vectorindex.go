// Package vectorindex provides the Qdrant-backed vector index used for
// semantic retrieval.
//
// Collections store one point per document chunk. Point ids are derived
// deterministically from (document id, chunk index), so re-ingesting a
// document replaces its chunks in place. Payloads carry the chunk text
// and the filterable attributes (owner, document, source type, ordinal).
//
// The client keeps a single logical gRPC connection, probes it on an
// interval, and rebuilds it when the server becomes unreachable or the
// TLS handshake starts failing.
package vectorindex

import (
	"context"
	"strings"
	"unicode"
)

// ChunkRecord is one chunk of a document to be written into a
// collection. Vector must already be normalised to unit length and
// match the collection dimension.
type ChunkRecord struct {
	DocumentID string
	OwnerID    string
	ChunkIndex int
	Text       string
	Title      string
	Filename   string
	SourceType string
	Vector     []float32
}

// Hit is a point read back from a collection. Score is the cosine
// similarity for search results and zero for scrolled points.
type Hit struct {
	PointID    uint64
	DocumentID string
	OwnerID    string
	ChunkIndex int
	Text       string
	Title      string
	Filename   string
	SourceType string
	Score      float32
}

// Filter narrows index operations to matching points. Zero-value fields
// are ignored; a zero-value Filter matches everything.
//
// Text requires all of its tokens to appear in the chunk text. TextAny
// requires at least one of the given tokens. Both use the collection's
// full-text index.
type Filter struct {
	Owner       string
	DocumentIDs []string
	SourceType  string
	Text        string
	TextAny     []string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Owner == "" && len(f.DocumentIDs) == 0 && f.SourceType == "" &&
		f.Text == "" && len(f.TextAny) == 0
}

// ScrollPage is one page of a scroll. NextOffset is nil once the scan
// is exhausted; otherwise pass it as the offset of the next call.
type ScrollPage struct {
	Points     []Hit
	NextOffset *uint64
}

// Index is the operation set the ingestion pipeline, retriever, and
// document service need from a vector index.
type Index interface {
	// EnsureCollection creates the collection and its payload indexes
	// if they do not exist yet. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes chunk points, replacing points with the same
	// (document id, chunk index). Returns after the write is applied.
	Upsert(ctx context.Context, collection string, records []ChunkRecord) error

	// Search runs an ANN query and returns hits ordered by descending
	// score. Hits below scoreThreshold are excluded when it is > 0.
	Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int, scoreThreshold float32) ([]Hit, error)

	// Scroll reads one page of matching points in point-id order.
	// Pass offset = nil for the first page.
	Scroll(ctx context.Context, collection string, filter Filter, limit int, offset *uint64) (*ScrollPage, error)

	// ScrollAll drains Scroll until the scan is exhausted.
	ScrollAll(ctx context.Context, collection string, filter Filter) ([]Hit, error)

	// Delete removes all points matching the filter.
	Delete(ctx context.Context, collection string, filter Filter) error

	// Count returns the exact number of points matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (uint64, error)

	// DeleteCollection drops a collection and everything in it.
	DeleteCollection(ctx context.Context, collection string) error

	// HealthCheck probes the index.
	HealthCheck(ctx context.Context) error
}

// Tokenizer bounds of the collection's full-text payload index. Tokens
// outside this length range are not indexed and cannot match.
const (
	MinTokenLen = 2
	MaxTokenLen = 50
)

// Tokenize splits text the way the collection's full-text index does:
// word boundaries on anything that is not a letter or digit, lowercase,
// tokens of MinTokenLen..MaxTokenLen runes. Callers that score text
// matches client-side use this to stay consistent with the server.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		n := len([]rune(f))
		if n < MinTokenLen || n > MaxTokenLen {
			continue
		}
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}
