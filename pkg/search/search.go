// Package search retrieves ingested document chunks. It offers three
// modes: pure vector similarity, keyword search over the chunk text,
// and a hybrid mode that fuses both rankings with weighted
// reciprocal-rank fusion.
//
// Keyword search goes through the TextIndex interface. The default
// implementation reads the vector collection's own full-text payload
// index, so a single Qdrant instance serves both branches; external
// engines (Bleve, Meilisearch, Algolia) plug in via
// pkg/search/adapters and are fed by ingestion through TextIndexWriter.
package search

import (
	"context"
	"time"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Mode selects the retrieval strategy of a Query.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeText   Mode = "text"
	ModeHybrid Mode = "hybrid"
)

// Search type labels reported on a Response. TypeTextFallback marks a
// hybrid request that was served by the text branch alone because the
// vector branch failed.
const (
	TypeVector       = "vector"
	TypeText         = "text"
	TypeHybrid       = "hybrid"
	TypeTextFallback = "text_fallback"
)

// Relevance labels naming the branch(es) that produced a result.
const (
	RelevanceVector = "vector"
	RelevanceText   = "text"
	RelevanceBoth   = "vector+text"
)

// Query is one retrieval request, always scoped to an owner.
type Query struct {
	// Text is the search text. Must be non-empty.
	Text string

	// Owner scopes the search to one tenant. Must be non-empty.
	Owner string

	// Collection overrides the retriever's default collection, for
	// searches against the shared official-documents collection.
	Collection string

	// Mode defaults to ModeHybrid.
	Mode Mode

	// Limit caps the number of returned results. Defaults to 10.
	Limit int

	// DocumentIDs restricts the search to the given documents.
	DocumentIDs []string

	// SourceType restricts the search to documents of one source type.
	SourceType string

	// VectorWeight and TextWeight control rank fusion in hybrid mode.
	// Zero values take the defaults (0.7 / 0.3).
	VectorWeight float64
	TextWeight   float64

	// ScoreThreshold fixes the vector-branch cutoff. When zero the
	// retriever derives a threshold from the score distribution.
	ScoreThreshold float64

	// MaxPerDocument caps how many chunks a single document may
	// contribute. Zero means no cap.
	MaxPerDocument int
}

// Result is one retrieved chunk.
type Result struct {
	DocumentID string  `json:"document_id"`
	ChunkText  string  `json:"chunk_text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"similarity_score"`
	Title      string  `json:"title,omitempty"`
	Filename   string  `json:"filename,omitempty"`

	// Relevance names the branch(es) that produced this result:
	// RelevanceVector, RelevanceText, or RelevanceBoth.
	Relevance string `json:"relevance_info"`
}

// Stats describes how a search was served.
type Stats struct {
	VectorHits int           `json:"vector_hits"`
	TextHits   int           `json:"text_hits"`
	Returned   int           `json:"returned"`
	Took       time.Duration `json:"took"`
}

// Response is the outcome of a Query.
type Response struct {
	Results    []Result `json:"results"`
	SearchType string   `json:"search_type"`
	Stats      Stats    `json:"stats"`
}

// TextResult is one keyword hit from a TextIndex. Score is the
// engine's textual relevance; across engines only its ordering is
// comparable, which is all rank fusion needs.
type TextResult struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Title      string
	Filename   string
	Score      float64
}

// TextIndex serves keyword search over chunk text. Results come back
// ordered by descending textual relevance.
type TextIndex interface {
	SearchText(ctx context.Context, collection, query string, filter vectorindex.Filter, limit int) ([]TextResult, error)
}

// TextIndexWriter is implemented by external text indexes that must be
// fed during ingestion. The payload-backed default reads the vector
// collection directly and needs no mirroring.
type TextIndexWriter interface {
	// IndexChunks mirrors chunk records into the text index,
	// replacing entries with the same (document id, chunk index).
	IndexChunks(ctx context.Context, collection string, records []vectorindex.ChunkRecord) error

	// DeleteDocument removes all chunks of a document.
	DeleteDocument(ctx context.Context, collection, documentID string) error
}
