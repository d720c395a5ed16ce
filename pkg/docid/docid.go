// Package docid provides document identification for the retrieval
// pipeline.
//
// Two identifier families live here:
//
//  1. Document IDs: UUIDs (v4) owned by the relational store. They are
//     the only document handle external callers see.
//
//  2. Chunk point IDs: unsigned 64-bit identifiers derived
//     deterministically from (document ID, chunk index). The vector
//     index addresses points by these, which makes re-ingestion replace
//     chunks in place instead of accumulating duplicates.
package docid

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// NewDocumentID generates a new random document identifier.
func NewDocumentID() string {
	return uuid.NewString()
}

// ParseDocumentID validates a document identifier. Accepts standard
// UUID formats and returns the canonical lowercase-hyphenated form.
func ParseDocumentID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("document id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid document id %q: %w", s, err)
	}
	return u.String(), nil
}

// IsDocumentID reports whether s is a well-formed document identifier.
func IsDocumentID(s string) bool {
	_, err := ParseDocumentID(s)
	return err == nil
}

// ChunkPointID derives the vector-index point id for a chunk.
//
// The id is the FNV-1a 64-bit hash of "documentID:chunkIndex". The same
// (document, ordinal) pair always maps to the same point, so upserts
// are idempotent and re-ingestion overwrites rather than appends.
func ChunkPointID(documentID string, chunkIndex int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", documentID, chunkIndex)
	return h.Sum64()
}

// ChunkPointIDs derives point ids for chunk ordinals 0..count-1.
func ChunkPointIDs(documentID string, count int) []uint64 {
	ids := make([]uint64, count)
	for i := 0; i < count; i++ {
		ids[i] = ChunkPointID(documentID, i)
	}
	return ids
}
