package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

func seedTextIndex(t *testing.T) *PayloadTextIndex {
	t.Helper()
	idx := vectorindex.NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, testCollection, 4))
	require.NoError(t, idx.Upsert(ctx, testCollection, []vectorindex.ChunkRecord{
		{DocumentID: "doc-a", OwnerID: "user-1", ChunkIndex: 0,
			Text: "Solarpflicht Neubauten", Vector: vec4(1, 0, 0, 0)},
		{DocumentID: "doc-a", OwnerID: "user-1", ChunkIndex: 1,
			Text: "Die Solarpflicht gilt künftig für alle Neubauten und umfangreiche Dachsanierungen im gesamten Stadtgebiet",
			Vector: vec4(0, 1, 0, 0)},
		{DocumentID: "doc-b", OwnerID: "user-1", ChunkIndex: 0,
			Text: "Radwege in der Innenstadt ausbauen", Vector: vec4(0, 0, 1, 0)},
		{DocumentID: "doc-c", OwnerID: "user-2", ChunkIndex: 0,
			Text: "Solarpflicht Neubauten", Vector: vec4(1, 0, 0, 0)},
	}))
	return NewPayloadTextIndex(idx)
}

func TestPayloadTextIndex_StrictMatchAndRanking(t *testing.T) {
	ti := seedTextIndex(t)

	results, err := ti.SearchText(context.Background(), testCollection,
		"Solarpflicht Neubauten", vectorindex.Filter{Owner: "user-1"}, 10)
	require.NoError(t, err)

	// Both doc-a chunks contain both tokens; the short chunk is
	// entirely query tokens and must rank above the long one.
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, 1, results[1].ChunkIndex)
	assert.Less(t, results[1].Score, results[0].Score)
}

func TestPayloadTextIndex_RelaxesToAnyToken(t *testing.T) {
	ti := seedTextIndex(t)

	// "Radwege" and "Dachsanierungen" never co-occur, so the strict
	// pass is empty and the any-token pass takes over.
	results, err := ti.SearchText(context.Background(), testCollection,
		"Radwege Dachsanierungen", vectorindex.Filter{Owner: "user-1"}, 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	docs := []string{results[0].DocumentID, results[1].DocumentID}
	assert.Contains(t, docs, "doc-a")
	assert.Contains(t, docs, "doc-b")
}

func TestPayloadTextIndex_OwnerScoping(t *testing.T) {
	ti := seedTextIndex(t)

	results, err := ti.SearchText(context.Background(), testCollection,
		"Solarpflicht", vectorindex.Filter{Owner: "user-2"}, 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "doc-c", results[0].DocumentID)
}

func TestPayloadTextIndex_RejectsUnindexableQuery(t *testing.T) {
	ti := seedTextIndex(t)

	// Single-rune tokens are below the index's minimum token length.
	_, err := ti.SearchText(context.Background(), testCollection,
		"a !", vectorindex.Filter{Owner: "user-1"}, 10)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestPayloadTextIndex_Limit(t *testing.T) {
	ti := seedTextIndex(t)

	results, err := ti.SearchText(context.Background(), testCollection,
		"Solarpflicht Neubauten", vectorindex.Filter{Owner: "user-1"}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMatchRatio(t *testing.T) {
	tokens := vectorindex.Tokenize("Solarpflicht Neubauten")

	assert.InDelta(t, 1.0, matchRatio("Solarpflicht Neubauten", tokens), 1e-9)
	assert.InDelta(t, 0.5, matchRatio("Solarpflicht beschlossen", tokens), 1e-9)
	assert.Zero(t, matchRatio("Radwege Innenstadt", tokens))
	assert.Zero(t, matchRatio("", tokens))
}
