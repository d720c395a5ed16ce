package meilisearch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

// Connection-level behaviour is covered by the integration suite;
// these tests validate configuration and the pure helpers.

func TestNewAdapter_RequiresHost(t *testing.T) {
	_, err := NewAdapter(&Config{APIKey: "masterKey123"})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = NewAdapter(nil)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter vectorindex.Filter
		want   interface{}
	}{
		{
			name:   "empty filter",
			filter: vectorindex.Filter{},
			want:   nil,
		},
		{
			name:   "owner only",
			filter: vectorindex.Filter{Owner: "user-1"},
			want:   `owner_id = "user-1"`,
		},
		{
			name:   "single document",
			filter: vectorindex.Filter{Owner: "user-1", DocumentIDs: []string{"doc-a"}},
			want:   `owner_id = "user-1" AND document_id = "doc-a"`,
		},
		{
			name:   "multiple documents",
			filter: vectorindex.Filter{DocumentIDs: []string{"doc-a", "doc-b"}},
			want:   `document_id IN ["doc-a", "doc-b"]`,
		},
		{
			name:   "source type",
			filter: vectorindex.Filter{Owner: "user-1", SourceType: "upload"},
			want:   `owner_id = "user-1" AND source_type = "upload"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFilter(tt.filter))
		})
	}
}

func TestDecodeHit(t *testing.T) {
	t.Run("complete hit", func(t *testing.T) {
		tr, ok := decodeHit(map[string]interface{}{
			"id":            "12345",
			"document_id":   "doc-a",
			"chunk_index":   float64(2),
			"chunk_text":    "Solarpflicht für Neubauten",
			"title":         "Energie",
			"filename":      "energie.pdf",
			"_rankingScore": 0.87,
		})
		assert.True(t, ok)
		assert.Equal(t, "doc-a", tr.DocumentID)
		assert.Equal(t, 2, tr.ChunkIndex)
		assert.Equal(t, "Solarpflicht für Neubauten", tr.Text)
		assert.Equal(t, "Energie", tr.Title)
		assert.Equal(t, "energie.pdf", tr.Filename)
		assert.InDelta(t, 0.87, tr.Score, 1e-9)
	})

	t.Run("missing document id", func(t *testing.T) {
		_, ok := decodeHit(map[string]interface{}{"chunk_text": "text"})
		assert.False(t, ok)
	})

	t.Run("not a map", func(t *testing.T) {
		_, ok := decodeHit("garbage")
		assert.False(t, ok)
	})
}

func TestIndexUID(t *testing.T) {
	a := &Adapter{prefix: "gruenerator-"}
	assert.Equal(t, "gruenerator-documents", a.indexUID("documents"))

	a = &Adapter{}
	assert.Equal(t, "documents", a.indexUID("documents"))
}
