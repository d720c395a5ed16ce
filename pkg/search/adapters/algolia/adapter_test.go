package algolia

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

func TestNewAdapter_RequiresCredentials(t *testing.T) {
	_, err := NewAdapter(&Config{AppID: "app"})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = NewAdapter(&Config{APIKey: "key"})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = NewAdapter(nil)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	a, err := NewAdapter(&Config{AppID: "app", APIKey: "key", IndexPrefix: "test-"})
	assert.NoError(t, err)
	assert.Equal(t, "algolia", a.Name())
	assert.Equal(t, "test-documents", a.indexName("documents"))
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter vectorindex.Filter
		want   string
	}{
		{
			name:   "empty",
			filter: vectorindex.Filter{},
			want:   "",
		},
		{
			name:   "owner",
			filter: vectorindex.Filter{Owner: "user-1"},
			want:   `owner_id:"user-1"`,
		},
		{
			name:   "owner and single document",
			filter: vectorindex.Filter{Owner: "user-1", DocumentIDs: []string{"doc-a"}},
			want:   `owner_id:"user-1" AND document_id:"doc-a"`,
		},
		{
			name:   "multiple documents",
			filter: vectorindex.Filter{DocumentIDs: []string{"doc-a", "doc-b"}},
			want:   `(document_id:"doc-a" OR document_id:"doc-b")`,
		},
		{
			name:   "source type",
			filter: vectorindex.Filter{SourceType: "upload"},
			want:   `source_type:"upload"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFilter(tt.filter))
		})
	}
}

func TestDecodeHit(t *testing.T) {
	tr, ok := decodeHit(map[string]interface{}{
		"objectID":    "12345",
		"document_id": "doc-a",
		"chunk_index": float64(3),
		"chunk_text":  "Solarpflicht für Neubauten",
		"title":       "Energie",
		"filename":    "energie.pdf",
	}, 0)
	assert.True(t, ok)
	assert.Equal(t, "doc-a", tr.DocumentID)
	assert.Equal(t, 3, tr.ChunkIndex)
	assert.InDelta(t, 1.0, tr.Score, 1e-9)

	// Rank 1 scores below rank 0.
	tr2, ok := decodeHit(map[string]interface{}{"document_id": "doc-b"}, 1)
	assert.True(t, ok)
	assert.Less(t, tr2.Score, tr.Score)

	_, ok = decodeHit(map[string]interface{}{"chunk_text": "no id"}, 0)
	assert.False(t, ok)
}
