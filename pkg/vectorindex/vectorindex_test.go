package vectorindex

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/docid"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits on punctuation",
			text: "Klimaschutz: Jetzt handeln!",
			want: []string{"klimaschutz", "jetzt", "handeln"},
		},
		{
			name: "drops single-rune tokens",
			text: "a b ab",
			want: []string{"ab"},
		},
		{
			name: "keeps umlauts",
			text: "Bündnis 90 Die Grünen",
			want: []string{"bündnis", "90", "die", "grünen"},
		},
		{
			name: "empty input",
			text: "   ",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestFilterToQdrant(t *testing.T) {
	t.Run("zero filter is nil", func(t *testing.T) {
		assert.Nil(t, Filter{}.toQdrant())
		assert.True(t, Filter{}.IsZero())
	})

	t.Run("owner and source type", func(t *testing.T) {
		f := Filter{Owner: "user-1", SourceType: "pdf"}.toQdrant()
		require.NotNil(t, f)
		require.Len(t, f.Must, 2)

		owner := f.Must[0].GetField()
		require.NotNil(t, owner)
		assert.Equal(t, "owner_id", owner.GetKey())
		assert.Equal(t, "user-1", owner.GetMatch().GetKeyword())

		source := f.Must[1].GetField()
		require.NotNil(t, source)
		assert.Equal(t, "source_type", source.GetKey())
		assert.Equal(t, "pdf", source.GetMatch().GetKeyword())
	})

	t.Run("single document id uses keyword match", func(t *testing.T) {
		f := Filter{DocumentIDs: []string{"doc-1"}}.toQdrant()
		require.Len(t, f.Must, 1)
		assert.Equal(t, "doc-1", f.Must[0].GetField().GetMatch().GetKeyword())
	})

	t.Run("multiple document ids use keywords match", func(t *testing.T) {
		f := Filter{DocumentIDs: []string{"doc-1", "doc-2"}}.toQdrant()
		require.Len(t, f.Must, 1)
		keywords := f.Must[0].GetField().GetMatch().GetKeywords()
		require.NotNil(t, keywords)
		assert.Equal(t, []string{"doc-1", "doc-2"}, keywords.GetStrings())
	})

	t.Run("text goes into must", func(t *testing.T) {
		f := Filter{Text: "solarpflicht dachflächen"}.toQdrant()
		require.Len(t, f.Must, 1)
		cond := f.Must[0].GetField()
		assert.Equal(t, "chunk_text", cond.GetKey())
		assert.Equal(t, "solarpflicht dachflächen", cond.GetMatch().GetText())
	})

	t.Run("text any goes into should", func(t *testing.T) {
		f := Filter{TextAny: []string{"solar", "wind"}}.toQdrant()
		assert.Empty(t, f.Must)
		require.Len(t, f.Should, 2)
		assert.Equal(t, "solar", f.Should[0].GetField().GetMatch().GetText())
		assert.Equal(t, "wind", f.Should[1].GetField().GetMatch().GetText())
	})
}

func TestHitFromPayload(t *testing.T) {
	id := docid.ChunkPointID("doc-1", 3)
	payload := map[string]*qdrant.Value{
		"document_id": qdrant.NewValueString("doc-1"),
		"owner_id":    qdrant.NewValueString("user-1"),
		"chunk_index": qdrant.NewValueInt(3),
		"chunk_text":  qdrant.NewValueString("chunk body"),
		"title":       qdrant.NewValueString("Wahlprogramm"),
		"source_type": qdrant.NewValueString("pdf"),
	}

	h := hitFromPayload(qdrant.NewIDNum(id), 0.87, payload)

	assert.Equal(t, id, h.PointID)
	assert.Equal(t, "doc-1", h.DocumentID)
	assert.Equal(t, "user-1", h.OwnerID)
	assert.Equal(t, 3, h.ChunkIndex)
	assert.Equal(t, "chunk body", h.Text)
	assert.Equal(t, "Wahlprogramm", h.Title)
	assert.Equal(t, "pdf", h.SourceType)
	assert.InDelta(t, 0.87, h.Score, 1e-6)
}

func TestPayloadIndexes(t *testing.T) {
	indexes := payloadIndexes()
	require.Len(t, indexes, 5)

	byField := make(map[string]*qdrant.CreateFieldIndexCollection)
	for _, idx := range indexes {
		byField[idx.FieldName] = idx
	}

	t.Run("owner is the tenant key", func(t *testing.T) {
		owner := byField["owner_id"]
		require.NotNil(t, owner)
		assert.Equal(t, qdrant.FieldType_FieldTypeKeyword, *owner.FieldType)
		params := owner.FieldIndexParams.GetKeywordIndexParams()
		require.NotNil(t, params)
		assert.True(t, *params.IsTenant)
	})

	t.Run("chunk text is a word-tokenized text index", func(t *testing.T) {
		text := byField["chunk_text"]
		require.NotNil(t, text)
		assert.Equal(t, qdrant.FieldType_FieldTypeText, *text.FieldType)
		params := text.FieldIndexParams.GetTextIndexParams()
		require.NotNil(t, params)
		assert.Equal(t, qdrant.TokenizerType_Word, params.Tokenizer)
		assert.True(t, *params.Lowercase)
		assert.Equal(t, uint64(2), *params.MinTokenLen)
		assert.Equal(t, uint64(50), *params.MaxTokenLen)
	})

	t.Run("chunk index supports lookup and range", func(t *testing.T) {
		ordinal := byField["chunk_index"]
		require.NotNil(t, ordinal)
		assert.Equal(t, qdrant.FieldType_FieldTypeInteger, *ordinal.FieldType)
		params := ordinal.FieldIndexParams.GetIntegerIndexParams()
		require.NotNil(t, params)
		assert.True(t, *params.Lookup)
		assert.True(t, *params.Range)
	})

	t.Run("document id and source type are keyword indexes", func(t *testing.T) {
		for _, field := range []string{"document_id", "source_type"} {
			idx := byField[field]
			require.NotNil(t, idx, field)
			assert.Equal(t, qdrant.FieldType_FieldTypeKeyword, *idx.FieldType, field)
		}
	})
}

func TestIsConnErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), true},
		{"not found", status.Error(codes.NotFound, "collection missing"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector size"), false},
		{"tls mismatch", errors.New("tls: protocol version not supported"), true},
		{"handshake failure", errors.New("transport: authentication handshake failed"), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnErr(tt.err))
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, "localhost", c.cfg.Host)
	assert.Equal(t, 6334, c.cfg.Port)
	assert.Equal(t, 30*time.Second, c.cfg.HealthInterval)
	assert.Equal(t, 5*time.Second, c.cfg.HealthTimeout)
	assert.NotNil(t, c.log)
	assert.True(t, c.Healthy())
}
