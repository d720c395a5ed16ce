package docid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "canonical form",
			input: "550e8400-e29b-41d4-a716-446655440000",
			want:  "550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:  "uppercase normalised",
			input: "550E8400-E29B-41D4-A716-446655440000",
			want:  "550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "not-a-uuid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDocumentID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDocumentID_Valid(t *testing.T) {
	id := NewDocumentID()
	assert.True(t, IsDocumentID(id))

	// Two generations must differ.
	assert.NotEqual(t, id, NewDocumentID())
}

func TestChunkPointID_Deterministic(t *testing.T) {
	docID := "550e8400-e29b-41d4-a716-446655440000"

	first := ChunkPointID(docID, 0)
	second := ChunkPointID(docID, 0)
	assert.Equal(t, first, second)

	// Different ordinals and documents must not collide on the obvious axes.
	assert.NotEqual(t, ChunkPointID(docID, 0), ChunkPointID(docID, 1))
	assert.NotEqual(t, ChunkPointID(docID, 0), ChunkPointID(NewDocumentID(), 0))
}

func TestChunkPointIDs(t *testing.T) {
	docID := NewDocumentID()
	ids := ChunkPointIDs(docID, 5)

	require.Len(t, ids, 5)
	seen := make(map[uint64]bool, len(ids))
	for i, id := range ids {
		assert.Equal(t, ChunkPointID(docID, i), id)
		assert.False(t, seen[id], "duplicate point id at ordinal %d", i)
		seen[id] = true
	}
}
