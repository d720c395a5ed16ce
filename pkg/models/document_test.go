package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDocument_Create(t *testing.T) {
	t.Run("assigns ID and defaults", func(t *testing.T) {
		db := newTestDB(t)

		doc := &Document{
			OwnerID: "user-1",
			Title:   "Wahlprogramm 2025",
		}
		require.NoError(t, doc.Create(db))

		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, DocumentStatusPending, doc.Status)
		assert.Equal(t, SourceTypeUpload, doc.SourceType)
	})

	t.Run("requires owner", func(t *testing.T) {
		db := newTestDB(t)

		doc := &Document{Title: "orphan"}
		err := doc.Create(db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation error")
	})

	t.Run("requires title", func(t *testing.T) {
		db := newTestDB(t)

		doc := &Document{OwnerID: "user-1"}
		assert.Error(t, doc.Create(db))
	})

	t.Run("rejects unknown source type", func(t *testing.T) {
		db := newTestDB(t)

		doc := &Document{
			OwnerID:    "user-1",
			Title:      "bad source",
			SourceType: "carrier_pigeon",
		}
		assert.Error(t, doc.Create(db))
	})

	t.Run("accepts all known source types", func(t *testing.T) {
		db := newTestDB(t)

		for _, st := range ValidSourceTypes() {
			doc := &Document{
				OwnerID:    "user-1",
				Title:      fmt.Sprintf("doc %v", st),
				SourceType: st.(string),
			}
			assert.NoError(t, doc.Create(db))
		}
	})
}

func TestGetDocumentForOwner(t *testing.T) {
	db := newTestDB(t)

	doc := &Document{OwnerID: "alice", Title: "Antrag Radverkehr"}
	require.NoError(t, doc.Create(db))

	t.Run("returns own document", func(t *testing.T) {
		got, err := GetDocumentForOwner(db, "alice", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
		assert.Equal(t, "Antrag Radverkehr", got.Title)
	})

	t.Run("foreign owner sees not found", func(t *testing.T) {
		_, err := GetDocumentForOwner(db, "mallory", doc.ID)
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := GetDocumentForOwner(db, "alice", "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	})
}

func TestListDocumentsForOwner(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		doc := &Document{OwnerID: "alice", Title: fmt.Sprintf("doc-%d", i)}
		require.NoError(t, doc.Create(db))
	}
	other := &Document{OwnerID: "bob", Title: "not yours"}
	require.NoError(t, other.Create(db))

	t.Run("only own documents", func(t *testing.T) {
		docs, err := ListDocumentsForOwner(db, "alice", 0, 0)
		require.NoError(t, err)
		assert.Len(t, docs, 5)
		for _, d := range docs {
			assert.Equal(t, "alice", d.OwnerID)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		docs, err := ListDocumentsForOwner(db, "alice", 2, 0)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		rest, err := ListDocumentsForOwner(db, "alice", 10, 4)
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})
}

func TestDocumentLifecycle(t *testing.T) {
	db := newTestDB(t)

	doc := &Document{OwnerID: "alice", Title: "lifecycle"}
	require.NoError(t, doc.Create(db))

	t.Run("status advances", func(t *testing.T) {
		require.NoError(t, SetDocumentStatus(db, doc.ID, DocumentStatusProcessing))
		got, err := GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, DocumentStatusProcessing, got.Status)
		assert.False(t, got.IsTerminal())
	})

	t.Run("complete records vector count and metadata", func(t *testing.T) {
		meta := JSONMap{"extraction_method": "direct", "word_count": float64(420)}
		require.NoError(t, CompleteDocument(db, doc.ID, 17, meta))

		got, err := GetDocument(db, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, DocumentStatusCompleted, got.Status)
		assert.Equal(t, 17, got.VectorCount)
		assert.Empty(t, got.ProcessingError)
		assert.Equal(t, "direct", got.Metadata.GetString("extraction_method"))
		assert.True(t, got.IsCompleted())
		assert.True(t, got.IsTerminal())
	})

	t.Run("fail records reason", func(t *testing.T) {
		failing := &Document{OwnerID: "alice", Title: "broken"}
		require.NoError(t, failing.Create(db))
		require.NoError(t, FailDocument(db, failing.ID, "no extractable text"))

		got, err := GetDocument(db, failing.ID)
		require.NoError(t, err)
		assert.Equal(t, DocumentStatusFailed, got.Status)
		assert.Equal(t, "no extractable text", got.ProcessingError)
		assert.False(t, got.IsCompleted())
		assert.True(t, got.IsTerminal())
	})

	t.Run("complete clears previous error", func(t *testing.T) {
		retried := &Document{OwnerID: "alice", Title: "retry"}
		require.NoError(t, retried.Create(db))
		require.NoError(t, FailDocument(db, retried.ID, "timeout"))
		require.NoError(t, CompleteDocument(db, retried.ID, 3, nil))

		got, err := GetDocument(db, retried.ID)
		require.NoError(t, err)
		assert.Equal(t, DocumentStatusCompleted, got.Status)
		assert.Empty(t, got.ProcessingError)
	})
}

func TestDeleteDocumentForOwner(t *testing.T) {
	db := newTestDB(t)

	doc := &Document{OwnerID: "alice", Title: "to delete"}
	require.NoError(t, doc.Create(db))

	t.Run("foreign owner deletes nothing", func(t *testing.T) {
		n, err := DeleteDocumentForOwner(db, "mallory", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("owner deletes the row", func(t *testing.T) {
		n, err := DeleteDocumentForOwner(db, "alice", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = GetDocument(db, doc.ID)
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	})
}
