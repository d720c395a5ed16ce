package documents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/vectorindex"
)

const testCollection = "chunks_test"

const missingID = "3f1c2a9e-0000-4000-8000-000000000000"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

// recordingTextIndex is a TextIndexWriter that remembers deletions.
type recordingTextIndex struct {
	deleted []string
	err     error
}

func (r *recordingTextIndex) IndexChunks(context.Context, string, []vectorindex.ChunkRecord) error {
	return nil
}

func (r *recordingTextIndex) DeleteDocument(_ context.Context, _ string, documentID string) error {
	if r.err != nil {
		return r.err
	}
	r.deleted = append(r.deleted, documentID)
	return nil
}

type docsEnv struct {
	svc   *Service
	db    *gorm.DB
	index *vectorindex.MemoryIndex
}

func newDocsEnv(t *testing.T, mutate func(*Config)) *docsEnv {
	t.Helper()
	db := newTestDB(t)
	index := vectorindex.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), testCollection, 4))

	cfg := Config{
		DB:         db,
		Index:      index,
		Collection: testCollection,
		Logger:     hclog.NewNullLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return &docsEnv{svc: svc, db: db, index: index}
}

// seedDocument inserts a document row and indexes one chunk per text.
// Status defaults to completed.
func seedDocument(t *testing.T, env *docsEnv, doc models.Document, chunks ...string) *models.Document {
	t.Helper()
	if doc.Status == "" {
		doc.Status = models.DocumentStatusCompleted
	}
	doc.VectorCount = len(chunks)
	require.NoError(t, doc.Create(env.db))

	records := make([]vectorindex.ChunkRecord, 0, len(chunks))
	for i, text := range chunks {
		records = append(records, vectorindex.ChunkRecord{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			ChunkIndex: i,
			Text:       text,
			Title:      doc.Title,
			Filename:   doc.Filename,
			SourceType: doc.SourceType,
			Vector:     []float32{1, 0, 0, 0},
		})
	}
	if len(records) > 0 {
		require.NoError(t, env.index.Upsert(context.Background(), testCollection, records))
	}
	return &doc
}

func TestNewValidatesConfig(t *testing.T) {
	db := newTestDB(t)
	index := vectorindex.NewMemoryIndex()

	_, err := New(Config{Index: index, Collection: testCollection})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = New(Config{DB: db, Collection: testCollection})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	_, err = New(Config{DB: db, Index: index})
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestGetFullTextJoinsChunksInOrder(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{
		OwnerID:  "user-1",
		Title:    "Antrag Radverkehr",
		Filename: "antrag.pdf",
		Metadata: models.JSONMap{"source_url": "https://beispiel.de/antrag"},
	}, "Erster Abschnitt.", "Zweiter Abschnitt.", "Dritter Abschnitt.")

	text, err := env.svc.GetFullText(context.Background(), "user-1", doc.ID)
	require.NoError(t, err)

	assert.Equal(t, doc.ID, text.DocumentID)
	assert.Equal(t, "Antrag Radverkehr", text.Title)
	assert.Equal(t, "antrag.pdf", text.Filename)
	assert.Equal(t, models.SourceTypeUpload, text.SourceType)
	assert.Equal(t, "Erster Abschnitt.\n\nZweiter Abschnitt.\n\nDritter Abschnitt.", text.FullText)
	assert.Equal(t, 3, text.ChunkCount)
	assert.Equal(t, "https://beispiel.de/antrag", text.Metadata["source_url"])
}

func TestGetFullTextCanonicalizesID(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	text, err := env.svc.GetFullText(context.Background(), "user-1", strings.ToUpper(doc.ID))
	require.NoError(t, err)
	assert.Equal(t, doc.ID, text.DocumentID)
}

func TestGetFullTextValidation(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	_, err := env.svc.GetFullText(context.Background(), "", doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	assert.Contains(t, err.Error(), "owner")

	_, err = env.svc.GetFullText(context.Background(), "user-1", "not-a-uuid")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	assert.Contains(t, err.Error(), "invalid document id")

	_, err = env.svc.GetFullText(context.Background(), "user-1", "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestGetFullTextUnknownAndForeignDocuments(t *testing.T) {
	env := newDocsEnv(t, nil)
	foreign := seedDocument(t, env, models.Document{OwnerID: "user-2", Title: "Fremd"}, "Geheim.")

	_, err := env.svc.GetFullText(context.Background(), "user-1", missingID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Contains(t, err.Error(), "not found")

	// Foreign rows look exactly like absent ones.
	_, err = env.svc.GetFullText(context.Background(), "user-1", foreign.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Contains(t, err.Error(), "not found")
}

func TestGetFullTextNotReady(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{
		OwnerID: "user-1",
		Title:   "In Arbeit",
		Status:  models.DocumentStatusPending,
	})

	_, err := env.svc.GetFullText(context.Background(), "user-1", doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Contains(t, err.Error(), "status pending")
}

func TestGetFullTextMissingChunks(t *testing.T) {
	env := newDocsEnv(t, nil)
	// Completed row whose chunks are gone from the index.
	doc := seedDocument(t, env, models.Document{
		OwnerID: "user-1",
		Title:   "Leer",
		Status:  models.DocumentStatusCompleted,
	})

	_, err := env.svc.GetFullText(context.Background(), "user-1", doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Contains(t, err.Error(), "no indexed chunks")
}

func TestGetMultipleFullTextsIsolatesFailures(t *testing.T) {
	env := newDocsEnv(t, nil)
	first := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Erstes"}, "Inhalt eins.")
	second := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Zweites"}, "Inhalt zwei.")
	foreign := seedDocument(t, env, models.Document{OwnerID: "user-2", Title: "Fremd"}, "Geheim.")

	res, err := env.svc.GetMultipleFullTexts(context.Background(), "user-1",
		[]string{first.ID, missingID, second.ID, foreign.ID, "not-a-uuid"})
	require.NoError(t, err)

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "Erstes", res.Documents[0].Title)
	assert.Equal(t, "Zweites", res.Documents[1].Title)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, missingID, res.Errors[0].DocumentID)
	assert.Contains(t, res.Errors[0].Message, "not found")
	assert.Equal(t, foreign.ID, res.Errors[1].DocumentID)
	assert.Contains(t, res.Errors[1].Message, "not found")
	assert.Equal(t, "not-a-uuid", res.Errors[2].DocumentID)
	assert.Contains(t, res.Errors[2].Message, "invalid document id")
}

func TestGetMultipleFullTextsEmpty(t *testing.T) {
	env := newDocsEnv(t, nil)

	res, err := env.svc.GetMultipleFullTexts(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Empty(t, res.Errors)

	_, err = env.svc.GetMultipleFullTexts(context.Background(), "", []string{missingID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestGetMultipleFullTextsCancelled(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.svc.GetMultipleFullTexts(ctx, "user-1", []string{doc.ID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
	assert.Nil(t, res)
}

func TestDeleteRemovesChunksRowAndOutbox(t *testing.T) {
	mirror := &recordingTextIndex{}
	env := newDocsEnv(t, func(cfg *Config) { cfg.TextIndex = mirror })
	ctx := context.Background()

	doomed := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Antrag Radverkehr"},
		"Erster Teil.", "Zweiter Teil.")
	kept := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht Energie"},
		"Anderer Inhalt.")

	require.NoError(t, env.svc.Delete(ctx, "user-1", doomed.ID))

	_, err := models.GetDocumentForOwner(env.db, "user-1", doomed.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	records := env.index.Records(testCollection)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].DocumentID)

	assert.Equal(t, []string{doomed.ID}, mirror.deleted)

	var events []models.DocumentEvent
	require.NoError(t, env.db.Where("document_id = ?", doomed.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.DocumentEventDeleted, events[0].EventType)
	assert.Equal(t, models.EventStatusPending, events[0].Status)
	assert.Equal(t, "user-1", events[0].OwnerID)
	assert.Equal(t, "Antrag Radverkehr", events[0].Payload["title"])

	// The document is gone, deleting it again reports that.
	err = env.svc.Delete(ctx, "user-1", doomed.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestDeleteScopedToOwner(t *testing.T) {
	env := newDocsEnv(t, nil)
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	err := env.svc.Delete(context.Background(), "user-2", doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	_, err = models.GetDocumentForOwner(env.db, "user-1", doc.ID)
	assert.NoError(t, err)
	assert.Len(t, env.index.Records(testCollection), 1)
}

func TestDeleteKeepsRowWhenChunkDeleteFails(t *testing.T) {
	env := newDocsEnv(t, nil)
	ctx := context.Background()
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	env.index.DeleteErr = errors.New("qdrant unavailable")
	err := env.svc.Delete(ctx, "user-1", doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Transient))

	// Row and chunks survive so a retry still sees the document.
	_, err = models.GetDocumentForOwner(env.db, "user-1", doc.ID)
	require.NoError(t, err)
	var events []models.DocumentEvent
	require.NoError(t, env.db.Where("document_id = ?", doc.ID).Find(&events).Error)
	assert.Empty(t, events)

	env.index.DeleteErr = nil
	require.NoError(t, env.svc.Delete(ctx, "user-1", doc.ID))
	assert.Empty(t, env.index.Records(testCollection))
}

func TestDeleteSurvivesMirrorFailure(t *testing.T) {
	mirror := &recordingTextIndex{err: errors.New("meilisearch down")}
	env := newDocsEnv(t, func(cfg *Config) { cfg.TextIndex = mirror })
	doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Bericht"}, "Inhalt.")

	require.NoError(t, env.svc.Delete(context.Background(), "user-1", doc.ID))

	_, err := models.GetDocumentForOwner(env.db, "user-1", doc.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestBulkDeleteIsolatesFailures(t *testing.T) {
	env := newDocsEnv(t, nil)
	first := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Erstes"}, "Eins.")
	second := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: "Zweites"}, "Zwei.")

	res, err := env.svc.BulkDelete(context.Background(), "user-1",
		[]string{first.ID, missingID, second.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID, second.ID}, res.Deleted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, missingID, res.Errors[0].DocumentID)
	assert.Contains(t, res.Errors[0].Message, "not found")

	assert.Empty(t, env.index.Records(testCollection))

	_, err = env.svc.BulkDelete(context.Background(), "", []string{first.ID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestListScopesToOwner(t *testing.T) {
	env := newDocsEnv(t, nil)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	titles := []string{"Ältestes", "Mittleres", "Neuestes"}
	for i, title := range titles {
		doc := seedDocument(t, env, models.Document{OwnerID: "user-1", Title: title}, "Inhalt.")
		require.NoError(t, env.db.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	seedDocument(t, env, models.Document{OwnerID: "user-2", Title: "Fremd"}, "Geheim.")

	docs, err := env.svc.List(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "Neuestes", docs[0].Title)
	assert.Equal(t, "Mittleres", docs[1].Title)
	assert.Equal(t, "Ältestes", docs[2].Title)

	docs, err = env.svc.List(context.Background(), "user-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Neuestes", docs[0].Title)

	docs, err = env.svc.List(context.Background(), "user-1", 2, 1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Mittleres", docs[0].Title)

	_, err = env.svc.List(context.Background(), "", 0, 0)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}
