//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/migrate"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/encryption"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

// startPostgres runs a postgres container, applies the migrations, and
// returns a gorm handle plus the raw connection.
func startPostgres(t *testing.T, ctx context.Context) (*gorm.DB, *sql.DB) {
	t.Helper()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gruenerator"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.PingContext(ctx))

	require.NoError(t, migrate.RunMigrations(sqlDB, "postgres"))

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, sqlDB
}

func TestMigrations_UpStatusDownUp(t *testing.T) {
	ctx := context.Background()
	_, sqlDB := startPostgres(t, ctx)

	version, dirty, err := migrate.Version(sqlDB, "postgres")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Greater(t, version, uint(0))

	// Roll the last migration back and forward again.
	require.NoError(t, migrate.RollbackLast(sqlDB, "postgres"))
	rolledBack, _, err := migrate.Version(sqlDB, "postgres")
	require.NoError(t, err)
	assert.Less(t, rolledBack, version)

	require.NoError(t, migrate.RunMigrations(sqlDB, "postgres"))
	final, dirty, err := migrate.Version(sqlDB, "postgres")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, version, final)
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	db, _ := startPostgres(t, ctx)

	doc := &models.Document{
		OwnerID:    "user-1",
		Title:      "Kommunalpolitisches Programm",
		Filename:   "programm.pdf",
		SourceType: models.SourceTypeUpload,
		FileSize:   2048,
	}
	require.NoError(t, doc.Create(db))
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, models.DocumentStatusPending, doc.Status)

	// Walk the lifecycle the ingestion pipeline walks.
	require.NoError(t, models.SetDocumentStatus(db, doc.ID, models.DocumentStatusProcessing))
	require.NoError(t, models.SetDocumentStatus(db, doc.ID, models.DocumentStatusProcessingEmbeddings))
	require.NoError(t, models.CompleteDocument(db, doc.ID, 12, models.JSONMap{
		"extraction_method": "pdf",
		"word_count":        float64(3400),
	}))

	got, err := models.GetDocumentForOwner(db, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCompleted, got.Status)
	assert.Equal(t, 12, got.VectorCount)
	assert.Equal(t, "pdf", got.Metadata["extraction_method"])
	assert.True(t, got.IsCompleted())

	// Owner scoping: another owner sees nothing.
	_, err = models.GetDocumentForOwner(db, "user-2", doc.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	listed, err := models.ListDocumentsForOwner(db, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	rows, err := models.DeleteDocumentForOwner(db, "user-1", doc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)
}

func TestDocumentEventOutbox(t *testing.T) {
	ctx := context.Background()
	db, _ := startPostgres(t, ctx)

	doc := &models.Document{
		OwnerID:    "user-1",
		Title:      "Antrag Radwege",
		SourceType: models.SourceTypeManualText,
	}
	require.NoError(t, doc.Create(db))

	event := models.NewDocumentEvent(doc, models.DocumentEventCompleted)
	require.NoError(t, db.Create(event).Error)

	pending, err := models.FindPendingDocumentEvents(db, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, doc.ID, pending[0].DocumentID)

	require.NoError(t, pending[0].MarkAsPublished(db))

	pending, err = models.FindPendingDocumentEvents(db, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	published, err := models.CountDocumentEventsByStatus(db, models.EventStatusPublished)
	require.NoError(t, err)
	assert.EqualValues(t, 1, published)
}

func TestSavedTextRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, _ := startPostgres(t, ctx)

	key := make([]byte, encryption.KeySize)
	svc, err := encryption.NewService(key, nil)
	require.NoError(t, err)

	env, err := svc.EncryptField("Sehr geehrte Damen und Herren, ...")
	require.NoError(t, err)

	row := &models.SavedText{
		OwnerID: "user-1",
		Title:   "Pressemitteilung Entwurf",
		Content: models.NewEncryptedField(env),
	}
	require.NoError(t, row.Create(db))

	got, err := models.GetSavedTextForOwner(db, "user-1", row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pressemitteilung Entwurf", got.Title)

	plain, err := svc.DecryptField(got.Content.Envelope())
	require.NoError(t, err)
	assert.Equal(t, "Sehr geehrte Damen und Herren, ...", plain)
}
