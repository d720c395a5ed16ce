package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an in-memory SQLite database with all models
// migrated. No external database needed.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(ModelsToAutoMigrate()...))
	return db
}

func TestJSONMap_ValueAndScan(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := JSONMap{
			"extraction_method": "direct",
			"word_count":        float64(120),
		}

		v, err := in.Value()
		require.NoError(t, err)

		var out JSONMap
		require.NoError(t, out.Scan(v))
		assert.Equal(t, in, out)
	})

	t.Run("nil map stores NULL", func(t *testing.T) {
		var in JSONMap
		v, err := in.Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("scan NULL yields nil map", func(t *testing.T) {
		out := JSONMap{"stale": true}
		require.NoError(t, out.Scan(nil))
		assert.Nil(t, out)
	})

	t.Run("scan string value", func(t *testing.T) {
		var out JSONMap
		require.NoError(t, out.Scan(`{"source_url":"https://example.org"}`))
		assert.Equal(t, "https://example.org", out.GetString("source_url"))
	})

	t.Run("scan rejects invalid JSON", func(t *testing.T) {
		var out JSONMap
		assert.Error(t, out.Scan([]byte("{not json")))
	})

	t.Run("scan rejects unsupported type", func(t *testing.T) {
		var out JSONMap
		assert.Error(t, out.Scan(42))
	})
}

func TestJSONMap_Merge(t *testing.T) {
	base := JSONMap{
		"title": "old",
		"stats": map[string]interface{}{
			"pages": 3,
			"words": 100,
		},
		"tags": []interface{}{"a", "b"},
	}

	merged := base.Merge(map[string]interface{}{
		"title": "new",
		"stats": map[string]interface{}{"words": 200},
		"tags":  []interface{}{"c"},
	})

	// Scalars replace
	assert.Equal(t, "new", merged["title"])

	// Maps merge one level deep
	stats := merged["stats"].(map[string]interface{})
	assert.Equal(t, 3, stats["pages"])
	assert.Equal(t, 200, stats["words"])

	// Lists replace wholesale
	assert.Equal(t, []interface{}{"c"}, merged["tags"])

	// Original untouched
	assert.Equal(t, "old", base["title"])
}

func TestJSONMap_GetString(t *testing.T) {
	m := JSONMap{"url": "https://gruene.de", "count": float64(5)}
	assert.Equal(t, "https://gruene.de", m.GetString("url"))
	assert.Equal(t, "", m.GetString("count"))
	assert.Equal(t, "", m.GetString("missing"))

	var nilMap JSONMap
	assert.Equal(t, "", nilMap.GetString("url"))
}
