package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestNormalize(t *testing.T) {
	t.Run("scales to unit length", func(t *testing.T) {
		vec := Normalize([]float32{3, 4})
		assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6)
		assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)
	})

	t.Run("unit vector stays put", func(t *testing.T) {
		vec := Normalize([]float32{1, 0, 0})
		assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6)
		assert.Equal(t, float32(1), vec[0])
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		vec := Normalize([]float32{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, vec)
	})
}

func TestGetModelConfig(t *testing.T) {
	t.Run("known model", func(t *testing.T) {
		cfg := GetModelConfig("text-embedding-3-small")
		assert.Equal(t, 1536, cfg.Dimension)
	})

	t.Run("unknown model gets defaults", func(t *testing.T) {
		cfg := GetModelConfig("never-heard-of-it")
		assert.Equal(t, 768, cfg.Dimension)
		assert.Greater(t, cfg.MaxChunkTokens, 0)
	})
}

func TestMockProvider(t *testing.T) {
	t.Run("deterministic unit vectors", func(t *testing.T) {
		m := NewMockProvider(16)

		v1, err := m.Embed(context.Background(), "Radverkehr in Kommunen")
		require.NoError(t, err)
		v2, err := m.Embed(context.Background(), "Radverkehr in Kommunen")
		require.NoError(t, err)
		v3, err := m.Embed(context.Background(), "etwas ganz anderes")
		require.NoError(t, err)

		assert.Equal(t, v1, v2, "same text embeds identically")
		assert.NotEqual(t, v1, v3, "different texts differ")
		assert.InDelta(t, 1.0, vectorNorm(v1), 1e-5)
		assert.Len(t, v1, 16)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		m := NewMockProvider(8)

		texts := []string{"erster", "zweiter", "dritter"}
		vecs, err := m.EmbedBatch(context.Background(), texts)
		require.NoError(t, err)
		require.Len(t, vecs, 3)

		for i, text := range texts {
			single, err := m.Embed(context.Background(), text)
			require.NoError(t, err)
			assert.Equal(t, single, vecs[i], "batch position %d matches single embed", i)
		}
	})

	t.Run("fail next", func(t *testing.T) {
		m := NewMockProvider(8).FailNextTransient()

		_, err := m.Embed(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))

		_, err = m.Embed(context.Background(), "x")
		assert.NoError(t, err, "failure is consumed")
	})

	t.Run("records embedded texts", func(t *testing.T) {
		m := NewMockProvider(8)
		_, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, m.EmbeddedTexts)
	})
}
