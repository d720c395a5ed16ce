package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// fakeOllama returns a server that echoes a vector derived from the
// prompt so order can be asserted.
func fakeOllama(t *testing.T, dimension int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float64, dimension)
		vec[0] = float64(len(req.Prompt))
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: vec}))
	}))
}

func TestOllamaProvider_Embed(t *testing.T) {
	server := fakeOllama(t, 4, nil)
	defer server.Close()

	p := NewOllamaProvider(OllamaEmbeddingConfig{BaseURL: server.URL, Dimension: 4})

	vec, err := p.Embed(context.Background(), "hallo")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6, "vectors are normalized")
}

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	t.Run("preserves order under concurrency", func(t *testing.T) {
		var calls atomic.Int32
		server := fakeOllama(t, 4, &calls)
		defer server.Close()

		p := NewOllamaProvider(OllamaEmbeddingConfig{
			BaseURL:     server.URL,
			Dimension:   4,
			Concurrency: 3,
		})

		// Distinct lengths let us verify position from the fake's echo.
		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		vecs, err := p.EmbedBatch(context.Background(), texts)
		require.NoError(t, err)
		require.Len(t, vecs, 5)
		assert.Equal(t, int32(5), calls.Load())

		// All vectors are (len, 0, 0, 0) normalized, so position i must
		// carry a nonzero first component.
		for i, vec := range vecs {
			assert.InDelta(t, 1.0, float64(vec[0]), 1e-6, "position %d", i)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		p := NewOllamaProvider(OllamaEmbeddingConfig{})
		vecs, err := p.EmbedBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})

	t.Run("one failure fails the batch", func(t *testing.T) {
		var n atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n.Add(1) == 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{1, 0}}))
		}))
		defer server.Close()

		p := NewOllamaProvider(OllamaEmbeddingConfig{
			BaseURL:     server.URL,
			Dimension:   2,
			Concurrency: 1,
			MaxRetries:  -1,
		})

		_, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))
	})
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider(OllamaEmbeddingConfig{})
	assert.Equal(t, "nomic-embed-text", p.ModelName())
	assert.Equal(t, 768, p.Dimension())
}
