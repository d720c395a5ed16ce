package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to ollama", func(t *testing.T) {
		p, err := NewProvider(ctx, FactoryConfig{})
		require.NoError(t, err)
		_, ok := p.(*OllamaProvider)
		require.True(t, ok)
		assert.Equal(t, "nomic-embed-text", p.ModelName())
	})

	t.Run("ollama with model override", func(t *testing.T) {
		p, err := NewProvider(ctx, FactoryConfig{
			Provider: "ollama",
			Model:    "mxbai-embed-large",
		})
		require.NoError(t, err)
		assert.Equal(t, "mxbai-embed-large", p.ModelName())
		assert.Equal(t, 1024, p.Dimension())
	})

	t.Run("openai", func(t *testing.T) {
		p, err := NewProvider(ctx, FactoryConfig{
			Provider: "openai",
			APIKey:   "sk-test",
		})
		require.NoError(t, err)
		_, ok := p.(*OpenAIProvider)
		require.True(t, ok)
		assert.Equal(t, "text-embedding-3-small", p.ModelName())
	})

	t.Run("openai requires API key", func(t *testing.T) {
		_, err := NewProvider(ctx, FactoryConfig{Provider: "openai"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	})

	t.Run("provider name is case insensitive", func(t *testing.T) {
		p, err := NewProvider(ctx, FactoryConfig{
			Provider: "OpenAI",
			APIKey:   "sk-test",
		})
		require.NoError(t, err)
		_, ok := p.(*OpenAIProvider)
		assert.True(t, ok)
	})

	t.Run("mock", func(t *testing.T) {
		p, err := NewProvider(ctx, FactoryConfig{
			Provider:  "mock",
			Dimension: 16,
		})
		require.NoError(t, err)
		_, ok := p.(*MockProvider)
		require.True(t, ok)
		assert.Equal(t, 16, p.Dimension())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(ctx, FactoryConfig{Provider: "cohere"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
		assert.Contains(t, err.Error(), "cohere")
	})
}
