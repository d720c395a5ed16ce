package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

func TestClientFactory_DetectProvider(t *testing.T) {
	f := NewClientFactory(ClientFactoryConfig{})

	tests := []struct {
		model    string
		provider string
	}{
		{"gpt-4o", "openai"},
		{"gpt-4o-mini", "openai"},
		{"o1-preview", "openai"},
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", "bedrock"},
		{"us.anthropic.claude-3-7-sonnet-20250219-v1:0", "bedrock"},
		{"eu.anthropic.claude-3-5-sonnet-20241022-v2:0", "bedrock"},
		{"amazon.titan-text-express-v1", "bedrock"},
		{"claude-3-haiku", "bedrock"},
		{"llama3.2", "ollama"},
		{"mistral", "ollama"},
		{"qwen2", "ollama"},
		{"gemma2", "ollama"},
		{"phi3", "ollama"},
		{"some-unknown-model", "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.provider, f.detectProvider(tt.model))
		})
	}
}

func TestClientFactory_GetClient(t *testing.T) {
	t.Run("openai requires api key", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{})
		_, err := f.GetClient(context.Background(), "gpt-4o")
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	})

	t.Run("openai with key", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{OpenAIAPIKey: "sk-test"})
		c, err := f.GetClient(context.Background(), "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "openai", c.Name())
	})

	t.Run("ollama needs no credentials", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{OllamaURL: "http://ollama.internal:11434"})
		c, err := f.GetClient(context.Background(), "llama3.2")
		require.NoError(t, err)
		assert.Equal(t, "ollama", c.Name())
	})
}

func TestClientFactory_ValidateConfig(t *testing.T) {
	t.Run("missing openai key fails", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{})
		assert.Error(t, f.ValidateConfig("gpt-4o"))
	})

	t.Run("bedrock passes without explicit credentials", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{})
		assert.NoError(t, f.ValidateConfig("anthropic.claude-3-haiku-20240307-v1:0"))
	})

	t.Run("ollama passes without credentials", func(t *testing.T) {
		f := NewClientFactory(ClientFactoryConfig{})
		assert.NoError(t, f.ValidateConfig("llama3.2"))
	})
}

func TestMockClient(t *testing.T) {
	t.Run("replays queued outcomes in order", func(t *testing.T) {
		m := NewMockClient().
			QueueContent("erste Antwort").
			QueueTransientError("flaky").
			QueueToolCall("plan_queries", map[string]interface{}{"queries": []string{"a"}})

		r1, err := m.Complete(context.Background(), nil, Options{})
		require.NoError(t, err)
		assert.Equal(t, "erste Antwort", r1.Content)

		_, err = m.Complete(context.Background(), nil, Options{})
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))

		r3, err := m.Complete(context.Background(), nil, Options{})
		require.NoError(t, err)
		require.Len(t, r3.ToolCalls, 1)
		assert.Equal(t, "plan_queries", r3.ToolCalls[0].Name)

		assert.Equal(t, 3, m.CallCount())
	})

	t.Run("falls back to canned completion", func(t *testing.T) {
		m := NewMockClient()
		r, err := m.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "hallo"}}, Options{Model: "x"})
		require.NoError(t, err)
		assert.Equal(t, "mock completion", r.Content)

		last := m.LastCall()
		require.NotNil(t, last)
		assert.Equal(t, "x", last.Options.Model)
	})
}

func TestDecodeToolArguments(t *testing.T) {
	type planArgs struct {
		Queries []string `json:"queries"`
		Count   int      `json:"count"`
	}

	t.Run("decodes typed arguments", func(t *testing.T) {
		call := ToolCall{
			Name: "plan_queries",
			Arguments: map[string]interface{}{
				"queries": []interface{}{"a", "b"},
				"count":   float64(2),
			},
		}

		var args planArgs
		require.NoError(t, DecodeToolArguments(call, &args))
		assert.Equal(t, []string{"a", "b"}, args.Queries)
		assert.Equal(t, 2, args.Count)
	})

	t.Run("weak typing tolerates numeric strings", func(t *testing.T) {
		call := ToolCall{
			Name:      "plan_queries",
			Arguments: map[string]interface{}{"count": "3"},
		}

		var args planArgs
		require.NoError(t, DecodeToolArguments(call, &args))
		assert.Equal(t, 3, args.Count)
	})
}

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema(map[string]interface{}{
		"query": StringProperty("the query"),
		"limit": IntProperty("max results"),
		"tags":  StringArrayProperty("tags"),
	}, "query")

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"query"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	assert.Len(t, props, 3)
}
