package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

func TestNewOllamaClient_Defaults(t *testing.T) {
	c, err := NewOllamaClient(OllamaConfig{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", c.baseURL)
	assert.Equal(t, "ollama", c.Name())
}

func TestOllamaClient_Complete(t *testing.T) {
	t.Run("parses content and token counts", func(t *testing.T) {
		var gotReq ollamaChatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			resp := ollamaChatResponse{
				Model:           "llama3.2",
				Message:         ollamaChatMessage{Role: "assistant", Content: "Radwege ausbauen."},
				Done:            true,
				PromptEvalCount: 12,
				EvalCount:       5,
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		}))
		defer server.Close()

		c, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		result, err := c.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "Was tun?"}},
			Options{Model: "llama3.2", Temperature: 0.7, MaxTokens: 64},
		)
		require.NoError(t, err)

		assert.Equal(t, "Radwege ausbauen.", result.Content)
		assert.Equal(t, 17, result.TokensUsed)

		assert.Equal(t, "llama3.2", gotReq.Model)
		assert.False(t, gotReq.Stream)
		require.NotNil(t, gotReq.Options)
		assert.Equal(t, 0.7, gotReq.Options.Temperature)
		assert.Equal(t, 64, gotReq.Options.NumPredict)
	})

	t.Run("json mode sets format", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req ollamaChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "json", req.Format)

			resp := ollamaChatResponse{
				Message: ollamaChatMessage{Role: "assistant", Content: `{"sub_questions":[]}`},
				Done:    true,
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		}))
		defer server.Close()

		c, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		result, err := c.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "json bitte"}},
			Options{Model: "llama3.2", JSONMode: true},
		)
		require.NoError(t, err)
		assert.JSONEq(t, `{"sub_questions":[]}`, result.Content)
	})

	t.Run("parses tool calls with map arguments", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := `{
				"model": "llama3.2",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"function": {"name": "pick_results", "arguments": {"indices": [0, 2]}}}
					]
				},
				"done": true
			}`
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}))
		defer server.Close()

		c, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		result, err := c.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "wähle"}},
			Options{Model: "llama3.2", Tools: []Tool{{Name: "pick_results"}}},
		)
		require.NoError(t, err)

		require.Len(t, result.ToolCalls, 1)
		assert.Equal(t, "pick_results", result.ToolCalls[0].Name)
		assert.Contains(t, result.ToolCalls[0].Arguments, "indices")
	})

	t.Run("missing model maps to not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
		}))
		defer server.Close()

		c, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "hi"}}, Options{Model: "nope"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.NotFound))
	})

	t.Run("unreachable server is transient", func(t *testing.T) {
		c, err := NewOllamaClient(OllamaConfig{BaseURL: "http://127.0.0.1:1"})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(),
			[]Message{{Role: RoleUser, Content: "hi"}}, Options{Model: "llama3.2"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.Transient))
	})
}
