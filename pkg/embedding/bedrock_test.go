package embedding

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

type mockInvokeAPI struct {
	mu     sync.Mutex
	inputs []*bedrockruntime.InvokeModelInput
	body   []byte
	err    error
}

func (m *mockInvokeAPI) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, params)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: m.body}, nil
}

func titanBody(t *testing.T, dim int) []byte {
	t.Helper()
	vec := make([]float64, dim)
	vec[0] = 1
	body, err := json.Marshal(titanEmbeddingResponse{Embedding: vec, InputTextTokenCount: 7})
	require.NoError(t, err)
	return body
}

func TestBedrockProvider_Embed(t *testing.T) {
	t.Run("titan v2 request shape", func(t *testing.T) {
		mock := &mockInvokeAPI{body: titanBody(t, 1024)}
		p := newBedrockProvider(mock, BedrockEmbeddingConfig{})

		vec, err := p.Embed(context.Background(), "Solarpflicht")
		require.NoError(t, err)
		assert.Len(t, vec, 1024)
		assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6)

		require.Len(t, mock.inputs, 1)
		input := mock.inputs[0]
		assert.Equal(t, "amazon.titan-embed-text-v2:0", aws.ToString(input.ModelId))
		assert.Equal(t, "application/json", aws.ToString(input.ContentType))

		var req titanEmbeddingRequest
		require.NoError(t, json.Unmarshal(input.Body, &req))
		assert.Equal(t, "Solarpflicht", req.InputText)
		assert.Equal(t, 1024, req.Dimensions)
		require.NotNil(t, req.Normalize)
		assert.True(t, *req.Normalize)
	})

	t.Run("titan v1 omits v2 parameters", func(t *testing.T) {
		mock := &mockInvokeAPI{body: titanBody(t, 1536)}
		p := newBedrockProvider(mock, BedrockEmbeddingConfig{
			Model:     "amazon.titan-embed-text-v1",
			Dimension: 1536,
		})

		_, err := p.Embed(context.Background(), "text")
		require.NoError(t, err)

		var req titanEmbeddingRequest
		require.NoError(t, json.Unmarshal(mock.inputs[0].Body, &req))
		assert.Zero(t, req.Dimensions)
		assert.Nil(t, req.Normalize)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		p := newBedrockProvider(&mockInvokeAPI{}, BedrockEmbeddingConfig{})
		_, err := p.Embed(context.Background(), "")
		assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	})

	t.Run("dimension mismatch is permanent", func(t *testing.T) {
		mock := &mockInvokeAPI{body: titanBody(t, 256)}
		p := newBedrockProvider(mock, BedrockEmbeddingConfig{MaxRetries: -1})

		_, err := p.Embed(context.Background(), "text")
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.Permanent))
		assert.Contains(t, err.Error(), "dimension mismatch")
	})

	t.Run("throttling surfaces transient", func(t *testing.T) {
		mock := &mockInvokeAPI{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
		p := newBedrockProvider(mock, BedrockEmbeddingConfig{MaxRetries: -1})

		_, err := p.Embed(context.Background(), "text")
		require.Error(t, err)
		assert.True(t, apperr.IsTransient(err))
		assert.Len(t, mock.inputs, 1)
	})

	t.Run("access denied is unauthorized", func(t *testing.T) {
		mock := &mockInvokeAPI{err: &smithy.GenericAPIError{Code: "AccessDeniedException"}}
		p := newBedrockProvider(mock, BedrockEmbeddingConfig{MaxRetries: -1})

		_, err := p.Embed(context.Background(), "text")
		assert.True(t, apperr.IsKind(err, apperr.Unauthorized))
	})
}

func TestBedrockProvider_EmbedBatch(t *testing.T) {
	mock := &mockInvokeAPI{body: titanBody(t, 1024)}
	p := newBedrockProvider(mock, BedrockEmbeddingConfig{Concurrency: 2})

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, mock.inputs, 3)
	for i, vec := range vecs {
		assert.Len(t, vec, 1024, "position %d", i)
	}
}

func TestBedrockProvider_Defaults(t *testing.T) {
	p := newBedrockProvider(&mockInvokeAPI{}, BedrockEmbeddingConfig{})
	assert.Equal(t, "amazon.titan-embed-text-v2:0", p.ModelName())
	assert.Equal(t, 1024, p.Dimension())
}
