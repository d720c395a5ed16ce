package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// OpenAIProvider implements Provider against OpenAI-compatible
// embedding endpoints (OpenAI, Mistral, LiteLLM proxies).
type OpenAIProvider struct {
	apiKey        string
	baseURL       string
	model         string
	dimension     int
	maxRetries    int
	retryInterval time.Duration
	httpClient    *http.Client
	logger        hclog.Logger
}

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey        string        // API key (required)
	BaseURL       string        // Base URL (default: https://api.openai.com/v1)
	Model         string        // Model (default: text-embedding-3-small)
	Dimension     int           // Override dimension (default: model's known dimension)
	Timeout       time.Duration // HTTP timeout (default: 30s)
	MaxRetries    int           // Retries on transient failures (default: 3, negative disables)
	RetryInterval time.Duration // Initial backoff interval (default: 500ms)
	Logger        hclog.Logger  // Logger (optional)
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, apperr.New("embedding.NewOpenAIProvider", apperr.InvalidInput, "API key is required")
	}

	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimension == 0 {
		config.Dimension = GetModelConfig(config.Model).Dimension
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OpenAIProvider{
		apiKey:        config.APIKey,
		baseURL:       config.BaseURL,
		model:         config.Model,
		dimension:     config.Dimension,
		maxRetries:    config.MaxRetries,
		retryInterval: config.RetryInterval,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("openai-embeddings"),
	}, nil
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
// The API may return items out of order; results are re-sorted by
// index before returning. Transient failures are retried with
// exponential backoff.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, apperr.New(op, apperr.InvalidInput,
				fmt.Sprintf("empty text at index %d", i))
		}
	}

	var results [][]float32
	err := retryTransient(ctx, p.maxRetries, p.retryInterval, func() error {
		var err error
		results, err = p.embedOnce(ctx, texts)
		return err
	})
	return results, err
}

func (p *OpenAIProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"

	reqBody := openAIEmbeddingRequest{
		Model: p.model,
		Input: texts,
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(op, apperr.Cancelled, ctx.Err())
		}
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := apperr.FromHTTPStatus(op, resp.StatusCode)
		var errResp openAIEmbeddingError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			statusErr.Msg = fmt.Sprintf("http status %d: %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, statusErr
	}

	var embResp openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	if len(embResp.Data) != len(texts) {
		return nil, apperr.New(op, apperr.Permanent,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(embResp.Data)))
	}

	sort.Slice(embResp.Data, func(i, j int) bool {
		return embResp.Data[i].Index < embResp.Data[j].Index
	})

	results := make([][]float32, len(texts))
	for i, d := range embResp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != p.dimension {
			return nil, apperr.New(op, apperr.Permanent,
				fmt.Sprintf("dimension mismatch: expected %d, got %d", p.dimension, len(vec)))
		}
		results[i] = Normalize(vec)
	}

	p.logger.Debug("embedded batch",
		"model", p.model,
		"texts", len(texts),
		"tokens_used", embResp.Usage.TotalTokens,
	)

	return results, nil
}

// Dimension returns the embedding dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// ModelName returns the embedding model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// OpenAI API types

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data  []openAIEmbeddingData `json:"data"`
	Model string                `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type openAIEmbeddingError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

var _ Provider = (*OpenAIProvider)(nil)
