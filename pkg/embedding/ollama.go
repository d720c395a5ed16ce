package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Task prefixes for models trained to distinguish search queries from
// documents. Ollama passes the prompt through verbatim, so the hint is
// part of the text itself. Models without an entry get plain text.
var (
	queryPrefixes = map[string]string{
		"nomic-embed-text":  "search_query: ",
		"mxbai-embed-large": "Represent this sentence for searching relevant passages: ",
	}
	documentPrefixes = map[string]string{
		"nomic-embed-text": "search_document: ",
	}
)

// taskPrefix looks up the task prefix for a model, ignoring the Ollama
// tag suffix ("nomic-embed-text:latest").
func taskPrefix(table map[string]string, model string) string {
	base, _, _ := strings.Cut(model, ":")
	return table[base]
}

// OllamaProvider implements Provider using a local Ollama server.
// Ollama embeds one text per request, so batches run concurrently
// with bounded parallelism.
type OllamaProvider struct {
	baseURL       string
	model         string
	dimension     int
	concurrency   int
	maxRetries    int
	retryInterval time.Duration
	httpClient    *http.Client
	logger        hclog.Logger
}

// OllamaEmbeddingConfig holds configuration for the Ollama provider.
type OllamaEmbeddingConfig struct {
	BaseURL       string        // Ollama API URL (default: http://localhost:11434)
	Model         string        // Embedding model (default: nomic-embed-text)
	Dimension     int           // Override dimension (default: model's known dimension)
	Concurrency   int           // Concurrent requests per batch (default: 4)
	Timeout       time.Duration // HTTP timeout (default: 60s)
	MaxRetries    int           // Retries on transient failures (default: 3, negative disables)
	RetryInterval time.Duration // Initial backoff interval (default: 500ms)
	Logger        hclog.Logger  // Logger (optional)
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(config OllamaEmbeddingConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = GetModelConfig(config.Model).Dimension
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
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

	return &OllamaProvider{
		baseURL:       config.BaseURL,
		model:         config.Model,
		dimension:     config.Dimension,
		concurrency:   config.Concurrency,
		maxRetries:    config.MaxRetries,
		retryInterval: config.RetryInterval,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("ollama-embeddings"),
	}
}

// Embed generates a document embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.Embed"

	if text == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "empty text")
	}
	return p.embedWithRetry(ctx, taskPrefix(documentPrefixes, p.model)+text)
}

// EmbedQuery generates a search-query embedding. Models trained with
// task hints retrieve better when queries are marked as such.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.EmbedQuery"

	if text == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "empty text")
	}
	return p.embedWithRetry(ctx, taskPrefix(queryPrefixes, p.model)+text)
}

func (p *OllamaProvider) embedWithRetry(ctx context.Context, prompt string) ([]float32, error) {
	var vec []float32
	err := retryTransient(ctx, p.maxRetries, p.retryInterval, func() error {
		var err error
		vec, err = p.embedOnce(ctx, prompt)
		return err
	})
	return vec, err
}

func (p *OllamaProvider) embedOnce(ctx context.Context, prompt string) ([]float32, error) {
	const op = "embedding.Embed"

	reqBody, err := json.Marshal(ollamaEmbeddingRequest{
		Model:  p.model,
		Prompt: prompt,
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(op, apperr.Cancelled, ctx.Err())
		}
		return nil, apperr.Wrap(op, apperr.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		statusErr := apperr.FromHTTPStatus(op, resp.StatusCode)
		if readErr == nil && len(body) > 0 {
			statusErr.Msg = fmt.Sprintf("http status %d: %s", resp.StatusCode, string(body))
		}
		return nil, statusErr
	}

	var embResp ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, apperr.New(op, apperr.Permanent, "empty embedding returned")
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	if len(vec) != p.dimension {
		return nil, apperr.New(op, apperr.Permanent,
			fmt.Sprintf("dimension mismatch: expected %d, got %d", p.dimension, len(vec)))
	}

	return Normalize(vec), nil
}

// EmbedBatch generates embeddings for multiple texts concurrently,
// preserving input order.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := p.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("text at index %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Dimension returns the embedding dimension.
func (p *OllamaProvider) Dimension() int {
	return p.dimension
}

// ModelName returns the embedding model identifier.
func (p *OllamaProvider) ModelName() string {
	return p.model
}

// Ollama API types

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

var (
	_ Provider      = (*OllamaProvider)(nil)
	_ QueryEmbedder = (*OllamaProvider)(nil)
)
