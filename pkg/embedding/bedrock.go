package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// BedrockInvokeAPI defines the slice of the Bedrock runtime client the
// provider uses. This allows for testing with mocks.
type BedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements Provider using Amazon Titan embedding
// models via the Bedrock InvokeModel API. Titan embeds one text per
// request, so batches run concurrently with bounded parallelism.
type BedrockProvider struct {
	api           BedrockInvokeAPI
	model         string
	dimension     int
	concurrency   int
	maxRetries    int
	retryInterval time.Duration
	logger        hclog.Logger
}

// BedrockEmbeddingConfig holds configuration for the Bedrock provider.
type BedrockEmbeddingConfig struct {
	Region        string        // AWS region (default: us-east-1)
	Model         string        // Model (default: amazon.titan-embed-text-v2:0)
	Dimension     int           // Override dimension (default: model's known dimension)
	Concurrency   int           // Concurrent requests per batch (default: 4)
	MaxRetries    int           // Retries on transient failures (default: 3, negative disables)
	RetryInterval time.Duration // Initial backoff interval (default: 500ms)
	Logger        hclog.Logger  // Logger (optional)
}

// NewBedrockProvider creates a Bedrock embedding provider using
// credentials from the environment or instance profile.
func NewBedrockProvider(ctx context.Context, config BedrockEmbeddingConfig) (*BedrockProvider, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, apperr.Wrap("embedding.NewBedrockProvider", apperr.Permanent, err)
	}

	return newBedrockProvider(bedrockruntime.NewFromConfig(awsCfg), config), nil
}

func newBedrockProvider(api BedrockInvokeAPI, config BedrockEmbeddingConfig) *BedrockProvider {
	if config.Model == "" {
		config.Model = "amazon.titan-embed-text-v2:0"
	}
	if config.Dimension == 0 {
		config.Dimension = GetModelConfig(config.Model).Dimension
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
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

	return &BedrockProvider{
		api:           api,
		model:         config.Model,
		dimension:     config.Dimension,
		concurrency:   config.Concurrency,
		maxRetries:    config.MaxRetries,
		retryInterval: config.RetryInterval,
		logger:        config.Logger.Named("bedrock-embeddings"),
	}
}

// Embed generates an embedding for a single text.
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.Embed"

	if text == "" {
		return nil, apperr.New(op, apperr.InvalidInput, "empty text")
	}

	var vec []float32
	err := retryTransient(ctx, p.maxRetries, p.retryInterval, func() error {
		var err error
		vec, err = p.embedOnce(ctx, text)
		return err
	})
	return vec, err
}

func (p *BedrockProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.Embed"

	req := titanEmbeddingRequest{InputText: text}
	// Only Titan v2 accepts the dimensions and normalize parameters.
	if strings.Contains(p.model, "v2") {
		req.Dimensions = p.dimension
		req.Normalize = aws.Bool(true)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	out, err := p.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, apperr.FromAWS(op, err)
	}

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, apperr.New(op, apperr.Permanent, "empty embedding returned")
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
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
func (p *BedrockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
func (p *BedrockProvider) Dimension() int {
	return p.dimension
}

// ModelName returns the embedding model identifier.
func (p *BedrockProvider) ModelName() string {
	return p.model
}

// Titan API types

type titanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  *bool  `json:"normalize,omitempty"`
}

type titanEmbeddingResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

var _ Provider = (*BedrockProvider)(nil)
