package embedding

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// FactoryConfig selects and configures an embedding provider. Provider
// names: "openai", "ollama", "bedrock", "mock".
type FactoryConfig struct {
	Provider  string       // Provider name (default: ollama)
	Model     string       // Model override
	Dimension int          // Dimension override
	APIKey    string       // API key (openai)
	BaseURL   string       // Endpoint override (openai, ollama)
	Region    string       // AWS region (bedrock)
	Logger    hclog.Logger // Logger (optional)
}

// NewProvider creates the configured embedding provider. The default
// is a local Ollama server, which needs no credentials.
func NewProvider(ctx context.Context, config FactoryConfig) (Provider, error) {
	const op = "embedding.NewProvider"

	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	switch strings.ToLower(config.Provider) {
	case "", "ollama":
		return NewOllamaProvider(OllamaEmbeddingConfig{
			BaseURL:   config.BaseURL,
			Model:     config.Model,
			Dimension: config.Dimension,
			Logger:    config.Logger,
		}), nil

	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    config.APIKey,
			BaseURL:   config.BaseURL,
			Model:     config.Model,
			Dimension: config.Dimension,
			Logger:    config.Logger,
		})

	case "bedrock":
		return NewBedrockProvider(ctx, BedrockEmbeddingConfig{
			Region:    config.Region,
			Model:     config.Model,
			Dimension: config.Dimension,
			Logger:    config.Logger,
		})

	case "mock":
		return NewMockProvider(config.Dimension), nil

	default:
		return nil, apperr.New(op, apperr.InvalidInput,
			"unknown embedding provider: "+config.Provider)
	}
}
