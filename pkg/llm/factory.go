package llm

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// ClientFactory creates LLM clients based on the model name.
type ClientFactory struct {
	openaiAPIKey  string
	openaiBaseURL string
	ollamaURL     string
	bedrockRegion string
	logger        hclog.Logger
}

// ClientFactoryConfig holds configuration for the client factory.
type ClientFactoryConfig struct {
	OpenAIAPIKey  string       // OpenAI API key
	OpenAIBaseURL string       // Override for OpenAI-compatible servers
	OllamaURL     string       // Ollama server URL (default: http://localhost:11434)
	BedrockRegion string       // AWS Bedrock region (default: us-east-1)
	Logger        hclog.Logger // Logger (optional)
}

// NewClientFactory creates a new LLM client factory.
func NewClientFactory(config ClientFactoryConfig) *ClientFactory {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &ClientFactory{
		openaiAPIKey:  config.OpenAIAPIKey,
		openaiBaseURL: config.OpenAIBaseURL,
		ollamaURL:     config.OllamaURL,
		bedrockRegion: config.BedrockRegion,
		logger:        config.Logger.Named("llm-factory"),
	}
}

// GetClient returns an LLM client for the given model name.
// The provider is detected from the model name:
//   - "gpt-*", "o1-*", "o3-*" → OpenAI
//   - "claude*", "anthropic.*", "amazon.*", "us.*" → AWS Bedrock
//   - "llama*", "mistral*", "qwen*", "gemma*", "phi*" → Ollama
func (f *ClientFactory) GetClient(ctx context.Context, model string) (Client, error) {
	provider := f.detectProvider(model)

	f.logger.Debug("selecting LLM client",
		"model", model,
		"provider", provider,
	)

	switch provider {
	case "openai":
		return f.GetOpenAIClient()
	case "bedrock":
		return f.GetBedrockClient(ctx)
	case "ollama":
		return f.GetOllamaClient()
	default:
		return nil, apperr.New("llm.GetClient", apperr.InvalidInput,
			"unsupported model: "+model)
	}
}

// GetOpenAIClient creates an OpenAI client.
func (f *ClientFactory) GetOpenAIClient() (*OpenAIClient, error) {
	if f.openaiAPIKey == "" {
		return nil, apperr.New("llm.GetOpenAIClient", apperr.InvalidInput,
			"OpenAI API key not configured")
	}

	return NewOpenAIClient(OpenAIConfig{
		APIKey:  f.openaiAPIKey,
		BaseURL: f.openaiBaseURL,
		Logger:  f.logger,
	})
}

// GetOllamaClient creates an Ollama client.
func (f *ClientFactory) GetOllamaClient() (*OllamaClient, error) {
	config := OllamaConfig{
		Logger: f.logger,
	}
	if f.ollamaURL != "" {
		config.BaseURL = f.ollamaURL
	}
	return NewOllamaClient(config)
}

// GetBedrockClient creates an AWS Bedrock client.
func (f *ClientFactory) GetBedrockClient(ctx context.Context) (*BedrockClient, error) {
	config := BedrockConfig{
		Logger: f.logger,
	}
	if f.bedrockRegion != "" {
		config.Region = f.bedrockRegion
	}
	return NewBedrockClient(ctx, config)
}

// detectProvider detects the LLM provider from the model name.
func (f *ClientFactory) detectProvider(model string) string {
	modelLower := strings.ToLower(model)

	// OpenAI models
	if strings.HasPrefix(modelLower, "gpt-") ||
		strings.HasPrefix(modelLower, "o1-") ||
		strings.HasPrefix(modelLower, "o3-") {
		return "openai"
	}

	// AWS Bedrock models (Claude, Titan, plus full Bedrock model IDs)
	if strings.Contains(modelLower, "claude") ||
		strings.Contains(modelLower, "titan") ||
		strings.HasPrefix(modelLower, "anthropic.") ||
		strings.HasPrefix(modelLower, "amazon.") ||
		strings.HasPrefix(modelLower, "us.") ||
		strings.HasPrefix(modelLower, "eu.") {
		return "bedrock"
	}

	// Ollama models (local)
	for _, prefix := range []string{"llama", "mistral", "codellama", "phi", "qwen", "gemma"} {
		if strings.HasPrefix(modelLower, prefix) {
			return "ollama"
		}
	}

	// Default to OpenAI for unknown models
	f.logger.Warn("unknown model, defaulting to OpenAI",
		"model", model,
	)
	return "openai"
}

// ValidateConfig checks if the factory is properly configured for a
// given model.
func (f *ClientFactory) ValidateConfig(model string) error {
	provider := f.detectProvider(model)

	switch provider {
	case "openai":
		if f.openaiAPIKey == "" {
			return apperr.New("llm.ValidateConfig", apperr.InvalidInput,
				"OpenAI API key required for model "+model)
		}
	case "bedrock":
		// Bedrock uses AWS credentials from environment/IAM.
	case "ollama":
		// Ollama uses a local server, no credentials needed.
	}

	return nil
}
