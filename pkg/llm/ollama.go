package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// OllamaClient implements Client against a local Ollama server.
// Install: https://ollama.ai/download
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL string        // Ollama API URL (default: http://localhost:11434)
	Timeout time.Duration // HTTP timeout (default: 5 minutes, local models are slow)
	Logger  hclog.Logger  // Logger (optional)
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.Named("ollama-client"),
	}, nil
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return "ollama"
}

// Complete runs one chat completion against the Ollama chat API.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	const op = "ollama.Complete"

	reqBody := ollamaChatRequest{
		Model:    opts.Model,
		Stream:   false,
		Messages: make([]ollamaChatMessage, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts.JSONMode {
		reqBody.Format = "json"
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{}
		if opts.Temperature > 0 {
			reqBody.Options.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			reqBody.Options.NumPredict = opts.MaxTokens
		}
	}
	for _, t := range opts.Tools {
		reqBody.Tools = append(reqBody.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending chat request to ollama",
		"model", opts.Model,
		"messages", len(messages),
	)

	resp, err := c.httpClient.Do(req)
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

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}

	result := &Result{
		Content:    chatResp.Message.Content,
		Model:      opts.Model,
		TokensUsed: chatResp.PromptEvalCount + chatResp.EvalCount,
	}

	for _, tc := range chatResp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

// Ollama API types

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  *ollamaOptions      `json:"options,omitempty"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}
