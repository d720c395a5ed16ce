// Package llm provides a provider-agnostic client for chat completion
// models. Implementations exist for OpenAI-compatible APIs, AWS Bedrock
// (Converse API), and local Ollama servers, plus a scripted mock for
// tests. The factory selects a provider from the model name.
package llm

import (
	"context"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may call. Parameters is a JSON
// schema object.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Options control a single completion request.
type Options struct {
	// Model is the provider-specific model identifier.
	Model string

	// Temperature steers sampling randomness. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider
	// default.
	MaxTokens int

	// JSONMode asks the model to emit a single valid JSON object.
	JSONMode bool

	// Tools the model may call. When the model calls one, the result
	// carries ToolCalls instead of (or alongside) Content.
	Tools []Tool
}

// Result is the outcome of a completion request.
type Result struct {
	Content    string
	ToolCalls  []ToolCall
	Model      string
	TokensUsed int
}

// Client is the provider contract. Implementations must honor context
// cancellation and classify failures via pkg/apperr so callers can
// distinguish retriable from permanent errors.
type Client interface {
	// Complete runs one chat completion.
	Complete(ctx context.Context, messages []Message, opts Options) (*Result, error)

	// Name returns the provider name (e.g. "openai", "bedrock").
	Name() string
}

// SystemAndUser is a convenience constructor for the common
// two-message conversation shape.
func SystemAndUser(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}
