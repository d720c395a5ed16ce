package llm

import (
	"context"
	"sync"
	"time"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// MockClient is a scripted Client for testing. It replays queued
// results in order and records every request it receives. Without
// queued results it echoes a canned completion.
type MockClient struct {
	mu sync.Mutex

	name    string
	results []mockOutcome
	delay   time.Duration

	// Calls records every Complete invocation.
	Calls []MockCall
}

// MockCall captures one Complete invocation.
type MockCall struct {
	Messages []Message
	Options  Options
}

type mockOutcome struct {
	result *Result
	err    error
}

// NewMockClient creates a mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{name: "mock"}
}

// WithName sets a custom provider name.
func (m *MockClient) WithName(name string) *MockClient {
	m.name = name
	return m
}

// WithDelay adds artificial latency to each call.
func (m *MockClient) WithDelay(d time.Duration) *MockClient {
	m.delay = d
	return m
}

// QueueContent appends a plain content result.
func (m *MockClient) QueueContent(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockOutcome{result: &Result{
		Content:    content,
		Model:      "mock-v1",
		TokensUsed: len(content) / 4,
	}})
	return m
}

// QueueToolCall appends a result carrying a single tool call.
func (m *MockClient) QueueToolCall(name string, args map[string]interface{}) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockOutcome{result: &Result{
		Model:     "mock-v1",
		ToolCalls: []ToolCall{{Name: name, Arguments: args}},
	}})
	return m
}

// QueueResult appends an arbitrary result.
func (m *MockClient) QueueResult(r *Result) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockOutcome{result: r})
	return m
}

// QueueError appends a failure.
func (m *MockClient) QueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockOutcome{err: err})
	return m
}

// QueueTransientError appends a retriable failure.
func (m *MockClient) QueueTransientError(msg string) *MockClient {
	return m.QueueError(apperr.New("mock.Complete", apperr.Transient, msg))
}

// Complete replays the next queued outcome.
func (m *MockClient) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, apperr.Wrap("mock.Complete", apperr.Cancelled, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Messages: messages, Options: opts})

	if len(m.results) == 0 {
		return &Result{
			Content:    "mock completion",
			Model:      "mock-v1",
			TokensUsed: 4,
		}, nil
	}

	next := m.results[0]
	m.results = m.results[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.result, nil
}

// Name returns the provider name.
func (m *MockClient) Name() string {
	return m.name
}

// CallCount returns the number of Complete invocations so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent invocation, or nil.
func (m *MockClient) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	call := m.Calls[len(m.Calls)-1]
	return &call
}
