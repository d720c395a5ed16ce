package embedding

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// MockProvider is a deterministic in-process Provider for tests. The
// vector for a text is derived from a hash of its content, so equal
// texts embed identically across runs and similar calls are cheap to
// assert on.
type MockProvider struct {
	mu sync.Mutex

	dimension int
	model     string
	failNext  error

	// EmbeddedTexts records every text passed in, in call order.
	EmbeddedTexts []string
}

// NewMockProvider creates a mock embedding provider.
func NewMockProvider(dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockProvider{
		dimension: dimension,
		model:     "mock-embed-v1",
	}
}

// FailNext makes the next call return err once.
func (m *MockProvider) FailNext(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
	return m
}

// FailNextTransient makes the next call fail with a transient error.
func (m *MockProvider) FailNextTransient() *MockProvider {
	return m.FailNext(apperr.New("embedding.Embed", apperr.Transient, "mock backend unavailable"))
}

// Embed returns a deterministic unit vector for the text.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns deterministic unit vectors in input order.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap("embedding.EmbedBatch", apperr.Cancelled, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		m.EmbeddedTexts = append(m.EmbeddedTexts, text)
		results[i] = m.vectorFor(text)
	}
	return results, nil
}

// vectorFor derives a unit vector from the text's hash.
func (m *MockProvider) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimension)
	for i := range vec {
		// xorshift over the seed gives stable pseudo-random components
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		vec[i] = float32(int64(seed%2000)-1000) / 1000.0
	}
	return Normalize(vec)
}

// Dimension returns the configured dimension.
func (m *MockProvider) Dimension() int {
	return m.dimension
}

// ModelName returns the mock model identifier.
func (m *MockProvider) ModelName() string {
	return m.model
}

var _ Provider = (*MockProvider)(nil)
