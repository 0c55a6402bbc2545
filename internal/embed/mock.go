package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// mockDimensions matches the width of common sentence-transformer models,
// so fixtures built against the mock also fit the default vector index.
const mockDimensions = 384

// MockProvider is a deterministic Provider: the same text always embeds
// to the same vector, with no model behind it. It can be told to fail so
// the worker's per-chunk error handling is testable.
type MockProvider struct {
	mu          sync.Mutex
	dimensions  int
	closeCalled bool
	closeError  error
	embedError  error
}

// NewMockProvider returns a mock emitting mockDimensions-wide vectors.
func NewMockProvider() *MockProvider {
	return &MockProvider{dimensions: mockDimensions}
}

// SetEmbedError makes every subsequent Embed call fail with err.
func (p *MockProvider) SetEmbedError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedError = err
}

// SetCloseError makes Close return err.
func (p *MockProvider) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeError = err
}

// Embed derives each vector from a SHA-256 of the input text, mapping
// hash words onto [-1, 1]. Deterministic and content-sensitive, which is
// all the worker tests need.
func (p *MockProvider) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.embedError != nil {
		return nil, p.embedError
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, p.dimensions)
		for j := range vec {
			word := binary.BigEndian.Uint32(sum[(j*4)%len(sum):])
			vec[j] = (float32(word)/float32(1<<32))*2 - 1
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions reports the mock's vector width.
func (p *MockProvider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimensions
}

// Close records that it was called, for tests asserting cleanup.
func (p *MockProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalled = true
	return p.closeError
}

// IsClosed reports whether Close has been called.
func (p *MockProvider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalled
}
