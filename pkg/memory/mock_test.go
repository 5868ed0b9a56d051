package memory

import (
	"context"
	"errors"
	"sync"
)

var errMockProvider = errors.New("mock provider down")

// MockEmbeddingProvider wraps HashEmbedder with call counting and
// programmable failures.
type MockEmbeddingProvider struct {
	mu        sync.Mutex
	inner     *HashEmbedder
	calls     int
	texts     int
	failAfter int // fail every call once calls exceeds failAfter; <0 disables
}

func NewMockEmbeddingProvider(dimension int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{inner: NewHashEmbedder(dimension), failAfter: -1}
}

func (p *MockEmbeddingProvider) Dimension() int {
	return p.inner.Dimension()
}

// FailAfter makes every call after the next n succeed-calls fail.
func (p *MockEmbeddingProvider) FailAfter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = 0
	p.failAfter = n
}

func (p *MockEmbeddingProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockEmbeddingProvider) Texts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts
}

func (p *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *MockEmbeddingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.texts += len(texts)
	fail := p.failAfter >= 0 && p.calls > p.failAfter
	p.mu.Unlock()

	if fail {
		return nil, errMockProvider
	}
	return p.inner.GenerateEmbeddings(ctx, texts)
}
