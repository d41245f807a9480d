package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockEmbedder is a test embedder that returns predictable embeddings
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return FailErr (or a generic error) when the
	// input text matches
	FailOn  string
	FailErr error

	// Errs are returned by successive calls, one per call, before the
	// embedder starts succeeding
	Errs []error

	// Block, when non-nil, makes every call wait until it is closed or the
	// call's context is done
	Block chan struct{}

	mu        sync.Mutex
	calls     atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64
	texts     []string
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.Block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.Block:
		}
	}

	m.mu.Lock()
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if m.FailOn != "" && text == m.FailOn {
		if m.FailErr != nil {
			return nil, m.FailErr
		}
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}

	// Return a default embedding for any text
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Calls returns the number of Embed calls made so far.
func (m *MockEmbedder) Calls() int64 {
	return m.calls.Load()
}

// Active returns the number of calls currently executing.
func (m *MockEmbedder) Active() int64 {
	return m.active.Load()
}

// MaxActive returns the highest number of concurrent calls observed.
func (m *MockEmbedder) MaxActive() int64 {
	return m.maxActive.Load()
}

// Texts returns every text passed to Embed, in call order.
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func (m *MockEmbedder) Close() error {
	return nil
}
