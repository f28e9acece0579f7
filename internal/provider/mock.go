package provider

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/xonecas/seele/internal/errs"
)

// MockChat is a scripted chat provider for tests. Responses are consumed
// in order; when the script runs out it returns the Fallback response.
type MockChat struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Fallback  *ChatResponse
	Err       error

	// Calls records every request for assertions.
	Calls [][]Message
}

func (m *MockChat) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := m.ChatWithTools(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockChat) ChatWithTools(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, messages)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) > 0 {
		resp := m.Responses[0]
		m.Responses = m.Responses[1:]
		return resp, nil
	}
	if m.Fallback != nil {
		return m.Fallback, nil
	}
	return &ChatResponse{Content: "ok"}, nil
}

func (m *MockChat) Close() error { return nil }

// MockEmbedder produces deterministic embeddings from a text hash, so
// identical texts embed identically and tests can predict neighbours by
// reusing texts.
type MockEmbedder struct {
	Dim  int
	Fail bool
}

func (m *MockEmbedder) Dimension() int { return m.Dim }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Fail {
		return nil, errs.Newf(errs.UpstreamFailure, "embedder unavailable")
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	out := make([]float32, m.Dim)
	for i := range out {
		seed = seed*1664525 + 1013904223
		out[i] = float32(seed%1000)/1000 - 0.5
	}
	return out, nil
}

// MockReranker reorders by a fixed permutation, or acts disabled.
type MockReranker struct {
	On    bool
	Order []int
	Err   error
}

func (m *MockReranker) Enabled() bool { return m.On }

func (m *MockReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	order := m.Order
	if order == nil {
		order = make([]int, len(documents))
		for i := range order {
			order[i] = i
		}
	}
	if topN > 0 && topN < len(order) {
		order = order[:topN]
	}
	return order, nil
}
