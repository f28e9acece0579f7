package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xonecas/seele/internal/errs"
)

func TestOpenAIChatWithTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "search_memories" {
			t.Errorf("tools = %+v", req.Tools)
		}

		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "search_memories",
							"arguments": `{"query":"coffee"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAI(srv.URL, "test-key", "test-model", 5*time.Second)
	defer p.Close()

	resp, err := p.ChatWithTools(context.Background(),
		[]Message{{Role: "user", Content: "what did I say about coffee?"}},
		[]Tool{{Name: "search_memories", Description: "search memory"}},
	)
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search_memories" {
		t.Errorf("tool call = %+v", tc)
	}
	var args struct{ Query string }
	if err := json.Unmarshal(tc.Arguments, &args); err != nil || args.Query != "coffee" {
		t.Errorf("arguments = %s", tc.Arguments)
	}
}

func TestOpenAIChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAI(srv.URL, "", "test-model", 5*time.Second)
	defer p.Close()

	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errs.IsKind(err, errs.UpstreamFailure) {
		t.Fatalf("got %v, want upstream failure", err)
	}
}

func TestOpenAIChatRetriesTransient(t *testing.T) {
	// Shorten backoff for the test.
	saved := transientRetryDelays
	transientRetryDelays = []time.Duration{time.Millisecond}
	defer func() { transientRetryDelays = saved }()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "recovered"},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(srv.URL, "", "test-model", 5*time.Second)
	defer p.Close()

	got, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "recovered" {
		t.Errorf("content = %q", got)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestEmbeddingCachesAndChecksDimension(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3, 0.4}}},
		})
	}))
	defer srv.Close()

	c := NewEmbedding(srv.URL, "", "embed-model", 4, 5*time.Second)

	first, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("got %d dims, want 4", len(first))
	}

	if _, err := c.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("cached Embed: %v", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (second call should hit cache)", requests)
	}

	// A client expecting a different dimension rejects the response.
	wrong := NewEmbedding(srv.URL, "", "embed-model", 8, 5*time.Second)
	if _, err := wrong.Embed(context.Background(), "hello"); !errs.IsKind(err, errs.UpstreamFailure) {
		t.Fatalf("got %v, want upstream failure on dimension mismatch", err)
	}
}

func TestRerankDisabledKeepsOrder(t *testing.T) {
	c := NewRerank("", "", "", 5*time.Second)
	if c.Enabled() {
		t.Fatal("unconfigured reranker reports enabled")
	}

	order, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(order) != 2 || order[0] != 0 || order[1] != 1 {
		t.Errorf("order = %v, want [0 1]", order)
	}
}

func TestRerankOrdersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.2},
				{"index": 1, "relevance_score": 0.9},
				{"index": 2, "relevance_score": 0.5},
			},
		})
	}))
	defer srv.Close()

	c := NewRerank(srv.URL, "key", "rerank-model", 5*time.Second)

	order, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}
