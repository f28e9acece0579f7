// Package provider holds the model clients: chat completion with tool
// calling, text embedding, and optional reranking, all speaking
// OpenAI-compatible HTTP APIs.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// Message is a chat message in provider-neutral form.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages that request tools
	ToolCallID string     // tool result messages
}

// Tool is a function definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatResponse is the result of a chat completion.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatProvider produces chat completions.
type ChatProvider interface {
	// Chat sends messages and returns the text response.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatWithTools sends messages with available tools; the response may
	// carry tool calls instead of (or alongside) text.
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error)

	// Close releases idle connections.
	Close() error
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Reranker scores documents against a query. Implementations may be
// disabled; callers check Enabled and fall back to their own ordering.
type Reranker interface {
	Enabled() bool
	// Rerank returns the indices of documents ordered most relevant
	// first, truncated to topN when topN > 0.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error)
}

var transientRetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

func isTransientStatus(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

// postJSON sends a JSON POST and decodes a JSON response, retrying
// transient upstream statuses with backoff. Errors come back classified:
// deadline hits map to Timeout, everything else upstream-side to
// UpstreamFailure.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(transientRetryDelays); attempt++ {
		if attempt > 0 {
			delay := transientRetryDelays[attempt-1]
			log.Warn().Str("url", url).Int("attempt", attempt).Dur("delay", delay).
				Msg("retrying model request after transient error")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return classifyCtxErr(ctx.Err())
			}
		}

		retryErr, err := postJSONOnce(ctx, client, url, apiKey, body, out)
		if err != nil {
			return err
		}
		if retryErr == nil {
			return nil
		}
		lastErr = retryErr
	}
	return errs.New(errs.UpstreamFailure,
		fmt.Errorf("request failed after %d retries: %w", len(transientRetryDelays), lastErr))
}

// postJSONOnce performs a single attempt. The first return value is
// non-nil for errors worth retrying; the second is terminal.
func postJSONOnce(ctx context.Context, client *http.Client, url, apiKey string, body []byte, out any) (retryable, terminal error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.UpstreamFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, classifyCtxErr(err)
		}
		// Connection-level failures are worth a retry.
		return err, nil
	}
	defer resp.Body.Close()

	if isTransientStatus(resp.StatusCode) {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, errs.Newf(errs.UpstreamFailure,
			"request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("decode response: %w", err))
	}
	return nil, nil
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.Timeout, err)
	}
	return err
}
