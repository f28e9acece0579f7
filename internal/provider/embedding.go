package provider

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// embedCacheMax bounds the in-memory embedding cache. Repeated texts are
// common (retrieval re-embeds recent queries) but unbounded growth isn't
// acceptable in a long-running process.
const embedCacheMax = 2048

// EmbeddingClient produces embeddings via an OpenAI-compatible
// /embeddings endpoint, with an in-memory cache keyed by exact text.
type EmbeddingClient struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string][]float32
}

// NewEmbedding creates an embedding client. dim is the expected vector
// dimension; responses with any other dimension are rejected rather than
// silently stored.
func NewEmbedding(baseURL, apiKey, model string, dim int, timeout time.Duration) *EmbeddingClient {
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dim:        dim,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string][]float32),
	}
}

// Dimension returns the expected embedding dimension.
func (c *EmbeddingClient) Dimension() int {
	return c.dim
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for text, from cache when available.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if cached, ok := c.cache[text]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var resp embeddingResponse
	err := postJSON(ctx, c.httpClient, c.baseURL+"/embeddings", c.apiKey,
		embeddingRequest{Model: c.model, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errs.Newf(errs.UpstreamFailure, "embedding response has no data")
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != c.dim {
		return nil, errs.Newf(errs.UpstreamFailure,
			"embedding model %s returned %d dimensions, expected %d", c.model, len(embedding), c.dim)
	}

	c.mu.Lock()
	if len(c.cache) >= embedCacheMax {
		// Full reset is crude but keeps the common case a single map read.
		log.Debug().Int("entries", len(c.cache)).Msg("embedding cache reset")
		c.cache = make(map[string][]float32)
	}
	c.cache[text] = embedding
	c.mu.Unlock()

	return embedding, nil
}
