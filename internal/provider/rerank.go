package provider

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RerankClient calls a /rerank endpoint in the Jina/Cohere request shape.
// A client without base URL or model is permanently disabled and callers
// keep their vector-score ordering.
type RerankClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewRerank creates a rerank client. Empty baseURL or model yields a
// disabled client.
func NewRerank(baseURL, apiKey, model string, timeout time.Duration) *RerankClient {
	c := &RerankClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
	if c.Enabled() {
		log.Info().Str("model", model).Msg("reranker enabled")
	} else {
		log.Info().Msg("reranker disabled")
	}
	return c
}

// Enabled reports whether the client is configured to make requests.
func (c *RerankClient) Enabled() bool {
	return c.baseURL != "" && c.model != ""
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns document indices ordered most relevant first, truncated
// to topN when topN > 0. A disabled client returns the input order.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]int, error) {
	identity := func() []int {
		n := len(documents)
		if topN > 0 && topN < n {
			n = topN
		}
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	if !c.Enabled() || len(documents) == 0 {
		return identity(), nil
	}

	req := rerankRequest{Model: c.model, Query: query, Documents: documents, TopN: topN}
	if req.TopN <= 0 {
		req.TopN = len(documents)
	}

	var resp rerankResponse
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/rerank", c.apiKey, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		log.Warn().Msg("rerank response empty, keeping original order")
		return identity(), nil
	}

	results := resp.Results
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	out := make([]int, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		out = append(out, r.Index)
		if topN > 0 && len(out) == topN {
			break
		}
	}
	return out, nil
}
