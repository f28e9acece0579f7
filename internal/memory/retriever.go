package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// RetrieverConfig tunes the two-stage recall.
type RetrieverConfig struct {
	// SummariesPerQuery summaries are fetched per query embedding.
	SummariesPerQuery int
	// TurnsPerSummary turns are fetched from each candidate summary's
	// session.
	TurnsPerSummary int
	// TopSummaries and TopTurns cap the final result after reranking.
	TopSummaries int
	TopTurns     int

	Timezone *time.Location
}

// RetrievedSummary is a past-session summary surfaced by recall.
type RetrievedSummary struct {
	ID             int64
	SessionID      int64
	Text           string
	FirstTimestamp int64
	LastTimestamp  int64
	Distance       float64
}

// RetrievedTurn is a stored turn surfaced by recall.
type RetrievedTurn struct {
	ID        int64
	Timestamp int64
	Role      string
	Text      string
	Distance  float64
}

// Retriever performs two-stage memory recall: vector search over
// summaries first, then vector search of turns within each hit's
// session, with an optional rerank pass over both lists.
type Retriever struct {
	store    *store.Store
	embedder provider.Embedder
	reranker provider.Reranker
	cfg      RetrieverConfig

	// The most recent assistant message tends to repeat across turns;
	// its embedding is cached so the dual query costs one upstream call.
	mu            sync.Mutex
	lastBotText   string
	lastBotVector []float32
}

func NewRetriever(st *store.Store, embedder provider.Embedder, reranker provider.Reranker, cfg RetrieverConfig) *Retriever {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Retriever{store: st, embedder: embedder, reranker: reranker, cfg: cfg}
}

// Retrieve returns summaries and turns related to the query. When
// lastBotMessage is non-empty a second summary search runs with the bot
// message's embedding and merges its hits, so recall covers both sides
// of the exchange. Summaries with IDs in excludeSummaryIDs, and
// anything from excludeSessionID, are skipped. Embedding failures
// degrade to empty results rather than failing the turn.
func (r *Retriever) Retrieve(ctx context.Context, query, lastBotMessage string, excludeSessionID int64, excludeSummaryIDs []int64) ([]RetrievedSummary, []RetrievedTurn, error) {
	queryEmb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("query embedding failed, skipping memory recall")
		return nil, nil, nil
	}

	hits, err := r.store.SearchSummariesByVector(queryEmb, r.cfg.SummariesPerQuery, excludeSessionID, excludeSummaryIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("search summaries: %w", err)
	}

	if lastBotMessage != "" {
		if botEmb := r.lastBotEmbedding(ctx, lastBotMessage); botEmb != nil {
			botHits, err := r.store.SearchSummariesByVector(botEmb, r.cfg.SummariesPerQuery, excludeSessionID, excludeSummaryIDs)
			if err != nil {
				return nil, nil, fmt.Errorf("search summaries by bot message: %w", err)
			}
			seen := make(map[int64]bool, len(hits))
			for _, h := range hits {
				seen[h.ID] = true
			}
			for _, h := range botHits {
				if !seen[h.ID] {
					hits = append(hits, h)
				}
			}
		}
	}

	summaries := make([]RetrievedSummary, 0, len(hits))
	for _, h := range hits {
		summaries = append(summaries, RetrievedSummary{
			ID:             h.ID,
			SessionID:      h.SessionID,
			Text:           h.Summary.Summary,
			FirstTimestamp: h.FirstTimestamp,
			LastTimestamp:  h.LastTimestamp,
			Distance:       h.Distance,
		})
	}

	// Second stage: nearest turns within each candidate's session,
	// deduplicated across overlapping sessions.
	var turns []RetrievedTurn
	seenTurn := make(map[int64]bool)
	seenSession := make(map[int64]bool)
	for _, s := range summaries {
		if seenSession[s.SessionID] {
			continue
		}
		seenSession[s.SessionID] = true

		rows, err := r.store.SearchTurnsByVector(queryEmb, r.cfg.TurnsPerSummary, s.SessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("search turns in session %d: %w", s.SessionID, err)
		}
		for _, t := range rows {
			if seenTurn[t.ID] {
				continue
			}
			seenTurn[t.ID] = true
			turns = append(turns, RetrievedTurn{
				ID:        t.ID,
				Timestamp: t.Timestamp,
				Role:      t.Role,
				Text:      t.Text,
				Distance:  t.Distance,
			})
		}
	}

	summaries = r.rerankSummaries(ctx, query, summaries)
	turns = r.rerankTurns(ctx, query, turns)

	log.Debug().Int("summaries", len(summaries)).Int("turns", len(turns)).
		Msg("memory recall complete")
	return summaries, turns, nil
}

// lastBotEmbedding embeds the most recent assistant message, reusing
// the cached vector while the text is unchanged. Returns nil on failure.
func (r *Retriever) lastBotEmbedding(ctx context.Context, text string) []float32 {
	r.mu.Lock()
	if r.lastBotText == text {
		emb := r.lastBotVector
		r.mu.Unlock()
		return emb
	}
	r.mu.Unlock()

	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("bot message embedding failed, using single-query recall")
		return nil
	}

	r.mu.Lock()
	r.lastBotText = text
	r.lastBotVector = emb
	r.mu.Unlock()
	return emb
}

// rerankSummaries reorders candidates by reranker relevance. A disabled
// or failing reranker keeps the vector order, nearest first with more
// recent winning ties.
func (r *Retriever) rerankSummaries(ctx context.Context, query string, summaries []RetrievedSummary) []RetrievedSummary {
	top := r.cfg.TopSummaries
	// Vector order is the fallback baseline either way. The dual-query
	// merge appends bot-message hits after user-query hits, so without
	// this sort a truncation would cut by merge position, not distance.
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Distance != summaries[j].Distance {
			return summaries[i].Distance < summaries[j].Distance
		}
		return summaries[i].LastTimestamp > summaries[j].LastTimestamp
	})
	if !r.reranker.Enabled() || len(summaries) == 0 {
		return truncateSummaries(summaries, top)
	}

	docs := make([]string, len(summaries))
	for i, s := range summaries {
		docs[i] = s.Text
	}
	order, err := r.reranker.Rerank(ctx, query, docs, top)
	if err != nil {
		log.Warn().Err(err).Msg("summary rerank failed, keeping vector order")
		return truncateSummaries(summaries, top)
	}

	out := make([]RetrievedSummary, 0, len(order))
	for _, i := range order {
		out = append(out, summaries[i])
	}
	return out
}

func (r *Retriever) rerankTurns(ctx context.Context, query string, turns []RetrievedTurn) []RetrievedTurn {
	top := r.cfg.TopTurns
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Distance != turns[j].Distance {
			return turns[i].Distance < turns[j].Distance
		}
		return turns[i].Timestamp > turns[j].Timestamp
	})
	if !r.reranker.Enabled() || len(turns) == 0 {
		return truncateTurns(turns, top)
	}

	docs := make([]string, len(turns))
	for i, t := range turns {
		docs[i] = t.Text
	}
	order, err := r.reranker.Rerank(ctx, query, docs, top)
	if err != nil {
		log.Warn().Err(err).Msg("turn rerank failed, keeping vector order")
		return truncateTurns(turns, top)
	}

	out := make([]RetrievedTurn, 0, len(order))
	for _, i := range order {
		out = append(out, turns[i])
	}
	return out
}

func truncateSummaries(summaries []RetrievedSummary, limit int) []RetrievedSummary {
	if limit > 0 && len(summaries) > limit {
		return summaries[:limit]
	}
	return summaries
}

func truncateTurns(turns []RetrievedTurn, limit int) []RetrievedTurn {
	if limit > 0 && len(turns) > limit {
		return turns[:limit]
	}
	return turns
}

// FormatSummaries renders summaries for prompt injection with their
// human-readable time spans.
func (r *Retriever) FormatSummaries(summaries []RetrievedSummary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		span := timeutil.FormatRange(s.FirstTimestamp, s.LastTimestamp, r.cfg.Timezone)
		out = append(out, fmt.Sprintf("[%s] %s", span, s.Text))
	}
	return out
}

// FormatTurns renders turns for prompt injection with timestamps and
// display roles.
func (r *Retriever) FormatTurns(turns []RetrievedTurn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		role := "Assistant"
		if t.Role == "user" {
			role = "User"
		}
		out = append(out, fmt.Sprintf("[%s] %s: %s", timeutil.Format(t.Timestamp, r.cfg.Timezone), role, t.Text))
	}
	return out
}
