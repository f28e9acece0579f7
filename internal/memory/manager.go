package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/config"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// Curator condenses turns into summary text and folds what they reveal
// into the long-term profile, in a single model call. lastSummary gives
// the model continuity context and may be empty. Profile update
// failures are not fatal; a failed summary is. The LLM-backed
// implementation lives in the llm package; tests substitute their own.
type Curator interface {
	Condense(ctx context.Context, turns []Turn, lastSummary string, firstTimestamp, lastTimestamp int64) (string, error)
}

// Manager owns the session lifecycle: it keeps the context window in
// step with the store, compacts the window into summaries when it grows
// past the trigger, and drives recall for incoming messages.
type Manager struct {
	store    *store.Store
	embedder provider.Embedder
	curator  Curator
	window   *Window
	ret      *Retriever
	cfg      *config.Config

	sessionID int64
}

// NewManager restores or creates the active session. An existing active
// session has its recent summaries and unsummarized turns loaded back
// into the window; a backlog past the summary trigger is compacted in
// batches first so the window comes up at its normal working size.
func NewManager(ctx context.Context, cfg *config.Config, st *store.Store, embedder provider.Embedder, reranker provider.Reranker, curator Curator) (*Manager, error) {
	m := &Manager{
		store:    st,
		embedder: embedder,
		curator:  curator,
		window:   NewWindow(cfg.RecentSummariesMax),
		cfg:      cfg,
	}
	m.ret = NewRetriever(st, embedder, reranker, RetrieverConfig{
		SummariesPerQuery: cfg.RecallSummaryPerQuery,
		TurnsPerSummary:   cfg.RecallConvPerSummary,
		TopSummaries:      cfg.RerankTopSummaries,
		TopTurns:          cfg.RerankTopConvs,
		Timezone:          cfg.Timezone,
	})

	active, err := st.ActiveSession()
	if err != nil {
		return nil, err
	}
	if active == nil {
		id, err := st.CreateSession(timeutil.Now())
		if err != nil {
			return nil, err
		}
		m.sessionID = id
		log.Info().Int64("session_id", id).Msg("created new active session")
		return m, nil
	}

	m.sessionID = active.ID
	if err := m.restore(ctx); err != nil {
		return nil, fmt.Errorf("restore session %d: %w", active.ID, err)
	}
	log.Info().Int64("session_id", active.ID).Msg("restored active session")
	return m, nil
}

// restore rebuilds the window from the active session's stored state.
func (m *Manager) restore(ctx context.Context) error {
	summaries, err := m.store.SummariesBySession(m.sessionID, m.cfg.RecentSummariesMax)
	if err != nil {
		return err
	}
	// SummariesBySession returns newest first; the window wants them in
	// chronological order.
	for i := len(summaries) - 1; i >= 0; i-- {
		m.window.AddSummary(summaries[i].ID, summaries[i].Summary)
	}

	turns, err := m.store.UnsummarizedTurns(m.sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	keep := m.cfg.KeepMin
	if len(turns) <= keep {
		for _, t := range turns {
			m.window.AddTurn(t.Role, t.Text)
		}
		return nil
	}

	if len(turns) >= m.cfg.TriggerSummary {
		// Compact the backlog in window-sized batches so the session
		// comes back with a fresh summary trail instead of a wall of
		// raw turns.
		excess := len(turns) - keep
		log.Info().Int("total", len(turns)).Int("summarizing", excess).
			Msg("compacting unsummarized backlog on restore")

		for done := 0; done < excess; {
			batch := keep
			if remaining := excess - done; remaining < batch {
				batch = remaining
			}
			stored := turns[done : done+batch]
			if _, err := m.summarizeStoredTurns(ctx, stored); err != nil {
				// A failed batch stays unsummarized in the store; the
				// next restore or compaction picks it up again.
				log.Warn().Err(err).Msg("backlog summarization failed, restoring raw turns only")
				break
			}
			done += batch
		}
	}

	for _, t := range turns[len(turns)-keep:] {
		m.window.AddTurn(t.Role, t.Text)
	}
	return nil
}

// summarizeStoredTurns condenses persisted turns and records the
// summary with its real timestamp span and the id of the last turn it
// covers, so the unsummarized watermark stays exact.
func (m *Manager) summarizeStoredTurns(ctx context.Context, stored []store.Turn) (int64, error) {
	turns := make([]Turn, len(stored))
	for i, t := range stored {
		turns[i] = Turn{Role: t.Role, Text: t.Text}
	}

	first := stored[0].Timestamp
	last := stored[len(stored)-1].Timestamp
	text, err := m.curator.Condense(ctx, turns, m.lastSummaryText(), first, last)
	if err != nil {
		return 0, err
	}

	id, err := m.storeSummary(ctx, text, first, last, stored[len(stored)-1].ID)
	if err != nil {
		return 0, err
	}
	m.window.AddSummary(id, text)
	return id, nil
}

// lastSummaryText returns the newest summary in the window, or "".
func (m *Manager) lastSummaryText() string {
	texts := m.window.SummaryTexts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// storeSummary persists summary text with its embedding. A failed
// embedding leaves the summary keyword-searchable but not recallable by
// vector, which beats losing it.
func (m *Manager) storeSummary(ctx context.Context, text string, first, last, lastConvID int64) (int64, error) {
	id, err := m.store.InsertSummary(m.sessionID, text, first, last, lastConvID)
	if err != nil {
		return 0, err
	}
	emb, err := m.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Int64("summary_id", id).Msg("summary embedding failed")
		return id, nil
	}
	if err := m.store.AttachSummaryEmbedding(id, emb); err != nil {
		return 0, err
	}
	return id, nil
}

// SessionID returns the active session's ID.
func (m *Manager) SessionID() int64 {
	return m.sessionID
}

// AddUserTurn persists a user message with its embedding and appends it
// to the window.
func (m *Manager) AddUserTurn(ctx context.Context, text string) (int64, error) {
	return m.addTurn(ctx, "user", text)
}

// AddAssistantTurn persists an assistant message, appends it to the
// window, then compacts the window if it has reached the summary
// trigger.
func (m *Manager) AddAssistantTurn(ctx context.Context, text string) (int64, error) {
	id, err := m.addTurn(ctx, "assistant", text)
	if err != nil {
		return 0, err
	}
	if err := m.compact(ctx); err != nil {
		// The turn is stored either way; compaction retries on the
		// next assistant turn.
		log.Warn().Err(err).Msg("window compaction failed")
	}
	return id, nil
}

func (m *Manager) addTurn(ctx context.Context, role, text string) (int64, error) {
	id, err := m.store.InsertTurn(m.sessionID, timeutil.Now(), role, text)
	if err != nil {
		return 0, err
	}

	emb, err := m.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Int64("turn_id", id).Msg("turn embedding failed")
	} else if err := m.store.AttachTurnEmbedding(id, emb); err != nil {
		return 0, err
	}

	m.window.AddTurn(role, text)
	return id, nil
}

// compact condenses and evicts the oldest turns beyond KeepMin once the
// window reaches the trigger count. After a previously failed
// compaction the window may sit above the trigger; the excess formula
// catches the backlog up in one pass.
func (m *Manager) compact(ctx context.Context) error {
	if m.window.Len() < m.cfg.TriggerSummary {
		return nil
	}

	// Condense from the stored rows rather than the window so the
	// summary carries the real timestamp span and turn watermark; a
	// restart then restores exactly the kept tail.
	stored, err := m.store.UnsummarizedTurns(m.sessionID)
	if err != nil {
		return err
	}
	excess := len(stored) - m.cfg.KeepMin
	if excess <= 0 {
		return nil
	}

	id, err := m.summarizeStoredTurns(ctx, stored[:excess])
	if err != nil {
		return err
	}
	if drop := m.window.Len() - m.cfg.KeepMin; drop > 0 {
		m.window.DropOldest(drop)
	}
	log.Info().Int64("summary_id", id).Int("turns", excess).Msg("compacted context window")
	return nil
}

// Recall retrieves memories related to the user input, excluding the
// active session and summaries already sitting in the window. It
// returns prompt-ready summary and turn lines.
func (m *Manager) Recall(ctx context.Context, userInput, lastBotMessage string) ([]string, []string, error) {
	summaries, turns, err := m.ret.Retrieve(ctx, userInput, lastBotMessage, m.sessionID, m.window.SummaryIDs())
	if err != nil {
		return nil, nil, err
	}
	return m.ret.FormatSummaries(summaries), m.ret.FormatTurns(turns), nil
}

// NewSession archives the active session and starts a fresh one. The
// remaining window turns are summarized and folded into the profile
// first so nothing said is lost to recall.
func (m *Manager) NewSession(ctx context.Context) (int64, error) {
	remaining, err := m.store.UnsummarizedTurns(m.sessionID)
	if err != nil {
		return 0, err
	}
	if len(remaining) > 0 {
		id, err := m.summarizeStoredTurns(ctx, remaining)
		if err != nil {
			log.Warn().Err(err).Msg("final session summary failed, archiving without it")
		} else {
			log.Info().Int64("summary_id", id).Msg("stored final session summary")
		}
	}

	if err := m.store.ArchiveSession(m.sessionID, timeutil.Now()); err != nil {
		return 0, err
	}

	id, err := m.store.CreateSession(timeutil.Now())
	if err != nil {
		return 0, err
	}
	m.window.Clear()
	old := m.sessionID
	m.sessionID = id
	log.Info().Int64("archived", old).Int64("session_id", id).Msg("started new session")
	return id, nil
}

// ResetSession deletes the active session with everything it stored,
// then starts a fresh one. Unlike NewSession nothing is summarized; the
// session is gone.
func (m *Manager) ResetSession(ctx context.Context) (int64, error) {
	if err := m.store.DeleteSession(m.sessionID); err != nil {
		return 0, err
	}

	id, err := m.store.CreateSession(timeutil.Now())
	if err != nil {
		return 0, err
	}
	m.window.Clear()
	log.Info().Int64("session_id", id).Msg("started new session after reset")
	m.sessionID = id
	return id, nil
}

// ContextTurns returns the live window turns, oldest first.
func (m *Manager) ContextTurns() []Turn {
	return m.window.Turns()
}

// RecentSummaries returns the summary texts currently in the window.
func (m *Manager) RecentSummaries() []string {
	return m.window.SummaryTexts()
}
