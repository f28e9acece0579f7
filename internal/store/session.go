package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// Session is one conversation episode. At most one session is active at a
// time; archived sessions only serve retrieval.
type Session struct {
	ID             int64
	StartTimestamp int64
	EndTimestamp   int64 // zero while active
	Status         string
}

// Turn is a persisted user or assistant message.
type Turn struct {
	ID        int64
	SessionID int64
	Timestamp int64
	Role      string
	Text      string
}

// Summary condenses a contiguous run of turns.
type Summary struct {
	ID             int64
	SessionID      int64
	Summary        string
	FirstTimestamp int64
	LastTimestamp  int64
}

// CreateSession inserts a new active session and returns its ID.
func (s *Store) CreateSession(startTimestamp int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO sessions (start_timestamp, status) VALUES (?, 'active')",
		startTimestamp,
	)
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, fmt.Errorf("create session: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, err)
	}
	log.Debug().Int64("session_id", id).Msg("created session")
	return id, nil
}

// ActiveSession returns the most recent active session, or nil if none.
func (s *Store) ActiveSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	var end sql.NullInt64
	err := s.db.QueryRow(
		"SELECT session_id, start_timestamp, end_timestamp, status FROM sessions WHERE status = 'active' ORDER BY session_id DESC LIMIT 1",
	).Scan(&sess.ID, &sess.StartTimestamp, &end, &sess.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load active session: %w", err))
	}
	sess.EndTimestamp = end.Int64
	return &sess, nil
}

// ArchiveSession marks a session archived with the given end timestamp.
// The session's turns and summaries remain searchable.
func (s *Store) ArchiveSession(sessionID, endTimestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE sessions SET end_timestamp = ?, status = 'archived' WHERE session_id = ?",
		endTimestamp, sessionID,
	)
	if err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("archive session: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.NotFound, "session %d not found", sessionID)
	}
	log.Debug().Int64("session_id", sessionID).Msg("archived session")
	return nil
}

// DeleteSession removes a session with everything derived from it: turns,
// summaries, and both the vector and FTS sidecar rows. The FTS rows go
// through the delete triggers; the vec rows need explicit cleanup.
func (s *Store) DeleteSession(sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.New(errs.StoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{
		"DELETE FROM vec_conversations WHERE conversation_id IN (SELECT conversation_id FROM conversations WHERE session_id = ?)",
		"DELETE FROM vec_summaries WHERE summary_id IN (SELECT summary_id FROM summaries WHERE session_id = ?)",
		"DELETE FROM conversations WHERE session_id = ?",
		"DELETE FROM summaries WHERE session_id = ?",
		"DELETE FROM sessions WHERE session_id = ?",
	} {
		if _, err := tx.Exec(stmt, sessionID); err != nil {
			return errs.New(errs.StoreUnavailable, fmt.Errorf("delete session %d: %w", sessionID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.StoreUnavailable, err)
	}
	log.Debug().Int64("session_id", sessionID).Msg("deleted session")
	return nil
}

// InsertTurn persists a turn and returns its ID. Role must be "user" or
// "assistant"; the schema enforces it, but catching it here gives a
// clearer error.
func (s *Store) InsertTurn(sessionID, timestamp int64, role, text string) (int64, error) {
	if role != "user" && role != "assistant" {
		return 0, errs.Newf(errs.BadArgument, "invalid turn role %q", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO conversations (session_id, timestamp, role, text) VALUES (?, ?, ?, ?)",
		sessionID, timestamp, role, text,
	)
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, fmt.Errorf("insert turn: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, err)
	}
	return id, nil
}

// InsertSummary persists a summary covering [firstTimestamp, lastTimestamp]
// and returns its ID. lastConversationID is the newest turn the summary
// condensed; turns above it count as unsummarized. Timestamps alone
// cannot draw that line, since adjacent turns often share a second.
func (s *Store) InsertSummary(sessionID int64, summary string, firstTimestamp, lastTimestamp, lastConversationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO summaries (session_id, summary, first_timestamp, last_timestamp, last_conversation_id) VALUES (?, ?, ?, ?, ?)",
		sessionID, summary, firstTimestamp, lastTimestamp, lastConversationID,
	)
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, fmt.Errorf("insert summary: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.New(errs.StoreUnavailable, err)
	}
	return id, nil
}

// TurnsBySession returns a session's turns in chronological order. When
// limit > 0 only the most recent limit turns are returned, still oldest
// first.
func (s *Store) TurnsBySession(sessionID int64, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(`
			SELECT conversation_id, session_id, timestamp, role, text FROM (
				SELECT conversation_id, session_id, timestamp, role, text
				FROM conversations
				WHERE session_id = ?
				ORDER BY conversation_id DESC
				LIMIT ?
			) ORDER BY conversation_id ASC`,
			sessionID, limit,
		)
	} else {
		rows, err = s.db.Query(
			"SELECT conversation_id, session_id, timestamp, role, text FROM conversations WHERE session_id = ? ORDER BY conversation_id ASC",
			sessionID,
		)
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load turns: %w", err))
	}
	defer rows.Close()
	return scanTurns(rows)
}

// UnsummarizedTurns returns the turns of a session not yet covered by
// a summary, oldest first. With no summaries it returns every turn.
func (s *Store) UnsummarizedTurns(sessionID int64) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastSummarized sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(last_conversation_id) FROM summaries WHERE session_id = ?", sessionID,
	).Scan(&lastSummarized)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load summary watermark: %w", err))
	}

	rows, err := s.db.Query(
		"SELECT conversation_id, session_id, timestamp, role, text FROM conversations WHERE session_id = ? AND conversation_id > ? ORDER BY conversation_id ASC",
		sessionID, lastSummarized.Int64,
	)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load unsummarized turns: %w", err))
	}
	defer rows.Close()
	return scanTurns(rows)
}

// SummariesBySession returns a session's summaries, most recent first.
// When limit > 0 at most limit summaries are returned.
func (s *Store) SummariesBySession(sessionID int64, limit int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := "SELECT summary_id, session_id, summary, first_timestamp, last_timestamp FROM summaries WHERE session_id = ? ORDER BY last_timestamp DESC"
	args := []any{sessionID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load summaries: %w", err))
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SummaryByID returns a single summary.
func (s *Store) SummaryByID(summaryID int64) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sm Summary
	err := s.db.QueryRow(
		"SELECT summary_id, session_id, summary, first_timestamp, last_timestamp FROM summaries WHERE summary_id = ?",
		summaryID,
	).Scan(&sm.ID, &sm.SessionID, &sm.Summary, &sm.FirstTimestamp, &sm.LastTimestamp)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.NotFound, "summary %d not found", summaryID)
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load summary: %w", err))
	}
	return &sm, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Timestamp, &t.Role, &t.Text); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return turns, nil
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var sums []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.Summary, &sm.FirstTimestamp, &sm.LastTimestamp); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		sums = append(sums, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return sums, nil
}
