package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/xonecas/seele/internal/errs"
)

// VecTurn is a turn returned from vector search, with its cosine distance.
type VecTurn struct {
	Turn
	Distance float64
}

// VecSummary is a summary returned from vector search.
type VecSummary struct {
	Summary
	Distance float64
}

// serializeVector encodes a float32 slice as the little-endian blob
// sqlite-vec expects, after checking it against the declared dimension.
func (s *Store) serializeVector(embedding []float32) ([]byte, error) {
	if len(embedding) != s.dim {
		return nil, errs.Newf(errs.BadArgument,
			"embedding has %d dimensions, store expects %d", len(embedding), s.dim)
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, embedding); err != nil {
		return nil, errs.New(errs.BadArgument, fmt.Errorf("serialize embedding: %w", err))
	}
	return buf.Bytes(), nil
}

// AttachTurnEmbedding stores the embedding for an existing turn.
func (s *Store) AttachTurnEmbedding(turnID int64, embedding []float32) error {
	blob, err := s.serializeVector(embedding)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO vec_conversations (conversation_id, embedding) VALUES (?, ?)",
		turnID, blob,
	); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("attach turn embedding: %w", err))
	}
	return nil
}

// AttachSummaryEmbedding stores the embedding for an existing summary.
func (s *Store) AttachSummaryEmbedding(summaryID int64, embedding []float32) error {
	blob, err := s.serializeVector(embedding)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO vec_summaries (summary_id, embedding) VALUES (?, ?)",
		summaryID, blob,
	); err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("attach summary embedding: %w", err))
	}
	return nil
}

// SearchSummariesByVector returns up to limit summaries nearest the query
// embedding, closest first. Summaries belonging to excludeSessionID (when
// > 0) and summary IDs in excludeIDs are skipped. The KNN query over-fetches
// so post-filtering still yields limit rows when enough candidates exist.
func (s *Store) SearchSummariesByVector(embedding []float32, limit int, excludeSessionID int64, excludeIDs []int64) ([]VecSummary, error) {
	blob, err := s.serializeVector(embedding)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := limit + len(excludeIDs)
	if excludeSessionID > 0 {
		// The active session's summary count is unknown; a fixed
		// multiplier covers it in practice.
		k = k*4 + 8
	}

	q := `
		SELECT s.summary_id, s.session_id, s.summary, s.first_timestamp, s.last_timestamp, distance
		FROM vec_summaries
		JOIN summaries s ON vec_summaries.summary_id = s.summary_id
		WHERE vec_summaries.embedding MATCH ? AND k = ?`
	args := []any{blob, k}

	if excludeSessionID > 0 {
		q += " AND s.session_id != ?"
		args = append(args, excludeSessionID)
	}
	if len(excludeIDs) > 0 {
		q += fmt.Sprintf(" AND s.summary_id NOT IN (%s)", placeholders(len(excludeIDs)))
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	q += " ORDER BY distance"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("vector search summaries: %w", err))
	}
	defer rows.Close()

	var out []VecSummary
	for rows.Next() {
		var vs VecSummary
		if err := rows.Scan(&vs.ID, &vs.SessionID, &vs.Summary.Summary, &vs.FirstTimestamp, &vs.LastTimestamp, &vs.Distance); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		out = append(out, vs)
		if len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return out, nil
}

// SearchTurnsByVector returns up to limit turns nearest the query
// embedding, closest first. When sessionID > 0 only turns from that
// session are returned, which narrows the KNN result after over-fetching.
func (s *Store) SearchTurnsByVector(embedding []float32, limit int, sessionID int64) ([]VecTurn, error) {
	blob, err := s.serializeVector(embedding)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := limit
	if sessionID > 0 {
		k = k*8 + 16
	}

	q := `
		SELECT c.conversation_id, c.session_id, c.timestamp, c.role, c.text, distance
		FROM vec_conversations
		JOIN conversations c ON vec_conversations.conversation_id = c.conversation_id
		WHERE vec_conversations.embedding MATCH ? AND k = ?`
	args := []any{blob, k}

	if sessionID > 0 {
		q += " AND c.session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY distance"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("vector search turns: %w", err))
	}
	defer rows.Close()

	var out []VecTurn
	for rows.Next() {
		var vt VecTurn
		if err := rows.Scan(&vt.ID, &vt.SessionID, &vt.Timestamp, &vt.Role, &vt.Text, &vt.Distance); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		out = append(out, vt)
		if len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
