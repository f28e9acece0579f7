package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xonecas/seele/internal/errs"
)

// KeywordTurn is a turn returned from full-text search with its FTS5 rank.
type KeywordTurn struct {
	Turn
	Rank float64
}

// KeywordSummary is a summary returned from full-text search.
type KeywordSummary struct {
	Summary
	Rank float64
}

// TurnSearchOptions filter keyword search over turns. Zero values mean
// "no filter". Query may be empty, in which case only the filters apply.
type TurnSearchOptions struct {
	Query            string
	Limit            int
	ExcludeSessionID int64
	Role             string
	StartTimestamp   int64
	EndTimestamp     int64
}

// SummarySearchOptions filter keyword search over summaries. A summary
// matches a time range when its covered span overlaps it.
type SummarySearchOptions struct {
	Query            string
	Limit            int
	ExcludeSessionID int64
	StartTimestamp   int64
	EndTimestamp     int64
}

var datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

// ValidateFTSQuery checks a user-supplied FTS5 query for the mistakes that
// produce opaque engine errors and rejects them up front.
func ValidateFTSQuery(query string) error {
	if query == "" {
		return nil
	}

	var problems []string
	if strings.Count(query, `"`)%2 != 0 {
		problems = append(problems, "unmatched quotes in query")
	}
	if strings.Count(query, "(") != strings.Count(query, ")") {
		problems = append(problems, "unmatched parentheses in query")
	}
	words := strings.Fields(query)
	if len(words) > 0 {
		if isOperator(words[0]) {
			problems = append(problems, fmt.Sprintf("query cannot start with operator %q", words[0]))
		}
		if isOperator(words[len(words)-1]) {
			problems = append(problems, fmt.Sprintf("query cannot end with operator %q", words[len(words)-1]))
		}
	}
	if len(problems) > 0 {
		return errs.Newf(errs.BadQuery, "invalid query syntax: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isOperator(word string) bool {
	return word == "AND" || word == "OR" || word == "NOT"
}

// SanitizeFTSQuery wraps bare YYYY-MM-DD dates in quotes. Unquoted dates
// parse as column references in FTS5 boolean queries and fail with
// "no such column". Text already inside quotes is left untouched.
func SanitizeFTSQuery(query string) string {
	if query == "" {
		return query
	}
	parts := strings.Split(query, `"`)
	for i, part := range parts {
		if i%2 == 0 {
			parts[i] = datePattern.ReplaceAllString(part, `"$1"`)
		}
	}
	return strings.Join(parts, `"`)
}

// SearchTurnsByKeyword searches turns via FTS5 when a query is given, or
// by plain filters otherwise. Results are ordered by relevance for FTS
// queries and by recency for filter-only searches.
func (s *Store) SearchTurnsByKeyword(opts TurnSearchOptions) ([]KeywordTurn, error) {
	if err := ValidateFTSQuery(opts.Query); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		base       string
		conditions []string
		args       []any
	)
	if opts.Query != "" {
		base = `
			SELECT c.conversation_id, c.session_id, c.timestamp, c.role, c.text, fts.rank
			FROM fts_conversations fts
			JOIN conversations c ON fts.conversation_id = c.conversation_id`
		conditions = append(conditions, "fts.text MATCH ?")
		args = append(args, opts.Query)
	} else {
		base = `
			SELECT c.conversation_id, c.session_id, c.timestamp, c.role, c.text, 0.0 AS rank
			FROM conversations c`
	}

	if opts.ExcludeSessionID > 0 {
		conditions = append(conditions, "c.session_id != ?")
		args = append(args, opts.ExcludeSessionID)
	}
	if opts.Role != "" {
		conditions = append(conditions, "c.role = ?")
		args = append(args, opts.Role)
	}
	if opts.StartTimestamp > 0 {
		conditions = append(conditions, "c.timestamp >= ?")
		args = append(args, opts.StartTimestamp)
	}
	if opts.EndTimestamp > 0 {
		conditions = append(conditions, "c.timestamp <= ?")
		args = append(args, opts.EndTimestamp)
	}

	q := base
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	if opts.Query != "" {
		q += " ORDER BY fts.rank"
	} else {
		q += " ORDER BY c.timestamp DESC"
	}
	q += " LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, errs.New(errs.BadQuery, fmt.Errorf("full-text query failed: %w", err))
		}
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("keyword search turns: %w", err))
	}
	defer rows.Close()

	var out []KeywordTurn
	for rows.Next() {
		var kt KeywordTurn
		if err := rows.Scan(&kt.ID, &kt.SessionID, &kt.Timestamp, &kt.Role, &kt.Text, &kt.Rank); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		out = append(out, kt)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return out, nil
}

// SearchSummariesByKeyword searches summaries via FTS5 or plain filters,
// mirroring SearchTurnsByKeyword. Time-range filters compare against the
// summary's covered span rather than a single timestamp.
func (s *Store) SearchSummariesByKeyword(opts SummarySearchOptions) ([]KeywordSummary, error) {
	if err := ValidateFTSQuery(opts.Query); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		base       string
		conditions []string
		args       []any
	)
	if opts.Query != "" {
		base = `
			SELECT s.summary_id, s.session_id, s.summary, s.first_timestamp, s.last_timestamp, fts.rank
			FROM fts_summaries fts
			JOIN summaries s ON fts.summary_id = s.summary_id`
		conditions = append(conditions, "fts.summary MATCH ?")
		args = append(args, opts.Query)
	} else {
		base = `
			SELECT s.summary_id, s.session_id, s.summary, s.first_timestamp, s.last_timestamp, 0.0 AS rank
			FROM summaries s`
	}

	if opts.ExcludeSessionID > 0 {
		conditions = append(conditions, "s.session_id != ?")
		args = append(args, opts.ExcludeSessionID)
	}
	if opts.StartTimestamp > 0 {
		conditions = append(conditions, "s.last_timestamp >= ?")
		args = append(args, opts.StartTimestamp)
	}
	if opts.EndTimestamp > 0 {
		conditions = append(conditions, "s.first_timestamp <= ?")
		args = append(args, opts.EndTimestamp)
	}

	q := base
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	if opts.Query != "" {
		q += " ORDER BY fts.rank"
	} else {
		q += " ORDER BY s.last_timestamp DESC"
	}
	q += " LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, errs.New(errs.BadQuery, fmt.Errorf("full-text query failed: %w", err))
		}
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("keyword search summaries: %w", err))
	}
	defer rows.Close()

	var out []KeywordSummary
	for rows.Next() {
		var ks KeywordSummary
		if err := rows.Scan(&ks.ID, &ks.SessionID, &ks.Summary.Summary, &ks.FirstTimestamp, &ks.LastTimestamp, &ks.Rank); err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		out = append(out, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return out, nil
}

// isFTSSyntaxError detects the engine-level errors a malformed MATCH
// expression produces despite pre-validation.
func isFTSSyntaxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax") ||
		strings.Contains(msg, "no such column")
}
