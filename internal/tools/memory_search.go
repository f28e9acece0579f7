package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// SearchName is the memory search tool's advertised name.
const SearchName = "search_memories"

var searchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "Search keywords using FTS5 syntax. Examples: coffee | coffee AND morning | tea OR coffee | \"morning routine\" | coffee NOT decaf | (tea OR coffee) AND morning. Leave empty to search using only filters."
		},
		"limit": {
			"type": "integer",
			"description": "Maximum number of results to return (default: 10).",
			"default": 10
		},
		"role": {
			"type": "string",
			"enum": ["user", "assistant"],
			"description": "Filter by speaker role."
		},
		"time_period": {
			"type": "string",
			"enum": ["last_day", "last_week", "last_month", "last_year"],
			"description": "Quick time filter for vague timeframes like 'recently' or 'the other day'."
		},
		"start_date": {
			"type": "string",
			"description": "Filter from this date onwards. Format: YYYY-MM-DD or YYYY-MM-DD HH:MM:SS."
		},
		"end_date": {
			"type": "string",
			"description": "Filter until this date. Format: YYYY-MM-DD or YYYY-MM-DD HH:MM:SS."
		}
	},
	"required": []
}`)

// SearchTool lets the model query its own history by keyword. Results
// always exclude the active session, whose content is already in the
// prompt.
type SearchTool struct {
	store     *store.Store
	sessionID func() int64
	tz        *time.Location
}

func NewSearchTool(st *store.Store, sessionID func() int64, tz *time.Location) *SearchTool {
	return &SearchTool{store: st, sessionID: sessionID, tz: tz}
}

func (t *SearchTool) Definition() provider.Tool {
	return provider.Tool{
		Name: SearchName,
		Description: "Search your long-term memory (conversation history and summaries) using keywords and filters. " +
			"Use when the user asks about past conversations, previous topics, or things mentioned before " +
			"(\"do you remember...\", \"what did we talk about...\", \"when did I say...\"). " +
			"Search in the same language as the conversation.",
		Parameters: searchSchema,
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	Role       string `json:"role"`
	TimePeriod string `json:"time_period"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

func (t *SearchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var a searchArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", errs.New(errs.BadArgument, fmt.Errorf("decode search arguments: %w", err))
		}
	}

	query := store.SanitizeFTSQuery(strings.TrimSpace(a.Query))
	if err := store.ValidateFTSQuery(query); err != nil {
		return "", err
	}

	start, end, err := t.timeBounds(a)
	if err != nil {
		return "", err
	}
	if query == "" && a.Role == "" && start == 0 && end == 0 {
		return "", errs.Newf(errs.BadArgument, "provide at least one search criterion (query, role, or time filter)")
	}

	limit := a.Limit
	if limit <= 0 {
		limit = 10
	}
	half := limit / 2
	if half < 1 {
		half = 1
	}

	exclude := t.sessionID()
	summaries, err := t.store.SearchSummariesByKeyword(store.SummarySearchOptions{
		Query:            query,
		Limit:            half,
		ExcludeSessionID: exclude,
		StartTimestamp:   start,
		EndTimestamp:     end,
	})
	if err != nil {
		return "", err
	}
	turns, err := t.store.SearchTurnsByKeyword(store.TurnSearchOptions{
		Query:            query,
		Limit:            half,
		ExcludeSessionID: exclude,
		Role:             a.Role,
		StartTimestamp:   start,
		EndTimestamp:     end,
	})
	if err != nil {
		return "", err
	}

	if len(summaries) == 0 && len(turns) == 0 {
		return "No relevant memories found matching the search criteria", nil
	}
	return t.render(a, query, summaries, turns), nil
}

func (t *SearchTool) timeBounds(a searchArgs) (start, end int64, err error) {
	now := timeutil.Now()
	switch a.TimePeriod {
	case "":
	case "last_day":
		start = now - 86400
	case "last_week":
		start = now - 7*86400
	case "last_month":
		start = now - 30*86400
	case "last_year":
		start = now - 365*86400
	default:
		return 0, 0, errs.Newf(errs.BadArgument, "unknown time_period %q", a.TimePeriod)
	}

	// Explicit dates override the preset.
	if a.StartDate != "" {
		if start, err = timeutil.ParseDate(a.StartDate, t.tz, false); err != nil {
			return 0, 0, err
		}
	}
	if a.EndDate != "" {
		if end, err = timeutil.ParseDate(a.EndDate, t.tz, true); err != nil {
			return 0, 0, err
		}
	}
	return start, end, nil
}

func (t *SearchTool) render(a searchArgs, query string, summaries []store.KeywordSummary, turns []store.KeywordTurn) string {
	var lines []string

	var criteria []string
	if query != "" {
		criteria = append(criteria, fmt.Sprintf("keywords: %q", query))
	}
	if a.Role != "" {
		criteria = append(criteria, "role: "+a.Role)
	}
	switch {
	case a.TimePeriod != "":
		criteria = append(criteria, "time: "+a.TimePeriod)
	case a.StartDate != "" && a.EndDate != "":
		criteria = append(criteria, fmt.Sprintf("time: %s to %s", a.StartDate, a.EndDate))
	case a.StartDate != "":
		criteria = append(criteria, "time: from "+a.StartDate)
	case a.EndDate != "":
		criteria = append(criteria, "time: until "+a.EndDate)
	}
	if len(criteria) > 0 {
		lines = append(lines, "Search criteria: "+strings.Join(criteria, ", "), "")
	}

	if len(summaries) > 0 {
		lines = append(lines, "== Related Summaries ==")
		for _, s := range summaries {
			lines = append(lines, fmt.Sprintf("[%s] %s", timeutil.Format(s.LastTimestamp, t.tz), s.Summary.Summary))
		}
	}
	if len(turns) > 0 {
		if len(summaries) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "== Related Conversations ==")
		for _, c := range turns {
			role := "User"
			if c.Role == "assistant" {
				role = "Assistant"
			}
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", timeutil.Format(c.Timestamp, t.tz), role, c.Text))
		}
	}
	return strings.Join(lines, "\n")
}
