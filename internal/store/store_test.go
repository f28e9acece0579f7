package store

import (
	"path/filepath"
	"testing"

	"github.com/xonecas/seele/internal/errs"
)

const testDim = 4

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, testDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsDimensionMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath, testDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	if _, err := Open(dbPath, testDim+4); !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict on dimension change, got %v", err)
	}

	// Reopening with the original dimension works.
	s, err = Open(dbPath, testDim)
	if err != nil {
		t.Fatalf("reopen with same dimension: %v", err)
	}
	s.Close()
}

func TestOpenRejectsSchemaVersionMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath, testDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.db.Exec(
		"UPDATE meta SET value = '999.0' WHERE key = 'schema_version'",
	); err != nil {
		t.Fatalf("rewrite schema version: %v", err)
	}
	s.Close()

	if _, err := Open(dbPath, testDim); !errs.IsKind(err, errs.Conflict) {
		t.Fatalf("expected conflict on unknown schema version, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	if sess, err := s.ActiveSession(); err != nil || sess != nil {
		t.Fatalf("expected no active session, got %v, %v", sess, err)
	}

	id, err := s.CreateSession(1000)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := s.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if sess == nil || sess.ID != id || sess.Status != "active" {
		t.Fatalf("unexpected active session %+v", sess)
	}

	if err := s.ArchiveSession(id, 2000); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if sess, _ := s.ActiveSession(); sess != nil {
		t.Fatalf("archived session still active: %+v", sess)
	}

	if err := s.ArchiveSession(999, 2000); !errs.IsKind(err, errs.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTurnsBySessionLimit(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)

	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := s.InsertTurn(sid, int64(1000+i), role, text); err != nil {
			t.Fatalf("InsertTurn: %v", err)
		}
	}

	turns, err := s.TurnsBySession(sid, 2)
	if err != nil {
		t.Fatalf("TurnsBySession: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	// Most recent two, oldest first.
	if turns[0].Text != "three" || turns[1].Text != "four" {
		t.Errorf("got %q then %q, want three then four", turns[0].Text, turns[1].Text)
	}

	all, err := s.TurnsBySession(sid, 0)
	if err != nil {
		t.Fatalf("TurnsBySession all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("got %d turns, want 4", len(all))
	}
}

func TestInsertTurnRejectsBadRole(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)

	if _, err := s.InsertTurn(sid, 1000, "system", "x"); !errs.IsKind(err, errs.BadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
}

func TestUnsummarizedTurns(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)

	// All six turns share one timestamp, the way rapid exchanges land
	// in the same second.
	var ids []int64
	for i := 0; i < 6; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		id, err := s.InsertTurn(sid, 1000, role, "t")
		if err != nil {
			t.Fatalf("InsertTurn: %v", err)
		}
		ids = append(ids, id)
	}

	// No summaries: everything is unsummarized.
	turns, err := s.UnsummarizedTurns(sid)
	if err != nil {
		t.Fatalf("UnsummarizedTurns: %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("got %d, want 6", len(turns))
	}

	// Summarize the first four turns.
	if _, err := s.InsertSummary(sid, "earlier discussion", 1000, 1000, ids[3]); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}

	turns, err = s.UnsummarizedTurns(sid)
	if err != nil {
		t.Fatalf("UnsummarizedTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d unsummarized, want 2", len(turns))
	}
	if turns[0].ID != ids[4] {
		t.Errorf("first unsummarized turn = %d, want %d", turns[0].ID, ids[4])
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)

	tid, _ := s.InsertTurn(sid, 1000, "user", "hello world")
	if err := s.AttachTurnEmbedding(tid, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("AttachTurnEmbedding: %v", err)
	}
	smid, _ := s.InsertSummary(sid, "a summary", 1000, 1000, tid)
	if err := s.AttachSummaryEmbedding(smid, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("AttachSummaryEmbedding: %v", err)
	}

	if err := s.DeleteSession(sid); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	for _, table := range []string{"conversations", "summaries", "vec_conversations", "vec_summaries"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after delete, want 0", table, n)
		}
	}

	// FTS sidecar no longer matches the deleted turn.
	hits, err := s.SearchTurnsByKeyword(TurnSearchOptions{Query: "hello"})
	if err != nil {
		t.Fatalf("SearchTurnsByKeyword: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d FTS hits after delete, want 0", len(hits))
	}
}

func TestVectorSearchOrdersAndFilters(t *testing.T) {
	s := openTestStore(t)
	archived, _ := s.CreateSession(1000)
	active, _ := s.CreateSession(2000)

	near, _ := s.InsertSummary(archived, "near", 1000, 1001, 0)
	far, _ := s.InsertSummary(archived, "far", 1002, 1003, 0)
	own, _ := s.InsertSummary(active, "own session", 2000, 2001, 0)

	s.AttachSummaryEmbedding(near, []float32{1, 0, 0, 0})
	s.AttachSummaryEmbedding(far, []float32{0, 0, 0, 1})
	s.AttachSummaryEmbedding(own, []float32{1, 0, 0, 0})

	got, err := s.SearchSummariesByVector([]float32{1, 0, 0, 0}, 2, active, nil)
	if err != nil {
		t.Fatalf("SearchSummariesByVector: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != near {
		t.Errorf("closest = %d, want %d", got[0].ID, near)
	}
	for _, vs := range got {
		if vs.SessionID == active {
			t.Errorf("result %d belongs to excluded session", vs.ID)
		}
	}

	// Excluding the nearest ID promotes the next one.
	got, err = s.SearchSummariesByVector([]float32{1, 0, 0, 0}, 1, active, []int64{near})
	if err != nil {
		t.Fatalf("SearchSummariesByVector with exclusions: %v", err)
	}
	if len(got) != 1 || got[0].ID != far {
		t.Fatalf("got %+v, want only summary %d", got, far)
	}
}

func TestVectorSearchTurnsBySession(t *testing.T) {
	s := openTestStore(t)
	s1, _ := s.CreateSession(1000)
	s2, _ := s.CreateSession(2000)

	t1, _ := s.InsertTurn(s1, 1000, "user", "in session one")
	t2, _ := s.InsertTurn(s2, 2000, "user", "in session two")
	s.AttachTurnEmbedding(t1, []float32{1, 0, 0, 0})
	s.AttachTurnEmbedding(t2, []float32{1, 0, 0, 0})

	got, err := s.SearchTurnsByVector([]float32{1, 0, 0, 0}, 5, s1)
	if err != nil {
		t.Fatalf("SearchTurnsByVector: %v", err)
	}
	if len(got) != 1 || got[0].ID != t1 {
		t.Fatalf("got %+v, want only turn %d", got, t1)
	}
}

func TestAttachEmbeddingRejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)
	tid, _ := s.InsertTurn(sid, 1000, "user", "x")

	if err := s.AttachTurnEmbedding(tid, []float32{1, 2}); !errs.IsKind(err, errs.BadArgument) {
		t.Fatalf("expected bad argument for short vector, got %v", err)
	}
	if _, err := s.SearchTurnsByVector([]float32{1, 2}, 5, 0); !errs.IsKind(err, errs.BadArgument) {
		t.Fatalf("expected bad argument for short query vector, got %v", err)
	}
}

func TestValidateFTSQuery(t *testing.T) {
	valid := []string{
		"",
		"coffee",
		"coffee AND morning",
		`"morning routine"`,
		"(tea OR coffee) AND morning",
	}
	for _, q := range valid {
		if err := ValidateFTSQuery(q); err != nil {
			t.Errorf("ValidateFTSQuery(%q) = %v, want nil", q, err)
		}
	}

	invalid := []string{
		`"unclosed phrase`,
		"(tea OR coffee",
		"AND coffee",
		"coffee OR",
		"NOT",
	}
	for _, q := range invalid {
		if err := ValidateFTSQuery(q); !errs.IsKind(err, errs.BadQuery) {
			t.Errorf("ValidateFTSQuery(%q) = %v, want bad query", q, err)
		}
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	cases := []struct{ in, want string }{
		{"2024-01-15", `"2024-01-15"`},
		{"meeting AND 2024-01-15", `meeting AND "2024-01-15"`},
		{`"2024-01-15"`, `"2024-01-15"`},
		{"coffee", "coffee"},
	}
	for _, tc := range cases {
		if got := SanitizeFTSQuery(tc.in); got != tc.want {
			t.Errorf("SanitizeFTSQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeywordSearchFilters(t *testing.T) {
	s := openTestStore(t)
	old, _ := s.CreateSession(1000)
	current, _ := s.CreateSession(2000)

	s.InsertTurn(old, 1000, "user", "I love coffee in the morning")
	s.InsertTurn(old, 1001, "assistant", "Coffee is a fine choice")
	s.InsertTurn(old, 1500, "user", "tea is better at night")
	s.InsertTurn(current, 2000, "user", "coffee again today")

	// FTS query excluding the current session.
	hits, err := s.SearchTurnsByKeyword(TurnSearchOptions{Query: "coffee", ExcludeSessionID: current})
	if err != nil {
		t.Fatalf("SearchTurnsByKeyword: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.SessionID == current {
			t.Errorf("hit %d belongs to excluded session", h.ID)
		}
	}

	// Role filter narrows further.
	hits, err = s.SearchTurnsByKeyword(TurnSearchOptions{Query: "coffee", ExcludeSessionID: current, Role: "user"})
	if err != nil {
		t.Fatalf("SearchTurnsByKeyword role filter: %v", err)
	}
	if len(hits) != 1 || hits[0].Role != "user" {
		t.Fatalf("got %+v, want one user hit", hits)
	}

	// Filter-only search orders by recency.
	hits, err = s.SearchTurnsByKeyword(TurnSearchOptions{Role: "user", StartTimestamp: 1400, EndTimestamp: 1600})
	if err != nil {
		t.Fatalf("SearchTurnsByKeyword filter only: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "tea is better at night" {
		t.Fatalf("got %+v, want the tea turn", hits)
	}
}

func TestKeywordSearchSummariesOverlap(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession(1000)

	s.InsertSummary(sid, "talked about hiking plans", 1000, 2000, 0)
	s.InsertSummary(sid, "discussed cooking recipes", 3000, 4000, 0)

	// A range overlapping only the first summary's span.
	hits, err := s.SearchSummariesByKeyword(SummarySearchOptions{StartTimestamp: 1500, EndTimestamp: 2500})
	if err != nil {
		t.Fatalf("SearchSummariesByKeyword: %v", err)
	}
	if len(hits) != 1 || hits[0].Summary.Summary != "talked about hiking plans" {
		t.Fatalf("got %+v, want the hiking summary", hits)
	}

	hits, err = s.SearchSummariesByKeyword(SummarySearchOptions{Query: "cooking"})
	if err != nil {
		t.Fatalf("SearchSummariesByKeyword query: %v", err)
	}
	if len(hits) != 1 || hits[0].Summary.Summary != "discussed cooking recipes" {
		t.Fatalf("got %+v, want the cooking summary", hits)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)

	task := Task{
		ID:            "t-1",
		Name:          "morning check-in",
		TriggerType:   TriggerInterval,
		TriggerConfig: `{"seconds":3600}`,
		Message:       "ask how the morning went",
		CreatedAt:     1000,
		NextRunAt:     2000,
	}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	// Not due before its time.
	due, err := s.DueTasks(1500)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("got %d due tasks, want 0", len(due))
	}

	due, err = s.DueTasks(2000)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != "t-1" {
		t.Fatalf("got %+v, want t-1 due", due)
	}

	// Firing bumps the schedule and the task stops being due.
	if err := s.FinishRun("t-1", 2000, 5600, TaskActive); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	due, _ = s.DueTasks(2001)
	if len(due) != 0 {
		t.Fatalf("task still due after FinishRun: %+v", due)
	}

	got, err := s.TaskByID("t-1")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if got.LastRunAt != 2000 || got.NextRunAt != 5600 {
		t.Errorf("got last=%d next=%d, want 2000/5600", got.LastRunAt, got.NextRunAt)
	}

	// Paused tasks are never due.
	if err := s.SetTaskStatus("t-1", TaskPaused); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	due, _ = s.DueTasks(9999)
	if len(due) != 0 {
		t.Fatalf("paused task reported due: %+v", due)
	}

	if err := s.SetTaskStatus("missing", TaskPaused); !errs.IsKind(err, errs.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.TaskByID("missing"); !errs.IsKind(err, errs.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOnceTaskCompletesAfterFiring(t *testing.T) {
	s := openTestStore(t)

	task := Task{
		ID:            "t-once",
		Name:          "reminder",
		TriggerType:   TriggerOnce,
		TriggerConfig: `{"run_at":3000}`,
		Message:       "remind about the appointment",
		CreatedAt:     1000,
		NextRunAt:     3000,
	}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := s.FinishRun("t-once", 3000, 3000, TaskCompleted); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	// A completed once task never comes back, even well past its time.
	due, err := s.DueTasks(999999)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("completed once task re-fired: %+v", due)
	}
}

func TestFindTaskBySpec(t *testing.T) {
	s := openTestStore(t)

	task := Task{
		ID:            "t-seed",
		Name:          "daily recap",
		TriggerType:   TriggerInterval,
		TriggerConfig: `{"seconds":86400}`,
		Message:       "recap the day",
		CreatedAt:     1000,
		NextRunAt:     2000,
	}
	s.InsertTask(task)

	got, err := s.FindTaskBySpec("daily recap", TriggerInterval, `{"seconds":86400}`)
	if err != nil {
		t.Fatalf("FindTaskBySpec: %v", err)
	}
	if got == nil || got.ID != "t-seed" {
		t.Fatalf("got %+v, want t-seed", got)
	}

	got, err = s.FindTaskBySpec("daily recap", TriggerInterval, `{"seconds":3600}`)
	if err != nil {
		t.Fatalf("FindTaskBySpec: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for different config", got)
	}
}
