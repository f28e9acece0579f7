package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xonecas/seele/internal/config"
	"github.com/xonecas/seele/internal/llm"
	"github.com/xonecas/seele/internal/memory"
	"github.com/xonecas/seele/internal/profile"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/tools"
)

type stubCurator struct{}

func (stubCurator) Condense(ctx context.Context, turns []memory.Turn, lastSummary string, first, last int64) (string, error) {
	return "condensed", nil
}

func testConfig() *config.Config {
	return &config.Config{
		Timezone:              time.UTC,
		KeepMin:               2,
		TriggerSummary:        10,
		RecentSummariesMax:    2,
		RecallSummaryPerQuery: 3,
		RecallConvPerSummary:  4,
		RerankTopSummaries:    3,
		RerankTopConvs:        6,
	}
}

func newTestAgent(t *testing.T, chat *provider.MockChat) (*Agent, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	prof, err := profile.Load(filepath.Join(dir, "seele.json"))
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}

	mem, err := memory.NewManager(context.Background(), testConfig(), st,
		&provider.MockEmbedder{Dim: 4}, &provider.MockReranker{}, stubCurator{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchTool(st, mem.SessionID, time.UTC))
	registry.Register(tools.NewTaskTool(st, time.UTC))

	return New(mem, llm.NewAssembler(prof, time.UTC), llm.NewOrchestrator(chat, 8), registry), st
}

func TestUserTurnPersistsBothSides(t *testing.T) {
	chat := &provider.MockChat{Fallback: &provider.ChatResponse{Content: "hello there"}}
	a, st := newTestAgent(t, chat)

	reply, err := a.HandleUserMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}

	turns, err := st.TurnsBySession(a.SessionID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("stored turns = %+v", turns)
	}
	if turns[1].Text != "hello there" {
		t.Errorf("assistant turn = %q", turns[1].Text)
	}

	sent := chat.Calls[0]
	last := sent[len(sent)-1]
	if !strings.Contains(last.Content, "[Current Request]\nhi") {
		t.Errorf("request not emphasised: %q", last.Content)
	}
}

func TestUserTurnCanCallTools(t *testing.T) {
	chat := &provider.MockChat{Responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "t1", Name: tools.TaskName, Arguments: json.RawMessage(
			`{"action": "create", "name": "nudge", "trigger_type": "interval", "time": "1h", "message": "stretch"}`)}}},
		{Content: "reminder set"},
	}}
	a, st := newTestAgent(t, chat)

	reply, err := a.HandleUserMessage(context.Background(), "remind me to stretch hourly")
	if err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if reply != "reminder set" {
		t.Errorf("reply = %q", reply)
	}
	tasks, _ := st.Tasks(store.TaskActive)
	if len(tasks) != 1 || tasks[0].Name != "nudge" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestScheduledTurnStoresOnlyReply(t *testing.T) {
	chat := &provider.MockChat{Fallback: &provider.ChatResponse{Content: "time to stretch!"}}
	a, st := newTestAgent(t, chat)

	reply, err := a.HandleScheduledTask(context.Background(), "nudge", "2026-08-26 10:00:00", "stretch")
	if err != nil {
		t.Fatalf("HandleScheduledTask: %v", err)
	}
	if reply != "time to stretch!" {
		t.Errorf("reply = %q", reply)
	}

	turns, _ := st.TurnsBySession(a.SessionID(), 0)
	if len(turns) != 1 || turns[0].Role != "assistant" {
		t.Fatalf("stored turns = %+v, want only the assistant reply", turns)
	}

	sent := chat.Calls[0]
	last := sent[len(sent)-1]
	if !strings.Contains(last.Content, "[SYSTEM_SCHEDULED_TASK]") || !strings.Contains(last.Content, "Task Name: nudge") {
		t.Errorf("synthetic prompt missing: %q", last.Content)
	}
}

func TestScheduledTurnHidesTaskTool(t *testing.T) {
	chat := &provider.MockChat{Responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "t1", Name: tools.TaskName, Arguments: json.RawMessage(
			`{"action": "create", "name": "sneaky", "trigger_type": "interval", "time": "1m", "message": "loop"}`)}}},
		{Content: "understood"},
	}}
	a, st := newTestAgent(t, chat)

	if _, err := a.HandleScheduledTask(context.Background(), "nudge", "2026-08-26 10:00:00", "stretch"); err != nil {
		t.Fatalf("HandleScheduledTask: %v", err)
	}

	if tasks, _ := st.Tasks(store.TaskActive); len(tasks) != 0 {
		t.Fatalf("scheduled turn created tasks: %+v", tasks)
	}
	second := chat.Calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "Error:") {
		t.Errorf("hidden tool call result = %+v", last)
	}
}

func TestNewSessionRotates(t *testing.T) {
	chat := &provider.MockChat{Fallback: &provider.ChatResponse{Content: "ok"}}
	a, st := newTestAgent(t, chat)

	if _, err := a.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	old := a.SessionID()
	if err := a.NewSession(context.Background()); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if a.SessionID() == old {
		t.Error("session did not rotate")
	}
	summaries, _ := st.SummariesBySession(old, 0)
	if len(summaries) != 1 {
		t.Errorf("final summaries = %d, want 1", len(summaries))
	}
}
