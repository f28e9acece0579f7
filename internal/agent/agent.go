// Package agent drives one conversation turn end to end: recall,
// prompt assembly, the tool loop, and persistence. A single mutex
// serialises user turns and scheduler firings so they never interleave.
package agent

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/llm"
	"github.com/xonecas/seele/internal/memory"
	"github.com/xonecas/seele/internal/tools"
)

type Agent struct {
	mu        sync.Mutex
	memory    *memory.Manager
	assembler *llm.Assembler
	orch      *llm.Orchestrator
	registry  *tools.Registry
}

func New(mem *memory.Manager, assembler *llm.Assembler, orch *llm.Orchestrator, registry *tools.Registry) *Agent {
	return &Agent{memory: mem, assembler: assembler, orch: orch, registry: registry}
}

// SessionID returns the active session, for tools that must exclude it.
func (a *Agent) SessionID() int64 {
	return a.memory.SessionID()
}

// HandleUserMessage runs one user turn and returns the assistant reply.
func (a *Agent) HandleUserMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lastBot := a.lastAssistantText()
	retrievedSummaries, retrievedTurns, err := a.memory.Recall(ctx, text, lastBot)
	if err != nil {
		// Recall degrades to an empty result, it never blocks the turn.
		log.Warn().Err(err).Msg("memory recall failed")
	}

	if _, err := a.memory.AddUserTurn(ctx, text); err != nil {
		return "", err
	}

	reply, err := a.orch.Run(ctx, a.assembler.Assemble(llm.AssembleInput{
		History:            a.memory.ContextTurns(),
		RecentSummaries:    a.memory.RecentSummaries(),
		RetrievedSummaries: retrievedSummaries,
		RetrievedTurns:     retrievedTurns,
		UserInput:          text,
	}), a.registry.View())
	if err != nil {
		return "", err
	}

	if _, err := a.memory.AddAssistantTurn(ctx, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// HandleScheduledTask runs a scheduler-fired turn. The synthetic prompt
// is never stored; only the assistant response becomes a turn. Task
// management is hidden from the model so a firing cannot schedule more
// work.
func (a *Agent) HandleScheduledTask(ctx context.Context, name, triggerTime, message string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	retrievedSummaries, retrievedTurns, err := a.memory.Recall(ctx, message, a.lastAssistantText())
	if err != nil {
		log.Warn().Err(err).Msg("memory recall failed")
	}

	reply, err := a.orch.Run(ctx, a.assembler.Assemble(llm.AssembleInput{
		History:            a.memory.ContextTurns(),
		RecentSummaries:    a.memory.RecentSummaries(),
		RetrievedSummaries: retrievedSummaries,
		RetrievedTurns:     retrievedTurns,
		UserInput:          llm.ScheduledTaskPrompt(name, triggerTime, message),
	}), a.registry.View(tools.TaskName))
	if err != nil {
		return "", err
	}

	if _, err := a.memory.AddAssistantTurn(ctx, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// NewSession archives the current session behind a final summary and
// opens a fresh one.
func (a *Agent) NewSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.memory.NewSession(ctx)
	return err
}

// ResetSession deletes the current session's history outright.
func (a *Agent) ResetSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.memory.ResetSession(ctx)
	return err
}

func (a *Agent) lastAssistantText() string {
	turns := a.memory.ContextTurns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "assistant" {
			return turns[i].Text
		}
	}
	return ""
}
