package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/provider"
)

// ToolSource is the orchestrator's view of the tool registry: the
// definitions advertised to the model and the dispatch behind them.
type ToolSource interface {
	Tools() []provider.Tool
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// MaxIterationsNotice is the assistant text persisted when a turn burns
// through its tool-round budget without producing a final answer.
const MaxIterationsNotice = "Max tool iterations exceeded."

// Orchestrator runs the tool-calling loop around the chat model.
type Orchestrator struct {
	chat      provider.ChatProvider
	maxRounds int
}

func NewOrchestrator(chat provider.ChatProvider, maxRounds int) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	return &Orchestrator{chat: chat, maxRounds: maxRounds}
}

// Run drives one turn to a final assistant text. Tool calls are executed
// via tools and their results appended to the transcript; tool failures
// become error-text results and the loop continues. Only the returned
// text is meant to be persisted, never the intermediate transcript.
func (o *Orchestrator) Run(ctx context.Context, messages []provider.Message, tools ToolSource) (string, error) {
	var defs []provider.Tool
	if tools != nil {
		defs = tools.Tools()
	}

	for round := 0; round < o.maxRounds; round++ {
		resp, err := o.chat.ChatWithTools(ctx, messages, defs)
		if err != nil {
			return "", fmt.Errorf("chat call: %w", err)
		}
		if len(resp.ToolCalls) == 0 || tools == nil {
			return resp.Content, nil
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result, err := tools.Invoke(ctx, call.Name, call.Arguments)
			if err != nil {
				log.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
				result = fmt.Sprintf("Error: %v", err)
			} else {
				log.Debug().Str("tool", call.Name).Int("result_bytes", len(result)).Msg("tool call succeeded")
			}
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	log.Warn().Int("rounds", o.maxRounds).Msg("tool round budget exhausted")
	return MaxIterationsNotice, nil
}
