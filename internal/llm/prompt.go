// Package llm turns session state into model requests: the prompt
// assembler builds the transcript for a chat turn, the orchestrator runs
// the tool-calling loop, and the curator condenses turns into summaries
// and profile patches.
package llm

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/xonecas/seele/internal/memory"
	"github.com/xonecas/seele/internal/profile"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/timeutil"
)

//go:embed prompts/persona.md
var personaPrompt string

//go:embed prompts/condense.md
var condensePrompt string

var (
	personaTmpl  = template.Must(template.New("persona").Parse(personaPrompt))
	condenseTmpl = template.Must(template.New("condense").Parse(condensePrompt))
)

// Assembler builds the ordered transcript for a chat turn. The profile
// document comes from the manager's in-memory cache, never from disk.
type Assembler struct {
	profile *profile.Manager
	tz      *time.Location
}

func NewAssembler(prof *profile.Manager, tz *time.Location) *Assembler {
	return &Assembler{profile: prof, tz: tz}
}

// AssembleInput carries everything a turn's transcript is built from.
type AssembleInput struct {
	History            []memory.Turn
	RecentSummaries    []string
	RetrievedSummaries []string
	RetrievedTurns     []string
	UserInput          string
}

// Assemble renders the transcript: one system block (persona, profile
// document verbatim, recent summaries, retrieved memories), then the
// history tail in chronological order, then the current request.
func (a *Assembler) Assemble(in AssembleInput) []provider.Message {
	botName, userName := a.profile.Names()

	var persona strings.Builder
	// Parse succeeded at init and the data is two strings.
	_ = personaTmpl.Execute(&persona, struct{ BotName, UserName string }{botName, userName})

	parts := []string{persona.String()}
	parts = append(parts, fmt.Sprintf("## Profile Document\n\n<profile>\n%s</profile>", a.profile.Snapshot()))

	if len(in.RecentSummaries) > 0 {
		var b strings.Builder
		b.WriteString("## Recent Conversation Summaries\n")
		for i, s := range in.RecentSummaries {
			fmt.Fprintf(&b, "\n**Summary %d:**\n%s\n", i+1, s)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}
	if len(in.RetrievedSummaries) > 0 {
		parts = append(parts, bulletSection("## Related Historical Summaries", in.RetrievedSummaries))
	}
	if len(in.RetrievedTurns) > 0 {
		parts = append(parts, bulletSection("## Related Historical Conversations", in.RetrievedTurns))
	}

	messages := []provider.Message{
		{Role: "system", Content: strings.Join(parts, "\n\n---\n\n")},
		{Role: "system", Content: "BEGINNING OF THE CURRENT CONVERSATION."},
	}
	for _, t := range in.History {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Text})
	}
	messages = append(messages,
		provider.Message{Role: "system", Content: "END OF THE CURRENT CONVERSATION."},
		provider.Message{
			Role:    "system",
			Content: fmt.Sprintf("END OF ALL CONTEXT.\n\n**Current Time**: %s", timeutil.Format(timeutil.Now(), a.tz)),
		},
		provider.Message{
			Role:    "user",
			Content: fmt.Sprintf("Please respond to the above request based on all context provided.\n\n⚡ [Current Request]\n%s", in.UserInput),
		},
	)
	return messages
}

func bulletSection(heading string, items []string) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	for _, it := range items {
		b.WriteString("\n- ")
		b.WriteString(it)
	}
	return b.String()
}

// ScheduledTaskPrompt is the synthetic user message a scheduler firing
// hands to the orchestrator. It is never stored as a turn.
func ScheduledTaskPrompt(name, triggerTime, message string) string {
	return fmt.Sprintf("[SYSTEM_SCHEDULED_TASK]\nTask Name: %s\nTrigger Time: %s\nTask: %s\n\nPlease respond proactively based on this scheduled task.",
		name, triggerTime, message)
}
