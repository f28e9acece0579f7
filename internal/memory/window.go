// Package memory manages conversational state: the in-memory context
// window, two-stage retrieval over past sessions, and the session
// lifecycle that moves turns from the window into stored summaries.
package memory

import (
	"sync"
)

// Turn is one message in the context window.
type Turn struct {
	Role string
	Text string
}

// WindowSummary is a summary held in the window alongside its store ID,
// so retrieval can skip summaries the model already sees.
type WindowSummary struct {
	ID   int64
	Text string
}

// Window is the in-memory context window: the live turns plus the most
// recent summaries. It holds no database state of its own.
type Window struct {
	mu           sync.Mutex
	turns        []Turn
	summaries    []WindowSummary
	maxSummaries int
}

// NewWindow returns an empty window keeping at most maxSummaries recent
// summaries.
func NewWindow(maxSummaries int) *Window {
	return &Window{maxSummaries: maxSummaries}
}

// AddTurn appends a turn to the window.
func (w *Window) AddTurn(role, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, Turn{Role: role, Text: text})
}

// AddSummary appends a summary, dropping the oldest ones beyond the cap.
func (w *Window) AddSummary(id int64, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, WindowSummary{ID: id, Text: text})
	if len(w.summaries) > w.maxSummaries {
		w.summaries = w.summaries[len(w.summaries)-w.maxSummaries:]
	}
}

// Len returns the number of turns in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// DropOldest removes the first count turns.
func (w *Window) DropOldest(count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if count > len(w.turns) {
		count = len(w.turns)
	}
	w.turns = append([]Turn(nil), w.turns[count:]...)
}

// Turns returns a copy of every turn in the window, oldest first.
func (w *Window) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// SummaryTexts returns the recent summary texts, oldest first.
func (w *Window) SummaryTexts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.summaries))
	for i, s := range w.summaries {
		out[i] = s.Text
	}
	return out
}

// SummaryIDs returns the store IDs of the recent summaries.
func (w *Window) SummaryIDs() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, len(w.summaries))
	for i, s := range w.summaries {
		out[i] = s.ID
	}
	return out
}

// Clear empties both the turns and the recent summaries.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.summaries = nil
}
