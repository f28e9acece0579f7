// Package tools is the unified tool surface offered to the model:
// built-in memory search and task management plus tools discovered from
// external MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/provider"
)

// Tool is one callable unit: its function-calling definition and its
// dispatch.
type Tool interface {
	Definition() provider.Tool
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.Mutex
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A tool re-registered under the same name
// replaces the previous one.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// View returns the registry seen through a filter: hidden tools are not
// advertised and calling one fails with PolicyViolation. Scheduler-fired
// turns hide task management, summarisation hides memory search.
func (r *Registry) View(hide ...string) *View {
	hidden := make(map[string]bool, len(hide))
	for _, name := range hide {
		hidden[name] = true
	}
	return &View{registry: r, hidden: hidden}
}

// View is a filtered window onto a Registry. It satisfies the
// orchestrator's tool source.
type View struct {
	registry *Registry
	hidden   map[string]bool
}

func (v *View) Tools() []provider.Tool {
	v.registry.mu.Lock()
	defer v.registry.mu.Unlock()

	var defs []provider.Tool
	for _, name := range v.registry.order {
		if v.hidden[name] {
			continue
		}
		defs = append(defs, v.registry.tools[name].Definition())
	}
	return defs
}

func (v *View) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if v.hidden[name] {
		return "", errs.Newf(errs.PolicyViolation, "tool %q is not available in this context", name)
	}
	v.registry.mu.Lock()
	t, ok := v.registry.tools[name]
	v.registry.mu.Unlock()
	if !ok {
		return "", errs.Newf(errs.NotFound, "unknown tool %q", name)
	}
	return t.Invoke(ctx, args)
}
