package agent

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/user/agentloom/pkg/llm"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// kinded is implemented by tools that report a ToolCallStarted kind
// (read, edit, fetch, ...).
type kinded interface {
	Kind() string
}

func toolKind(t Tool) string {
	if k, ok := t.(kinded); ok {
		return k.Kind()
	}
	return "other"
}

// Registry holds registered tools by name. It is filled before the bridge
// starts and read-only afterwards.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AsLLMTools converts registered tools to the provider format, sorted by name
// so requests are stable.
func (r *Registry) AsLLMTools() []llm.Tool {
	names := r.Names()
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
