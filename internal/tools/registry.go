package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the tools available to tool nodes.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry returns a registry with the built-in tools.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewRefundTool())
	r.Register(NewWebhookTool(nil))
	r.Register(NewHelpArticleTool(nil))
	r.Register(NewStatusFeedTool(nil))
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, call Call) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	return t.Execute(ctx, call)
}

// ToolInfo is the API listing entry for a tool.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Requires    []string `json:"requires,omitempty"`
}

// List returns every registered tool sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		info := ToolInfo{Name: t.Name(), Description: t.Description()}
		if g, ok := t.(Guarded); ok {
			info.Requires = g.Requires()
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
