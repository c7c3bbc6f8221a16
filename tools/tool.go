// Package tools implements the Tool Registry and Approval Tracker
// (spec §4.10): the catalog of actions the Autonomous Agent Loop may
// invoke, and the permission gate in front of them. Grounded on the
// teacher's capability-registry pattern in orchestration/catalog.go,
// adapted from agent-capability discovery to a fixed built-in tool set
// with a permission tier per tool.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hydra-run/hydra/core"
)

// Permission is a tool's approval tier (spec §3 Tool / §4.10).
type Permission string

const (
	PermissionSafe             Permission = "safe"
	PermissionRequiresApproval Permission = "requires_approval"
	PermissionCritical         Permission = "critical"
)

// Handler executes a tool call given its arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is a single registered action (spec §3 Tool).
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // typed JSON schema
	Permission  Permission
	Handler     Handler
}

// Registry is the Tool Registry: a name-keyed catalog of Tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty Tool Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, sorted by name for deterministic
// prompt rendering (the Agent Loop's planning prompt lists tools).
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs a tool's handler after the Approval Tracker has cleared it.
// The caller is expected to have already called tracker.IsApproved.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrToolNotFound, name)
	}
	return t.Handler(ctx, args)
}
