// Package tools holds the registry of host and extension tools.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/reglet-dev/exthost/internal/application/ports"
)

// ErrDuplicateTool is returned when a tool name is already registered.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry is a concurrency-safe tool registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
}

var _ ports.ToolRegistrar = (*Registry)(nil)

// NewRegistry creates a registry holding the given tools.
func NewRegistry(initial ...ports.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]ports.Tool, len(initial))}
	for _, t := range initial {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(tool ports.Tool) error {
	name := tool.Name()
	if name == "" {
		return errors.New("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateTool)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (ports.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
