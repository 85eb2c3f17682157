package services

import (
	"sync"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// registeredHook is one subscription of an extension to an event.
type registeredHook struct {
	extension values.ExtensionID
	event     events.Name
	filter    *events.Filter
	hook      ports.Hook
}

// HookRegistry holds event subscriptions in registration order.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[events.Name][]registeredHook
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[events.Name][]registeredHook)}
}

// Register subscribes hook to event. when is an optional filter expression,
// compiled here so a bad expression fails the load instead of every event.
func (r *HookRegistry) Register(ext values.ExtensionID, event events.Name, when string, hook ports.Hook) error {
	filter, err := events.CompileFilter(when)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[event] = append(r.hooks[event], registeredHook{
		extension: ext,
		event:     event,
		filter:    filter,
		hook:      hook,
	})
	return nil
}

// Unregister removes every hook of ext and returns how many were removed.
func (r *HookRegistry) Unregister(ext values.ExtensionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, hooks := range r.hooks {
		kept := hooks[:0]
		for _, h := range hooks {
			if h.extension.Equals(ext) {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) == 0 {
			delete(r.hooks, name)
		} else {
			r.hooks[name] = kept
		}
	}
	return removed
}

// forEvent returns a snapshot of the hooks for event in registration order.
func (r *HookRegistry) forEvent(event events.Name) []registeredHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]registeredHook(nil), r.hooks[event]...)
}

// Count returns the number of hooks subscribed to event.
func (r *HookRegistry) Count(event events.Name) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[event])
}
