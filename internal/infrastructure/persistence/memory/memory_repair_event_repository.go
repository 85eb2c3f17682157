// Package memory provides in-memory implementations of domain repositories.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
)

// Ensure interface compliance
var _ repositories.RepairEventRepository = (*RepairEventRepository)(nil)

type storedEvent struct {
	id    string
	event repair.Event
}

// RepairEventRepository is an in-memory implementation of RepairEventRepository.
// Useful for testing and ephemeral hosts.
type RepairEventRepository struct {
	events []storedEvent
	mu     sync.RWMutex
}

// NewRepairEventRepository creates a new in-memory repository.
func NewRepairEventRepository() *RepairEventRepository {
	return &RepairEventRepository{}
}

// Append stores an event. Events are values, so later changes by the
// caller cannot reach the stored copy.
func (r *RepairEventRepository) Append(_ context.Context, ev repair.Event) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.events = append(r.events, storedEvent{id: id, event: ev})
	return id, nil
}

// Find returns matching events in append order.
func (r *RepairEventRepository) Find(_ context.Context, filter repositories.RepairEventFilter) ([]repair.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []repair.Event
	for _, s := range r.events {
		if !filter.Matches(s.event) {
			continue
		}
		matches = append(matches, s.event)
		if filter.Limit > 0 && len(matches) == filter.Limit {
			break
		}
	}
	return matches, nil
}

// Count returns the number of stored events.
func (r *RepairEventRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events), nil
}
