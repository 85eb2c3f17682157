// Package repositories defines interfaces for domain persistence.
package repositories

import (
	"context"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// RepairEventFilter narrows a repair event query. Zero fields match everything.
type RepairEventFilter struct {
	Extension values.ExtensionID
	Pattern   repair.Pattern
	Since     time.Time
	Until     time.Time
	// Limit caps the result; zero means no limit.
	Limit int
}

// Matches reports whether ev passes the filter.
func (f RepairEventFilter) Matches(ev repair.Event) bool {
	if !f.Extension.IsEmpty() && !f.Extension.Equals(ev.ExtensionID()) {
		return false
	}
	if f.Pattern != 0 && f.Pattern != ev.Pattern() {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp().Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp().After(f.Until) {
		return false
	}
	return true
}

// RepairEventRepository is the append-only store of repair attempts.
// Events are never updated or deleted.
type RepairEventRepository interface {
	// Append stores an event and returns its assigned id.
	Append(ctx context.Context, ev repair.Event) (string, error)

	// Find returns matching events, oldest first.
	Find(ctx context.Context, filter RepairEventFilter) ([]repair.Event, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)
}
