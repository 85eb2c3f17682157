package services

import (
	"sync"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// GrantTable holds the capabilities granted to each loaded extension.
type GrantTable struct {
	mu     sync.RWMutex
	grants map[values.ExtensionID]capabilities.Grant
}

var _ GrantLookup = (*GrantTable)(nil)

// NewGrantTable creates an empty table.
func NewGrantTable() *GrantTable {
	return &GrantTable{grants: make(map[values.ExtensionID]capabilities.Grant)}
}

// Set replaces the grants of ext.
func (t *GrantTable) Set(ext values.ExtensionID, g []capabilities.Capability) {
	grant := capabilities.NewGrant()
	for _, c := range g {
		grant.Add(c)
	}

	t.mu.Lock()
	t.grants[ext] = grant
	t.mu.Unlock()
}

// Granted returns a copy of the grants of ext.
func (t *GrantTable) Granted(ext values.ExtensionID) []capabilities.Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]capabilities.Capability(nil), t.grants[ext]...)
}

// Revoke drops every grant of ext.
func (t *GrantTable) Revoke(ext values.ExtensionID) {
	t.mu.Lock()
	delete(t.grants, ext)
	t.mu.Unlock()
}
