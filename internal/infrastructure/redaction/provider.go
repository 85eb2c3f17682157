package redaction

import "sync"

// Provider implements ports.SensitiveValueProvider.
// It maintains a thread-safe registry of sensitive values.
type Provider struct {
	values []string
	seen   map[string]bool
	mu     sync.RWMutex
}

// NewProvider creates an empty registry.
func NewProvider() *Provider {
	return &Provider{
		values: make([]string, 0, 32),
		seen:   make(map[string]bool),
	}
}

// Track registers a value. Empty and very short values are ignored so that
// common substrings are not scrubbed everywhere.
func (p *Provider) Track(value string) {
	if len(value) < 4 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[value] {
		return
	}
	p.seen[value] = true
	p.values = append(p.values, value)
}

// AllValues returns a copy of the tracked values.
func (p *Provider) AllValues() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]string, len(p.values))
	copy(result, p.values)
	return result
}
