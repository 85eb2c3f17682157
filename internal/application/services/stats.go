package services

import (
	"sort"
	"sync"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// ExtensionStats counts the hostcalls of one extension.
type ExtensionStats struct {
	Extension string            `json:"extension" yaml:"extension"`
	Calls     uint64            `json:"calls" yaml:"calls"`
	Errors    uint64            `json:"errors" yaml:"errors"`
	ByKind    map[string]uint64 `json:"by_kind" yaml:"by_kind"`
	ByCode    map[string]uint64 `json:"by_code,omitempty" yaml:"by_code,omitempty"`
}

// HostcallStats holds per-extension hostcall counters. State for one
// extension is never read or written on behalf of another.
type HostcallStats struct {
	mu    sync.Mutex
	byExt map[values.ExtensionID]*ExtensionStats
}

// NewHostcallStats creates empty counters.
func NewHostcallStats() *HostcallStats {
	return &HostcallStats{byExt: make(map[values.ExtensionID]*ExtensionStats)}
}

// Record counts one call. code is empty for successes.
func (s *HostcallStats) Record(ext values.ExtensionID, kind, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byExt[ext]
	if !ok {
		st = &ExtensionStats{
			Extension: ext.String(),
			ByKind:    make(map[string]uint64),
			ByCode:    make(map[string]uint64),
		}
		s.byExt[ext] = st
	}
	st.Calls++
	st.ByKind[kind]++
	if code != "" {
		st.Errors++
		st.ByCode[code]++
	}
}

// Snapshot returns a copy of every extension's counters sorted by id.
func (s *HostcallStats) Snapshot() []ExtensionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExtensionStats, 0, len(s.byExt))
	for _, st := range s.byExt {
		cp := *st
		cp.ByKind = make(map[string]uint64, len(st.ByKind))
		for k, v := range st.ByKind {
			cp.ByKind[k] = v
		}
		cp.ByCode = make(map[string]uint64, len(st.ByCode))
		for k, v := range st.ByCode {
			cp.ByCode[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}
