package entities

import (
	"fmt"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// State is an extension's lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	Extension values.ExtensionID
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("extension %s: cannot move from %s to %s", e.Extension, e.From, e.To)
}

// Extension is the aggregate for one loaded (or failed) extension.
//
// Invariants:
//   - Unloaded -> Loading -> Active -> Unloaded is the only forward path
//   - a failed load returns to Unloaded and keeps its reason
type Extension struct {
	id       values.ExtensionID
	root     string
	manifest Manifest
	state    State

	failure   string
	repairs   []repair.Event
	loadedAt  time.Time
	changedAt time.Time
}

// NewExtension creates an Unloaded extension rooted at root.
func NewExtension(id values.ExtensionID, root string, m Manifest) *Extension {
	return &Extension{id: id, root: root, manifest: m, state: StateUnloaded}
}

func (e *Extension) ID() values.ExtensionID { return e.id }
func (e *Extension) Root() string { return e.root }
func (e *Extension) Manifest() Manifest { return e.manifest }
func (e *Extension) State() State { return e.state }
func (e *Extension) FailureReason() string { return e.failure }
func (e *Extension) LoadedAt() time.Time { return e.loadedAt }
func (e *Extension) IsActive() bool { return e.state == StateActive }

// Repairs returns the repair events recorded during loading.
func (e *Extension) Repairs() []repair.Event {
	return append([]repair.Event(nil), e.repairs...)
}

func (e *Extension) transition(to State, now time.Time) {
	e.state = to
	e.changedAt = now
}

// BeginLoad moves Unloaded -> Loading and clears any previous failure.
func (e *Extension) BeginLoad(now time.Time) error {
	if e.state != StateUnloaded {
		return &TransitionError{Extension: e.id, From: e.state, To: StateLoading}
	}
	e.failure = ""
	e.repairs = nil
	e.transition(StateLoading, now)
	return nil
}

// RecordRepair attaches a repair event to the current load.
func (e *Extension) RecordRepair(ev repair.Event) {
	e.repairs = append(e.repairs, ev)
}

// Activate moves Loading -> Active.
func (e *Extension) Activate(now time.Time) error {
	if e.state != StateLoading {
		return &TransitionError{Extension: e.id, From: e.state, To: StateActive}
	}
	e.loadedAt = now
	e.transition(StateActive, now)
	return nil
}

// Fail moves Loading -> Unloaded and records why.
func (e *Extension) Fail(reason string, now time.Time) error {
	if e.state != StateLoading {
		return &TransitionError{Extension: e.id, From: e.state, To: StateUnloaded}
	}
	e.failure = reason
	e.transition(StateUnloaded, now)
	return nil
}

// Unload moves Active -> Unloaded. Unloading an Unloaded extension is a no-op.
func (e *Extension) Unload(now time.Time) error {
	switch e.state {
	case StateUnloaded:
		return nil
	case StateActive:
		e.transition(StateUnloaded, now)
		return nil
	default:
		return &TransitionError{Extension: e.id, From: e.state, To: StateUnloaded}
	}
}

// Status is a read-only summary of an extension.
type Status struct {
	ID       values.ExtensionID `json:"id" yaml:"id"`
	Version  string             `json:"version" yaml:"version"`
	State    State              `json:"state" yaml:"state"`
	Root     string             `json:"root" yaml:"root"`
	Failure  string             `json:"failure,omitempty" yaml:"failure,omitempty"`
	Repairs  int                `json:"repairs" yaml:"repairs"`
	Tools    []string           `json:"tools,omitempty" yaml:"tools,omitempty"`
	LoadedAt time.Time          `json:"loaded_at,omitempty" yaml:"loaded_at,omitempty"`
}

// Status summarises the extension.
func (e *Extension) Status() Status {
	tools := make([]string, 0, len(e.manifest.Tools))
	for _, t := range e.manifest.Tools {
		tools = append(tools, t.Name)
	}
	return Status{
		ID:       e.id,
		Version:  e.manifest.Version,
		State:    e.state,
		Root:     e.root,
		Failure:  e.failure,
		Repairs:  len(e.repairs),
		Tools:    tools,
		LoadedAt: e.loadedAt,
	}
}
