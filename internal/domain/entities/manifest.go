package entities

import (
	"fmt"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Runtime names the script engine an extension targets.
type Runtime string

const (
	RuntimeJS   Runtime = "js"
	RuntimeWasm Runtime = "wasm"
)

// DefaultEntries are tried, in order, when a manifest names no entry.
var DefaultEntries = []string{"index.ts", "index.js", "index.mjs", "extension.wasm"}

// Manifest describes an extension as read from its extension.yaml.
type Manifest struct {
	Name        string `json:"name" yaml:"name" validate:"required" jsonschema:"required,description=Extension identifier"`
	Version     string `json:"version" yaml:"version" validate:"required" jsonschema:"required,description=Semantic version of the extension"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Entry is the module loaded at activation, relative to the extension root.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`
	// Engine is a semver constraint on the host version, e.g. ">=0.3.0 <1.0.0".
	Engine  string  `json:"engine,omitempty" yaml:"engine,omitempty"`
	Runtime Runtime `json:"runtime,omitempty" yaml:"runtime,omitempty" validate:"omitempty,oneof=js wasm" jsonschema:"enum=js,enum=wasm"`

	Capabilities []string   `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tools        []ToolSpec `json:"tools,omitempty" yaml:"tools,omitempty" validate:"dive"`
	Hooks        []HookSpec `json:"hooks,omitempty" yaml:"hooks,omitempty" validate:"dive"`
}

// ToolSpec declares a tool an extension contributes.
type ToolSpec struct {
	Name        string `json:"name" yaml:"name" validate:"required" jsonschema:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// HookSpec subscribes an extension to a lifecycle event.
type HookSpec struct {
	Event string `json:"event" yaml:"event" validate:"required" jsonschema:"required"`
	// When is an optional boolean expression over the event, evaluated
	// before the hook runs.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Normalization records one change made by Normalize.
type Normalization struct {
	Field  string
	Before string
	After  string
}

func (n Normalization) String() string {
	return fmt.Sprintf("%s: %q -> %q", n.Field, n.Before, n.After)
}

// Normalize returns a canonical copy of m: the name trimmed and lower-cased,
// the version rendered as canonical semver, and a missing entry defaulted
// to the first of DefaultEntries for which exists reports true. The runtime
// follows the entry extension when unset.
func (m Manifest) Normalize(exists func(rel string) bool) (Manifest, []Normalization, error) {
	out := m
	var changes []Normalization
	record := func(field, before, after string) {
		if before != after {
			changes = append(changes, Normalization{Field: field, Before: before, After: after})
		}
	}

	name := strings.ToLower(strings.TrimSpace(m.Name))
	record("name", m.Name, name)
	out.Name = name

	v, err := semver.NewVersion(strings.TrimSpace(m.Version))
	if err != nil {
		return m, nil, fmt.Errorf("manifest %q: invalid version %q: %w", name, m.Version, err)
	}
	record("version", m.Version, v.String())
	out.Version = v.String()

	if strings.TrimSpace(m.Entry) == "" && exists != nil {
		for _, candidate := range DefaultEntries {
			if exists(candidate) {
				record("entry", m.Entry, candidate)
				out.Entry = candidate
				break
			}
		}
	}
	if out.Entry == "" {
		return m, nil, fmt.Errorf("manifest %q: no entry and none of %v present", name, DefaultEntries)
	}

	if out.Runtime == "" {
		rt := RuntimeJS
		if path.Ext(out.Entry) == ".wasm" {
			rt = RuntimeWasm
		}
		record("runtime", "", string(rt))
		out.Runtime = rt
	}

	return out, changes, nil
}

// SatisfiesHost reports whether hostVersion meets the manifest's engine
// constraint. An empty constraint accepts any host.
func (m Manifest) SatisfiesHost(hostVersion string) (bool, error) {
	if strings.TrimSpace(m.Engine) == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return false, fmt.Errorf("invalid engine constraint %q: %w", m.Engine, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		// Development builds carry non-semver versions and are not gated.
		return true, nil
	}
	return c.Check(v), nil
}

// HooksFor returns the hook specs subscribed to event.
func (m Manifest) HooksFor(event string) []HookSpec {
	var out []HookSpec
	for _, h := range m.Hooks {
		if h.Event == event {
			out = append(out, h)
		}
	}
	return out
}
