// Package capabilities defines domain types for capability management.
package capabilities

import "strings"

// Capability kinds understood by the hostcall dispatcher.
const (
	KindTool    = "tool"
	KindHTTP    = "http"
	KindSession = "session"
	KindUI      = "ui"
	KindEvents  = "events"
)

var (
	// Tools that hand an extension arbitrary code execution or file mutation.
	dangerousTools = []string{"bash", "write", "edit"}

	// Session operations that change what the user sees or where work is recorded.
	mutatingSessionPrefixes = []string{"set_", "append_", "fork", "switch"}
)

// RiskLevel represents the security risk level of a capability.
type RiskLevel int

const (
	// RiskLevelLow represents minimal security risk (specific, narrow permissions).
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium represents moderate security risk (network access, session mutation).
	RiskLevelMedium
	// RiskLevelHigh represents high security risk (broad permissions, arbitrary code execution).
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Capability represents a permission requirement or grant.
// This is a pure value object in the domain.
type Capability struct {
	Kind    string `yaml:"kind" json:"kind"`       // tool, http, session, ui, events
	Pattern string `yaml:"pattern" json:"pattern"` // e.g. "read", "api.github.com", "get_*"
}

// Parse reads the "kind:pattern" form used in manifests and config files.
func Parse(s string) (Capability, bool) {
	kind, pattern, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || kind == "" || pattern == "" {
		return Capability{}, false
	}
	return Capability{Kind: strings.ToLower(kind), Pattern: pattern}, true
}

// Equals checks if two capabilities are equal (value object equality).
func (c Capability) Equals(other Capability) bool {
	return c.Kind == other.Kind && c.Pattern == other.Pattern
}

// String returns a human-readable representation of the capability.
func (c Capability) String() string {
	return c.Kind + ":" + c.Pattern
}

// IsEmpty returns true if this is a zero-value capability.
func (c Capability) IsEmpty() bool {
	return c.Kind == "" && c.Pattern == ""
}

// IsBroad returns true if this capability pattern is overly permissive.
func (c Capability) IsBroad() bool {
	if c.Pattern == "*" || c.Pattern == "**" {
		return true
	}
	switch c.Kind {
	case KindTool:
		return matchesAny(c.Pattern, dangerousTools)
	case KindHTTP:
		// "*.com" style suffix grants cover most of the internet.
		return strings.HasPrefix(c.Pattern, "*.") && !strings.Contains(c.Pattern[2:], ".")
	default:
		return false
	}
}

// RiskLevel returns the security risk level of this capability.
func (c Capability) RiskLevel() RiskLevel {
	if c.IsBroad() {
		return RiskLevelHigh
	}

	if c.Kind == KindHTTP {
		return RiskLevelMedium
	}

	if c.Kind == KindSession && hasAnyPrefix(c.Pattern, mutatingSessionPrefixes) {
		return RiskLevelMedium
	}

	return RiskLevelLow
}

// RiskDescription returns a human-readable explanation of the security risk.
func (c Capability) RiskDescription() string {
	switch c.Kind {
	case KindTool:
		switch {
		case c.Pattern == "*" || c.Pattern == "**":
			return "Extension can invoke ANY registered tool"
		case c.Pattern == "bash":
			return "Extension can execute arbitrary shell commands"
		case c.Pattern == "write" || c.Pattern == "edit":
			return "Extension can modify files on disk"
		default:
			return "Extension can invoke tool: " + c.Pattern
		}

	case KindHTTP:
		if c.Pattern == "*" {
			return "Extension can connect to any host on the internet"
		}
		return "Extension can make HTTP requests to: " + c.Pattern

	case KindSession:
		if c.Pattern == "*" {
			return "Extension can read and rewrite the whole session"
		}
		if hasAnyPrefix(c.Pattern, mutatingSessionPrefixes) {
			return "Extension can modify the session: " + c.Pattern
		}
		return "Extension can read session data: " + c.Pattern

	case KindUI:
		return "Extension can show UI: " + c.Pattern

	case KindEvents:
		return "Extension can emit host events: " + c.Pattern

	default:
		return "Extension requires capability: " + c.String()
	}
}

// matchesAny checks if pattern exactly matches any string in the list
func matchesAny(pattern string, list []string) bool {
	for _, item := range list {
		if pattern == item {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
