// Package hostcall defines the messages exchanged between a scripting engine
// and the host: requests, outcomes, completions, and the dispatch lane policy.
package hostcall

import (
	"fmt"
	"strings"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
)

// Kind is the closed set of hostcall kinds. Every wire kind decodes to exactly
// one of ToolKind, HTTPKind, SessionKind, UIKind, EventsKind or UnsupportedKind.
type Kind interface {
	// Name is the wire name of the kind ("tool", "http", ...).
	Name() string
	String() string
	isKind()
}

// ToolKind invokes a registered tool by name.
type ToolKind struct {
	Tool string
}

// HTTPKind performs an outbound HTTP request through the host connector.
type HTTPKind struct{}

// SessionKind reads or mutates the active session.
type SessionKind struct {
	Op string
}

// UIKind sends a notification or prompt to the host UI.
type UIKind struct {
	Op string
}

// EventsKind lets an extension emit or query host events.
type EventsKind struct {
	Op string
}

// UnsupportedKind is any kind the host does not implement. It is routed to an
// explicit invalid_request outcome.
type UnsupportedKind struct {
	Raw string
}

func (ToolKind) Name() string { return "tool" }
func (HTTPKind) Name() string { return "http" }
func (SessionKind) Name() string { return "session" }
func (UIKind) Name() string { return "ui" }
func (EventsKind) Name() string { return "events" }
func (u UnsupportedKind) Name() string { return u.Raw }

func (k ToolKind) String() string { return "tool:" + k.Tool }
func (HTTPKind) String() string { return "http" }
func (k SessionKind) String() string { return "session:" + k.Op }
func (k UIKind) String() string { return "ui:" + k.Op }
func (k EventsKind) String() string { return "events:" + k.Op }
func (k UnsupportedKind) String() string { return k.Raw }

func (ToolKind) isKind() {}
func (HTTPKind) isKind() {}
func (SessionKind) isKind() {}
func (UIKind) isKind() {}
func (EventsKind) isKind() {}
func (UnsupportedKind) isKind() {}

// ParseKind decodes a wire kind plus its qualifier (tool name or op).
// Unknown kinds and known kinds missing their qualifier become UnsupportedKind.
func ParseKind(kind, qualifier string) Kind {
	kind = strings.ToLower(strings.TrimSpace(kind))
	qualifier = strings.TrimSpace(qualifier)

	switch kind {
	case "tool":
		if qualifier == "" {
			return UnsupportedKind{Raw: "tool"}
		}
		return ToolKind{Tool: qualifier}
	case "http":
		return HTTPKind{}
	case "session":
		if qualifier == "" {
			return UnsupportedKind{Raw: "session"}
		}
		return SessionKind{Op: qualifier}
	case "ui":
		if qualifier == "" {
			return UnsupportedKind{Raw: "ui"}
		}
		return UIKind{Op: qualifier}
	case "events":
		if qualifier == "" {
			return UnsupportedKind{Raw: "events"}
		}
		return EventsKind{Op: qualifier}
	default:
		if qualifier != "" {
			return UnsupportedKind{Raw: kind + ":" + qualifier}
		}
		return UnsupportedKind{Raw: kind}
	}
}

// Qualifier returns the tool name or op carried by a kind, if any.
func Qualifier(k Kind) string {
	switch v := k.(type) {
	case ToolKind:
		return v.Tool
	case SessionKind:
		return v.Op
	case UIKind:
		return v.Op
	case EventsKind:
		return v.Op
	default:
		return ""
	}
}

// RequiredCapability returns the capability an extension must hold to issue a
// hostcall of this kind. HTTP is checked per destination by the connector, so
// it reports false here, as does UnsupportedKind.
func RequiredCapability(k Kind) (capabilities.Capability, bool) {
	switch v := k.(type) {
	case ToolKind:
		return capabilities.Capability{Kind: capabilities.KindTool, Pattern: v.Tool}, true
	case SessionKind:
		return capabilities.Capability{Kind: capabilities.KindSession, Pattern: v.Op}, true
	case UIKind:
		return capabilities.Capability{Kind: capabilities.KindUI, Pattern: v.Op}, true
	case EventsKind:
		return capabilities.Capability{Kind: capabilities.KindEvents, Pattern: v.Op}, true
	default:
		return capabilities.Capability{}, false
	}
}

// CapabilityClass maps a kind onto the lane policy's capability classes.
func CapabilityClass(k Kind) CapabilityClassName {
	switch v := k.(type) {
	case ToolKind:
		// Built-in file tools are filesystem work; other tools are generic.
		if class := ClassFromCapability(v.Tool); class != ClassUnknown {
			return class
		}
		switch v.Tool {
		case "edit", "ls", "find", "grep":
			return ClassFilesystem
		case "bash":
			return ClassExecution
		}
		return ClassTool
	case HTTPKind:
		return ClassNetwork
	case SessionKind:
		return ClassSession
	case UIKind:
		return ClassUI
	case EventsKind:
		return ClassEvents
	default:
		return ClassUnknown
	}
}

// UnsupportedKindMessage formats the message used for kinds the host cannot route.
func UnsupportedKindMessage(k Kind) string {
	return fmt.Sprintf("Unsupported hostcall kind: %s", k.String())
}
