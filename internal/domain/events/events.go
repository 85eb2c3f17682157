// Package events names the host lifecycle events extensions can subscribe
// to and interprets hook responses.
package events

import (
	"bytes"
	"encoding/json"
)

// Name is a lifecycle event name.
type Name string

const (
	AgentStart       Name = "agent_start"
	AgentEnd         Name = "agent_end"
	BeforeAgentStart Name = "before_agent_start"
	Input            Name = "input"
	TurnStart        Name = "turn_start"
	TurnEnd          Name = "turn_end"
	ToolCall         Name = "tool_call"
	ToolResult       Name = "tool_result"

	SessionBeforeSwitch  Name = "session_before_switch"
	SessionBeforeFork    Name = "session_before_fork"
	SessionBeforeCompact Name = "session_before_compact"
	SessionSwitch        Name = "session_switch"
	SessionFork          Name = "session_fork"
	SessionCompact       Name = "session_compact"
	SessionShutdown      Name = "session_shutdown"
)

var known = map[Name]bool{
	AgentStart: true, AgentEnd: true, BeforeAgentStart: true, Input: true,
	TurnStart: true, TurnEnd: true, ToolCall: true, ToolResult: true,
	SessionBeforeSwitch: true, SessionBeforeFork: true, SessionBeforeCompact: true,
	SessionSwitch: true, SessionFork: true, SessionCompact: true, SessionShutdown: true,
}

var cancellable = map[Name]bool{
	SessionBeforeSwitch:  true,
	SessionBeforeFork:    true,
	SessionBeforeCompact: true,
}

// All returns every known event name in declaration order.
func All() []Name {
	return []Name{
		AgentStart, AgentEnd, BeforeAgentStart, Input, TurnStart, TurnEnd,
		ToolCall, ToolResult, SessionBeforeSwitch, SessionBeforeFork,
		SessionBeforeCompact, SessionSwitch, SessionFork, SessionCompact,
		SessionShutdown,
	}
}

// IsKnown reports whether n is a lifecycle event the host emits.
func (n Name) IsKnown() bool { return known[n] }

// IsCancellable reports whether hooks may veto the action behind n.
func (n Name) IsCancellable() bool { return cancellable[n] }

func (n Name) String() string { return string(n) }

// Event is one dispatch of a lifecycle event.
type Event struct {
	Name    Name            `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsCancellation interprets a hook response. Exactly false, or an object
// with "cancelled": true or "cancel": true, cancels. Anything else,
// including null, true and an empty response, lets the action proceed.
func IsCancellation(resp json.RawMessage) bool {
	trimmed := bytes.TrimSpace(resp)
	if len(trimmed) == 0 {
		return false
	}
	if bytes.Equal(trimmed, []byte("false")) {
		return true
	}
	if trimmed[0] != '{' {
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	for _, key := range []string{"cancelled", "cancel"} {
		if v, ok := obj[key]; ok && bytes.Equal(bytes.TrimSpace(v), []byte("true")) {
			return true
		}
	}
	return false
}

// IsNull reports whether a hook response carries no value.
func IsNull(resp json.RawMessage) bool {
	trimmed := bytes.TrimSpace(resp)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
