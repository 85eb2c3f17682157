package capabilities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
)

func TestTerminalPrompter_IsInteractive(t *testing.T) {
	// Not t.Parallel() because it interacts with os.Stdin
	prompter := NewTerminalPrompter("~/.exthost/grants.yaml")
	assert.IsType(t, true, prompter.IsInteractive())
}

// The interactive select is rendered by huh and is not driven from tests.

func TestDescribeCapability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		capability capabilities.Capability
		expected   string
	}{
		{capabilities.Capability{Kind: "tool", Pattern: "*"}, "Invoke any tool"},
		{capabilities.Capability{Kind: "tool", Pattern: "bash"}, "Invoke tool: bash"},
		{capabilities.Capability{Kind: "http", Pattern: "*"}, "HTTP requests to any host"},
		{capabilities.Capability{Kind: "http", Pattern: "*.example.com"}, "HTTP requests to: *.example.com"},
		{capabilities.Capability{Kind: "session", Pattern: "*"}, "Full session access"},
		{capabilities.Capability{Kind: "session", Pattern: "read"}, "Session: read"},
		{capabilities.Capability{Kind: "ui", Pattern: "notify"}, "User interface: notify"},
		{capabilities.Capability{Kind: "events", Pattern: "emit"}, "Host events: emit"},
		{capabilities.Capability{Kind: "unknown", Pattern: "foo"}, "unknown: foo"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, describeCapability(tt.capability))
		})
	}
}

func TestTerminalPrompter_FormatNonInteractiveError(t *testing.T) {
	t.Parallel()

	prompter := NewTerminalPrompter("~/.exthost/grants.yaml")
	missing := map[string]capabilities.Grant{
		"weather": {{Kind: "http", Pattern: "api.example.com"}},
		"hello":   {{Kind: "tool", Pattern: "bash"}},
	}

	err := prompter.FormatNonInteractiveError(missing)
	assert.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Extensions require additional permissions")
	assert.Contains(t, msg, "hello:\n  - Invoke tool: bash")
	assert.Contains(t, msg, "weather:\n  - HTTP requests to: api.example.com")
	assert.Less(t, strings.Index(msg, "hello:"), strings.Index(msg, "weather:"))
	assert.Contains(t, msg, "2. Use --trust-all")
	assert.Contains(t, msg, "3. Edit ~/.exthost/grants.yaml")
}
