package capabilities

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
)

const (
	answerOnce   = "once"
	answerAlways = "always"
	answerDeny   = "deny"
)

// TerminalPrompter asks the user whether to grant capabilities.
type TerminalPrompter struct {
	in         *os.File
	out        io.Writer
	configPath string
}

// NewTerminalPrompter creates a prompter on stdin/stderr. configPath is shown
// in the non-interactive hint.
func NewTerminalPrompter(configPath string) *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr, configPath: configPath}
}

// IsInteractive reports whether stdin is a terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	info, err := p.in.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// PromptForCapability asks whether an extension may hold a capability.
func (p *TerminalPrompter) PromptForCapability(info ports.CapabilityInfo) (granted bool, always bool, err error) {
	c := info.Capability
	title := fmt.Sprintf("Extension %q requests: %s", info.Extension, describeCapability(c))
	desc := c.RiskDescription()
	if info.IsBroad {
		desc = "WARNING: broad permission. " + desc
	}

	answer := answerDeny
	sel := huh.NewSelect[string]().
		Title(title).
		Description(desc).
		Options(
			huh.NewOption("Allow once", answerOnce),
			huh.NewOption("Always allow", answerAlways),
			huh.NewOption("Deny", answerDeny),
		).
		Value(&answer)
	err = huh.NewForm(huh.NewGroup(sel)).
		WithInput(p.in).
		WithOutput(p.out).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("capability prompt: %w", err)
	}

	switch answer {
	case answerOnce:
		return true, false, nil
	case answerAlways:
		return true, true, nil
	default:
		return false, false, nil
	}
}

// describeCapability returns a human-readable description of a capability.
func describeCapability(c capabilities.Capability) string {
	switch c.Kind {
	case capabilities.KindTool:
		if c.Pattern == "*" || c.Pattern == "**" {
			return "Invoke any tool"
		}
		return "Invoke tool: " + c.Pattern
	case capabilities.KindHTTP:
		if c.Pattern == "*" {
			return "HTTP requests to any host"
		}
		return "HTTP requests to: " + c.Pattern
	case capabilities.KindSession:
		if c.Pattern == "*" {
			return "Full session access"
		}
		return "Session: " + c.Pattern
	case capabilities.KindUI:
		return "User interface: " + c.Pattern
	case capabilities.KindEvents:
		return "Host events: " + c.Pattern
	default:
		return fmt.Sprintf("%s: %s", c.Kind, c.Pattern)
	}
}

// FormatNonInteractiveError explains how to grant missing capabilities when
// no terminal is available.
func (p *TerminalPrompter) FormatNonInteractiveError(missing map[string]capabilities.Grant) error {
	exts := make([]string, 0, len(missing))
	for ext := range missing {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var msg strings.Builder
	msg.WriteString("Extensions require additional permissions (running in non-interactive mode)\n\n")
	for _, ext := range exts {
		fmt.Fprintf(&msg, "%s:\n", ext)
		for _, c := range missing[ext] {
			fmt.Fprintf(&msg, "  - %s\n", describeCapability(c))
		}
	}

	msg.WriteString("\nTo grant these permissions:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Use --trust-all (grants every declared permission)\n")
	fmt.Fprintf(&msg, "  3. Edit %s\n", p.configPath)

	return errors.New(msg.String())
}
