package output

import (
	"fmt"
	"io"

	"github.com/reglet-dev/exthost/internal/application/ports"
)

// Options tunes the formatter a factory creates.
type Options struct {
	// Indent pretty-prints JSON.
	Indent bool
	// NoColor disables ANSI colours in table output.
	NoColor bool
	// ToolVersion is recorded as the SARIF driver version.
	ToolVersion string
}

// FormatterFactory creates formatters by name.
type FormatterFactory struct{}

// NewFormatterFactory creates a new formatter factory.
func NewFormatterFactory() *FormatterFactory {
	return &FormatterFactory{}
}

// Create returns a formatter for the given format name.
func (f *FormatterFactory) Create(
	format string,
	writer io.Writer,
	options Options,
) (ports.OutputFormatter, error) {
	switch format {
	case "table":
		t := NewTableFormatter(writer)
		t.EnableColor = !options.NoColor
		return t, nil
	case "json":
		return NewJSONFormatter(writer, options.Indent), nil
	case "yaml":
		return NewYAMLFormatter(writer), nil
	case "sarif":
		return NewSARIFFormatter(writer, options.ToolVersion), nil
	default:
		return nil, fmt.Errorf(
			"unknown format: %s (supported: %v)",
			format, f.SupportedFormats(),
		)
	}
}

// SupportedFormats returns list of available format names.
func (f *FormatterFactory) SupportedFormats() []string {
	return []string{"table", "json", "yaml", "sarif"}
}
