package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/exthost/internal/infrastructure/output"
	"github.com/reglet-dev/exthost/internal/version"
)

// CommonOptions contains the output and deadline flags shared by commands.
type CommonOptions struct {
	Format  string
	Output  string
	Timeout time.Duration
	NoColor bool
}

// DefaultCommonOptions returns sensible defaults.
func DefaultCommonOptions() CommonOptions {
	return CommonOptions{
		Timeout: 2 * time.Minute,
		Format:  "table",
	}
}

// RegisterFlags adds common flags to a cobra command. formats lists the
// values --format accepts for that command.
func (opts *CommonOptions) RegisterFlags(cmd *cobra.Command, formats ...string) {
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", opts.Timeout,
		"Global timeout for the command (0 to disable)")
	cmd.Flags().StringVar(&opts.Format, "format", opts.Format,
		"Output format: "+strings.Join(formats, ", "))
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "",
		"Output file path (default: stdout)")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false,
		"Disable coloured table output")
}

// ApplyToContext applies timeout to context.
// Returns new context and cancel function.
func (opts *CommonOptions) ApplyToContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return ctx, func() {}
}

// ValidateFlags checks the format against the ones the command supports.
func (opts *CommonOptions) ValidateFlags(formats ...string) error {
	if opts.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}
	if !slices.Contains(formats, opts.Format) {
		return fmt.Errorf("invalid format: %s (valid: %s)", opts.Format, strings.Join(formats, ", "))
	}
	return nil
}

// Write formats v to the --output file, or to fallback when none is set.
func (opts *CommonOptions) Write(fallback io.Writer, v any) (err error) {
	w := fallback
	noColor := opts.NoColor
	if opts.Output != "" {
		file, cerr := os.Create(opts.Output)
		if cerr != nil {
			return fmt.Errorf("failed to create output file: %w", cerr)
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = file
		noColor = true
	}

	formatter, err := output.NewFormatterFactory().Create(opts.Format, w, output.Options{
		Indent:      true,
		NoColor:     noColor,
		ToolVersion: version.Get().String(),
	})
	if err != nil {
		return err
	}
	return formatter.Format(v)
}
