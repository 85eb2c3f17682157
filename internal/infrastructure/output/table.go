package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/repair"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var rule = strings.Repeat("─", 80)

// TableFormatter renders reports for a terminal. Values it has no layout
// for are written as YAML.
type TableFormatter struct {
	writer      io.Writer
	EnableColor bool
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{
		writer:      w,
		EnableColor: true, // Default to true, caller can disable
	}
}

// colorize returns the string wrapped in ANSI color codes if enabled.
func (f *TableFormatter) colorize(text, code string) string {
	if !f.EnableColor {
		return text
	}
	return code + text + colorReset
}

// Format writes v as a table.
func (f *TableFormatter) Format(v any) error {
	switch r := v.(type) {
	case services.RepairScanReport:
		f.formatScan(r)
	case *services.RepairScanReport:
		f.formatScan(*r)
	case []repair.EventRecord:
		f.formatEvents(r)
	case budget.Report:
		f.formatEvidence(r)
	case *budget.Report:
		f.formatEvidence(*r)
	case []entities.Status:
		f.formatStatuses(r)
	case []services.ExtensionStats:
		f.formatStats(r)
	default:
		return NewYAMLFormatter(f.writer).Format(v)
	}
	return nil
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatScan(r services.RepairScanReport) {
	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))
	fmt.Fprintf(f.writer, "Repair scan: %d extension(s), mode %s\n", r.Extensions, f.colorize(r.Mode, colorBold))
	fmt.Fprintf(f.writer, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintln(f.writer)

	if len(r.Diagnostics) == 0 {
		fmt.Fprintln(f.writer, f.colorize("✓ No load defects found.", colorGreen))
		return
	}

	fmt.Fprintln(f.writer, f.colorize("Diagnostics:", colorBold))
	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))

	repairable := 0
	for _, d := range r.Diagnostics {
		symbol, color := "✗", colorRed
		if d.Repairable {
			symbol, color = "⚠", colorYellow
			repairable++
		}
		where := d.File
		if d.Line > 0 {
			where = fmt.Sprintf("%s:%d", d.File, d.Line)
		}
		fmt.Fprintf(f.writer, "%s %s [%s] %s\n",
			f.colorize(symbol, color), f.colorize(d.Extension, colorCyan), d.Pattern, where)
		fmt.Fprintf(f.writer, "  %s\n", d.Message)
		if d.Risk != "" {
			fmt.Fprintf(f.writer, "  Risk: %s\n", d.Risk)
		}
		if d.Suggestion != "" {
			fmt.Fprintf(f.writer, "  Repair: %s\n", d.Suggestion)
		}
	}

	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))
	fmt.Fprintf(f.writer, "%d diagnostic(s), %d repairable at load\n", len(r.Diagnostics), repairable)
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatEvents(events []repair.EventRecord) {
	if len(events) == 0 {
		fmt.Fprintln(f.writer, "No repair events recorded.")
		return
	}
	for _, e := range events {
		symbol, color := "✓", colorGreen
		if !e.Success {
			symbol, color = "✗", colorRed
		}
		at := time.UnixMilli(e.TimestampMS).UTC().Format(time.RFC3339)
		fmt.Fprintf(f.writer, "%s %s %s %s (%s)\n",
			f.colorize(symbol, color), f.colorize(at, colorGray), f.colorize(e.ExtensionID, colorCyan), e.Pattern, e.Risk)
		if e.RepairAction != "" {
			fmt.Fprintf(f.writer, "  Action: %s\n", e.RepairAction)
		}
		fmt.Fprintf(f.writer, "  Error: %s\n", e.OriginalError)
	}
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatEvidence(r budget.Report) {
	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))
	fmt.Fprintf(f.writer, "Run: %s (%s)\n", f.colorize(r.RunID, colorBold), r.Schema)
	fmt.Fprintf(f.writer, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(f.writer, "Duration per workload: %.1fs, extensions: %d\n", r.DurationSecsPerWorkload, r.ExtensionsLoaded)
	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))

	fmt.Fprintf(f.writer, "%-10s %10s %10s %10s %10s %8s %6s\n",
		"WORKLOAD", "EVENTS/S", "P99 RATIO", "TPUT RATIO", "ERR DELTA", "ROUNDS", "PASS")
	for _, s := range r.Slices {
		pass := f.colorize("yes", colorGreen)
		if !s.Pass {
			pass = f.colorize("no", colorRed)
		}
		fmt.Fprintf(f.writer, "%-10s %10.0f %10.3f %10.3f %9.2f%% %8d %6s\n",
			s.Workload, s.EventsPerSec, s.P99Ratio, s.ThroughputRatio, s.ErrorRateDeltaPct, s.Adaptive.OCORoundsMax, pass)
	}

	fmt.Fprintln(f.writer, f.colorize(rule, colorGray))
	if r.OverallPass {
		fmt.Fprintln(f.writer, f.colorize("✓ PASS", colorGreen))
	} else {
		fmt.Fprintln(f.writer, f.colorize("✗ FAIL", colorRed))
	}
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatStatuses(statuses []entities.Status) {
	if len(statuses) == 0 {
		fmt.Fprintln(f.writer, "No extensions loaded.")
		return
	}
	statuses = append([]entities.Status(nil), statuses...)
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID.String() < statuses[j].ID.String() })

	fmt.Fprintf(f.writer, "%-24s %-10s %-9s %7s  %s\n", "EXTENSION", "VERSION", "STATE", "REPAIRS", "TOOLS")
	for _, s := range statuses {
		state := s.State.String()
		switch s.State {
		case entities.StateActive:
			state = f.colorize(fmt.Sprintf("%-9s", state), colorGreen)
		default:
			state = f.colorize(fmt.Sprintf("%-9s", state), colorYellow)
		}
		fmt.Fprintf(f.writer, "%-24s %-10s %s %7d  %s\n", s.ID.String(), s.Version, state, s.Repairs, strings.Join(s.Tools, ", "))
		if s.Failure != "" {
			fmt.Fprintf(f.writer, "  %s: %s\n", f.colorize("Failure", colorRed), s.Failure)
		}
	}
}

//nolint:errcheck // Best-effort terminal output
func (f *TableFormatter) formatStats(stats []services.ExtensionStats) {
	if len(stats) == 0 {
		fmt.Fprintln(f.writer, "No hostcalls recorded.")
		return
	}
	fmt.Fprintf(f.writer, "%-24s %8s %8s  %s\n", "EXTENSION", "CALLS", "ERRORS", "BY KIND")
	for _, s := range stats {
		kinds := make([]string, 0, len(s.ByKind))
		for k, n := range s.ByKind {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)

		errs := fmt.Sprintf("%8d", s.Errors)
		if s.Errors > 0 {
			errs = f.colorize(errs, colorRed)
		}
		fmt.Fprintf(f.writer, "%-24s %8d %s  %s\n", s.Extension, s.Calls, errs, strings.Join(kinds, " "))
	}
}
