package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

var (
	scanFormats   = []string{"table", "json", "yaml", "sarif"}
	eventsFormats = []string{"table", "json", "yaml"}
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Inspect load defects and the repairs applied to them",
	}
	cmd.AddCommand(newRepairScanCmd(), newRepairEventsCmd())
	return cmd
}

func newRepairScanCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	var strict bool

	cmd := &cobra.Command{
		Use:   "scan <extension-dir>...",
		Short: "Report load defects without loading or changing anything",
		Long: `Read each extension's manifest and follow its imports from the entry
module, reporting every reference that would fail to resolve together with
the repair that would address it and whether the configured mode applies it.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.ValidateFlags(scanFormats...)
		},
		RunE: withContainer(func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ApplyToContext(cc.Context)
			defer cancel()

			report, err := cc.Container.RepairScanner().Scan(ctx, args)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			if err := opts.Write(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if strict && len(report.Diagnostics) > 0 {
				return fmt.Errorf("%d load defect(s) found", len(report.Diagnostics))
			}
			return nil
		}),
	}
	opts.RegisterFlags(cmd, scanFormats...)
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any defect is found")
	return cmd
}

// eventsFlags are the raw filter flags of repair events.
type eventsFlags struct {
	extension string
	pattern   string
	since     time.Duration
	limit     int
}

// filter converts the flags into a repository filter relative to now.
func (f eventsFlags) filter(now time.Time) (repositories.RepairEventFilter, error) {
	var filter repositories.RepairEventFilter
	if f.extension != "" {
		id, err := values.NewExtensionID(f.extension)
		if err != nil {
			return filter, fmt.Errorf("invalid --extension: %w", err)
		}
		filter.Extension = id
	}
	if f.pattern != "" {
		p, err := repair.ParsePattern(f.pattern)
		if err != nil {
			return filter, fmt.Errorf("invalid --pattern: %w", err)
		}
		filter.Pattern = p
	}
	if f.since < 0 {
		return filter, fmt.Errorf("--since must not be negative")
	}
	if f.since > 0 {
		filter.Since = now.Add(-f.since)
	}
	if f.limit < 0 {
		return filter, fmt.Errorf("--limit must not be negative")
	}
	filter.Limit = f.limit
	return filter, nil
}

func newRepairEventsCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	var flags eventsFlags

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded repair events",
		Long: `List the repair events kept in the repair event store, newest last.
Events are only kept across runs when storage.repair_event_db is set in the
host config.`,
		Args: cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.ValidateFlags(eventsFormats...)
		},
		RunE: withContainer(func(cc *CommandContext, cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.ApplyToContext(cc.Context)
			defer cancel()

			filter, err := flags.filter(time.Now())
			if err != nil {
				return err
			}
			events, err := cc.Container.RepairService().Events(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list repair events: %w", err)
			}
			records := make([]repair.EventRecord, 0, len(events))
			for _, ev := range events {
				records = append(records, ev.Record())
			}
			return opts.Write(cmd.OutOrStdout(), records)
		}),
	}
	opts.RegisterFlags(cmd, eventsFormats...)
	cmd.Flags().StringVar(&flags.extension, "extension", "", "Only events for this extension id")
	cmd.Flags().StringVar(&flags.pattern, "pattern", "", "Only events for this repair pattern")
	cmd.Flags().DurationVar(&flags.since, "since", 0, "Only events newer than this, e.g. 24h")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Maximum number of events (0 for all)")
	return cmd
}
