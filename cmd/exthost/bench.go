package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/infrastructure/bench"
	"github.com/reglet-dev/exthost/internal/infrastructure/container"
	"github.com/reglet-dev/exthost/internal/infrastructure/system"
)

var benchFormats = []string{"table", "json", "yaml"}

// benchFlags are the workload flags of bench.
type benchFlags struct {
	duration   time.Duration
	extensions int
	work       time.Duration
	workloads  []string
	strict     bool
}

// selectWorkloads returns the default workloads named in names, or all of
// them when names is empty.
func selectWorkloads(names []string) ([]budget.Workload, error) {
	all := budget.DefaultWorkloads()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]budget.Workload, len(all))
	for _, w := range all {
		byName[w.Name] = w
	}
	out := make([]budget.Workload, 0, len(names))
	for _, n := range names {
		w, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown workload %q", n)
		}
		out = append(out, w)
	}
	return out, nil
}

func newBenchCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	opts.Timeout = 0
	var flags benchFlags

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare static and adaptive hostcall budgets on synthetic workloads",
		Long: `Drive each heterogeneous workload open-loop against the real scheduler
and reactor, once with a static per-extension budget and once with the
adaptive controller, and report whether adaptive control stayed within the
p99 latency, error rate and throughput thresholds.`,
		Args: cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if err := opts.ValidateFlags(benchFormats...); err != nil {
				return err
			}
			if flags.duration <= 0 || flags.extensions <= 0 || flags.work <= 0 {
				return errors.New("--duration, --extensions and --work must be positive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			workloads, err := selectWorkloads(flags.workloads)
			if err != nil {
				return err
			}
			path := viper.GetString("system_config")
			if path == "" {
				path = container.DefaultConfigPath()
			}
			cfg, err := system.NewConfigLoader().Load(path)
			if err != nil {
				return err
			}

			ctx, cancel := opts.ApplyToContext(cmd.Context())
			defer cancel()
			report, err := bench.Run(ctx, bench.Options{
				Duration:   flags.duration,
				Extensions: flags.extensions,
				Work:       flags.work,
				Workloads:  workloads,
				Budget:     cfg.Budget,
				Reactor:    cfg.Reactor,
				Scheduler:  cfg.SchedulerConfig(),
				Logger:     slog.Default(),
			})
			if err != nil {
				return fmt.Errorf("benchmark failed: %w", err)
			}
			if err := opts.Write(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if flags.strict && !report.OverallPass {
				return errors.New("adaptive control exceeded a threshold")
			}
			return nil
		},
	}
	opts.RegisterFlags(cmd, benchFormats...)
	cmd.Flags().DurationVar(&flags.duration, "duration", 10*time.Second, "How long each workload runs per control mode")
	cmd.Flags().IntVar(&flags.extensions, "extensions", 5, "Number of synthetic extensions sharing the host")
	cmd.Flags().DurationVar(&flags.work, "work", 2*time.Millisecond, "Simulated duration of one tool call")
	cmd.Flags().StringSliceVar(&flags.workloads, "workload", nil, "Workloads to run (default: all)")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Exit non-zero when the report fails")
	return cmd
}
