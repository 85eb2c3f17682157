// Package bench measures adaptive hostcall budgets against static control
// and produces the budget evidence report.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/clock"
	"github.com/reglet-dev/exthost/internal/infrastructure/engine"
	"github.com/reglet-dev/exthost/internal/infrastructure/reactor"
	"github.com/reglet-dev/exthost/internal/infrastructure/tools"
)

// Tool is the name of the synthetic tool every benchmark call invokes.
const Tool = "bench_work"

// Options configure a benchmark run. Zero values take defaults.
type Options struct {
	RunID string
	// Duration is how long each workload runs, per control mode.
	Duration   time.Duration
	Extensions int
	// Work is the simulated duration of one tool call.
	Work        time.Duration
	DrainBudget int
	Workloads   []budget.Workload
	Thresholds  budget.Thresholds
	Budget      budget.Config
	Reactor     reactor.Config
	Scheduler   engine.Config
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.Duration <= 0 {
		o.Duration = 10 * time.Second
	}
	if o.Extensions <= 0 {
		o.Extensions = 5
	}
	if o.Work <= 0 {
		o.Work = 2 * time.Millisecond
	}
	if o.DrainBudget <= 0 {
		o.DrainBudget = 128
	}
	if len(o.Workloads) == 0 {
		o.Workloads = budget.DefaultWorkloads()
	}
	if o.Thresholds == (budget.Thresholds{}) {
		o.Thresholds = budget.DefaultThresholds()
	}
	if o.Budget.StaticBudget == 0 {
		o.Budget = budget.DefaultConfig()
	}
	if o.Reactor.ShardCount == 0 {
		o.Reactor = reactor.DefaultConfig()
	}
	if o.Clock == nil {
		o.Clock = clock.NewReal()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Run drives every workload under static and then adaptive control and
// evaluates the pair.
func Run(ctx context.Context, opts Options) (budget.Report, error) {
	opts = opts.withDefaults()

	slices := make([]budget.Slice, 0, len(opts.Workloads))
	for _, w := range opts.Workloads {
		static, err := runWorkload(ctx, opts, w, false)
		if err != nil {
			return budget.Report{}, fmt.Errorf("workload %s (static): %w", w.Name, err)
		}
		adaptive, err := runWorkload(ctx, opts, w, true)
		if err != nil {
			return budget.Report{}, fmt.Errorf("workload %s (adaptive): %w", w.Name, err)
		}
		s := budget.Evaluate(w, static, adaptive, opts.Thresholds)
		opts.Logger.Info("workload measured",
			"workload", w.Name,
			"p99_ratio", s.P99Ratio,
			"throughput_ratio", s.ThroughputRatio,
			"rounds", adaptive.OCORoundsMax,
			"pass", s.Pass,
		)
		slices = append(slices, s)
	}
	return budget.NewReport(opts.RunID, opts.Clock.Now(), opts.Duration, opts.Extensions, slices), nil
}

// runWorkload submits calls open-loop at the workload's rate, round robin
// over the synthetic extensions, and drains completions between arrivals.
func runWorkload(ctx context.Context, opts Options, w budget.Workload, adaptive bool) (budget.WorkloadMetrics, error) {
	if w.EventsPerSec <= 0 {
		return budget.WorkloadMetrics{}, fmt.Errorf("events per second must be positive, got %v", w.EventsPerSec)
	}
	clk := opts.Clock

	cfg := opts.Budget
	cfg.Enabled = true
	cfg.OCO.Enabled = adaptive
	controller := budget.NewController(cfg)

	registry, err := tools.NewRegistry(tools.Synthetic(Tool, clk, opts.Work))
	if err != nil {
		return budget.WorkloadMetrics{}, err
	}
	dispatcher := services.NewDispatcher(registry, services.WithDispatcherLogger(opts.Logger))
	r := reactor.New(opts.Reactor)
	sched := engine.NewScheduler(ctx, dispatcher, r, opts.Scheduler,
		engine.WithClock(clk),
		engine.WithLogger(opts.Logger),
		engine.WithBudgets(controller),
	)
	defer sched.Stop()

	exts := make([]values.ExtensionID, opts.Extensions)
	for i := range exts {
		exts[i] = values.MustNewExtensionID(fmt.Sprintf("bench-%02d", i))
	}
	payload, _ := json.Marshal(map[string]string{"workload": w.Name})

	var samples budget.Samples
	collect := func() int {
		done := sched.Drain(opts.DrainBudget)
		for _, c := range done {
			samples.Latencies = append(samples.Latencies, c.Latency)
			if !c.Outcome.IsSuccess() {
				samples.Errors++
			}
		}
		return len(done)
	}

	interval := time.Duration(float64(time.Second) / w.EventsPerSec)
	start := clk.Now()
	next := start
	for i := 0; clk.Now().Sub(start) < opts.Duration; {
		if err := ctx.Err(); err != nil {
			return budget.WorkloadMetrics{}, err
		}
		now := clk.Now()
		if now.Before(next) {
			collect()
			if err := clk.Sleep(ctx, min(next.Sub(now), time.Millisecond)); err != nil {
				return budget.WorkloadMetrics{}, err
			}
			continue
		}

		req := hostcall.Request{
			CallID:      values.NewCallID(),
			ExtensionID: exts[i%len(exts)],
			Kind:        hostcall.ToolKind{Tool: Tool},
			Payload:     payload,
		}
		i++
		if err := sched.Submit(req); err != nil {
			samples.Errors++
		}
		collect()

		next = next.Add(interval)
		if now := clk.Now(); next.Before(now) {
			next = now.Add(interval)
		}
	}

	sched.Wait()
	for collect() > 0 {
	}

	samples.Elapsed = clk.Now().Sub(start)
	samples.RejectedEnqueues = r.RejectedEnqueues()
	samples.Rounds = controller.MaxRounds()
	samples.Rollbacks = controller.MaxRollbacks()
	return budget.Summarize(samples), nil
}
