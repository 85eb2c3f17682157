package budget

import (
	"sort"
	"time"
)

// ReportSchema identifies the evidence report format.
const ReportSchema = "exthost.oco_heterogeneous.v1"

// Workload is a synthetic load profile.
type Workload struct {
	Name         string  `json:"name" yaml:"name"`
	EventsPerSec float64 `json:"events_per_sec" yaml:"events_per_sec"`
}

// DefaultWorkloads are the heterogeneous profiles exercised by the benchmark.
func DefaultWorkloads() []Workload {
	return []Workload{
		{Name: "interactive_light", EventsPerSec: 24},
		{Name: "bursty_tools", EventsPerSec: 60},
		{Name: "queue_pressure", EventsPerSec: 110},
	}
}

// WorkloadMetrics summarises one run of a workload under one control regime.
type WorkloadMetrics struct {
	EventCount            uint64  `json:"event_count" yaml:"event_count"`
	P95Us                 uint64  `json:"p95_us" yaml:"p95_us"`
	P99Us                 uint64  `json:"p99_us" yaml:"p99_us"`
	ThroughputEPS         float64 `json:"throughput_eps" yaml:"throughput_eps"`
	ErrorRatePct          float64 `json:"error_rate_pct" yaml:"error_rate_pct"`
	RejectedEnqueues      uint64  `json:"rejected_enqueues" yaml:"rejected_enqueues"`
	OCORoundsMax          uint64  `json:"oco_rounds_max" yaml:"oco_rounds_max"`
	OCOGuardrailRollbacks uint64  `json:"oco_guardrail_rollbacks_max" yaml:"oco_guardrail_rollbacks_max"`
}

// Samples are the raw measurements of a run.
type Samples struct {
	Latencies        []time.Duration
	Errors           uint64
	RejectedEnqueues uint64
	Elapsed          time.Duration
	Rounds           uint64
	Rollbacks        uint64
}

// Summarize reduces raw samples to metrics.
func Summarize(s Samples) WorkloadMetrics {
	us := make([]uint64, len(s.Latencies))
	for i, l := range s.Latencies {
		us[i] = uint64(l.Microseconds())
	}
	sort.Slice(us, func(i, j int) bool { return us[i] < us[j] })

	count := uint64(len(us))
	var eps float64
	if secs := s.Elapsed.Seconds(); secs > 0 {
		eps = float64(count) / secs
	}
	return WorkloadMetrics{
		EventCount:            count,
		P95Us:                 Percentile(us, 95),
		P99Us:                 Percentile(us, 99),
		ThroughputEPS:         eps,
		ErrorRatePct:          ErrorRatePct(s.Errors, count),
		RejectedEnqueues:      s.RejectedEnqueues,
		OCORoundsMax:          s.Rounds,
		OCOGuardrailRollbacks: s.Rollbacks,
	}
}

// ErrorRatePct is errors over events in percent; zero events yields zero.
func ErrorRatePct(errors, events uint64) float64 {
	if events == 0 {
		return 0
	}
	return float64(errors) / float64(events) * 100
}

// Thresholds are the acceptance bounds of adaptive against static control.
type Thresholds struct {
	MaxP99RegressionRatio float64 `json:"max_p99_regression_ratio" yaml:"max_p99_regression_ratio"`
	MaxErrorRateDeltaPct  float64 `json:"max_error_rate_delta_pct" yaml:"max_error_rate_delta_pct"`
	MinThroughputRatio    float64 `json:"min_throughput_ratio" yaml:"min_throughput_ratio"`
}

// DefaultThresholds returns k = 2.0, 15 points and 0.75.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxP99RegressionRatio: 2.0,
		MaxErrorRateDeltaPct:  15.0,
		MinThroughputRatio:    0.75,
	}
}

// Slice compares adaptive and static control for one workload.
type Slice struct {
	Workload          string          `json:"workload" yaml:"workload"`
	EventsPerSec      float64         `json:"events_per_sec" yaml:"events_per_sec"`
	Baseline          WorkloadMetrics `json:"baseline" yaml:"baseline"`
	Adaptive          WorkloadMetrics `json:"adaptive" yaml:"adaptive"`
	P99Ratio          float64         `json:"p99_ratio_adaptive_vs_static" yaml:"p99_ratio_adaptive_vs_static"`
	ThroughputRatio   float64         `json:"throughput_ratio_adaptive_vs_static" yaml:"throughput_ratio_adaptive_vs_static"`
	ErrorRateDeltaPct float64         `json:"error_rate_delta_pct" yaml:"error_rate_delta_pct"`
	Thresholds        Thresholds      `json:"thresholds" yaml:"thresholds"`
	Pass              bool            `json:"pass" yaml:"pass"`
}

// Evaluate compares adaptive to static metrics. A run with zero adaptive
// rounds never passes.
func Evaluate(w Workload, static, adaptive WorkloadMetrics, th Thresholds) Slice {
	s := Slice{
		Workload:          w.Name,
		EventsPerSec:      w.EventsPerSec,
		Baseline:          static,
		Adaptive:          adaptive,
		P99Ratio:          Ratio(float64(adaptive.P99Us), float64(static.P99Us)),
		ThroughputRatio:   Ratio(adaptive.ThroughputEPS, static.ThroughputEPS),
		ErrorRateDeltaPct: adaptive.ErrorRatePct - static.ErrorRatePct,
		Thresholds:        th,
	}
	s.Pass = s.P99Ratio <= th.MaxP99RegressionRatio &&
		s.ErrorRateDeltaPct <= th.MaxErrorRateDeltaPct &&
		s.ThroughputRatio >= th.MinThroughputRatio &&
		adaptive.OCORoundsMax > 0
	return s
}

// Report is the evidence artifact written by the benchmark.
type Report struct {
	Schema                  string    `json:"schema" yaml:"schema"`
	RunID                   string    `json:"run_id" yaml:"run_id"`
	GeneratedAt             time.Time `json:"generated_at" yaml:"generated_at"`
	DurationSecsPerWorkload float64   `json:"duration_secs_per_workload" yaml:"duration_secs_per_workload"`
	ExtensionsLoaded        int       `json:"extensions_loaded" yaml:"extensions_loaded"`
	Slices                  []Slice   `json:"slices" yaml:"slices"`
	OverallPass             bool      `json:"overall_pass" yaml:"overall_pass"`
}

// NewReport assembles a report; it passes only when every slice passes
// and at least one slice exists.
func NewReport(runID string, generatedAt time.Time, perWorkload time.Duration, extensions int, slices []Slice) Report {
	pass := len(slices) > 0
	for _, s := range slices {
		pass = pass && s.Pass
	}
	return Report{
		Schema:                  ReportSchema,
		RunID:                   runID,
		GeneratedAt:             generatedAt.UTC(),
		DurationSecsPerWorkload: perWorkload.Seconds(),
		ExtensionsLoaded:        extensions,
		Slices:                  slices,
		OverallPass:             pass,
	}
}
