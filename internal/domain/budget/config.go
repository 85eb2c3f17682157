// Package budget bounds hostcall concurrency per extension and tunes that
// bound online with a projected online-gradient (OCO) controller guarded by
// rollback.
package budget

import "time"

// Config configures the budget controller.
type Config struct {
	// Enabled turns per-extension budgeting on. When off, Budget returns MaxBudget.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// StaticBudget is the in-flight limit used in static mode and as the
	// adaptive starting point.
	StaticBudget int `yaml:"static_budget" json:"static_budget" validate:"gte=1"`
	// WindowSize is the number of completions per measurement window.
	WindowSize int       `yaml:"window_size" json:"window_size" validate:"gte=1"`
	OCO        OCOConfig `yaml:"oco" json:"oco"`
}

// OCOConfig configures the adaptive tuner.
type OCOConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	MinBudget   int     `yaml:"min_budget" json:"min_budget" validate:"gte=1"`
	MaxBudget   int     `yaml:"max_budget" json:"max_budget" validate:"gtefield=MinBudget"`
	InitialStep float64 `yaml:"initial_step" json:"initial_step" validate:"gt=0"`
	// Tolerance is the loss regression, relative to the last known-good
	// round, that triggers a guardrail rollback.
	Tolerance float64       `yaml:"tolerance" json:"tolerance" validate:"gte=0"`
	TargetP99 time.Duration `yaml:"target_p99" json:"target_p99" validate:"gt=0"`
	Weights   LossWeights   `yaml:"weights" json:"weights"`
}

// LossWeights weight the terms of the loss signal.
type LossWeights struct {
	Latency    float64 `yaml:"latency" json:"latency" validate:"gte=0"`
	Errors     float64 `yaml:"errors" json:"errors" validate:"gte=0"`
	Rejects    float64 `yaml:"rejects" json:"rejects" validate:"gte=0"`
	Throughput float64 `yaml:"throughput" json:"throughput" validate:"gte=0"`
	// ThroughputScale is the completions/sec that counts as one unit of throughput.
	ThroughputScale float64 `yaml:"throughput_scale" json:"throughput_scale" validate:"gt=0"`
}

// DefaultConfig returns the static-mode defaults with the tuner available but off.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		StaticBudget: 16,
		WindowSize:   32,
		OCO: OCOConfig{
			Enabled:     false,
			MinBudget:   1,
			MaxBudget:   128,
			InitialStep: 4,
			Tolerance:   0.25,
			TargetP99:   50 * time.Millisecond,
			Weights: LossWeights{
				Latency:         1,
				Errors:          4,
				Rejects:         2,
				Throughput:      1,
				ThroughputScale: 100,
			},
		},
	}
}
