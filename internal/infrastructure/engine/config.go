// Package engine schedules hostcall execution on a bounded worker pool and
// hands completions to the reactor.
package engine

import (
	"runtime"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// Concurrency constants for the worker pool.
const (
	// MinWorkers keeps some parallelism on single-core systems.
	MinWorkers = 4

	// MaxIOWorkers caps the IO lane.
	MaxIOWorkers = 16

	// DefaultMaxPending bounds calls accepted but not yet completed.
	DefaultMaxPending = 1024
)

// BackoffType selects a retry delay curve.
type BackoffType string

const (
	BackoffNone        BackoffType = "none"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryConfig controls how a rejected completion is re-offered to the reactor.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts" json:"attempts" validate:"gte=0"`
	Backoff      BackoffType   `yaml:"backoff" json:"backoff" validate:"omitempty,oneof=none linear exponential"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// Config controls scheduling.
type Config struct {
	// Workers bounds concurrent fast-lane executions.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`
	// IOWorkers bounds concurrent IO-lane executions.
	IOWorkers int `yaml:"io_workers" json:"io_workers" validate:"gte=0"`
	// MaxPending bounds calls accepted but not yet completed. Submissions
	// beyond it fail immediately.
	MaxPending int `yaml:"max_pending" json:"max_pending" validate:"gte=0"`
	// CallTimeout aborts a single hostcall; zero disables the deadline.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// ForceCompat routes every call to the serialised compat lane.
	ForceCompat bool `yaml:"force_compat" json:"force_compat"`
	// CompatExtensions always use the compat lane.
	CompatExtensions []string `yaml:"compat_extensions,omitempty" json:"compat_extensions,omitempty"`

	Lanes hostcall.LanePolicy `yaml:"lanes" json:"lanes"`
	Retry RetryConfig         `yaml:"retry" json:"retry"`
}

// DefaultConfig returns sensible defaults for the host.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers < MinWorkers {
		workers = MinWorkers
	}

	io := workers / 2
	if io < 2 {
		io = 2
	}
	if io > MaxIOWorkers {
		io = MaxIOWorkers
	}

	return Config{
		Workers:     workers,
		IOWorkers:   io,
		MaxPending:  DefaultMaxPending,
		CallTimeout: 30 * time.Second,
		Lanes:       hostcall.ConservativeLanePolicy(),
		Retry: RetryConfig{
			Attempts:     3,
			Backoff:      BackoffLinear,
			InitialDelay: 2 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
		},
	}
}
