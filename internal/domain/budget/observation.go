package budget

import (
	"math"
	"sort"
	"time"
)

// Observation is what the controller saw during one measurement window.
type Observation struct {
	P99     time.Duration
	Calls   uint64
	Errors  uint64
	Rejects uint64
	Elapsed time.Duration
}

// ErrorRate is errors per call in [0, 1].
func (o Observation) ErrorRate() float64 {
	if o.Calls == 0 {
		return 0
	}
	return float64(o.Errors) / float64(o.Calls)
}

// RejectRate is rejected enqueues per call.
func (o Observation) RejectRate() float64 {
	if o.Calls == 0 {
		return 0
	}
	return float64(o.Rejects) / float64(o.Calls)
}

// Throughput is completed calls per second.
func (o Observation) Throughput() float64 {
	secs := o.Elapsed.Seconds()
	if secs <= 0 {
		secs = 0.001
	}
	return float64(o.Calls) / secs
}

// Loss scores a window; lower is better. Latency is measured against the
// target p99, throughput enters with a negative sign.
func Loss(cfg OCOConfig, o Observation) float64 {
	w := cfg.Weights
	target := cfg.TargetP99.Seconds()
	if target <= 0 {
		target = 0.05
	}
	scale := w.ThroughputScale
	if scale <= 0 {
		scale = 100
	}

	return w.Latency*(o.P99.Seconds()/target) +
		w.Errors*o.ErrorRate() +
		w.Rejects*o.RejectRate() -
		w.Throughput*(o.Throughput()/scale)
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// index ceil(n*pct/100)-1, clamped to the last element. Empty input yields 0.
func Percentile[T ~int64 | ~uint64](sorted []T, pct int) T {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := (n*pct + 99) / 100
	idx := rank - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// P99 computes the 99th percentile latency of unsorted samples.
func P99(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Percentile(sorted, 99)
}

// Ratio divides num by den, returning 1.0 when den is effectively zero so an
// idle baseline never reads as an infinite regression.
func Ratio(num, den float64) float64 {
	if math.Abs(den) <= 1e-9 {
		return 1.0
	}
	return num / den
}
