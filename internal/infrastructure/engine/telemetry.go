package engine

import (
	"sort"
	"sync"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// Telemetry is a point-in-time view of scheduler counters.
type Telemetry struct {
	Submitted      uint64                             `json:"submitted"`
	Completed      uint64                             `json:"completed"`
	Duplicates     uint64                             `json:"duplicates"`
	QueueFull      uint64                             `json:"queue_full"`
	Cancelled      uint64                             `json:"cancelled"`
	Retries        uint64                             `json:"enqueue_retries"`
	Spilled        uint64                             `json:"spilled"`
	Pending        int                                `json:"pending"`
	OverflowDepth  int                                `json:"overflow_depth"`
	Lanes          map[hostcall.Lane]uint64           `json:"lanes"`
	Fallbacks      map[hostcall.FallbackReason]uint64 `json:"fallbacks"`
	RecentDecision []hostcall.LaneTelemetry           `json:"recent_decisions,omitempty"`
}

// recentDecisions bounds the lane audit ring.
const recentDecisions = 32

type counters struct {
	mu sync.Mutex

	submitted  uint64
	completed  uint64
	duplicates uint64
	queueFull  uint64
	cancelled  uint64
	retries    uint64
	spilled    uint64
	lanes      map[hostcall.Lane]uint64
	fallbacks  map[hostcall.FallbackReason]uint64
	recent     []hostcall.LaneTelemetry
}

func newCounters() *counters {
	return &counters{
		lanes:     make(map[hostcall.Lane]uint64),
		fallbacks: make(map[hostcall.FallbackReason]uint64),
	}
}

func (c *counters) add(field *uint64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

func (c *counters) decision(t hostcall.LaneTelemetry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lanes[t.Lane]++
	if t.Fallback != "" {
		c.fallbacks[t.Fallback]++
	}
	if len(c.recent) == recentDecisions {
		copy(c.recent, c.recent[1:])
		c.recent = c.recent[:recentDecisions-1]
	}
	c.recent = append(c.recent, t)
}

func (c *counters) snapshot() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := Telemetry{
		Submitted:      c.submitted,
		Completed:      c.completed,
		Duplicates:     c.duplicates,
		QueueFull:      c.queueFull,
		Cancelled:      c.cancelled,
		Retries:        c.retries,
		Spilled:        c.spilled,
		Lanes:          make(map[hostcall.Lane]uint64, len(c.lanes)),
		Fallbacks:      make(map[hostcall.FallbackReason]uint64, len(c.fallbacks)),
		RecentDecision: append([]hostcall.LaneTelemetry(nil), c.recent...),
	}
	for k, v := range c.lanes {
		t.Lanes[k] = v
	}
	for k, v := range c.fallbacks {
		t.Fallbacks[k] = v
	}
	return t
}

// FallbackReasons returns the recorded fallback reasons in a stable order.
func (t Telemetry) FallbackReasons() []hostcall.FallbackReason {
	out := make([]hostcall.FallbackReason, 0, len(t.Fallbacks))
	for r := range t.Fallbacks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
