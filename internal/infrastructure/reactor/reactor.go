// Package reactor decouples hostcall completion from the engine tick loop
// with a set of fixed-capacity shards.
package reactor

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// Defaults for a reactor.
const (
	DefaultShardCount   = 4
	DefaultLaneCapacity = 512
	DefaultDrainBudget  = 128
)

// ErrShardFull is returned when a completion cannot be accepted because its
// shard is at capacity.
var ErrShardFull = errors.New("reactor shard full")

// Config sizes a reactor.
type Config struct {
	ShardCount   int `yaml:"shard_count" json:"shard_count" validate:"gte=1,lte=1024"`
	LaneCapacity int `yaml:"lane_capacity" json:"lane_capacity" validate:"gte=1"`
	DrainBudget  int `yaml:"drain_budget" json:"drain_budget" validate:"gte=1"`
	// CoreIDs are optional affinity hints, one per shard. They are reported
	// in telemetry; pinning is left to the embedding host.
	CoreIDs []int `yaml:"core_ids,omitempty" json:"core_ids,omitempty"`
}

// DefaultConfig returns 4 shards of 512 lanes and a drain budget of 128.
func DefaultConfig() Config {
	return Config{
		ShardCount:   DefaultShardCount,
		LaneCapacity: DefaultLaneCapacity,
		DrainBudget:  DefaultDrainBudget,
	}
}

type shard struct {
	lane     chan hostcall.Completion
	enqueued atomic.Uint64
	rejected atomic.Uint64
	drained  atomic.Uint64
	coreID   int
}

// Reactor is a sharded, bounded queue of hostcall completions. Enqueue
// never blocks; each shard drains FIFO.
type Reactor struct {
	shards []*shard

	// cursor is the shard DrainGlobal starts from, so no shard is
	// permanently first in line.
	mu     sync.Mutex
	cursor int
}

// New creates a reactor. Non-positive sizes fall back to defaults.
func New(cfg Config) *Reactor {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.LaneCapacity <= 0 {
		cfg.LaneCapacity = DefaultLaneCapacity
	}

	r := &Reactor{shards: make([]*shard, cfg.ShardCount)}
	for i := range r.shards {
		coreID := -1
		if i < len(cfg.CoreIDs) {
			coreID = cfg.CoreIDs[i]
		}
		r.shards[i] = &shard{
			lane:   make(chan hostcall.Completion, cfg.LaneCapacity),
			coreID: coreID,
		}
	}
	return r
}

// ShardCount returns the number of shards.
func (r *Reactor) ShardCount() int {
	return len(r.shards)
}

// ShardFor maps a key to its shard index.
func (r *Reactor) ShardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.shards)))
}

// Enqueue pushes c onto the shard selected by shardKey. It reports false,
// and counts a rejection, when the shard is full.
func (r *Reactor) Enqueue(shardKey string, c hostcall.Completion) bool {
	s := r.shards[r.ShardFor(shardKey)]
	select {
	case s.lane <- c:
		s.enqueued.Add(1)
		return true
	default:
		s.rejected.Add(1)
		return false
	}
}

// Submit enqueues c on its own shard key and returns ErrShardFull on rejection.
func (r *Reactor) Submit(c hostcall.Completion) error {
	key := c.ShardKey()
	if !r.Enqueue(key, c) {
		return fmt.Errorf("call %s on shard %d: %w", c.CallID, r.ShardFor(key), ErrShardFull)
	}
	return nil
}

// Drain pops up to budget completions from one shard in FIFO order.
func (r *Reactor) Drain(shardIdx, budget int) []hostcall.Completion {
	if shardIdx < 0 || shardIdx >= len(r.shards) || budget <= 0 {
		return nil
	}
	return r.shards[shardIdx].pop(nil, budget)
}

func (s *shard) pop(out []hostcall.Completion, n int) []hostcall.Completion {
	for i := 0; i < n; i++ {
		select {
		case c := <-s.lane:
			s.drained.Add(1)
			out = append(out, c)
		default:
			return out
		}
	}
	return out
}

// DrainGlobal round-robins across shards, one completion per shard per
// pass, until budget completions are collected or every shard is empty.
// It never returns more than budget items.
func (r *Reactor) DrainGlobal(budget int) []hostcall.Completion {
	if budget <= 0 {
		return nil
	}

	r.mu.Lock()
	start := r.cursor
	r.cursor = (r.cursor + 1) % len(r.shards)
	r.mu.Unlock()

	out := make([]hostcall.Completion, 0, min(budget, r.Depth()))
	for len(out) < budget {
		progressed := false
		for i := 0; i < len(r.shards) && len(out) < budget; i++ {
			s := r.shards[(start+i)%len(r.shards)]
			before := len(out)
			out = s.pop(out, 1)
			if len(out) > before {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// Depth returns the number of queued completions across all shards.
func (r *Reactor) Depth() int {
	total := 0
	for _, s := range r.shards {
		total += len(s.lane)
	}
	return total
}

// RejectedEnqueues returns the cumulative rejection count.
func (r *Reactor) RejectedEnqueues() uint64 {
	var total uint64
	for _, s := range r.shards {
		total += s.rejected.Load()
	}
	return total
}
