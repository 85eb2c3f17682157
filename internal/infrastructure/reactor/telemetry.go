package reactor

// ShardTelemetry describes one shard.
type ShardTelemetry struct {
	Shard    int    `json:"shard" yaml:"shard"`
	Depth    int    `json:"depth" yaml:"depth"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Enqueued uint64 `json:"enqueued" yaml:"enqueued"`
	Rejected uint64 `json:"rejected" yaml:"rejected"`
	Drained  uint64 `json:"drained" yaml:"drained"`
	CoreID   int    `json:"core_id" yaml:"core_id"`
}

// Telemetry is a point-in-time view of a reactor.
type Telemetry struct {
	Shards           []ShardTelemetry `json:"shards" yaml:"shards"`
	TotalDepth       int              `json:"total_depth" yaml:"total_depth"`
	Enqueued         uint64           `json:"enqueued" yaml:"enqueued"`
	RejectedEnqueues uint64           `json:"rejected_enqueues" yaml:"rejected_enqueues"`
	MaxDepth         int              `json:"max_depth" yaml:"max_depth"`
}

// Telemetry snapshots per-shard depth and cumulative counters.
func (r *Reactor) Telemetry() Telemetry {
	t := Telemetry{Shards: make([]ShardTelemetry, len(r.shards))}
	for i, s := range r.shards {
		st := ShardTelemetry{
			Shard:    i,
			Depth:    len(s.lane),
			Capacity: cap(s.lane),
			Enqueued: s.enqueued.Load(),
			Rejected: s.rejected.Load(),
			Drained:  s.drained.Load(),
			CoreID:   s.coreID,
		}
		t.Shards[i] = st
		t.TotalDepth += st.Depth
		t.Enqueued += st.Enqueued
		t.RejectedEnqueues += st.Rejected
		if st.Depth > t.MaxDepth {
			t.MaxDepth = st.Depth
		}
	}
	return t
}
