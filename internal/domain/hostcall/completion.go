package hostcall

import (
	"time"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Completion is an outcome on its way back to the engine. It is the unit
// carried by reactor shards.
type Completion struct {
	CallID      values.CallID
	ExtensionID values.ExtensionID
	Kind        string
	Lane        Lane
	Outcome     Outcome
	Latency     time.Duration
}

// ShardKey returns the key used to pick a reactor shard. Completions for one
// call always share a key, so they land on the same shard.
func (c Completion) ShardKey() string {
	return c.CallID.String()
}
