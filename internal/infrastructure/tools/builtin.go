package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Func adapts a function to ports.Tool.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, callID values.CallID, payload json.RawMessage) (any, error)
}

// Name returns the tool name.
func (f Func) Name() string { return f.ToolName }

// Execute calls Fn.
func (f Func) Execute(ctx context.Context, callID values.CallID, payload json.RawMessage) (any, error) {
	return f.Fn(ctx, callID, payload)
}

// Echo returns its payload unchanged.
func Echo() ports.Tool {
	return Func{
		ToolName: "echo",
		Fn: func(_ context.Context, _ values.CallID, payload json.RawMessage) (any, error) {
			return payload, nil
		},
	}
}

// Synthetic simulates work of a fixed duration on clock. It honours
// cancellation and fails when the payload asks it to.
func Synthetic(name string, clock ports.Clock, work time.Duration) ports.Tool {
	return Func{
		ToolName: name,
		Fn: func(ctx context.Context, callID values.CallID, payload json.RawMessage) (any, error) {
			var args struct {
				Fail bool `json:"fail"`
			}
			if len(payload) > 0 {
				_ = json.Unmarshal(payload, &args)
			}
			if work > 0 {
				if err := clock.Sleep(ctx, work); err != nil {
					return nil, err
				}
			}
			if args.Fail {
				return nil, fmt.Errorf("synthetic failure for %s", callID)
			}
			return map[string]any{"call_id": callID.String(), "ok": true}, nil
		},
	}
}
