package events

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MaxFilterLength bounds a hook's when-expression.
const MaxFilterLength = 1000

// HookEnv defines the variables available to a hook's when-expression.
type HookEnv struct {
	Event     string         `expr:"event"`
	Extension string         `expr:"extension"`
	Payload   map[string]any `expr:"payload"`
}

// Filter is a compiled when-expression. A nil Filter matches every event.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a when-expression. An empty expression yields a
// nil Filter.
func CompileFilter(when string) (*Filter, error) {
	if when == "" {
		return nil, nil
	}
	if len(when) > MaxFilterLength {
		return nil, fmt.Errorf("when-expression exceeds %d characters", MaxFilterLength)
	}

	program, err := expr.Compile(when, expr.Env(HookEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile when-expression %q: %w", when, err)
	}
	return &Filter{source: when, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter against an event. Non-object payloads are
// exposed as payload.value.
func (f *Filter) Match(extension string, ev Event) (bool, error) {
	if f == nil {
		return true, nil
	}

	env := HookEnv{Event: string(ev.Name), Extension: extension, Payload: map[string]any{}}
	if len(ev.Payload) > 0 && !IsNull(ev.Payload) {
		var v any
		if err := json.Unmarshal(ev.Payload, &v); err != nil {
			return false, fmt.Errorf("decode %s payload: %w", ev.Name, err)
		}
		if obj, ok := v.(map[string]any); ok {
			env.Payload = obj
		} else {
			env.Payload["value"] = v
		}
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate when-expression %q: %w", f.source, err)
	}
	matched, _ := out.(bool)
	return matched, nil
}
