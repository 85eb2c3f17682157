// Package wasm runs extensions compiled to WebAssembly under wazero.
//
// The guest ABI passes JSON through linear memory. A buffer is described by a
// packed i64: pointer in the high 32 bits, length in the low 32. The guest
// exports allocate(size i32) i32 and deallocate(ptr i32, size i32) so the
// host can hand it data, plus any of the entry points below.
package wasm

import (
	"encoding/json"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// HostModule is the import module extensions link against.
const HostModule = "exthost"

// Guest exports.
const (
	exportAllocate   = "allocate"
	exportDeallocate = "deallocate"
	exportInitialize = "_initialize"
	// ext_on_event(event i64) i64
	exportOnEvent = "ext_on_event"
	// ext_invoke_tool(invocation i64) i64
	exportInvokeTool = "ext_invoke_tool"
	// ext_on_complete(completion i64)
	exportOnComplete = "ext_on_complete"
	// ext_tick() i32, nonzero when a macrotask ran
	exportTick = "ext_tick"
)

// Host imports.
const (
	// hostcall(request i64) i64 returns the packed call id.
	importHostcall = "hostcall"
	// log_message(message i64)
	importLogMessage = "log_message"
)

// toolInvocation is the argument of ext_invoke_tool.
type toolInvocation struct {
	Tool   string          `json:"tool"`
	CallID string          `json:"call_id"`
	Input  json.RawMessage `json:"input"`
}

// completion is the argument of ext_on_complete.
type completion struct {
	CallID  string           `json:"call_id"`
	Outcome hostcall.Outcome `json:"outcome"`
}

// guestRequest is what the guest passes to hostcall. The host assigns the
// call id.
type guestRequest struct {
	Kind    string          `json:"kind"`
	Name    string          `json:"name,omitempty"`
	Op      string          `json:"op,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	IOHint  hostcall.IOHint `json:"io_hint,omitempty"`
}

// logMessage is the argument of log_message.
type logMessage struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func packPtrLen(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpackPtrLen(packed uint64) (ptr, size uint32) {
	return uint32(packed >> 32), uint32(packed) //nolint:gosec // G115: WASM32 pointers are always 32-bit
}
