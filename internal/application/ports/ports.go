// Package ports defines interfaces for infrastructure dependencies.
// These are the "ports" in hexagonal architecture - abstractions that
// the application layer depends on but doesn't implement.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Clock is a source of time. Components that time out or throttle take a
// Clock so tests can drive them deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Tool is a host capability invoked by tool hostcalls.
type Tool interface {
	Name() string
	// Execute runs the tool. ctx is cancelled to abort; an aborted call
	// must still return.
	Execute(ctx context.Context, callID values.CallID, payload json.RawMessage) (any, error)
}

// ToolRegistry looks tools up by name.
type ToolRegistry interface {
	Get(name string) (Tool, bool)
}

// ToolRegistrar is a ToolRegistry extensions can add tools to.
type ToolRegistrar interface {
	ToolRegistry
	Register(tool Tool) error
	Unregister(name string) bool
	Names() []string
}

// Session is the shared session handle extensions read and mutate.
type Session interface {
	Name(ctx context.Context) (string, error)
	SetName(ctx context.Context, name string) error
	Entries(ctx context.Context) ([]json.RawMessage, error)
	AppendEntry(ctx context.Context, entry json.RawMessage) error
	Model(ctx context.Context) (string, error)
	SetModel(ctx context.Context, model string) error
	ThinkingLevel(ctx context.Context) (string, error)
	SetThinkingLevel(ctx context.Context, level string) error
	Labels(ctx context.Context) (map[string]string, error)
	SetLabel(ctx context.Context, key, value string) error
}

// HTTPRequest is the payload of an http hostcall.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// TimeoutMs bounds the request; zero uses the connector default.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// HTTPResponse is the value returned for an http hostcall.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// HTTPConnector performs outbound requests on behalf of an extension. It
// enforces the extension's http capabilities per destination host.
type HTTPConnector interface {
	Do(ctx context.Context, ext values.ExtensionID, req HTTPRequest) (HTTPResponse, error)
}

// UIHandler receives ui hostcalls.
type UIHandler interface {
	Handle(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error)
}

// EventsHandler receives events hostcalls (an extension emitting or
// querying lifecycle events).
type EventsHandler interface {
	HandleEvents(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error)
}

// Hook is a handler subscribed to a lifecycle event. A nil or JSON null
// response means "no opinion".
type Hook interface {
	Handle(ctx context.Context, ev events.Event) (json.RawMessage, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, ev events.Event) (json.RawMessage, error)

// Handle calls f.
func (f HookFunc) Handle(ctx context.Context, ev events.Event) (json.RawMessage, error) {
	return f(ctx, ev)
}

// ModuleResolver resolves imports and reads module text for one extension.
// Repairs are applied to it, never to the files on disk.
type ModuleResolver interface {
	// Resolve maps a specifier imported by importer to a readable path.
	Resolve(importer, specifier string) (string, error)
	ReadFile(path string) ([]byte, error)
	// Entry returns the entry module, which a repair may have replaced.
	Entry() string
}

// RepairTarget is a module view the repair service can inspect and patch.
type RepairTarget interface {
	ModuleResolver
	Root() string
	// FS is a read-only snapshot of the extension's files.
	FS() afero.Fs
	Source(path string) string
	Apply(f repair.Failure, a repair.Action) error
}

// LoadRequest describes an extension module for the script engine.
type LoadRequest struct {
	Extension values.ExtensionID
	Root      string
	Entry     string
	Modules   ModuleResolver
}

// ScriptEngine is the opaque environment that runs extension code. It never
// blocks on a hostcall: requests are drained, executed elsewhere, and
// completed later.
type ScriptEngine interface {
	// Load evaluates an extension's entry module. Module resolution
	// failures are reported as errors whose message carries the engine's
	// diagnostic, for the repair engine to classify.
	Load(ctx context.Context, req LoadRequest) error
	Unload(ctx context.Context, ext values.ExtensionID) error
	// InvokeHook calls the extension's handler for an event.
	InvokeHook(ctx context.Context, ext values.ExtensionID, ev events.Event) (json.RawMessage, error)
	// InvokeTool runs a tool the extension contributes.
	InvokeTool(ctx context.Context, ext values.ExtensionID, tool string, callID values.CallID, payload json.RawMessage) (json.RawMessage, error)

	DrainHostcallRequests() []hostcall.Request
	CompleteHostcall(callID values.CallID, outcome hostcall.Outcome) error
	// Tick advances pending callbacks and timers and reports whether any
	// macrotask ran.
	Tick(ctx context.Context) (bool, error)

	Close(ctx context.Context) error
}

// HostcallScheduler executes hostcalls off the engine thread and hands back
// completions.
type HostcallScheduler interface {
	Submit(req hostcall.Request) error
	Drain(budget int) []hostcall.Completion
	Cancel(id values.CallID) bool
}

// ManifestLoader reads and validates an extension manifest from its root.
type ManifestLoader interface {
	Load(ctx context.Context, root string) (entities.Manifest, error)
}

// Redactor scrubs secrets from text bound for extensions, logs and storage.
type Redactor interface {
	ScrubString(s string) string
}

// CapabilityGranter grants capabilities (interactively or automatically),
// keyed by extension id.
type CapabilityGranter interface {
	GrantCapabilities(ctx context.Context, required map[string][]capabilities.Capability, trustAll bool) (map[string][]capabilities.Capability, error)
}

// OutputFormatter formats a report value.
type OutputFormatter interface {
	Format(v any) error
}
