package wasm

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/redaction"
)

// DefaultMemoryLimitMB caps guest memory when no limit is configured.
const DefaultMemoryLimitMB = 256

// globalCache speeds up compilation across engines.
var globalCache = wazero.NewCompilationCache()

// Options configures an Engine.
type Options struct {
	// MemoryLimitMB caps each guest's linear memory. 0 uses the default,
	// -1 disables the limit.
	MemoryLimitMB int
	// Redactor scrubs guest stdout, stderr and log messages.
	Redactor *redaction.Redactor
	// Output receives guest stdout and stderr. Defaults to os.Stderr.
	Output io.Writer
	Logger *slog.Logger
}

type callState struct {
	ext  values.ExtensionID
	done bool
}

// Engine is a ports.ScriptEngine backed by wazero.
type Engine struct {
	runtime  wazero.Runtime
	redactor *redaction.Redactor
	stdout   io.Writer
	stderr   io.Writer
	logger   *slog.Logger

	mu        sync.Mutex
	instances map[values.ExtensionID]*instance
	pending   []hostcall.Request
	calls     map[values.CallID]*callState
}

var _ ports.ScriptEngine = (*Engine)(nil)

// NewEngine creates a runtime with WASI and the exthost host module.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := opts.MemoryLimitMB
	switch {
	case limit == 0:
		limit = DefaultMemoryLimitMB
	case limit == -1:
		logger.Warn("WASM memory limit disabled (unlimited memory)")
	case limit > 0:
		if limit < 64 {
			logger.Warn("WASM memory limit very low, extensions may fail", "mb", limit)
		}
	default:
		return nil, fmt.Errorf("invalid WASM memory limit: %d (must be >= -1)", limit)
	}

	config := wazero.NewRuntimeConfig().WithCompilationCache(globalCache)
	if limit > 0 {
		// 1 MB = 16 pages of 64KB
		config = config.WithMemoryLimitPages(uint32(limit * 16)) //nolint:gosec // G115: validated above
	}
	r := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	e := &Engine{
		runtime:   r,
		redactor:  opts.Redactor,
		stdout:    redaction.NewWriter(out, opts.Redactor),
		stderr:    redaction.NewWriter(out, opts.Redactor),
		logger:    logger,
		instances: make(map[values.ExtensionID]*instance),
		calls:     make(map[values.CallID]*callState),
	}

	if err := e.registerHostModule(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}
	return e, nil
}

// Load compiles and instantiates the extension's entry module, replacing any
// instance already loaded under the same id.
func (e *Engine) Load(ctx context.Context, req ports.LoadRequest) error {
	if req.Modules == nil {
		return fmt.Errorf("load %s: no module view", req.Extension)
	}
	entry := req.Modules.Entry()
	if entry == "" {
		entry = req.Entry
	}
	if !strings.HasSuffix(entry, ".wasm") {
		return fmt.Errorf("unsupported entry module %s: expected a .wasm file", entry)
	}

	code, err := req.Modules.ReadFile(entry)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", entry, err)
	}

	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to compile extension %s: %w", req.Extension, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	if err := e.Unload(ctx, req.Extension); err != nil {
		return err
	}

	config := wazero.NewModuleConfig().
		WithName(req.Extension.String()).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithStartFunctions().
		WithStdout(e.stdout).
		WithStderr(e.stderr)

	mod, err := e.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		return fmt.Errorf("failed to instantiate extension %s: %w", req.Extension, err)
	}

	// Reactor modules built for WASI need _initialize before any export.
	if initFn := mod.ExportedFunction(exportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return fmt.Errorf("failed to initialize extension %s: %w", req.Extension, err)
		}
	}
	if mod.ExportedFunction(exportAllocate) == nil || mod.Memory() == nil {
		_ = mod.Close(ctx)
		return fmt.Errorf("extension %s must export memory and %s()", req.Extension, exportAllocate)
	}

	e.mu.Lock()
	e.instances[req.Extension] = &instance{ext: req.Extension, module: mod}
	e.mu.Unlock()

	e.logger.Debug("extension module loaded", "extension", req.Extension.String(), "entry", entry)
	return nil
}

// Unload closes the extension's instance. Its outstanding hostcalls are
// forgotten, so late completions for them report an unknown call id.
func (e *Engine) Unload(ctx context.Context, ext values.ExtensionID) error {
	e.mu.Lock()
	in := e.instances[ext]
	delete(e.instances, ext)
	for id, st := range e.calls {
		if st.ext == ext {
			delete(e.calls, id)
		}
	}
	e.pending = slices.DeleteFunc(e.pending, func(r hostcall.Request) bool { return r.ExtensionID == ext })
	e.mu.Unlock()

	if in == nil {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.module.Close(ctx); err != nil {
		return fmt.Errorf("failed to close extension %s: %w", ext, err)
	}
	return nil
}

func (e *Engine) lookup(ext values.ExtensionID) (*instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.instances[ext]
	if !ok {
		return nil, fmt.Errorf("extension %s is not loaded", ext)
	}
	return in, nil
}

// InvokeHook calls ext_on_event. Extensions that do not export it have no
// opinion on any event.
func (e *Engine) InvokeHook(ctx context.Context, ext values.ExtensionID, ev events.Event) (json.RawMessage, error) {
	in, err := e.lookup(ext)
	if err != nil {
		return nil, err
	}
	if in.module.ExportedFunction(exportOnEvent) == nil {
		return nil, nil
	}

	arg, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	out, err := in.call(ctx, exportOnEvent, arg, true)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvokeTool calls ext_invoke_tool.
func (e *Engine) InvokeTool(ctx context.Context, ext values.ExtensionID, tool string, callID values.CallID, payload json.RawMessage) (json.RawMessage, error) {
	in, err := e.lookup(ext)
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	arg, err := json.Marshal(toolInvocation{Tool: tool, CallID: callID.String(), Input: payload})
	if err != nil {
		return nil, fmt.Errorf("encode tool invocation: %w", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	out, err := in.call(ctx, exportInvokeTool, arg, true)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return json.RawMessage("null"), nil
	}
	return out, nil
}

func (e *Engine) enqueue(req hostcall.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, req)
	e.calls[req.CallID] = &callState{ext: req.ExtensionID}
}

// DrainHostcallRequests returns the queued requests in submission order.
func (e *Engine) DrainHostcallRequests() []hostcall.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// CompleteHostcall queues an outcome for delivery on the next Tick. A second
// outcome for the same call id is rejected with hostcall.ErrAlreadyCompleted.
func (e *Engine) CompleteHostcall(callID values.CallID, outcome hostcall.Outcome) error {
	e.mu.Lock()
	st, ok := e.calls[callID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown call id %s", callID)
	}
	if st.done {
		e.mu.Unlock()
		return hostcall.ErrAlreadyCompleted
	}
	st.done = true
	in := e.instances[st.ext]
	e.mu.Unlock()

	if in == nil {
		e.logger.Debug("completion for unloaded extension dropped", "call_id", callID.String(), "extension", st.ext.String())
		return nil
	}
	in.inboxMu.Lock()
	in.inbox = append(in.inbox, completion{CallID: callID.String(), Outcome: outcome})
	in.inboxMu.Unlock()
	return nil
}

// Tick delivers pending completions and runs one ext_tick per extension, in
// extension id order. A failing extension does not stop the others.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	e.mu.Lock()
	list := make([]*instance, 0, len(e.instances))
	for _, in := range e.instances {
		list = append(list, in)
	}
	e.mu.Unlock()
	slices.SortFunc(list, func(a, b *instance) int { return strings.Compare(a.ext.String(), b.ext.String()) })

	var (
		ran  bool
		errs []error
	)
	for _, in := range list {
		did, err := e.tickInstance(ctx, in)
		ran = ran || did
		if err != nil {
			errs = append(errs, fmt.Errorf("extension %s: %w", in.ext, err))
		}
	}
	return ran, errors.Join(errs...)
}

func (e *Engine) tickInstance(ctx context.Context, in *instance) (bool, error) {
	in.inboxMu.Lock()
	inbox := in.inbox
	in.inbox = nil
	in.inboxMu.Unlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	ran := false
	if len(inbox) > 0 {
		if in.module.ExportedFunction(exportOnComplete) == nil {
			e.logger.Debug("extension ignores completions", "extension", in.ext.String(), "dropped", len(inbox))
		} else {
			for _, c := range inbox {
				arg, err := json.Marshal(c)
				if err != nil {
					return ran, fmt.Errorf("encode completion: %w", err)
				}
				if _, err := in.call(ctx, exportOnComplete, arg, false); err != nil {
					return ran, err
				}
				ran = true
			}
		}
	}

	if tick := in.module.ExportedFunction(exportTick); tick != nil {
		results, err := tick.Call(ctx)
		if err != nil {
			return ran, fmt.Errorf("%s() failed: %w", exportTick, err)
		}
		if len(results) > 0 && results[0] != 0 {
			ran = true
		}
	}
	return ran, nil
}

// Close releases every instance and the runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.instances = make(map[values.ExtensionID]*instance)
	e.calls = make(map[values.CallID]*callState)
	e.pending = nil
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
