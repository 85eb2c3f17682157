package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// Handler produces the outcome of one hostcall. Handlers never return Go
// errors; every failure is an outcome.
type Handler func(ctx context.Context, req hostcall.Request) hostcall.Outcome

// Middleware wraps a Handler. Middleware runs in registration order, first
// registered outermost.
type Middleware func(next Handler) Handler

// SessionProvider returns the current session handle, or nil when none is
// attached.
type SessionProvider func() ports.Session

// Dispatcher routes hostcalls to the tool registry and the handler ports.
type Dispatcher struct {
	tools    ports.ToolRegistry
	http     ports.HTTPConnector
	ui       ports.UIHandler
	events   ports.EventsHandler
	session  SessionProvider
	logger   *slog.Logger
	mws      []Middleware
	pipeline Handler
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPConnector routes http hostcalls to c.
func WithHTTPConnector(c ports.HTTPConnector) DispatcherOption {
	return func(d *Dispatcher) { d.http = c }
}

// WithUIHandler routes ui hostcalls to h.
func WithUIHandler(h ports.UIHandler) DispatcherOption {
	return func(d *Dispatcher) { d.ui = h }
}

// WithEventsHandler routes events hostcalls to h.
func WithEventsHandler(h ports.EventsHandler) DispatcherOption {
	return func(d *Dispatcher) { d.events = h }
}

// WithSessionProvider routes session hostcalls to the provider's handle.
func WithSessionProvider(p SessionProvider) DispatcherOption {
	return func(d *Dispatcher) { d.session = p }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMiddleware appends middleware inside the panic guard.
func WithMiddleware(mws ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.mws = append(d.mws, mws...) }
}

// NewDispatcher creates a dispatcher over a tool registry.
func NewDispatcher(tools ports.ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tools:  tools,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	h := d.route
	for i := len(d.mws) - 1; i >= 0; i-- {
		h = d.mws[i](h)
	}
	d.pipeline = Recover(d.logger)(h)
	return d
}

// Dispatch produces exactly one outcome for req.
func (d *Dispatcher) Dispatch(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	return d.pipeline(ctx, req)
}

// Execute implements the scheduler's executor contract.
func (d *Dispatcher) Execute(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	return d.Dispatch(ctx, req)
}

func (d *Dispatcher) route(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	switch k := req.Kind.(type) {
	case hostcall.ToolKind:
		return d.dispatchTool(ctx, req, k.Tool)
	case hostcall.HTTPKind:
		if d.http == nil {
			return unsupported(req.Kind)
		}
		return d.dispatchHTTP(ctx, req)
	case hostcall.SessionKind:
		var s ports.Session
		if d.session != nil {
			s = d.session()
		}
		if s == nil {
			return unsupported(req.Kind)
		}
		return dispatchSession(ctx, s, k.Op, req.PayloadOrNull())
	case hostcall.UIKind:
		if d.ui == nil {
			return unsupported(req.Kind)
		}
		out, err := d.ui.Handle(ctx, req.ExtensionID, k.Op, req.PayloadOrNull())
		return handlerOutcome(out, err)
	case hostcall.EventsKind:
		if d.events == nil {
			return unsupported(req.Kind)
		}
		out, err := d.events.HandleEvents(ctx, req.ExtensionID, k.Op, req.PayloadOrNull())
		return handlerOutcome(out, err)
	default:
		return unsupported(req.Kind)
	}
}

func unsupported(k hostcall.Kind) hostcall.Outcome {
	return hostcall.Failure(hostcall.CodeInvalidRequest, hostcall.UnsupportedKindMessage(k))
}

func (d *Dispatcher) dispatchTool(ctx context.Context, req hostcall.Request, name string) hostcall.Outcome {
	tool, ok := d.tools.Get(name)
	if !ok {
		return hostcall.Failuref(hostcall.CodeInvalidRequest, "Unknown tool: %s", name)
	}

	value, err := tool.Execute(ctx, req.CallID, req.PayloadOrNull())
	if err != nil {
		return errorOutcome(hostcall.CodeToolError, err)
	}
	return serialize(value)
}

func (d *Dispatcher) dispatchHTTP(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	var httpReq ports.HTTPRequest
	if err := json.Unmarshal(req.PayloadOrNull(), &httpReq); err != nil {
		return hostcall.Failuref(hostcall.CodeInvalidRequest, "Invalid http payload: %v", err)
	}
	if httpReq.URL == "" {
		return hostcall.Failure(hostcall.CodeInvalidRequest, "Invalid http payload: url is required")
	}

	resp, err := d.http.Do(ctx, req.ExtensionID, httpReq)
	if err != nil {
		return errorOutcome(hostcall.CodeIO, err)
	}
	return serialize(resp)
}

// serialize turns a handler value into a success outcome.
func serialize(value any) hostcall.Outcome {
	if raw, ok := value.(json.RawMessage); ok {
		if len(raw) == 0 {
			return hostcall.Success(nil)
		}
		if !json.Valid(raw) {
			return hostcall.Failure(hostcall.CodeInternal, "Serialize tool output: invalid JSON")
		}
		return hostcall.Success(raw)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return hostcall.Failuref(hostcall.CodeInternal, "Serialize tool output: %v", err)
	}
	return hostcall.Success(data)
}

func handlerOutcome(out json.RawMessage, err error) hostcall.Outcome {
	if err != nil {
		return errorOutcome(hostcall.CodeToolError, err)
	}
	return serialize(out)
}

// errorOutcome maps a handler error to an outcome. Typed errors keep their
// own code; deadlines become timeouts.
func errorOutcome(fallback string, err error) hostcall.Outcome {
	var hcErr *apperrors.HostcallError
	if errors.As(err, &hcErr) {
		return hcErr.Outcome()
	}
	var capErr *apperrors.CapabilityError
	if errors.As(err, &capErr) {
		return hostcall.Failure(hostcall.CodeDenied, capErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return hostcall.Failure(hostcall.CodeTimeout, err.Error())
	}
	return hostcall.Failure(fallback, err.Error())
}

// dispatchSession maps a session op onto the Session port.
func dispatchSession(ctx context.Context, s ports.Session, op string, payload json.RawMessage) hostcall.Outcome {
	var args struct {
		Name  string          `json:"name"`
		Model string          `json:"model"`
		Level string          `json:"level"`
		Key   string          `json:"key"`
		Value string          `json:"value"`
		Entry json.RawMessage `json:"entry"`
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &args); err != nil {
			return hostcall.Failuref(hostcall.CodeInvalidRequest, "Invalid session payload: %v", err)
		}
	}

	var (
		value any
		err   error
	)
	switch op {
	case "get_name":
		value, err = s.Name(ctx)
	case "set_name":
		err = s.SetName(ctx, args.Name)
	case "get_entries":
		value, err = s.Entries(ctx)
	case "append_entry":
		if len(args.Entry) == 0 {
			return hostcall.Failure(hostcall.CodeInvalidRequest, "Invalid session payload: entry is required")
		}
		err = s.AppendEntry(ctx, args.Entry)
	case "get_model":
		value, err = s.Model(ctx)
	case "set_model":
		err = s.SetModel(ctx, args.Model)
	case "get_thinking_level":
		value, err = s.ThinkingLevel(ctx)
	case "set_thinking_level":
		err = s.SetThinkingLevel(ctx, args.Level)
	case "get_labels":
		value, err = s.Labels(ctx)
	case "set_label":
		if args.Key == "" {
			return hostcall.Failure(hostcall.CodeInvalidRequest, "Invalid session payload: key is required")
		}
		err = s.SetLabel(ctx, args.Key, args.Value)
	default:
		return hostcall.Failure(hostcall.CodeInvalidRequest, fmt.Sprintf("Unknown session op: %s", op))
	}

	if err != nil {
		return errorOutcome(hostcall.CodeToolError, err)
	}
	return serialize(value)
}
