package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/tools"
)

type httpFunc func(ctx context.Context, ext values.ExtensionID, req ports.HTTPRequest) (ports.HTTPResponse, error)

func (f httpFunc) Do(ctx context.Context, ext values.ExtensionID, req ports.HTTPRequest) (ports.HTTPResponse, error) {
	return f(ctx, ext, req)
}

type uiFunc func(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error)

func (f uiFunc) Handle(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, ext, op, payload)
}

type replaceRedactor struct{ secret string }

func (r replaceRedactor) ScrubString(s string) string {
	return strings.ReplaceAll(s, r.secret, "[REDACTED]")
}

func toolFunc(name string, fn func(payload json.RawMessage) (any, error)) ports.Tool {
	return tools.Func{
		ToolName: name,
		Fn: func(_ context.Context, _ values.CallID, payload json.RawMessage) (any, error) {
			return fn(payload)
		},
	}
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	reg, err := tools.NewRegistry(
		tools.Echo(),
		toolFunc("fails", func(json.RawMessage) (any, error) { return nil, errors.New("disk on fire") }),
		toolFunc("typed", func(json.RawMessage) (any, error) {
			return nil, apperrors.NewHostcallError(hostcall.CodeDenied, "outside workspace", nil)
		}),
		toolFunc("slow", func(json.RawMessage) (any, error) {
			return nil, fmt.Errorf("read: %w", context.DeadlineExceeded)
		}),
		toolFunc("chan", func(json.RawMessage) (any, error) { return make(chan int), nil }),
		toolFunc("garbage", func(json.RawMessage) (any, error) { return json.RawMessage(`{nope`), nil }),
		toolFunc("empty", func(json.RawMessage) (any, error) { return json.RawMessage(nil), nil }),
		toolFunc("panics", func(json.RawMessage) (any, error) { panic("tool exploded") }),
	)
	require.NoError(t, err)
	return NewDispatcher(reg, append([]DispatcherOption{WithDispatcherLogger(discardLogger())}, opts...)...)
}

func call(kind hostcall.Kind, payload string) hostcall.Request {
	req := hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: values.MustNewExtensionID("ext"),
		Kind:        kind,
	}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	return req
}

func TestDispatcher_Tools(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t)

	tests := []struct {
		name     string
		tool     string
		payload  string
		wantCode string
		wantMsg  string
		wantVal  string
	}{
		{name: "success", tool: "echo", payload: `{"x":1}`, wantVal: `{"x":1}`},
		{name: "null payload", tool: "echo", wantVal: `null`},
		{name: "unknown", tool: "missing", wantCode: hostcall.CodeInvalidRequest, wantMsg: "Unknown tool: missing"},
		{name: "tool error", tool: "fails", wantCode: hostcall.CodeToolError, wantMsg: "disk on fire"},
		{name: "typed error", tool: "typed", wantCode: hostcall.CodeDenied, wantMsg: "outside workspace"},
		{name: "deadline", tool: "slow", wantCode: hostcall.CodeTimeout},
		{name: "unserialisable", tool: "chan", wantCode: hostcall.CodeInternal, wantMsg: "Serialize tool output: json: unsupported type: chan int"},
		{name: "invalid raw json", tool: "garbage", wantCode: hostcall.CodeInternal, wantMsg: "Serialize tool output: invalid JSON"},
		{name: "empty raw", tool: "empty", wantVal: `null`},
		{name: "panic", tool: "panics", wantCode: hostcall.CodeInternal, wantMsg: "Hostcall handler panicked: tool exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: tt.tool}, tt.payload))
			if tt.wantCode == "" {
				require.True(t, out.IsSuccess(), out.String())
				if len(out.Value()) == 0 {
					assert.Equal(t, "null", tt.wantVal)
					return
				}
				assert.JSONEq(t, tt.wantVal, string(out.Value()))
				return
			}
			assert.Equal(t, tt.wantCode, out.Code())
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, out.Error().Message)
			}
		})
	}
}

func TestDispatcher_UnconfiguredKinds(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t)

	for _, kind := range []hostcall.Kind{
		hostcall.HTTPKind{},
		hostcall.SessionKind{Op: "get_name"},
		hostcall.UIKind{Op: "notify"},
		hostcall.EventsKind{Op: "list"},
		hostcall.UnsupportedKind{Raw: "teleport"},
	} {
		out := d.Dispatch(context.Background(), call(kind, ""))
		assert.Equal(t, hostcall.CodeInvalidRequest, out.Code(), kind.String())
		assert.Equal(t, "Unsupported hostcall kind: "+kind.String(), out.Error().Message)
	}
}

func TestDispatcher_HTTP(t *testing.T) {
	t.Parallel()

	var seen ports.HTTPRequest
	d := newTestDispatcher(t, WithHTTPConnector(httpFunc(
		func(ctx context.Context, _ values.ExtensionID, req ports.HTTPRequest) (ports.HTTPResponse, error) {
			seen = req
			switch req.URL {
			case "https://denied.example":
				return ports.HTTPResponse{}, apperrors.NewCapabilityError("host not granted", nil)
			case "https://down.example":
				return ports.HTTPResponse{}, errors.New("connection refused")
			}
			return ports.HTTPResponse{Status: 200, Body: "ok"}, nil
		})))

	out := d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `{"method":"GET","url":"https://api.example"}`))
	require.True(t, out.IsSuccess())
	assert.JSONEq(t, `{"status":200,"body":"ok"}`, string(out.Value()))
	assert.Equal(t, "GET", seen.Method)

	out = d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `{"url":"https://denied.example"}`))
	assert.Equal(t, hostcall.CodeDenied, out.Code())

	out = d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `{"url":"https://down.example"}`))
	assert.Equal(t, hostcall.CodeIO, out.Code())
	assert.Equal(t, "connection refused", out.Error().Message)

	out = d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `{"method":"GET"}`))
	assert.Equal(t, hostcall.CodeInvalidRequest, out.Code())

	out = d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `[1,2]`))
	assert.Equal(t, hostcall.CodeInvalidRequest, out.Code())
	assert.Contains(t, out.Error().Message, "Invalid http payload")
}

func TestDispatcher_Session(t *testing.T) {
	t.Parallel()

	s := newMemorySession("main")
	d := newTestDispatcher(t, WithSessionProvider(func() ports.Session { return s }))
	run := func(op, payload string) hostcall.Outcome {
		return d.Dispatch(context.Background(), call(hostcall.SessionKind{Op: op}, payload))
	}

	out := run("get_name", "")
	require.True(t, out.IsSuccess())
	assert.JSONEq(t, `"main"`, string(out.Value()))

	require.True(t, run("set_name", `{"name":"renamed"}`).IsSuccess())
	assert.Equal(t, "renamed", s.name)

	require.True(t, run("append_entry", `{"entry":{"role":"note"}}`).IsSuccess())
	out = run("get_entries", "")
	assert.JSONEq(t, `[{"role":"note"}]`, string(out.Value()))

	require.True(t, run("set_label", `{"key":"k","value":"v"}`).IsSuccess())
	out = run("get_labels", "")
	assert.JSONEq(t, `{"k":"v"}`, string(out.Value()))

	assert.Equal(t, hostcall.CodeToolError, run("set_model", `{}`).Code())
	assert.Equal(t, hostcall.CodeInvalidRequest, run("set_label", `{"value":"v"}`).Code())
	assert.Equal(t, hostcall.CodeInvalidRequest, run("append_entry", `{}`).Code())
	assert.Equal(t, hostcall.CodeInvalidRequest, run("set_name", `"bare"`).Code())

	out = run("fork", "")
	assert.Equal(t, hostcall.CodeInvalidRequest, out.Code())
	assert.Equal(t, "Unknown session op: fork", out.Error().Message)
}

func TestDispatcher_UI(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, WithUIHandler(uiFunc(
		func(_ context.Context, _ values.ExtensionID, op string, _ json.RawMessage) (json.RawMessage, error) {
			if op == "confirm" {
				return nil, errors.New("no terminal")
			}
			return json.RawMessage(`{"shown":true}`), nil
		})))

	out := d.Dispatch(context.Background(), call(hostcall.UIKind{Op: "notify"}, `{"text":"hi"}`))
	assert.JSONEq(t, `{"shown":true}`, string(out.Value()))

	out = d.Dispatch(context.Background(), call(hostcall.UIKind{Op: "confirm"}, ""))
	assert.Equal(t, hostcall.CodeToolError, out.Code())
}

func TestDispatcher_MiddlewareOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req hostcall.Request) hostcall.Outcome {
				trace = append(trace, name+">")
				out := next(ctx, req)
				trace = append(trace, "<"+name)
				return out
			}
		}
	}

	d := newTestDispatcher(t, WithMiddleware(mw("a"), mw("b")))
	d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "echo"}, ""))
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, trace)
}

func TestDispatcher_MiddlewarePanicIsRecovered(t *testing.T) {
	t.Parallel()

	boom := func(Handler) Handler {
		return func(context.Context, hostcall.Request) hostcall.Outcome { panic("middleware bug") }
	}
	d := newTestDispatcher(t, WithMiddleware(boom))
	out := d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "echo"}, ""))
	assert.Equal(t, hostcall.CodeInternal, out.Code())
}

func TestRequireCapabilities(t *testing.T) {
	t.Parallel()

	grants := NewGrantTable()
	ext := values.MustNewExtensionID("ext")
	grants.Set(ext, []capabilities.Capability{{Kind: "tool", Pattern: "ec*"}})

	d := newTestDispatcher(t, WithMiddleware(RequireCapabilities(grants, capabilities.NewPolicy())))

	assert.True(t, d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "echo"}, "")).IsSuccess())

	out := d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "fails"}, ""))
	assert.Equal(t, hostcall.CodeDenied, out.Code())
	assert.Equal(t, "Capability not granted: tool:fails", out.Error().Message)

	// HTTP is gated per host by the connector, not here.
	out = d.Dispatch(context.Background(), call(hostcall.HTTPKind{}, `{"url":"https://x"}`))
	assert.Equal(t, "Unsupported hostcall kind: http", out.Error().Message)
}

func TestRedactOutcomes(t *testing.T) {
	t.Parallel()

	reg, err := tools.NewRegistry(
		toolFunc("token", func(json.RawMessage) (any, error) { return map[string]string{"token": "s3cr3t"}, nil }),
		toolFunc("fail", func(json.RawMessage) (any, error) { return nil, errors.New("bad key s3cr3t") }),
		toolFunc("breaks", func(json.RawMessage) (any, error) { return json.RawMessage(`{"v":"x"}`), nil }),
	)
	require.NoError(t, err)

	d := NewDispatcher(reg, WithDispatcherLogger(discardLogger()), WithMiddleware(RedactOutcomes(replaceRedactor{secret: "s3cr3t"})))

	out := d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "token"}, ""))
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(out.Value()))

	out = d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "fail"}, ""))
	assert.Equal(t, "bad key [REDACTED]", out.Error().Message)

	quoteEater := NewDispatcher(reg, WithDispatcherLogger(discardLogger()), WithMiddleware(RedactOutcomes(replaceRedactor{secret: `"`})))
	out = quoteEater.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "breaks"}, ""))
	assert.Equal(t, hostcall.CodeInternal, out.Code())
}

func TestHostcallStats(t *testing.T) {
	t.Parallel()

	stats := NewHostcallStats()
	d := newTestDispatcher(t, WithMiddleware(RecordStats(stats)))

	d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "echo"}, ""))
	d.Dispatch(context.Background(), call(hostcall.ToolKind{Tool: "fails"}, ""))
	d.Dispatch(context.Background(), call(hostcall.UIKind{Op: "notify"}, ""))

	snap := stats.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(3), snap[0].Calls)
	assert.Equal(t, uint64(2), snap[0].Errors)
	assert.Equal(t, uint64(2), snap[0].ByKind["tool"])
	assert.Equal(t, uint64(1), snap[0].ByCode[hostcall.CodeToolError])
	assert.Equal(t, uint64(1), snap[0].ByCode[hostcall.CodeInvalidRequest])
}
