package wasm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// registerHostModule instantiates the exthost import module.
func (e *Engine) registerHostModule(ctx context.Context, r wazero.Runtime) error {
	builder := r.NewHostModuleBuilder(HostModule)

	// Parameters: request (i64) - packed ptr+len of the request JSON
	// Returns: call id (i64) - packed ptr+len, zero when the request is rejected
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostcall), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export(importHostcall)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.logMessage), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export(importLogMessage)

	_, err := builder.Instantiate(ctx)
	return err
}

// hostcall queues a request for the dispatcher. It never blocks: the outcome
// arrives later through ext_on_complete.
func (e *Engine) hostcall(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, size := unpackPtrLen(stack[0])
	stack[0] = 0

	ext, err := values.NewExtensionID(mod.Name())
	if err != nil {
		e.logger.ErrorContext(ctx, "hostcall from unnamed module", "module", mod.Name())
		return
	}

	raw, ok := mod.Memory().Read(ptr, size)
	if !ok {
		e.logger.ErrorContext(ctx, "failed to read hostcall request from guest memory", "extension", ext.String())
		return
	}

	var in guestRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		e.logger.WarnContext(ctx, "malformed hostcall request", "extension", ext.String(), "error", err)
		return
	}

	qualifier := in.Op
	if in.Name != "" {
		qualifier = in.Name
	}
	req := hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: ext,
		Kind:        hostcall.ParseKind(in.Kind, qualifier),
		Payload:     in.Payload,
		IOHint:      in.IOHint,
	}

	packed, err := writeGuest(ctx, mod, []byte(req.CallID.String()))
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to return call id to guest", "extension", ext.String(), "error", err)
		return
	}

	e.enqueue(req)
	stack[0] = packed
}

func (e *Engine) logMessage(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, size := unpackPtrLen(stack[0])
	raw, ok := mod.Memory().Read(ptr, size)
	if !ok {
		e.logger.ErrorContext(ctx, "failed to read log message from guest memory", "extension", mod.Name())
		return
	}

	var msg logMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.logger.ErrorContext(ctx, "failed to unmarshal log message", "extension", mod.Name(), "error", err)
		return
	}

	attrs := make([]slog.Attr, 0, len(msg.Attrs)+1)
	attrs = append(attrs, slog.String("extension", mod.Name()))
	for k, v := range msg.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	text := msg.Message
	if e.redactor != nil {
		text = e.redactor.ScrubString(text)
	}
	e.logger.LogAttrs(ctx, parseLogLevel(msg.Level), text, attrs...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
