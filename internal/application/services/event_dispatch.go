package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// HookFailure is one hook that failed during a dispatch.
type HookFailure struct {
	Extension string `json:"extension"`
	Error     string `json:"error"`
}

// DispatchResult summarises a fire-and-forget dispatch.
type DispatchResult struct {
	Event     events.Name `json:"event"`
	Delivered int         `json:"delivered"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	// Sample holds the first failures, capped by FailureSampleCap.
	Sample []HookFailure `json:"sample,omitempty"`
}

// CancelDecision is the result of a cancellable dispatch.
type CancelDecision struct {
	Cancelled bool   `json:"cancelled"`
	By        string `json:"by,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// DispatchEvent delivers an event to every matching hook in registration
// order. Failing hooks never stop delivery to the rest.
func (m *ExtensionManager) DispatchEvent(ctx context.Context, name events.Name, payload json.RawMessage) DispatchResult {
	ev := events.Event{Name: name, Payload: payload}
	res := DispatchResult{Event: name}

	for _, h := range m.hooks.forEvent(name) {
		if ctx.Err() != nil {
			break
		}
		ok, err := h.filter.Match(h.extension.String(), ev)
		if err != nil {
			m.addFailure(&res, h.extension, fmt.Errorf("when filter: %w", err))
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}
		if _, err := m.invoke(ctx, h, ev); err != nil {
			m.addFailure(&res, h.extension, err)
			continue
		}
		res.Delivered++
	}

	if res.Failed > 0 {
		m.logger.Warn("event hooks failed", "event", name.String(), "failed", res.Failed, "delivered", res.Delivered)
	}
	return res
}

func (m *ExtensionManager) addFailure(res *DispatchResult, ext values.ExtensionID, err error) {
	res.Failed++
	if len(res.Sample) < m.cfg.FailureSampleCap {
		res.Sample = append(res.Sample, HookFailure{Extension: ext.String(), Error: m.scrub(err.Error())})
	}
}

// invoke runs one hook, turning a panic into an error.
func (m *ExtensionManager) invoke(ctx context.Context, h registeredHook, ev events.Event) (resp json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h.hook.Handle(ctx, ev)
}

// DispatchCancellableEvent asks hooks in order whether the action may
// proceed. The first cancelling response wins. A dispatch that outlives
// timeout, or whose context ends, is treated as not cancelled. A zero
// timeout uses CancellableTimeout.
func (m *ExtensionManager) DispatchCancellableEvent(ctx context.Context, name events.Name, payload json.RawMessage, timeout time.Duration) CancelDecision {
	if timeout <= 0 {
		timeout = m.cfg.CancellableTimeout
	}
	_, by, found, timedOut := m.firstResponse(ctx, events.Event{Name: name, Payload: payload}, timeout, events.IsCancellation)
	if timedOut {
		m.logger.Warn("cancellable event timed out, proceeding", "event", name.String(), "timeout", timeout)
		return CancelDecision{TimedOut: true}
	}
	if !found {
		return CancelDecision{}
	}
	m.logger.Info("event cancelled by hook", "event", name.String(), "extension", by.String())
	return CancelDecision{Cancelled: true, By: by.String()}
}

// DispatchEventWithResponse returns the first non-null hook response. A
// zero timeout uses ResponseTimeout.
func (m *ExtensionManager) DispatchEventWithResponse(ctx context.Context, name events.Name, payload json.RawMessage, timeout time.Duration) (json.RawMessage, bool) {
	if timeout <= 0 {
		timeout = m.cfg.ResponseTimeout
	}
	accept := func(resp json.RawMessage) bool { return !events.IsNull(resp) }
	resp, _, found, timedOut := m.firstResponse(ctx, events.Event{Name: name, Payload: payload}, timeout, accept)
	if timedOut {
		m.logger.Warn("event response timed out", "event", name.String(), "timeout", timeout)
		return nil, false
	}
	return resp, found
}

type hookResponse struct {
	resp      json.RawMessage
	extension values.ExtensionID
	found     bool
}

// firstResponse runs hooks sequentially until accept takes a response. Hook
// errors are logged and skipped.
func (m *ExtensionManager) firstResponse(
	ctx context.Context,
	ev events.Event,
	timeout time.Duration,
	accept func(json.RawMessage) bool,
) (json.RawMessage, values.ExtensionID, bool, bool) {
	hooks := m.hooks.forEvent(ev.Name)
	if len(hooks) == 0 {
		return nil, values.ExtensionID{}, false, false
	}

	hookCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan hookResponse, 1)
	go func() {
		for _, h := range hooks {
			if hookCtx.Err() != nil {
				break
			}
			ok, err := h.filter.Match(h.extension.String(), ev)
			if err != nil {
				m.logger.Warn("hook filter failed", "event", ev.Name.String(), "extension", h.extension.String(), "error", err)
				continue
			}
			if !ok {
				continue
			}
			resp, err := m.invoke(hookCtx, h, ev)
			if err != nil {
				m.logger.Warn("hook failed", "event", ev.Name.String(), "extension", h.extension.String(), "error", m.scrub(err.Error()))
				continue
			}
			if accept(resp) {
				done <- hookResponse{resp: resp, extension: h.extension, found: true}
				return
			}
		}
		done <- hookResponse{}
	}()

	select {
	case r := <-done:
		return r.resp, r.extension, r.found, false
	case <-m.clock.After(timeout):
		return nil, values.ExtensionID{}, false, true
	case <-ctx.Done():
		return nil, values.ExtensionID{}, false, true
	}
}

type eventsEmitArgs struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleEvents serves events hostcalls: "emit" dispatches an event on behalf
// of the calling extension and "list" returns the known event names.
func (m *ExtensionManager) HandleEvents(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error) {
	switch op {
	case "list":
		return json.Marshal(events.All())
	case "emit":
		var args eventsEmitArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid events payload: %v", err), err)
		}
		name := events.Name(args.Name)
		if !name.IsKnown() {
			return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Unknown event: %s", args.Name), nil)
		}
		m.logger.Debug("extension emitted event", "extension", ext.String(), "event", name.String())

		if name.IsCancellable() {
			return json.Marshal(m.DispatchCancellableEvent(ctx, name, args.Payload, 0))
		}
		return json.Marshal(m.DispatchEvent(ctx, name, args.Payload))
	default:
		return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Unknown events op: %s", op), nil)
	}
}
