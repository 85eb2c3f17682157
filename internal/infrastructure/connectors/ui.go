package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// DefaultNotificationBuffer is the queue size used when none is given.
const DefaultNotificationBuffer = 64

// Notification is a fire-and-forget UI update from an extension.
type Notification struct {
	Extension string          `json:"extension"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// UIOption is one choice of a select request.
type UIOption struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// UIRequest is an interactive UI request.
type UIRequest struct {
	Extension   string
	Op          string
	Title       string
	Message     string
	Placeholder string
	Options     []UIOption
}

// UIPrompter answers interactive UI requests.
type UIPrompter interface {
	Confirm(ctx context.Context, req UIRequest) (bool, error)
	Select(ctx context.Context, req UIRequest) (json.RawMessage, error)
	Input(ctx context.Context, req UIRequest) (string, error)
}

// UIConnector implements ports.UIHandler. Notifications never block the
// hostcall: when the queue is full they are dropped and counted.
type UIConnector struct {
	queue    chan Notification
	dropped  atomic.Uint64
	clock    ports.Clock
	prompter UIPrompter
	logger   *slog.Logger
}

// NewUIConnector creates a connector with a notification queue of buffer
// entries. prompter may be nil, in which case interactive requests answer
// null.
func NewUIConnector(buffer int, clock ports.Clock, prompter UIPrompter, logger *slog.Logger) *UIConnector {
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UIConnector{
		queue:    make(chan Notification, buffer),
		clock:    clock,
		prompter: prompter,
		logger:   logger,
	}
}

// Notifications is the queue consumers read from.
func (u *UIConnector) Notifications() <-chan Notification {
	return u.queue
}

// Dropped is the number of notifications discarded because the queue was full.
func (u *UIConnector) Dropped() uint64 {
	return u.dropped.Load()
}

type uiArgs struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Placeholder string            `json:"placeholder"`
	Options     []json.RawMessage `json:"options"`
}

// Handle serves ui hostcalls.
func (u *UIConnector) Handle(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error) {
	switch op {
	case "notify", "set_status", "set_widget", "set_title":
		u.publish(Notification{Extension: ext.String(), Op: op, Payload: payload, At: u.clock.Now()})
		return nil, nil
	case "confirm", "select", "input":
		return u.ask(ctx, ext, op, payload)
	default:
		return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Unknown ui op: %s", op), nil)
	}
}

func (u *UIConnector) publish(n Notification) {
	select {
	case u.queue <- n:
	default:
		total := u.dropped.Add(1)
		u.logger.Debug("ui notification dropped", "extension", n.Extension, "op", n.Op, "dropped_total", total)
	}
}

func (u *UIConnector) ask(ctx context.Context, ext values.ExtensionID, op string, payload json.RawMessage) (json.RawMessage, error) {
	var args uiArgs
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid ui payload: %v", err), err)
		}
	}
	req := UIRequest{
		Extension:   ext.String(),
		Op:          op,
		Title:       args.Title,
		Message:     args.Message,
		Placeholder: args.Placeholder,
	}
	if op == "select" {
		opts, err := parseOptions(args.Options)
		if err != nil {
			return nil, err
		}
		req.Options = opts
	}

	if u.prompter == nil {
		return json.RawMessage("null"), nil
	}

	switch op {
	case "confirm":
		ok, err := u.prompter.Confirm(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ok)
	case "select":
		return u.prompter.Select(ctx, req)
	default:
		text, err := u.prompter.Input(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(text)
	}
}

// parseOptions accepts plain strings or {label, value} objects. A missing
// value defaults to the label.
func parseOptions(raw []json.RawMessage) ([]UIOption, error) {
	if len(raw) == 0 {
		return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, "Invalid ui payload: select requires options", nil)
	}
	out := make([]UIOption, 0, len(raw))
	for i, r := range raw {
		var label string
		if err := json.Unmarshal(r, &label); err == nil {
			value, _ := json.Marshal(label)
			out = append(out, UIOption{Label: label, Value: value})
			continue
		}

		var obj struct {
			Label string          `json:"label"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(r, &obj); err != nil || obj.Label == "" {
			return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid ui payload: option %d needs a label", i), err)
		}
		if len(obj.Value) == 0 {
			obj.Value, _ = json.Marshal(obj.Label)
		}
		out = append(out, UIOption{Label: obj.Label, Value: obj.Value})
	}
	return out, nil
}
