package hostcall

import (
	"encoding/json"
	"fmt"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Request is a single hostcall emitted by extension code.
// It is consumed exactly once by the dispatcher.
type Request struct {
	CallID      values.CallID
	ExtensionID values.ExtensionID
	Kind        Kind
	Payload     json.RawMessage
	// IOHint is an optional scheduling hint supplied by the engine or tool.
	IOHint IOHint
}

type wireRequest struct {
	CallID      string          `json:"call_id"`
	ExtensionID string          `json:"extension_id,omitempty"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name,omitempty"`
	Op          string          `json:"op,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	IOHint      IOHint          `json:"io_hint,omitempty"`
}

// MarshalJSON encodes the request in its wire shape.
func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{
		CallID:  r.CallID.String(),
		Payload: r.Payload,
		IOHint:  r.IOHint,
	}
	if !r.ExtensionID.IsEmpty() {
		w.ExtensionID = r.ExtensionID.String()
	}
	if r.Kind != nil {
		w.Kind = r.Kind.Name()
		if _, ok := r.Kind.(ToolKind); ok {
			w.Name = Qualifier(r.Kind)
		} else {
			w.Op = Qualifier(r.Kind)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire request. Unknown kinds decode successfully as
// UnsupportedKind so the dispatcher can answer them.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode hostcall request: %w", err)
	}

	callID, err := values.ParseCallID(w.CallID)
	if err != nil {
		return fmt.Errorf("decode hostcall request: %w", err)
	}

	var extID values.ExtensionID
	if w.ExtensionID != "" {
		extID, err = values.NewExtensionID(w.ExtensionID)
		if err != nil {
			return fmt.Errorf("decode hostcall request: %w", err)
		}
	}

	qualifier := w.Op
	if w.Name != "" {
		qualifier = w.Name
	}

	*r = Request{
		CallID:      callID,
		ExtensionID: extID,
		Kind:        ParseKind(w.Kind, qualifier),
		Payload:     w.Payload,
		IOHint:      w.IOHint,
	}
	return nil
}

// PayloadOrNull returns the payload, substituting JSON null when empty.
func (r Request) PayloadOrNull() json.RawMessage {
	if len(r.Payload) == 0 {
		return json.RawMessage("null")
	}
	return r.Payload
}
