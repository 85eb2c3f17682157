package hostcall

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outcome codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeToolError      = "tool_error"
	CodeInternal       = "internal"
	CodeDenied         = "denied"
	CodeTimeout        = "timeout"
	CodeIO             = "io"
)

var (
	// ErrAlreadyCompleted is returned when a second outcome is offered for a call id.
	ErrAlreadyCompleted = errors.New("hostcall already completed")
	// ErrDuplicateCall is returned when a call id is submitted while a call
	// with the same id is still in flight.
	ErrDuplicateCall = errors.New("duplicate hostcall id")
)

// ErrorPayload is the structured error half of an Outcome.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outcome is either Success(value) or Error{code, message}.
type Outcome struct {
	value json.RawMessage
	err   *ErrorPayload
}

// Success wraps a JSON value. A nil value is encoded as null.
func Success(value json.RawMessage) Outcome {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return Outcome{value: value}
}

// Failure builds an error outcome.
func Failure(code, message string) Outcome {
	return Outcome{err: &ErrorPayload{Code: code, Message: message}}
}

// Failuref builds an error outcome with a formatted message.
func Failuref(code, format string, args ...any) Outcome {
	return Failure(code, fmt.Sprintf(format, args...))
}

// IsSuccess reports whether the outcome carries a value.
func (o Outcome) IsSuccess() bool {
	return o.err == nil
}

// Value returns the success value, or nil for an error outcome.
func (o Outcome) Value() json.RawMessage {
	if o.err != nil {
		return nil
	}
	return o.value
}

// Error returns the error payload, or nil for a success outcome.
func (o Outcome) Error() *ErrorPayload {
	return o.err
}

// Code returns the error code, or "" for a success outcome.
func (o Outcome) Code() string {
	if o.err == nil {
		return ""
	}
	return o.err.Code
}

// WithMessage returns a copy of an error outcome with its message replaced.
// Success outcomes are returned unchanged.
func (o Outcome) WithMessage(message string) Outcome {
	if o.err == nil {
		return o
	}
	return Failure(o.err.Code, message)
}

func (o Outcome) String() string {
	if o.err != nil {
		return fmt.Sprintf("error(%s: %s)", o.err.Code, o.err.Message)
	}
	return fmt.Sprintf("success(%s)", string(o.value))
}

type wireOutcome struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// MarshalJSON encodes {"ok":true,"value":...} or {"ok":false,"error":{...}}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.err != nil {
		return json.Marshal(wireOutcome{OK: false, Error: o.err})
	}
	value := o.value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return json.Marshal(wireOutcome{OK: true, Value: value})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var w wireOutcome
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode hostcall outcome: %w", err)
	}
	if w.OK {
		*o = Success(w.Value)
		return nil
	}
	if w.Error == nil {
		return fmt.Errorf("decode hostcall outcome: error outcome without error payload")
	}
	*o = Failure(w.Error.Code, w.Error.Message)
	return nil
}
