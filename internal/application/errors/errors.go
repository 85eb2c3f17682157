// Package apperrors defines application-level error types.
package apperrors

import (
	"fmt"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// ValidationError indicates manifest or config validation failed.
type ValidationError struct {
	Field   string   // Field that failed validation
	Message string   // Error message
	Details []string // Additional details
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (%d issues)", e.Field, e.Message, len(e.Details))
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, details ...string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: details,
	}
}

// CapabilityError indicates capability permission issue.
type CapabilityError struct {
	Reason   string
	Required []capabilities.Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability error: %s (%d capabilities required)", e.Reason, len(e.Required))
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(reason string, required []capabilities.Capability) *CapabilityError {
	return &CapabilityError{
		Required: required,
		Reason:   reason,
	}
}

// LoadError reports an extension that could not be loaded. When a repair
// was attempted, Pattern and RepairReason say which one and why it did not
// resolve the failure.
type LoadError struct {
	Cause        error
	Extension    values.ExtensionID
	Pattern      repair.Pattern
	RepairReason string
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load extension %s: %v", e.Extension, e.Cause)
	if e.Pattern != 0 {
		msg += fmt.Sprintf(" (repair %s not applied: %s)", e.Pattern, e.RepairReason)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// NewLoadError creates a load error with no repair attempt.
func NewLoadError(ext values.ExtensionID, cause error) *LoadError {
	return &LoadError{Extension: ext, Cause: cause}
}

// WithRepair records the repair pattern that was tried and why it did not help.
func (e *LoadError) WithRepair(p repair.Pattern, reason string) *LoadError {
	e.Pattern = p
	e.RepairReason = reason
	return e
}

// HostcallError is a failure inside a hostcall handler that carries its
// outcome code.
type HostcallError struct {
	Cause   error
	Code    string
	Message string
}

func (e *HostcallError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HostcallError) Unwrap() error {
	return e.Cause
}

// Outcome converts the error into the failure outcome delivered to the engine.
func (e *HostcallError) Outcome() hostcall.Outcome {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return hostcall.Failure(e.Code, msg)
}

// NewHostcallError creates a hostcall error.
func NewHostcallError(code, message string, cause error) *HostcallError {
	return &HostcallError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ConfigurationError indicates system config or setup issue.
type ConfigurationError struct {
	Cause   error
	Aspect  string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Aspect, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Aspect, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(aspect, message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Aspect:  aspect,
		Message: message,
		Cause:   cause,
	}
}
