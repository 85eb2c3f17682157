package repair

import (
	"time"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Event is the immutable audit record of one repair attempt.
// Fields are unexported so a recorded event cannot be mutated.
type Event struct {
	extensionID   values.ExtensionID
	pattern       Pattern
	originalError string
	repairAction  string
	success       bool
	timestamp     time.Time
}

// NewEvent records a repair attempt.
func NewEvent(extensionID values.ExtensionID, pattern Pattern, originalError, action string, success bool, at time.Time) Event {
	return Event{
		extensionID:   extensionID,
		pattern:       pattern,
		originalError: originalError,
		repairAction:  action,
		success:       success,
		timestamp:     at.UTC(),
	}
}

func (e Event) ExtensionID() values.ExtensionID { return e.extensionID }
func (e Event) Pattern() Pattern { return e.pattern }
func (e Event) OriginalError() string { return e.originalError }
func (e Event) RepairAction() string { return e.repairAction }
func (e Event) Success() bool { return e.success }
func (e Event) Timestamp() time.Time { return e.timestamp }

// EventRecord is the flat, serialisable view of an Event.
type EventRecord struct {
	ExtensionID   string `json:"extension_id" yaml:"extension_id"`
	Pattern       string `json:"pattern" yaml:"pattern"`
	Risk          string `json:"risk" yaml:"risk"`
	OriginalError string `json:"original_error" yaml:"original_error"`
	RepairAction  string `json:"repair_action" yaml:"repair_action"`
	Success       bool   `json:"success" yaml:"success"`
	TimestampMS   int64  `json:"timestamp_ms" yaml:"timestamp_ms"`
}

// Record returns the serialisable view.
func (e Event) Record() EventRecord {
	return EventRecord{
		ExtensionID:   e.extensionID.String(),
		Pattern:       e.pattern.String(),
		Risk:          e.pattern.Risk().String(),
		OriginalError: e.originalError,
		RepairAction:  e.repairAction,
		Success:       e.success,
		TimestampMS:   e.timestamp.UnixMilli(),
	}
}

// EventFromRecord rebuilds an Event from its serialised view.
func EventFromRecord(r EventRecord) (Event, error) {
	id, err := values.NewExtensionID(r.ExtensionID)
	if err != nil {
		return Event{}, err
	}
	p, err := ParsePattern(r.Pattern)
	if err != nil {
		return Event{}, err
	}
	return NewEvent(id, p, r.OriginalError, r.RepairAction, r.Success, time.UnixMilli(r.TimestampMS)), nil
}
