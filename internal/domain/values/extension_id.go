package values

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var extensionIDPattern = regexp.MustCompile(`^[a-z0-9@][a-z0-9._@/-]*$`)

// ExtensionID identifies a loaded extension.
// IDs are trimmed, lower-cased and restricted to package-name characters
// so they can be used as map keys, shard keys and file names.
type ExtensionID struct {
	value string
}

// NewExtensionID creates an ExtensionID with validation.
func NewExtensionID(id string) (ExtensionID, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ExtensionID{}, fmt.Errorf("extension id cannot be empty")
	}
	if !extensionIDPattern.MatchString(id) {
		return ExtensionID{}, fmt.Errorf("invalid extension id %q", id)
	}
	return ExtensionID{value: id}, nil
}

// MustNewExtensionID creates an ExtensionID or panics
func MustNewExtensionID(id string) ExtensionID {
	eid, err := NewExtensionID(id)
	if err != nil {
		panic(err)
	}
	return eid
}

func (e ExtensionID) String() string {
	return e.value
}

// IsEmpty returns true if this is the zero value
func (e ExtensionID) IsEmpty() bool {
	return e.value == ""
}

// Equals checks if two extension ids are equal
func (e ExtensionID) Equals(other ExtensionID) bool {
	return e.value == other.value
}

// MarshalJSON implements json.Marshaler
func (e ExtensionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *ExtensionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid extension id JSON: %w", err)
	}
	id, err := NewExtensionID(s)
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// MarshalText implements encoding.TextMarshaler so ids work as YAML and JSON map keys.
func (e ExtensionID) MarshalText() ([]byte, error) {
	return []byte(e.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *ExtensionID) UnmarshalText(text []byte) error {
	id, err := NewExtensionID(string(text))
	if err != nil {
		return err
	}
	*e = id
	return nil
}
