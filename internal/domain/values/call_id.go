// Package values contains domain value objects that encapsulate
// primitive types with validation.
package values

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CallID is the opaque token that correlates a hostcall request with its outcome.
// Engines may mint their own tokens; the host mints UUIDs.
type CallID struct {
	value string
}

// NewCallID creates a new random call ID
func NewCallID() CallID {
	return CallID{value: uuid.NewString()}
}

// ParseCallID wraps an engine-provided token.
func ParseCallID(s string) (CallID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CallID{}, fmt.Errorf("call id cannot be empty")
	}
	return CallID{value: s}, nil
}

// MustParseCallID parses a string or panics (for tests only)
func MustParseCallID(s string) CallID {
	id, err := ParseCallID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromUUID creates a CallID from a uuid.UUID
func FromUUID(id uuid.UUID) CallID {
	return CallID{value: id.String()}
}

func (c CallID) String() string {
	return c.value
}

// IsZero returns true if this is the zero value
func (c CallID) IsZero() bool {
	return c.value == ""
}

// Equals checks if two CallIDs are equal
func (c CallID) Equals(other CallID) bool {
	return c.value == other.value
}

// MarshalJSON implements json.Marshaler
func (c CallID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (c *CallID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid call ID JSON: %w", err)
	}
	id, err := ParseCallID(s)
	if err != nil {
		return err
	}
	*c = id
	return nil
}
