package values

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewCallID(t *testing.T) {
	id1 := NewCallID()
	id2 := NewCallID()

	assert.False(t, id1.IsZero(), "new ID should not be zero")
	assert.False(t, id1.Equals(id2), "two new IDs should be different")
	_, err := uuid.Parse(id1.String())
	assert.NoError(t, err)
}

func Test_ParseCallID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"uuid", "123e4567-e89b-12d3-a456-426614174000", "123e4567-e89b-12d3-a456-426614174000", false},
		{"engine token", "call-17", "call-17", false},
		{"trims", "  call-1 ", "call-1", false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseCallID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func Test_MustParseCallID_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustParseCallID("")
	})
}

func Test_FromUUID(t *testing.T) {
	original := uuid.New()
	assert.Equal(t, original.String(), FromUUID(original).String())
}

func Test_CallID_JSON(t *testing.T) {
	id := MustParseCallID("call-9")

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"call-9"`, string(data))

	var decoded CallID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, id.Equals(decoded))

	assert.Error(t, json.Unmarshal([]byte(`""`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`42`), &decoded))
}
