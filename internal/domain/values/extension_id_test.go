package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewExtensionID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", "beeper", "beeper", false},
		{"scoped package", "@acme/notify", "@acme/notify", false},
		{"lower-cases and trims", "  Git-Checkpoint ", "git-checkpoint", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"spaces inside", "my ext", "", true},
		{"leading dot", ".hidden", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewExtensionID(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, id.String())
			}
		})
	}
}

func Test_MustNewExtensionID_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustNewExtensionID("")
	})
}

func Test_ExtensionID_IsEmpty(t *testing.T) {
	assert.True(t, ExtensionID{}.IsEmpty())
	assert.False(t, MustNewExtensionID("beeper").IsEmpty())
}

func Test_ExtensionID_Equals(t *testing.T) {
	assert.True(t, MustNewExtensionID("Beeper").Equals(MustNewExtensionID("beeper")))
	assert.False(t, MustNewExtensionID("beeper").Equals(MustNewExtensionID("todo")))
}

func Test_ExtensionID_JSON(t *testing.T) {
	id := MustNewExtensionID("beeper")

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"beeper"`, string(data))

	var decoded ExtensionID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, id.Equals(decoded))

	assert.Error(t, json.Unmarshal([]byte(`"bad id"`), &decoded))
}

func Test_ExtensionID_MapKey(t *testing.T) {
	in := map[ExtensionID]int{MustNewExtensionID("beeper"): 3}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"beeper":3}`, string(data))

	var out map[ExtensionID]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 3, out[MustNewExtensionID("beeper")])
}
