package hostcall

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	t.Parallel()

	ok := Success(json.RawMessage(`{"n":1}`))
	assert.True(t, ok.IsSuccess())
	assert.Nil(t, ok.Error())
	assert.Equal(t, "", ok.Code())
	assert.JSONEq(t, `{"n":1}`, string(ok.Value()))

	nilValue := Success(nil)
	assert.Equal(t, "null", string(nilValue.Value()))

	bad := Failuref(CodeInvalidRequest, "Unknown tool: %s", "nope")
	assert.False(t, bad.IsSuccess())
	assert.Nil(t, bad.Value())
	assert.Equal(t, CodeInvalidRequest, bad.Code())
	assert.Equal(t, "Unknown tool: nope", bad.Error().Message)

	assert.Equal(t, "[redacted]", bad.WithMessage("[redacted]").Error().Message)
	assert.Equal(t, ok, ok.WithMessage("ignored"))
}

func TestOutcome_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome Outcome
		wire    string
	}{
		{"success", Success(json.RawMessage(`[1,2]`)), `{"ok":true,"value":[1,2]}`},
		{"null success", Success(nil), `{"ok":true,"value":null}`},
		{"error", Failure(CodeToolError, "boom"), `{"ok":false,"error":{"code":"tool_error","message":"boom"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.outcome)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(data))

			var decoded Outcome
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.outcome.IsSuccess(), decoded.IsSuccess())
			assert.Equal(t, tt.outcome.Code(), decoded.Code())
		})
	}

	var o Outcome
	assert.Error(t, json.Unmarshal([]byte(`{"ok":false}`), &o))
}
