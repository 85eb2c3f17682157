package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func present(files ...string) func(string) bool {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	return func(rel string) bool { return set[rel] }
}

func TestManifest_Normalize(t *testing.T) {
	t.Parallel()

	m := Manifest{Name: "  Beeper ", Version: "v1.2", Hooks: []HookSpec{{Event: "turn_end"}}}
	got, changes, err := m.Normalize(present("index.js"))
	require.NoError(t, err)

	assert.Equal(t, "beeper", got.Name)
	assert.Equal(t, "1.2.0", got.Version)
	assert.Equal(t, "index.js", got.Entry)
	assert.Equal(t, RuntimeJS, got.Runtime)

	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{"name", "version", "entry", "runtime"}, fields)

	// Input is left untouched.
	assert.Equal(t, "  Beeper ", m.Name)
}

func TestManifest_NormalizeCanonicalIsStable(t *testing.T) {
	t.Parallel()

	m := Manifest{Name: "beeper", Version: "1.2.0", Entry: "main.ts", Runtime: RuntimeJS}
	got, changes, err := m.Normalize(present())
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, m, got)
}

func TestManifest_NormalizePrefersTypeScript(t *testing.T) {
	t.Parallel()

	got, _, err := Manifest{Name: "a", Version: "1.0.0"}.Normalize(present("index.js", "index.ts"))
	require.NoError(t, err)
	assert.Equal(t, "index.ts", got.Entry)
}

func TestManifest_NormalizeWasmRuntime(t *testing.T) {
	t.Parallel()

	got, _, err := Manifest{Name: "a", Version: "1.0.0"}.Normalize(present("extension.wasm"))
	require.NoError(t, err)
	assert.Equal(t, RuntimeWasm, got.Runtime)
}

func TestManifest_NormalizeErrors(t *testing.T) {
	t.Parallel()

	_, _, err := Manifest{Name: "a", Version: "not-a-version"}.Normalize(present("index.js"))
	assert.ErrorContains(t, err, "invalid version")

	_, _, err = Manifest{Name: "a", Version: "1.0.0"}.Normalize(present())
	assert.ErrorContains(t, err, "no entry")
}

func TestManifest_SatisfiesHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		engine string
		host   string
		want   bool
		err    bool
	}{
		{"no constraint", "", "0.1.0", true, false},
		{"in range", ">=0.3.0 <1.0.0", "0.4.2", true, false},
		{"too old", ">=0.3.0", "0.2.9", false, false},
		{"dev host", ">=0.3.0", "dev", true, false},
		{"bad constraint", ">>nope", "1.0.0", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Manifest{Engine: tt.engine}.SatisfiesHost(tt.host)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestManifest_HooksFor(t *testing.T) {
	t.Parallel()

	m := Manifest{Hooks: []HookSpec{
		{Event: "turn_end"},
		{Event: "session_before_switch", When: "payload.reason == 'new'"},
		{Event: "turn_end", When: "true"},
	}}
	assert.Len(t, m.HooksFor("turn_end"), 2)
	assert.Len(t, m.HooksFor("session_before_switch"), 1)
	assert.Empty(t, m.HooksFor("agent_start"))
}
