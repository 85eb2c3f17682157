package entities

import (
	"testing"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newExt() *Extension {
	return NewExtension(values.MustNewExtensionID("beeper"), "/ext/beeper", Manifest{
		Name:    "beeper",
		Version: "1.0.0",
		Tools:   []ToolSpec{{Name: "beep"}},
	})
}

func TestExtension_HappyPath(t *testing.T) {
	t.Parallel()

	e := newExt()
	assert.Equal(t, StateUnloaded, e.State())

	require.NoError(t, e.BeginLoad(t0))
	assert.Equal(t, StateLoading, e.State())

	require.NoError(t, e.Activate(t0.Add(time.Second)))
	assert.True(t, e.IsActive())
	assert.Equal(t, t0.Add(time.Second), e.LoadedAt())

	require.NoError(t, e.Unload(t0.Add(time.Minute)))
	assert.Equal(t, StateUnloaded, e.State())
}

func TestExtension_FailedLoadKeepsReason(t *testing.T) {
	t.Parallel()

	e := newExt()
	require.NoError(t, e.BeginLoad(t0))
	e.RecordRepair(repair.NewEvent(e.ID(), repair.DistToSrc, "Cannot find module", "", false, t0))
	require.NoError(t, e.Fail("Cannot find module './dist/x.js'", t0))

	assert.Equal(t, StateUnloaded, e.State())
	assert.Equal(t, "Cannot find module './dist/x.js'", e.FailureReason())
	assert.Len(t, e.Repairs(), 1)

	// A retry clears the old reason.
	require.NoError(t, e.BeginLoad(t0))
	assert.Empty(t, e.FailureReason())
	assert.Empty(t, e.Repairs())
}

func TestExtension_IllegalTransitions(t *testing.T) {
	t.Parallel()

	e := newExt()
	var te *TransitionError

	assert.ErrorAs(t, e.Activate(t0), &te)
	assert.ErrorAs(t, e.Fail("x", t0), &te)

	require.NoError(t, e.BeginLoad(t0))
	assert.ErrorAs(t, e.BeginLoad(t0), &te)
	assert.Equal(t, StateLoading, te.From)
	assert.ErrorAs(t, e.Unload(t0), &te)

	require.NoError(t, e.Activate(t0))
	assert.ErrorAs(t, e.BeginLoad(t0), &te)
}

func TestExtension_UnloadIdempotent(t *testing.T) {
	t.Parallel()

	assert.NoError(t, newExt().Unload(t0))
}

func TestExtension_Status(t *testing.T) {
	t.Parallel()

	e := newExt()
	require.NoError(t, e.BeginLoad(t0))
	require.NoError(t, e.Activate(t0))

	s := e.Status()
	assert.Equal(t, "beeper", s.ID.String())
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, []string{"beep"}, s.Tools)

	text, err := s.State.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "active", string(text))
}
