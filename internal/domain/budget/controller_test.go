package budget

import (
	"testing"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	extA = values.MustNewExtensionID("alpha")
	extB = values.MustNewExtensionID("beta")
)

func adaptiveConfig(window int) Config {
	cfg := DefaultConfig()
	cfg.WindowSize = window
	cfg.OCO = testOCO()
	return cfg
}

func TestController_Modes(t *testing.T) {
	t.Parallel()

	disabled := DefaultConfig()
	disabled.Enabled = false
	assert.Equal(t, ModeDisabled, NewController(disabled).Mode())
	assert.Equal(t, disabled.OCO.MaxBudget, NewController(disabled).Budget(extA))

	static := DefaultConfig()
	c := NewController(static)
	assert.Equal(t, ModeStatic, c.Mode())
	assert.Equal(t, static.StaticBudget, c.Budget(extA))

	assert.Equal(t, ModeAdaptive, NewController(adaptiveConfig(4)).Mode())
}

func TestController_StaticNeverRuns(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WindowSize = 2
	c := NewController(cfg)
	now := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		now = now.Add(time.Millisecond)
		assert.False(t, c.Record(extA, time.Millisecond, false, now))
	}
	snap := c.Snapshot(extA)
	assert.Zero(t, snap.Rounds)
	assert.Equal(t, uint64(10), snap.Calls)
	assert.Equal(t, cfg.StaticBudget, snap.Budget)
}

func TestController_WindowTriggersRound(t *testing.T) {
	t.Parallel()

	c := NewController(adaptiveConfig(4))
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		now = now.Add(10 * time.Millisecond)
		assert.False(t, c.Record(extA, 2*time.Millisecond, false, now))
	}
	now = now.Add(10 * time.Millisecond)
	require.True(t, c.Record(extA, 2*time.Millisecond, false, now))

	snap := c.Snapshot(extA)
	assert.Equal(t, uint64(1), snap.Rounds)
	assert.Equal(t, ModeAdaptive, snap.Mode)
	assert.NotEqual(t, DefaultConfig().StaticBudget, snap.Budget)
}

func TestController_PerExtensionIsolation(t *testing.T) {
	t.Parallel()

	c := NewController(adaptiveConfig(2))
	now := time.Unix(0, 0)

	before := c.Snapshot(extB)
	for i := 0; i < 20; i++ {
		now = now.Add(time.Millisecond)
		c.Record(extA, 500*time.Millisecond, i%2 == 0, now)
		c.RecordReject(extA)
	}
	after := c.Snapshot(extB)

	assert.Equal(t, before, after)
	assert.Equal(t, uint64(10), c.Snapshot(extA).Rounds)
	assert.Equal(t, uint64(20), c.Snapshot(extA).Rejects)
	assert.Equal(t, uint64(10), c.Snapshot(extA).Errors)
}

func TestController_Reset(t *testing.T) {
	t.Parallel()

	c := NewController(adaptiveConfig(1))
	now := time.Unix(0, 0)
	c.Record(extA, time.Millisecond, false, now.Add(time.Millisecond))
	require.Equal(t, uint64(1), c.Snapshot(extA).Rounds)

	c.Reset(extA)
	snap := c.Snapshot(extA)
	assert.Zero(t, snap.Rounds)
	assert.Zero(t, snap.Calls)
	assert.Equal(t, DefaultConfig().StaticBudget, snap.Budget)
}

func TestController_SnapshotsAndMaxima(t *testing.T) {
	t.Parallel()

	c := NewController(adaptiveConfig(1))
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		now = now.Add(time.Millisecond)
		c.Record(extB, time.Millisecond, false, now)
	}
	c.Record(extA, time.Millisecond, false, now.Add(time.Millisecond))

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, extA, snaps[0].ExtensionID)
	assert.Equal(t, extB, snaps[1].ExtensionID)
	assert.Equal(t, uint64(3), c.MaxRounds())
}

func TestController_SetConfigDropsState(t *testing.T) {
	t.Parallel()

	c := NewController(adaptiveConfig(1))
	c.Record(extA, time.Millisecond, false, time.Unix(1, 0))
	require.NotEmpty(t, c.Snapshots())

	c.SetConfig(DefaultConfig())
	assert.Empty(t, c.Snapshots())
	assert.Equal(t, ModeStatic, c.Mode())
}
