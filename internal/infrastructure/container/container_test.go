package container

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	infracaps "github.com/reglet-dev/exthost/internal/infrastructure/capabilities"
	"github.com/reglet-dev/exthost/internal/infrastructure/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_WiresDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	c, err := New(ctx, Options{
		Logger:           discardLogger(),
		SystemConfigPath: "/home/u/.exthost/config.yaml",
		HostVersion:      "1.0.0",
		GuestOutput:      io.Discard,
		Fs:               fs,
		Clock:            clock.NewManual(time.Unix(0, 0)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	assert.NotNil(t, c.Manager())
	assert.NotNil(t, c.Scheduler())
	assert.NotNil(t, c.Reactor())
	assert.NotNil(t, c.Budgets())
	assert.NotNil(t, c.UI())
	assert.Contains(t, c.Tools().Names(), "echo")
	assert.Equal(t, repair.DefaultMode, c.RepairService().Mode())
	assert.Equal(t, "/home/u/.exthost/config.yaml", c.ConfigPath())
	assert.Empty(t, c.Manager().Statuses())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte("wasm:\n  memory_limit_mb: -5\n"), 0o600))

	_, err := New(context.Background(), Options{Logger: discardLogger(), SystemConfigPath: "/cfg.yaml", Fs: fs})
	require.Error(t, err)
}

func TestPresetGrants(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	tool := capabilities.Capability{Kind: "tool", Pattern: "greet"}
	web := capabilities.Capability{Kind: "http", Pattern: "api.example.com"}

	store := presetGrants{
		GrantStore: infracaps.NewFileStoreFs(fs, "/grants.yaml"),
		preset:     map[string]capabilities.Grant{"hello": {tool}},
	}

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded["hello"].Contains(tool))

	loaded["hello"] = append(loaded["hello"], web)
	require.NoError(t, store.Save(loaded))

	saved, err := store.GrantStore.Load()
	require.NoError(t, err)
	assert.True(t, saved["hello"].Contains(web))
	assert.False(t, saved["hello"].Contains(tool), "config grants are not written to the grants file")

	again, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, again["hello"], 2)
}
