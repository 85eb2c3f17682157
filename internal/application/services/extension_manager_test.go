package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

func TestExtensionManager_LoadActivates(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, entities.Manifest{
		Name:         "hello",
		Version:      "1.0.0",
		Entry:        "index.ts",
		Capabilities: []string{"tool:greet", "session:get_*"},
		Tools:        []entities.ToolSpec{{Name: "greet"}},
		Hooks:        []entities.HookSpec{{Event: "turn_start"}},
	}, map[string]string{
		"index.ts": `export default function activate() {}`,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, entities.StateActive, st.State)
	assert.Equal(t, []string{"greet"}, st.Tools)
	assert.Empty(t, st.Failure)

	_, ok := f.tools.Get("greet")
	assert.True(t, ok)
	assert.Equal(t, 1, f.manager.Hooks().Count(events.TurnStart))

	id := values.MustNewExtensionID("hello")
	assert.Len(t, f.manager.Grants().Granted(id), 2)
}

func TestExtensionManager_NormalisesManifest(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, entities.Manifest{Name: "hello", Version: "v1.2"}, map[string]string{
		"index.js": `export default function activate() {}`,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", st.Version)

	evs := f.manager.Repairs(st.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, repair.ManifestNormalization, evs[0].Pattern())
	assert.Contains(t, evs[0].RepairAction(), "entry")
	assert.Contains(t, evs[0].RepairAction(), "version")
}

func TestExtensionManager_NormalisationRefusedInSuggestMode(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t, withRepairMode(repair.Suggest))

	root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0"}, map[string]string{
		"index.ts": ``,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.Error(t, err)

	var loadErr *apperrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, repair.ManifestNormalization, loadErr.Pattern)
	assert.Equal(t, entities.StateUnloaded, st.State)
	assert.NotEmpty(t, st.Failure)
}

// callTool runs a tool hostcall through the manager's dispatcher.
func callTool(f *managerFixture, ext, tool string) hostcall.Outcome {
	return f.manager.Dispatcher().Dispatch(context.Background(), hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: values.MustNewExtensionID(ext),
		Kind:        hostcall.ToolKind{Tool: tool},
	})
}

func answerManifest(entry string) entities.Manifest {
	return entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: entry,
		Capabilities: []string{"tool:answer"},
		Tools:        []entities.ToolSpec{{Name: "answer"}},
	}
}

func TestExtensionManager_RepairsDistImport(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, answerManifest("index.ts"), map[string]string{
		"index.ts": `import { helper } from "./dist/helper.js";
export default function (api) {
  api.registerTool("answer", () => helper);
}`,
		"src/helper.ts": `export const helper = 42;`,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, entities.StateActive, st.State)
	assert.Equal(t, 1, st.Repairs)
	assert.Equal(t, 2, f.engine.loadCount("hello"))

	evs := f.manager.Repairs(st.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, repair.DistToSrc, evs[0].Pattern())
	assert.True(t, evs[0].Success())

	out := callTool(f, "hello", "answer")
	require.True(t, out.IsSuccess(), out.String())
	assert.JSONEq(t, `42`, string(out.Value()))
}

func TestExtensionManager_RepairsDistEntry(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, answerManifest("dist/index.js"), map[string]string{
		"src/index.ts": `import { helper } from "./helper";
export default function (api) {
  api.registerTool("answer", () => helper);
}`,
		"src/helper.ts": `export const helper = 42;`,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, entities.StateActive, st.State)
	assert.Equal(t, 2, f.engine.loadCount("hello"))

	evs := f.manager.Repairs(st.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, repair.DistToSrc, evs[0].Pattern())
	assert.True(t, evs[0].Success())

	out := callTool(f, "hello", "answer")
	require.True(t, out.IsSuccess(), out.String())
	assert.JSONEq(t, `42`, string(out.Value()))
}

func TestExtensionManager_NormalisesExportShape(t *testing.T) {
	t.Parallel()

	entry := `import { helper } from "./lib/helper.js";
const ext = {
  activate(api) {
    api.registerTool("answer", () => helper);
  }
};
export default ext;`
	files := map[string]string{
		"index.ts":      entry,
		"lib/helper.js": `export const helper = 42;`,
	}

	t.Run("auto-strict", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t, withRepairMode(repair.AutoStrict))
		root := f.extension(t, answerManifest("index.ts"), files)

		st, err := f.manager.Load(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, entities.StateActive, st.State)
		assert.Equal(t, 2, f.engine.loadCount("hello"))

		evs := f.manager.Repairs(st.ID)
		require.Len(t, evs, 1)
		assert.Equal(t, repair.ExportShape, evs[0].Pattern())
		assert.True(t, evs[0].Success())
		assert.Contains(t, evs[0].RepairAction(), "object_activate")

		out := callTool(f, "hello", "answer")
		require.True(t, out.IsSuccess(), out.String())
		assert.JSONEq(t, `42`, string(out.Value()))
	})

	t.Run("auto-safe refuses", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		root := f.extension(t, answerManifest("index.ts"), files)

		st, err := f.manager.Load(context.Background(), root)
		var loadErr *apperrors.LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, repair.ExportShape, loadErr.Pattern)
		assert.Equal(t, entities.StateUnloaded, st.State)
		assert.Empty(t, f.manager.Repairs(st.ID))
	})
}

func TestExtensionManager_RepairOutcomesByMode(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"index.ts":      `import { helper } from "./dist/helper.js";`,
		"src/helper.ts": `export const helper = 42;`,
	}

	tests := []struct {
		name        string
		mode        repair.Mode
		wantActive  bool
		wantPattern repair.Pattern
	}{
		{name: "off", mode: repair.Off},
		{name: "suggest", mode: repair.Suggest, wantPattern: repair.DistToSrc},
		{name: "auto-safe", mode: repair.AutoSafe, wantActive: true},
		{name: "auto-strict", mode: repair.AutoStrict, wantActive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newManagerFixture(t, withRepairMode(tt.mode))
			root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0.0", Entry: "index.ts"}, files)

			st, err := f.manager.Load(context.Background(), root)
			if tt.wantActive {
				require.NoError(t, err)
				assert.Equal(t, entities.StateActive, st.State)
				return
			}

			var loadErr *apperrors.LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.wantPattern, loadErr.Pattern)
			assert.Contains(t, loadErr.Cause.Error(), "Cannot find module './dist/helper.js'")
			assert.Equal(t, entities.StateUnloaded, st.State)
			assert.Equal(t, 1, f.engine.loadCount("hello"))
		})
	}
}

func TestExtensionManager_UnrecognisedFailureStaysUnloaded(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0.0", Entry: "index.ts"}, map[string]string{
		"index.ts": `import { x } from "./lib/missing";`,
	})

	st, err := f.manager.Load(context.Background(), root)
	require.Error(t, err)
	assert.Equal(t, entities.StateUnloaded, st.State)
	assert.Contains(t, st.Failure, "Cannot find module './lib/missing'")
	assert.Zero(t, st.Repairs)
	assert.Empty(t, f.manager.Grants().Granted(st.ID))
}

func TestExtensionManager_RepairWithoutSourceFails(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0.0", Entry: "index.ts"}, map[string]string{
		"index.ts":        `import { a } from "./dist/a.js";`,
		"dist/a.js/b.txt": ``,
	})

	st, err := f.manager.Load(context.Background(), root)
	var loadErr *apperrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, repair.DistToSrc, loadErr.Pattern)
	assert.Contains(t, loadErr.RepairReason, "no source file found")
	assert.Equal(t, 1, f.engine.loadCount("hello"))

	evs := f.manager.Repairs(st.ID)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Success())
}

func TestExtensionManager_HostVersionGate(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t, withHostVersion("0.9.0"))

	root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0.0", Entry: "index.ts", Engine: ">=1.0.0"}, map[string]string{
		"index.ts": ``,
	})

	st, err := f.manager.Load(context.Background(), root)
	var loadErr *apperrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "requires host >=1.0.0")
	assert.Equal(t, entities.StateUnloaded, st.State)
	assert.Zero(t, f.engine.loadCount("hello"))
}

func TestExtensionManager_DuplicateToolRollsBack(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	first := f.extension(t, entities.Manifest{
		Name: "first", Version: "1.0.0", Entry: "index.ts",
		Tools: []entities.ToolSpec{{Name: "shared"}},
	}, map[string]string{"index.ts": ``})
	second := f.extension(t, entities.Manifest{
		Name: "second", Version: "1.0.0", Entry: "index.ts",
		Tools: []entities.ToolSpec{{Name: "own"}, {Name: "shared"}},
		Hooks: []entities.HookSpec{{Event: "agent_start"}},
	}, map[string]string{"index.ts": ``})

	_, err := f.manager.Load(context.Background(), first)
	require.NoError(t, err)

	st, err := f.manager.Load(context.Background(), second)
	require.Error(t, err)
	assert.Equal(t, entities.StateUnloaded, st.State)

	assert.Equal(t, []string{"shared"}, f.tools.Names())
	assert.Zero(t, f.manager.Hooks().Count(events.AgentStart))
}

func TestExtensionManager_InvalidHookFilterFailsLoad(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Hooks: []entities.HookSpec{{Event: "tool_call", When: `payload.tool ==`}},
	}, map[string]string{"index.ts": ``})

	_, err := f.manager.Load(context.Background(), root)
	require.Error(t, err)
	assert.Zero(t, f.manager.Hooks().Count(events.ToolCall))
}

func TestExtensionManager_LoadTwiceIsRejected(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	root := f.extension(t, entities.Manifest{Name: "hello", Version: "1.0.0", Entry: "index.ts"}, map[string]string{"index.ts": ``})

	_, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)

	_, err = f.manager.Load(context.Background(), root)
	var transition *entities.TransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestExtensionManager_UnloadAndReload(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Capabilities: []string{"tool:greet"},
		Tools:        []entities.ToolSpec{{Name: "greet"}},
		Hooks:        []entities.HookSpec{{Event: "turn_end"}},
	}, map[string]string{"index.ts": ``})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, f.manager.Unload(context.Background(), st.ID))
	got, ok := f.manager.Status(st.ID)
	require.True(t, ok)
	assert.Equal(t, entities.StateUnloaded, got.State)
	assert.Empty(t, f.tools.Names())
	assert.Zero(t, f.manager.Hooks().Count(events.TurnEnd))
	assert.Empty(t, f.manager.Grants().Granted(st.ID))

	st, err = f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, entities.StateActive, st.State)
}

func TestExtensionManager_UnloadUnknown(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	assert.Error(t, f.manager.Unload(context.Background(), values.MustNewExtensionID("nope")))
}

func TestExtensionManager_ShutdownFiresEventAndClosesEngine(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Hooks: []entities.HookSpec{{Event: "session_shutdown"}},
	}, map[string]string{"index.ts": ``})

	var shutdowns int
	f.engine.onHook("hello", func(_ context.Context, ev events.Event) (json.RawMessage, error) {
		if ev.Name == events.SessionShutdown {
			shutdowns++
		}
		return nil, nil
	})

	_, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, f.manager.Shutdown(context.Background()))

	assert.Equal(t, 1, shutdowns)
	assert.True(t, f.engine.closed)
	for _, st := range f.manager.Statuses() {
		assert.Equal(t, entities.StateUnloaded, st.State)
	}
}

func TestExtensionManager_ToolHostcallRunsExtensionTool(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Capabilities: []string{"tool:greet"},
		Tools:        []entities.ToolSpec{{Name: "greet"}, {Name: "secret"}},
	}, map[string]string{"index.ts": ``})

	_, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	id := values.MustNewExtensionID("hello")

	out := f.manager.Dispatcher().Dispatch(context.Background(), hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: id,
		Kind:        hostcall.ToolKind{Tool: "greet"},
		Payload:     json.RawMessage(`{"who":"world"}`),
	})
	require.True(t, out.IsSuccess(), out.String())
	assert.JSONEq(t, `{"extension":"hello","tool":"greet","input":{"who":"world"}}`, string(out.Value()))

	out = f.manager.Dispatcher().Dispatch(context.Background(), hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: id,
		Kind:        hostcall.ToolKind{Tool: "secret"},
	})
	assert.Equal(t, hostcall.CodeDenied, out.Code())
	assert.Equal(t, "Capability not granted: tool:secret", out.Error().Message)

	stats := f.manager.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(2), stats[0].Calls)
	assert.Equal(t, uint64(1), stats[0].Errors)
}

type fixedGranter struct {
	grant []capabilities.Capability
}

func (g fixedGranter) GrantCapabilities(_ context.Context, required map[string][]capabilities.Capability, _ bool) (map[string][]capabilities.Capability, error) {
	out := make(map[string][]capabilities.Capability, len(required))
	for ext := range required {
		out[ext] = g.grant
	}
	return out, nil
}

func TestExtensionManager_GranterDecides(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.manager.granter = fixedGranter{grant: []capabilities.Capability{{Kind: "tool", Pattern: "greet"}}}

	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Capabilities: []string{"tool:greet", "tool:bash"},
	}, map[string]string{"index.ts": ``})

	st, err := f.manager.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []capabilities.Capability{{Kind: "tool", Pattern: "greet"}}, f.manager.Grants().Granted(st.ID))
}

func TestExtensionManager_InvalidCapabilityFailsLoad(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	root := f.extension(t, entities.Manifest{
		Name: "hello", Version: "1.0.0", Entry: "index.ts",
		Capabilities: []string{"not-a-capability"},
	}, map[string]string{"index.ts": ``})

	_, err := f.manager.Load(context.Background(), root)
	var valErr *apperrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
