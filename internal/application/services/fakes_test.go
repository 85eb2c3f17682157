package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/clock"
	"github.com/reglet-dev/exthost/internal/infrastructure/modules"
	"github.com/reglet-dev/exthost/internal/infrastructure/tools"
)

var (
	importFrom   = regexp.MustCompile(`from\s+["']([^"']+)["']`)
	exportConst  = regexp.MustCompile(`export\s+const\s+([A-Za-z_$][\w$]*)\s*=\s*([^;\n]+);`)
	registerTool = regexp.MustCompile(`registerTool\(\s*["']([^"']+)["']\s*,\s*\(\)\s*=>\s*([A-Za-z_$][\w$]*)\s*\)`)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptEngine is a ScriptEngine that "evaluates" a module graph the way the
// wasm engine loads one: the entry comes from the module view and every
// module is read through it. JSON-valued `export const` bindings become the
// extension's exports, and `registerTool("name", () => binding)` makes a tool
// return that export.
type scriptEngine struct {
	mu        sync.Mutex
	loads     map[values.ExtensionID]int
	loaded    map[values.ExtensionID]bool
	tools     map[values.ExtensionID]map[string]json.RawMessage
	hooks     map[values.ExtensionID]func(ctx context.Context, ev events.Event) (json.RawMessage, error)
	requests  []hostcall.Request
	completed map[values.CallID]hostcall.Outcome
	ran       bool
	closed    bool
}

func newScriptEngine() *scriptEngine {
	return &scriptEngine{
		loads:     make(map[values.ExtensionID]int),
		loaded:    make(map[values.ExtensionID]bool),
		tools:     make(map[values.ExtensionID]map[string]json.RawMessage),
		hooks:     make(map[values.ExtensionID]func(context.Context, events.Event) (json.RawMessage, error)),
		completed: make(map[values.CallID]hostcall.Outcome),
	}
}

type moduleGraph struct {
	modules ports.ModuleResolver
	seen    map[string]bool
	exports map[string]json.RawMessage
	tools   map[string]string
}

func (g *moduleGraph) evaluate(path string) error {
	if g.seen[path] {
		return nil
	}
	g.seen[path] = true

	src, err := g.modules.ReadFile(path)
	if err != nil {
		return err
	}
	for _, m := range importFrom.FindAllStringSubmatch(string(src), -1) {
		resolved, err := g.modules.Resolve(path, m[1])
		if err != nil {
			return err
		}
		if err := g.evaluate(resolved); err != nil {
			return err
		}
	}
	for _, m := range exportConst.FindAllStringSubmatch(string(src), -1) {
		if raw := json.RawMessage(strings.TrimSpace(m[2])); json.Valid(raw) {
			g.exports[m[1]] = raw
		}
	}
	for _, m := range registerTool.FindAllStringSubmatch(string(src), -1) {
		g.tools[m[1]] = m[2]
	}
	return nil
}

func (e *scriptEngine) Load(_ context.Context, req ports.LoadRequest) error {
	e.mu.Lock()
	e.loads[req.Extension]++
	e.mu.Unlock()

	entry := req.Modules.Entry()
	g := &moduleGraph{
		modules: req.Modules,
		seen:    make(map[string]bool),
		exports: make(map[string]json.RawMessage),
		tools:   make(map[string]string),
	}
	if err := g.evaluate(entry); err != nil {
		return err
	}

	// Entries that export anything must export a callable default.
	src, err := req.Modules.ReadFile(entry)
	if err != nil {
		return err
	}
	if strings.Contains(string(src), "export") && repair.DetectShape(string(src)) != repair.ShapeDefaultFunction {
		return errors.New("TypeError: default export is not a function")
	}

	bound := make(map[string]json.RawMessage, len(g.tools))
	for tool, binding := range g.tools {
		value, ok := g.exports[binding]
		if !ok {
			return fmt.Errorf("ReferenceError: %s is not defined", binding)
		}
		bound[tool] = value
	}

	e.mu.Lock()
	e.loaded[req.Extension] = true
	e.tools[req.Extension] = bound
	e.mu.Unlock()
	return nil
}

func (e *scriptEngine) Unload(_ context.Context, ext values.ExtensionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.loaded, ext)
	delete(e.tools, ext)
	return nil
}

func (e *scriptEngine) onHook(ext string, fn func(ctx context.Context, ev events.Event) (json.RawMessage, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[values.MustNewExtensionID(ext)] = fn
}

func (e *scriptEngine) InvokeHook(ctx context.Context, ext values.ExtensionID, ev events.Event) (json.RawMessage, error) {
	e.mu.Lock()
	fn := e.hooks[ext]
	e.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, ev)
}

func (e *scriptEngine) InvokeTool(_ context.Context, ext values.ExtensionID, tool string, _ values.CallID, payload json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	value, ok := e.tools[ext][tool]
	e.mu.Unlock()
	if ok {
		return value, nil
	}
	return json.Marshal(map[string]any{"extension": ext.String(), "tool": tool, "input": payload})
}

func (e *scriptEngine) queue(reqs ...hostcall.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, reqs...)
}

func (e *scriptEngine) DrainHostcallRequests() []hostcall.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.requests
	e.requests = nil
	return out
}

func (e *scriptEngine) CompleteHostcall(id values.CallID, out hostcall.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.completed[id]; ok {
		return hostcall.ErrAlreadyCompleted
	}
	e.completed[id] = out
	return nil
}

func (e *scriptEngine) outcome(id values.CallID) (hostcall.Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, ok := e.completed[id]
	return out, ok
}

func (e *scriptEngine) Tick(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ran := e.ran
	e.ran = false
	return ran, nil
}

func (e *scriptEngine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *scriptEngine) loadCount(ext string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads[values.MustNewExtensionID(ext)]
}

type manifestTable map[string]entities.Manifest

func (t manifestTable) Load(_ context.Context, root string) (entities.Manifest, error) {
	m, ok := t[root]
	if !ok {
		return entities.Manifest{}, fmt.Errorf("no manifest at %s", root)
	}
	return m, nil
}

// stubScheduler records submissions and hands back canned completions.
type stubScheduler struct {
	mu          sync.Mutex
	submitted   []hostcall.Request
	completions []hostcall.Completion
	reject      bool
}

func (s *stubScheduler) Submit(req hostcall.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return errors.New("scheduler stopped")
	}
	s.submitted = append(s.submitted, req)
	return nil
}

func (s *stubScheduler) Drain(budget int) []hostcall.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(budget, len(s.completions))
	out := s.completions[:n]
	s.completions = s.completions[n:]
	return out
}

func (s *stubScheduler) Cancel(values.CallID) bool { return false }

type memorySession struct {
	mu     sync.Mutex
	name   string
	model  string
	level  string
	labels map[string]string
	log    []json.RawMessage
}

func newMemorySession(name string) *memorySession {
	return &memorySession{name: name, labels: make(map[string]string)}
}

func (s *memorySession) Name(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, nil
}

func (s *memorySession) SetName(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

func (s *memorySession) Entries(context.Context) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.log...), nil
}

func (s *memorySession) AppendEntry(_ context.Context, entry json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	return nil
}

func (s *memorySession) Model(context.Context) (string, error) { return s.model, nil }

func (s *memorySession) SetModel(_ context.Context, model string) error {
	if model == "" {
		return errors.New("model is required")
	}
	s.model = model
	return nil
}

func (s *memorySession) ThinkingLevel(context.Context) (string, error) { return s.level, nil }

func (s *memorySession) SetThinkingLevel(_ context.Context, level string) error {
	s.level = level
	return nil
}

func (s *memorySession) Labels(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out, nil
}

func (s *memorySession) SetLabel(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[key] = value
	return nil
}

type managerFixture struct {
	manager   *ExtensionManager
	engine    *scriptEngine
	tools     *tools.Registry
	clock     *clock.Manual
	fs        afero.Fs
	manifests manifestTable
}

type fixtureOption func(*ManagerConfig, *RepairSettings)

func withRepairMode(mode repair.Mode) fixtureOption {
	return func(_ *ManagerConfig, s *RepairSettings) { s.Mode = mode }
}

func withHostVersion(v string) fixtureOption {
	return func(c *ManagerConfig, _ *RepairSettings) { c.HostVersion = v }
}

func newManagerFixture(t *testing.T, opts ...fixtureOption) *managerFixture {
	t.Helper()

	cfg := DefaultManagerConfig()
	cfg.HostVersion = "1.0.0"
	settings := DefaultRepairSettings()
	for _, opt := range opts {
		opt(&cfg, &settings)
	}

	reg, err := tools.NewRegistry()
	require.NoError(t, err)

	f := &managerFixture{
		engine:    newScriptEngine(),
		tools:     reg,
		clock:     clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		fs:        afero.NewMemMapFs(),
		manifests: make(manifestTable),
	}
	logger := discardLogger()
	f.manager = NewExtensionManager(cfg, ManagerDeps{
		Engine:    f.engine,
		Tools:     reg,
		Manifests: f.manifests,
		Repairs:   NewRepairService(settings, nil, nil, f.clock, logger),
		Modules: func(root, entry string) ports.RepairTarget {
			return modules.NewResolver(f.fs, root, entry)
		},
		FS:     f.fs,
		Clock:  f.clock,
		Logger: logger,
	})
	return f
}

// extension writes files under /exts/<name> and registers its manifest.
func (f *managerFixture) extension(t *testing.T, m entities.Manifest, files map[string]string) string {
	t.Helper()
	root := filepath.Join("/exts", m.Name)
	for path, content := range files {
		require.NoError(t, afero.WriteFile(f.fs, filepath.Join(root, path), []byte(content), 0o644))
	}
	f.manifests[root] = m
	return root
}
