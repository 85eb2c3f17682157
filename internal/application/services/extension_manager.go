package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/domain/events"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Manager defaults.
const (
	DefaultCancellableTimeout = 5 * time.Second
	DefaultResponseTimeout    = 5 * time.Second
	DefaultFailureSampleCap   = 5
	DefaultMaxRepairAttempts  = 8
	DefaultDrainBudget        = 128
	DefaultIdleInterval       = 5 * time.Millisecond
)

// ManagerConfig tunes the extension manager.
type ManagerConfig struct {
	// HostVersion is checked against each manifest's engine constraint.
	HostVersion        string        `yaml:"-" json:"-"`
	CancellableTimeout time.Duration `yaml:"cancellable_timeout" json:"cancellable_timeout"`
	ResponseTimeout    time.Duration `yaml:"response_timeout" json:"response_timeout"`
	FailureSampleCap   int           `yaml:"failure_sample_cap" json:"failure_sample_cap" validate:"gte=0"`
	DrainBudget        int           `yaml:"drain_budget" json:"drain_budget" validate:"gte=0"`
	MaxRepairAttempts  int           `yaml:"max_repair_attempts" json:"max_repair_attempts" validate:"gte=0"`
	IdleInterval       time.Duration `yaml:"idle_interval" json:"idle_interval"`
	// TrustAll grants every declared capability without asking.
	TrustAll bool `yaml:"-" json:"-"`
}

// DefaultManagerConfig returns the defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CancellableTimeout: DefaultCancellableTimeout,
		ResponseTimeout:    DefaultResponseTimeout,
		FailureSampleCap:   DefaultFailureSampleCap,
		DrainBudget:        DefaultDrainBudget,
		MaxRepairAttempts:  DefaultMaxRepairAttempts,
		IdleInterval:       DefaultIdleInterval,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.CancellableTimeout <= 0 {
		c.CancellableTimeout = d.CancellableTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.FailureSampleCap <= 0 {
		c.FailureSampleCap = d.FailureSampleCap
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = d.DrainBudget
	}
	if c.MaxRepairAttempts <= 0 {
		c.MaxRepairAttempts = d.MaxRepairAttempts
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	return c
}

// ModuleViewFactory creates the module view of an extension.
type ModuleViewFactory func(root, entry string) ports.RepairTarget

// ManagerDeps are the collaborators of an ExtensionManager. Granter,
// Redactor and Logger are optional.
type ManagerDeps struct {
	Engine    ports.ScriptEngine
	Tools     ports.ToolRegistrar
	Manifests ports.ManifestLoader
	Repairs   *RepairService
	Modules   ModuleViewFactory
	FS        afero.Fs
	Clock     ports.Clock
	Granter   ports.CapabilityGranter
	Redactor  ports.Redactor
	Logger    *slog.Logger
}

type sessionBox struct {
	session ports.Session
}

// ExtensionManager is the single owner of extension state: lifecycle, tool
// and hook registration, grants and the session handle. Every mutation goes
// through its methods.
type ExtensionManager struct {
	cfg        ManagerConfig
	engine     ports.ScriptEngine
	tools      ports.ToolRegistrar
	manifests  ports.ManifestLoader
	repairs    *RepairService
	modules    ModuleViewFactory
	fs         afero.Fs
	clock      ports.Clock
	granter    ports.CapabilityGranter
	redactor   ports.Redactor
	logger     *slog.Logger
	hooks      *HookRegistry
	grants     *GrantTable
	stats      *HostcallStats
	dispatcher *Dispatcher
	session    atomic.Pointer[sessionBox]
	scheduler  atomic.Pointer[schedulerBox]

	mu         sync.RWMutex
	extensions map[values.ExtensionID]*entities.Extension
	ownedTools map[values.ExtensionID][]string
}

type schedulerBox struct {
	scheduler ports.HostcallScheduler
}

var _ ports.EventsHandler = (*ExtensionManager)(nil)

// NewExtensionManager wires a manager and its dispatcher. Dispatcher options
// add the HTTP and UI handlers; the manager itself serves session and events
// hostcalls and the capability check runs against its grant table.
func NewExtensionManager(cfg ManagerConfig, deps ManagerDeps, dispatchOpts ...DispatcherOption) *ExtensionManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &ExtensionManager{
		cfg:        cfg.withDefaults(),
		engine:     deps.Engine,
		tools:      deps.Tools,
		manifests:  deps.Manifests,
		repairs:    deps.Repairs,
		modules:    deps.Modules,
		fs:         deps.FS,
		clock:      deps.Clock,
		granter:    deps.Granter,
		redactor:   deps.Redactor,
		logger:     logger,
		hooks:      NewHookRegistry(),
		grants:     NewGrantTable(),
		stats:      NewHostcallStats(),
		extensions: make(map[values.ExtensionID]*entities.Extension),
		ownedTools: make(map[values.ExtensionID][]string),
	}

	mws := []Middleware{
		RecordStats(m.stats),
		LogCalls(logger),
		RequireCapabilities(m.grants, capabilities.NewPolicy()),
	}
	if m.redactor != nil {
		mws = append(mws, RedactOutcomes(m.redactor))
	}
	opts := []DispatcherOption{
		WithDispatcherLogger(logger),
		WithSessionProvider(m.Session),
		WithEventsHandler(m),
		WithMiddleware(mws...),
	}
	m.dispatcher = NewDispatcher(deps.Tools, append(opts, dispatchOpts...)...)
	return m
}

// Dispatcher returns the hostcall dispatcher, which the scheduler executes.
func (m *ExtensionManager) Dispatcher() *Dispatcher { return m.dispatcher }

// Hooks returns the hook registry.
func (m *ExtensionManager) Hooks() *HookRegistry { return m.hooks }

// Grants returns the per-extension grant table.
func (m *ExtensionManager) Grants() *GrantTable { return m.grants }

// Stats returns the per-extension hostcall counters.
func (m *ExtensionManager) Stats() []ExtensionStats { return m.stats.Snapshot() }

// SetScheduler attaches the scheduler the tick loop submits to.
func (m *ExtensionManager) SetScheduler(s ports.HostcallScheduler) {
	m.scheduler.Store(&schedulerBox{scheduler: s})
}

func (m *ExtensionManager) currentScheduler() ports.HostcallScheduler {
	if b := m.scheduler.Load(); b != nil {
		return b.scheduler
	}
	return nil
}

// Session returns the current session handle, or nil.
func (m *ExtensionManager) Session() ports.Session {
	if b := m.session.Load(); b != nil {
		return b.session
	}
	return nil
}

// SetSession atomically swaps the session handle and returns the previous one.
func (m *ExtensionManager) SetSession(s ports.Session) ports.Session {
	prev := m.session.Swap(&sessionBox{session: s})
	if prev == nil {
		return nil
	}
	return prev.session
}

// SwitchSession asks hooks whether the switch may proceed, swaps the handle
// and announces the switch. It reports false when a hook cancelled.
func (m *ExtensionManager) SwitchSession(ctx context.Context, next ports.Session, reason string) bool {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	if d := m.DispatchCancellableEvent(ctx, events.SessionBeforeSwitch, payload, 0); d.Cancelled {
		return false
	}
	m.SetSession(next)
	m.DispatchEvent(ctx, events.SessionSwitch, payload)
	return true
}

// Load reads, validates, grants and loads the extension at root, repairing
// load failures the repair mode allows. A failed load leaves the extension
// Unloaded with its reason recorded.
func (m *ExtensionManager) Load(ctx context.Context, root string) (entities.Status, error) {
	raw, err := m.manifests.Load(ctx, root)
	if err != nil {
		return entities.Status{}, fmt.Errorf("load manifest from %s: %w", root, err)
	}

	manifest, changes, err := raw.Normalize(m.exists(root))
	if err != nil {
		return entities.Status{}, apperrors.NewValidationError("manifest", err.Error())
	}
	id, err := values.NewExtensionID(manifest.Name)
	if err != nil {
		return entities.Status{}, apperrors.NewValidationError("name", err.Error())
	}

	ext, err := m.begin(id, root, manifest)
	if err != nil {
		return entities.Status{}, err
	}
	m.logger.Info("loading extension", "extension", id.String(), "root", root, "version", manifest.Version)

	if ok, err := manifest.SatisfiesHost(m.cfg.HostVersion); err != nil || !ok {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("requires host %s, running %s", manifest.Engine, m.cfg.HostVersion)
		}
		return m.fail(ext, apperrors.NewLoadError(id, cause))
	}

	ev, err := m.repairs.RecordNormalization(ctx, id, changes)
	if err != nil {
		cause := errors.New("manifest is not in canonical form")
		return m.fail(ext, apperrors.NewLoadError(id, cause).WithRepair(repair.ManifestNormalization, err.Error()))
	}
	if ev != nil {
		m.recordRepair(ext, *ev)
	}

	if err := m.grant(ctx, id, manifest); err != nil {
		return m.fail(ext, apperrors.NewLoadError(id, err))
	}

	target := m.modules(root, manifest.Entry)
	if loadErr := m.loadWithRepairs(ctx, ext, target); loadErr != nil {
		return m.fail(ext, loadErr)
	}

	if err := m.registerContributions(id, manifest); err != nil {
		_ = m.engine.Unload(ctx, id)
		return m.fail(ext, apperrors.NewLoadError(id, err))
	}

	m.mu.Lock()
	err = ext.Activate(m.clock.Now())
	status := ext.Status()
	m.mu.Unlock()
	if err != nil {
		return status, err
	}

	m.logger.Info("extension active", "extension", id.String(), "repairs", status.Repairs, "tools", len(status.Tools))
	return status, nil
}

func (m *ExtensionManager) exists(root string) func(string) bool {
	return func(rel string) bool {
		if m.fs == nil {
			return false
		}
		info, err := m.fs.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		return err == nil && !info.IsDir()
	}
}

// begin registers the extension if new and moves it to Loading.
func (m *ExtensionManager) begin(id values.ExtensionID, root string, manifest entities.Manifest) (*entities.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext, ok := m.extensions[id]
	if !ok || ext.State() == entities.StateUnloaded {
		ext = entities.NewExtension(id, root, manifest)
		m.extensions[id] = ext
	}
	if err := ext.BeginLoad(m.clock.Now()); err != nil {
		return nil, fmt.Errorf("extension %s is already %s: %w", id, ext.State(), err)
	}
	return ext, nil
}

func (m *ExtensionManager) recordRepair(ext *entities.Extension, ev repair.Event) {
	m.mu.Lock()
	ext.RecordRepair(ev)
	m.mu.Unlock()
}

func (m *ExtensionManager) fail(ext *entities.Extension, loadErr *apperrors.LoadError) (entities.Status, error) {
	m.grants.Revoke(ext.ID())

	m.mu.Lock()
	_ = ext.Fail(m.scrub(loadErr.Error()), m.clock.Now())
	status := ext.Status()
	m.mu.Unlock()

	attrs := []any{"extension", ext.ID().String(), "error", m.scrub(loadErr.Cause.Error())}
	if loadErr.Pattern != 0 {
		attrs = append(attrs, "pattern", loadErr.Pattern.String(), "reason", loadErr.RepairReason)
	}
	m.logger.Warn("extension failed to load", attrs...)
	return status, loadErr
}

func (m *ExtensionManager) grant(ctx context.Context, id values.ExtensionID, manifest entities.Manifest) error {
	required := make([]capabilities.Capability, 0, len(manifest.Capabilities))
	for _, raw := range manifest.Capabilities {
		c, ok := capabilities.Parse(raw)
		if !ok {
			return apperrors.NewValidationError("capabilities", fmt.Sprintf("invalid capability %q", raw))
		}
		required = append(required, c)
	}

	granted := required
	if m.granter != nil && len(required) > 0 {
		out, err := m.granter.GrantCapabilities(ctx, map[string][]capabilities.Capability{id.String(): required}, m.cfg.TrustAll)
		if err != nil {
			return apperrors.NewCapabilityError(err.Error(), required)
		}
		granted = out[id.String()]
	}
	m.grants.Set(id, granted)
	return nil
}

// loadWithRepairs loads the entry module, repairing and retrying until it
// loads, a repair is refused, or a repair stops making progress.
func (m *ExtensionManager) loadWithRepairs(ctx context.Context, ext *entities.Extension, target ports.RepairTarget) *apperrors.LoadError {
	id := ext.ID()
	var (
		lastMsg     string
		lastPattern repair.Pattern
	)

	for attempt := 0; ; attempt++ {
		err := m.engine.Load(ctx, ports.LoadRequest{
			Extension: id,
			Root:      ext.Root(),
			Entry:     target.Entry(),
			Modules:   target,
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.NewLoadError(id, err)
		}
		if err.Error() == lastMsg {
			return apperrors.NewLoadError(id, err).WithRepair(lastPattern, "repair did not change the failure")
		}
		if attempt >= m.cfg.MaxRepairAttempts {
			return apperrors.NewLoadError(id, err).WithRepair(lastPattern, "repair attempts exhausted")
		}
		lastMsg = err.Error()

		d, rerr := m.repairs.Attempt(ctx, id, err, target)
		if d.Event != nil {
			m.recordRepair(ext, *d.Event)
		}
		if rerr != nil {
			loadErr := apperrors.NewLoadError(id, err)
			if d.Detected {
				loadErr = loadErr.WithRepair(d.Pattern, rerr.Error())
			}
			return loadErr
		}
		lastPattern = d.Pattern
		m.logger.Debug("retrying load after repair", "extension", id.String(), "pattern", d.Pattern.String())
	}
}

// registerContributions registers the manifest's tools and hooks. On error
// nothing stays registered.
func (m *ExtensionManager) registerContributions(id values.ExtensionID, manifest entities.Manifest) error {
	var registered []string
	rollback := func() {
		for _, name := range registered {
			m.tools.Unregister(name)
		}
		m.hooks.Unregister(id)
	}

	for _, spec := range manifest.Tools {
		tool := &extensionTool{engine: m.engine, extension: id, name: spec.Name}
		if err := m.tools.Register(tool); err != nil {
			rollback()
			return fmt.Errorf("register tool %s: %w", spec.Name, err)
		}
		registered = append(registered, spec.Name)
	}

	for _, spec := range manifest.Hooks {
		name := events.Name(spec.Event)
		if !name.IsKnown() {
			rollback()
			return fmt.Errorf("hook for unknown event %q", spec.Event)
		}
		hook := ports.HookFunc(func(ctx context.Context, ev events.Event) (json.RawMessage, error) {
			return m.engine.InvokeHook(ctx, id, ev)
		})
		if err := m.hooks.Register(id, name, spec.When, hook); err != nil {
			rollback()
			return fmt.Errorf("hook for %s: %w", spec.Event, err)
		}
	}

	m.mu.Lock()
	m.ownedTools[id] = registered
	m.mu.Unlock()
	return nil
}

// RegisterHook subscribes a host-side hook on behalf of ext.
func (m *ExtensionManager) RegisterHook(ext values.ExtensionID, name events.Name, when string, hook ports.Hook) error {
	return m.hooks.Register(ext, name, when, hook)
}

// Unload deactivates an extension and drops its tools, hooks and grants.
func (m *ExtensionManager) Unload(ctx context.Context, id values.ExtensionID) error {
	m.mu.Lock()
	ext, ok := m.extensions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("extension %s is not loaded", id)
	}
	wasActive := ext.IsActive()
	if err := ext.Unload(m.clock.Now()); err != nil {
		m.mu.Unlock()
		return err
	}
	owned := m.ownedTools[id]
	delete(m.ownedTools, id)
	m.mu.Unlock()

	for _, name := range owned {
		m.tools.Unregister(name)
	}
	m.hooks.Unregister(id)
	m.grants.Revoke(id)

	if wasActive {
		if err := m.engine.Unload(ctx, id); err != nil {
			return fmt.Errorf("unload extension %s: %w", id, err)
		}
		m.logger.Info("extension unloaded", "extension", id.String())
	}
	return nil
}

// Shutdown announces session shutdown, unloads every extension and closes
// the engine.
func (m *ExtensionManager) Shutdown(ctx context.Context) error {
	m.DispatchEvent(ctx, events.SessionShutdown, nil)

	var errs []error
	for _, st := range m.Statuses() {
		if err := m.Unload(ctx, st.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	return errors.Join(errs...)
}

// Status returns the status of one extension.
func (m *ExtensionManager) Status(id values.ExtensionID) (entities.Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ext, ok := m.extensions[id]
	if !ok {
		return entities.Status{}, false
	}
	return ext.Status(), true
}

// Statuses returns every known extension sorted by id.
func (m *ExtensionManager) Statuses() []entities.Status {
	m.mu.RLock()
	out := make([]entities.Status, 0, len(m.extensions))
	for _, ext := range m.extensions {
		out = append(out, ext.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Repairs returns the repair events recorded by the last load of id.
func (m *ExtensionManager) Repairs(id values.ExtensionID) []repair.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ext, ok := m.extensions[id]; ok {
		return ext.Repairs()
	}
	return nil
}

func (m *ExtensionManager) scrub(s string) string {
	if m.redactor == nil {
		return s
	}
	return m.redactor.ScrubString(s)
}

// extensionTool is a tool contributed by an extension and run by the engine.
type extensionTool struct {
	engine    ports.ScriptEngine
	extension values.ExtensionID
	name      string
}

func (t *extensionTool) Name() string { return t.name }

func (t *extensionTool) Execute(ctx context.Context, callID values.CallID, payload json.RawMessage) (any, error) {
	out, err := t.engine.InvokeTool(ctx, t.extension, t.name, callID, payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}
