// Package container provides dependency injection for the application.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
	"github.com/reglet-dev/exthost/internal/domain/values"
	infracaps "github.com/reglet-dev/exthost/internal/infrastructure/capabilities"
	"github.com/reglet-dev/exthost/internal/infrastructure/clock"
	"github.com/reglet-dev/exthost/internal/infrastructure/connectors"
	"github.com/reglet-dev/exthost/internal/infrastructure/engine"
	"github.com/reglet-dev/exthost/internal/infrastructure/manifest"
	"github.com/reglet-dev/exthost/internal/infrastructure/modules"
	"github.com/reglet-dev/exthost/internal/infrastructure/persistence/memory"
	"github.com/reglet-dev/exthost/internal/infrastructure/persistence/sqlite"
	"github.com/reglet-dev/exthost/internal/infrastructure/reactor"
	"github.com/reglet-dev/exthost/internal/infrastructure/redaction"
	"github.com/reglet-dev/exthost/internal/infrastructure/secrets"
	"github.com/reglet-dev/exthost/internal/infrastructure/system"
	"github.com/reglet-dev/exthost/internal/infrastructure/tools"
	"github.com/reglet-dev/exthost/internal/infrastructure/wasm"
)

// uiBuffer is the number of ui notifications held for the frontend.
const uiBuffer = 64

// Container holds all application dependencies.
type Container struct {
	cfg        *system.Config
	configPath string
	logger     *slog.Logger
	fs         afero.Fs
	clock      ports.Clock
	redactor   *redaction.Redactor
	secrets    *secrets.Resolver
	tools      *tools.Registry
	manifests  *manifest.Loader
	repairs    *services.RepairService
	scanner    *services.RepairScanner
	db         *sql.DB
	engine     *wasm.Engine
	manager    *services.ExtensionManager
	reactor    *reactor.Reactor
	budgets    *budget.Controller
	scheduler  *engine.Scheduler
	ui         *connectors.UIConnector
	grants     ports.GrantStore
}

// Options configure the container.
type Options struct {
	Logger *slog.Logger
	// SystemConfigPath defaults to ~/.exthost/config.yaml.
	SystemConfigPath string
	// SecurityLevel overrides the configured level when set.
	SecurityLevel string
	TrustAll      bool
	HostVersion   string
	// GuestOutput receives extension stdout and stderr, redacted.
	GuestOutput io.Writer
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Clock defaults to the wall clock.
	Clock ports.Clock
}

// DefaultConfigPath returns ~/.exthost/config.yaml, or a relative path when
// the home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".exthost", "config.yaml")
	}
	return filepath.Join(home, ".exthost", "config.yaml")
}

// New creates a new dependency injection container. The scheduler starts
// immediately; call Close to stop it and unload every extension.
func New(ctx context.Context, opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewReal()
	}
	configPath := opts.SystemConfigPath
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	systemCfg, err := system.NewConfigLoaderFs(opts.Fs).Load(configPath)
	if err != nil {
		return nil, err
	}

	c := &Container{
		cfg:        systemCfg,
		configPath: configPath,
		logger:     opts.Logger,
		fs:         opts.Fs,
		clock:      opts.Clock,
	}
	if err := c.wire(ctx, opts); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context, opts Options) error {
	cfg := c.cfg

	redactor, err := redaction.New(cfg.Redaction)
	if err != nil {
		return fmt.Errorf("failed to build redactor: %w", err)
	}
	c.redactor = redactor
	c.secrets = secrets.NewResolver(&cfg.SensitiveData.Secrets, redactor.Provider(), secrets.WithFs(c.fs))

	// Determine security level (command-line flag takes precedence over config file)
	level := services.SecurityLevel(opts.SecurityLevel)
	if level == "" {
		level = cfg.Security.GetSecurityLevel()
	}

	grantsPath := cfg.Capabilities.GrantsFile
	if grantsPath == "" {
		grantsPath = filepath.Join(filepath.Dir(c.configPath), "grants.yaml")
	}
	store := presetGrants{
		GrantStore: infracaps.NewFileStoreFs(c.fs, grantsPath),
		preset:     cfg.GrantedCapabilities(),
	}
	c.grants = store
	gatekeeper := services.NewCapabilityGatekeeper(store, infracaps.NewTerminalPrompter(grantsPath), level, c.logger)

	c.tools, err = tools.NewRegistry(tools.Echo())
	if err != nil {
		return err
	}
	c.manifests, err = manifest.NewLoader(c.fs)
	if err != nil {
		return err
	}
	moduleViews := func(root, entry string) ports.RepairTarget {
		return modules.NewResolver(c.fs, root, entry)
	}

	var repo repositories.RepairEventRepository = memory.NewRepairEventRepository()
	if path := cfg.Storage.RepairEventDB; path != "" {
		c.db, err = sqlite.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open repair event store: %w", err)
		}
		repo = sqlite.NewRepairEventRepository(c.db)
	}
	c.repairs = services.NewRepairService(cfg.Repair, repo, redactor, c.clock, c.logger)
	c.scanner = services.NewRepairScanner(c.manifests, moduleViews, c.fs, c.clock, c.repairs.Mode())

	out := opts.GuestOutput
	if out == nil {
		out = os.Stderr
	}
	c.engine, err = wasm.NewEngine(ctx, wasm.Options{
		MemoryLimitMB: cfg.WASM.MemoryLimitMB,
		Redactor:      redactor,
		Output:        out,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}

	// The HTTP connector checks grants held by the manager it serves.
	var manager *services.ExtensionManager
	httpConn := connectors.NewHTTPConnector(
		grantsFunc(func(ext values.ExtensionID) []capabilities.Capability { return manager.Grants().Granted(ext) }),
		c.clock,
		connectors.HTTPOptions{
			Timeout:      cfg.HTTP.Timeout,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			Retries:      cfg.HTTP.Retries,
			Backoff:      cfg.Scheduler.Retry.Backoff,
		},
		connectors.WithSecrets(c.secrets),
		connectors.WithSensitiveValues(redactor.Provider()),
		connectors.WithHTTPLogger(c.logger),
	)
	c.ui = connectors.NewUIConnector(uiBuffer, c.clock, connectors.HuhPrompter{}, c.logger)

	managerCfg := cfg.Dispatch
	managerCfg.HostVersion = opts.HostVersion
	managerCfg.TrustAll = opts.TrustAll
	manager = services.NewExtensionManager(managerCfg, services.ManagerDeps{
		Engine:    c.engine,
		Tools:     c.tools,
		Manifests: c.manifests,
		Repairs:   c.repairs,
		Modules:   moduleViews,
		FS:        c.fs,
		Clock:     c.clock,
		Granter:   gatekeeper,
		Redactor:  redactor,
		Logger:    c.logger,
	},
		services.WithHTTPConnector(httpConn),
		services.WithUIHandler(c.ui),
	)
	c.manager = manager

	c.reactor = reactor.New(cfg.Reactor)
	c.budgets = budget.NewController(cfg.Budget)
	c.scheduler = engine.NewScheduler(ctx, manager.Dispatcher(), c.reactor, cfg.SchedulerConfig(),
		engine.WithClock(c.clock),
		engine.WithLogger(c.logger),
		engine.WithBudgets(c.budgets),
	)
	manager.SetScheduler(c.scheduler)
	return nil
}

// Close stops the scheduler, unloads every extension and releases storage.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	switch {
	case c.manager != nil:
		errs = append(errs, c.manager.Shutdown(ctx))
	case c.engine != nil:
		errs = append(errs, c.engine.Close(ctx))
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// Manager returns the extension manager.
func (c *Container) Manager() *services.ExtensionManager { return c.manager }

// RepairService returns the repair service.
func (c *Container) RepairService() *services.RepairService { return c.repairs }

// RepairScanner returns the read-only repair scanner.
func (c *Container) RepairScanner() *services.RepairScanner { return c.scanner }

// Scheduler returns the hostcall scheduler.
func (c *Container) Scheduler() *engine.Scheduler { return c.scheduler }

// Budgets returns the per-extension budget controller.
func (c *Container) Budgets() *budget.Controller { return c.budgets }

// Reactor returns the reactor mesh.
func (c *Container) Reactor() *reactor.Reactor { return c.reactor }

// Tools returns the tool registry.
func (c *Container) Tools() *tools.Registry { return c.tools }

// UI returns the ui connector; frontends read its notifications.
func (c *Container) UI() *connectors.UIConnector { return c.ui }

// GrantStore returns saved grants merged with those in the system config.
func (c *Container) GrantStore() ports.GrantStore { return c.grants }

// Redactor returns the shared redactor.
func (c *Container) Redactor() *redaction.Redactor { return c.redactor }

// SystemConfig returns the system configuration.
func (c *Container) SystemConfig() *system.Config { return c.cfg }

// ConfigPath returns the resolved system config path.
func (c *Container) ConfigPath() string { return c.configPath }

// Logger returns the configured logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

type grantsFunc func(values.ExtensionID) []capabilities.Capability

func (f grantsFunc) Granted(ext values.ExtensionID) []capabilities.Capability { return f(ext) }

// presetGrants adds the grants written in the system config to the ones the
// user saved. Only saved grants are written back.
type presetGrants struct {
	ports.GrantStore
	preset map[string]capabilities.Grant
}

func (p presetGrants) Load() (map[string]capabilities.Grant, error) {
	saved, err := p.GrantStore.Load()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]capabilities.Grant, len(saved)+len(p.preset))
	for ext, g := range saved {
		merged[ext] = append(capabilities.Grant(nil), g...)
	}
	for ext, g := range p.preset {
		grant := merged[ext]
		for _, c := range g {
			grant.Add(c)
		}
		merged[ext] = grant
	}
	return merged, nil
}

func (p presetGrants) Save(grants map[string]capabilities.Grant) error {
	out := make(map[string]capabilities.Grant, len(grants))
	for ext, g := range grants {
		var kept capabilities.Grant
		for _, c := range g {
			if !p.preset[ext].Contains(c) {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			out[ext] = kept
		}
	}
	return p.GrantStore.Save(out)
}
