// Package system loads the host configuration file (~/.exthost/config.yaml).
package system

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/services"
	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/infrastructure/engine"
	"github.com/reglet-dev/exthost/internal/infrastructure/reactor"
	"github.com/reglet-dev/exthost/internal/infrastructure/redaction"
	"github.com/reglet-dev/exthost/internal/infrastructure/validation"
)

// Config is the host configuration file.
type Config struct {
	Repair        services.RepairSettings `yaml:"repair" json:"repair"`
	Reactor       reactor.Config          `yaml:"reactor" json:"reactor"`
	Budget        budget.Config           `yaml:"budget" json:"budget"`
	Lanes         hostcall.LanePolicy     `yaml:"lanes" json:"lanes"`
	Scheduler     engine.Config           `yaml:"scheduler" json:"scheduler"`
	Dispatch      services.ManagerConfig  `yaml:"dispatch" json:"dispatch"`
	Security      SecurityConfig          `yaml:"security" json:"security"`
	Capabilities  CapabilitiesConfig      `yaml:"capabilities" json:"capabilities"`
	Redaction     redaction.Config        `yaml:"redaction" json:"redaction"`
	SensitiveData SensitiveDataConfig     `yaml:"sensitive_data" json:"sensitive_data"`
	Storage       StorageConfig           `yaml:"storage" json:"storage"`
	HTTP          HTTPConfig              `yaml:"http" json:"http"`
	WASM          WASMConfig              `yaml:"wasm" json:"wasm"`
}

// WASMConfig tunes the WebAssembly script engine.
type WASMConfig struct {
	// MemoryLimitMB caps each extension's linear memory. 0 uses the engine
	// default and -1 removes the cap.
	MemoryLimitMB int `yaml:"memory_limit_mb" json:"memory_limit_mb" validate:"gte=-1"`
}

// CapabilityConfig is one capability in the configuration file.
type CapabilityConfig struct {
	Kind    string `yaml:"kind" json:"kind" validate:"required,oneof=tool http session ui events"`
	Pattern string `yaml:"pattern" json:"pattern" validate:"required"`
}

// CapabilitiesConfig holds grants given up front, keyed by extension id.
type CapabilitiesConfig struct {
	// GrantsFile stores "always allow" answers from the prompter.
	GrantsFile string                        `yaml:"grants_file" json:"grants_file"`
	Grants     map[string][]CapabilityConfig `yaml:"grants" json:"grants" validate:"dive,dive"`
}

// SensitiveDataConfig configures secret resolution.
type SensitiveDataConfig struct {
	Secrets SecretsConfig `yaml:"secrets" json:"secrets"`
}

// SecretsConfig configures secret resolution sources.
type SecretsConfig struct {
	// Local defines static secrets for development (name -> value)
	Local map[string]string `yaml:"local" json:"local"`

	// Env defines environment variable mappings (secret_name -> env_var_name)
	Env map[string]string `yaml:"env" json:"env"`

	// Files defines file path mappings (secret_name -> file_path)
	Files map[string]string `yaml:"files" json:"files"`
}

// SecurityConfig configures capability security policies.
type SecurityConfig struct {
	// Level is "strict", "standard" or "permissive".
	//   - strict: deny broad capabilities
	//   - standard: warn about broad capabilities and prompt (default)
	//   - permissive: grant everything without prompting
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=strict standard permissive"`
}

// GetSecurityLevel returns the configured security level, defaulting to standard.
func (c *SecurityConfig) GetSecurityLevel() services.SecurityLevel {
	switch services.SecurityLevel(c.Level) {
	case services.SecurityStrict:
		return services.SecurityStrict
	case services.SecurityPermissive:
		return services.SecurityPermissive
	default:
		return services.SecurityStandard
	}
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	// RepairEventDB is the sqlite file for repair events. Empty keeps events
	// in memory.
	RepairEventDB string `yaml:"repair_event_db" json:"repair_event_db"`
}

// HTTP connector defaults.
const (
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultHTTPMaxBodyBytes = 10 << 20
)

// HTTPConfig tunes the HTTP hostcall connector.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes" validate:"gte=0"`
	Retries      int           `yaml:"retries" json:"retries" validate:"gte=0,lte=10"`
}

// ConfigLoader loads system configuration from disk.
type ConfigLoader struct {
	fs afero.Fs
}

// NewConfigLoader creates a loader on the OS filesystem.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{fs: afero.NewOsFs()}
}

// NewConfigLoaderFs creates a loader on fs.
func NewConfigLoaderFs(fs afero.Fs) *ConfigLoader {
	return &ConfigLoader{fs: fs}
}

// DefaultConfig returns a Config with safe defaults for all fields.
// This is used when no system config file exists.
func DefaultConfig() *Config {
	return &Config{
		Repair:    services.DefaultRepairSettings(),
		Reactor:   reactor.DefaultConfig(),
		Budget:    budget.DefaultConfig(),
		Lanes:     hostcall.ConservativeLanePolicy(),
		Scheduler: engine.DefaultConfig(),
		Dispatch:  services.DefaultManagerConfig(),
		Security:  SecurityConfig{Level: string(services.SecurityStandard)},
		Capabilities: CapabilitiesConfig{
			Grants: map[string][]CapabilityConfig{},
		},
		SensitiveData: SensitiveDataConfig{
			Secrets: SecretsConfig{
				Local: make(map[string]string),
				Env:   make(map[string]string),
				Files: make(map[string]string),
			},
		},
		HTTP: HTTPConfig{
			Timeout:      DefaultHTTPTimeout,
			MaxBodyBytes: DefaultHTTPMaxBodyBytes,
			Retries:      2,
		},
	}
}

// Load reads the configuration at path on top of DefaultConfig. A missing
// file yields the defaults.
func (l *ConfigLoader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := afero.ReadFile(l.fs, path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewConfigurationError("system", "failed to parse system config", err)
	}
	if err := validation.ValidateStruct(cfg); err != nil {
		return nil, apperrors.NewConfigurationError("system", err.Error(), err)
	}
	return cfg, nil
}

// GrantedCapabilities converts the configured grants to domain capabilities.
func (c *Config) GrantedCapabilities() map[string]capabilities.Grant {
	out := make(map[string]capabilities.Grant, len(c.Capabilities.Grants))
	for ext, caps := range c.Capabilities.Grants {
		g := capabilities.NewGrant()
		for _, cc := range caps {
			g.Add(capabilities.Capability{Kind: cc.Kind, Pattern: cc.Pattern})
		}
		out[ext] = g
	}
	return out
}

// SchedulerConfig returns the scheduler settings with the top-level lane
// policy applied.
func (c *Config) SchedulerConfig() engine.Config {
	s := c.Scheduler
	s.Lanes = c.Lanes
	return s
}
