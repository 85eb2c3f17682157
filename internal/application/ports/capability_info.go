package ports

import "github.com/reglet-dev/exthost/internal/domain/capabilities"

// CapabilityInfo contains metadata about a capability request.
type CapabilityInfo struct {
	Capability capabilities.Capability
	Extension  string
	IsBroad    bool
}

// GrantStore persists "always allow" decisions keyed by extension id.
type GrantStore interface {
	Load() (map[string]capabilities.Grant, error)
	Save(grants map[string]capabilities.Grant) error
	ConfigPath() string
}

// CapabilityPrompter asks a human about capability requests.
type CapabilityPrompter interface {
	IsInteractive() bool
	PromptForCapability(info CapabilityInfo) (granted bool, always bool, err error)
	FormatNonInteractiveError(missing map[string]capabilities.Grant) error
}
