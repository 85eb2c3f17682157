package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
)

// SecurityLevel controls how broad capability requests are handled.
type SecurityLevel string

const (
	// SecurityStrict denies broad capabilities outright.
	SecurityStrict SecurityLevel = "strict"
	// SecurityStandard warns about broad capabilities and prompts.
	SecurityStandard SecurityLevel = "standard"
	// SecurityPermissive grants everything without prompting.
	SecurityPermissive SecurityLevel = "permissive"
)

// CapabilityGatekeeper decides which declared capabilities an extension
// receives. It consults saved grants, applies the security level, prompts for
// the rest and persists "always" answers.
type CapabilityGatekeeper struct {
	store         ports.GrantStore
	prompter      ports.CapabilityPrompter
	policy        *capabilities.Policy
	securityLevel SecurityLevel
	logger        *slog.Logger
}

// NewCapabilityGatekeeper creates a new capability gatekeeper. An empty level
// means standard.
func NewCapabilityGatekeeper(store ports.GrantStore, prompter ports.CapabilityPrompter, level SecurityLevel, logger *slog.Logger) *CapabilityGatekeeper {
	if level == "" {
		level = SecurityStandard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityGatekeeper{
		store:         store,
		prompter:      prompter,
		policy:        capabilities.NewPolicy(),
		securityLevel: level,
		logger:        logger,
	}
}

type pendingCapability struct {
	extension  string
	capability capabilities.Capability
	broad      bool
}

// GrantCapabilities implements ports.CapabilityGranter. Any denial fails the
// whole request.
func (g *CapabilityGatekeeper) GrantCapabilities(
	ctx context.Context,
	required map[string][]capabilities.Capability,
	trustAll bool,
) (map[string][]capabilities.Capability, error) {
	granted := make(map[string][]capabilities.Capability, len(required))
	if trustAll {
		g.logger.Warn("auto-granting all requested capabilities (--trust-all enabled)")
		for ext, caps := range required {
			granted[ext] = append([]capabilities.Capability(nil), caps...)
		}
		return granted, nil
	}

	saved, err := g.store.Load()
	if err != nil {
		g.logger.Warn("ignoring unreadable grants file", "path", g.store.ConfigPath(), "error", err)
		saved = map[string]capabilities.Grant{}
	}

	exts := make([]string, 0, len(required))
	for ext := range required {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var pending []pendingCapability
	for _, ext := range exts {
		caps := required[ext]
		missing := capabilities.Grant(g.policy.Missing(caps, saved[ext]))
		for _, c := range caps {
			if !missing.Contains(c) {
				granted[ext] = append(granted[ext], c)
			}
		}

		for _, c := range missing {
			ok, decided, err := g.applyLevel(ext, c)
			if err != nil {
				return nil, err
			}
			if decided {
				if ok {
					granted[ext] = append(granted[ext], c)
				}
				continue
			}
			pending = append(pending, pendingCapability{extension: ext, capability: c, broad: c.IsBroad()})
		}
	}

	if len(pending) == 0 {
		return granted, nil
	}

	if !g.prompter.IsInteractive() {
		missing := make(map[string]capabilities.Grant)
		for _, p := range pending {
			grant := missing[p.extension]
			grant.Add(p.capability)
			missing[p.extension] = grant
		}
		return nil, g.prompter.FormatNonInteractiveError(missing)
	}

	shouldSave := false
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, always, err := g.prompter.PromptForCapability(ports.CapabilityInfo{
			Capability: p.capability,
			Extension:  p.extension,
			IsBroad:    p.broad,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("capability denied by user: %s requested %s", p.extension, p.capability)
		}
		granted[p.extension] = append(granted[p.extension], p.capability)
		if always {
			grant := saved[p.extension]
			grant.Add(p.capability)
			saved[p.extension] = grant
			shouldSave = true
		}
	}

	if shouldSave {
		if err := g.store.Save(saved); err != nil {
			g.logger.Warn("failed to save capability grants", "path", g.store.ConfigPath(), "error", err)
		} else {
			g.logger.Info("capability grants saved", "path", g.store.ConfigPath())
		}
	}

	return granted, nil
}

// applyLevel resolves a capability without asking when the security level
// allows it. decided is false when the user must be prompted.
func (g *CapabilityGatekeeper) applyLevel(ext string, c capabilities.Capability) (ok bool, decided bool, err error) {
	switch g.securityLevel {
	case SecurityPermissive:
		if c.IsBroad() {
			g.logger.Warn("auto-granting broad capability (permissive mode)", "extension", ext, "capability", c.String())
		}
		return true, true, nil
	case SecurityStrict:
		if c.IsBroad() {
			g.logger.Error("broad capability denied by security policy",
				"level", string(SecurityStrict),
				"extension", ext,
				"capability", c.String(),
				"risk", c.RiskDescription())
			return false, true, fmt.Errorf("broad capability denied by strict security policy: %s", c)
		}
	}
	return false, false, nil
}
