package hostcall

import "strings"

// Lane is the execution lane chosen for a hostcall.
type Lane string

const (
	LaneFast    Lane = "fast"
	LaneIOUring Lane = "io_uring"
	LaneCompat  Lane = "compat"
)

// IOHint signals whether a hostcall is likely IO-dominant.
// The zero value behaves as IOHintUnknown.
type IOHint string

const (
	IOHintUnknown  IOHint = "unknown"
	IOHintIOHeavy  IOHint = "io_heavy"
	IOHintCPUBound IOHint = "cpu_bound"
)

// IsIOHeavy reports whether the hint asks for the IO lane.
func (h IOHint) IsIOHeavy() bool {
	return h == IOHintIOHeavy
}

// CapabilityClassName is the normalised capability class used by the lane policy.
type CapabilityClassName string

const (
	ClassFilesystem  CapabilityClassName = "filesystem"
	ClassNetwork     CapabilityClassName = "network"
	ClassExecution   CapabilityClassName = "execution"
	ClassSession     CapabilityClassName = "session"
	ClassEvents      CapabilityClassName = "events"
	ClassEnvironment CapabilityClassName = "environment"
	ClassTool        CapabilityClassName = "tool"
	ClassUI          CapabilityClassName = "ui"
	ClassTelemetry   CapabilityClassName = "telemetry"
	ClassUnknown     CapabilityClassName = "unknown"
)

// ClassFromCapability maps a capability alias onto its class.
func ClassFromCapability(value string) CapabilityClassName {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "read", "write", "filesystem", "fs":
		return ClassFilesystem
	case "http", "network":
		return ClassNetwork
	case "exec", "execution":
		return ClassExecution
	case "session":
		return ClassSession
	case "events":
		return ClassEvents
	case "env", "environment":
		return ClassEnvironment
	case "tool":
		return ClassTool
	case "ui":
		return ClassUI
	case "log", "telemetry":
		return ClassTelemetry
	default:
		return ClassUnknown
	}
}

// FallbackReason explains why the IO lane was not selected.
type FallbackReason string

const (
	FallbackCompatKillSwitch      FallbackReason = "forced_compat_kill_switch"
	FallbackIOUringDisabled       FallbackReason = "io_uring_disabled"
	FallbackIOUringUnavailable    FallbackReason = "io_uring_unavailable"
	FallbackMissingIOHint         FallbackReason = "io_hint_missing"
	FallbackUnsupportedCapability FallbackReason = "io_uring_capability_not_supported"
	FallbackQueueDepthExceeded    FallbackReason = "io_uring_queue_depth_budget_exceeded"
)

// LanePolicy holds the runtime-tunable knobs for lane selection.
type LanePolicy struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	RingAvailable   bool `yaml:"ring_available" json:"ring_available"`
	MaxQueueDepth   int  `yaml:"max_queue_depth" json:"max_queue_depth" validate:"gte=0"`
	AllowFilesystem bool `yaml:"allow_filesystem" json:"allow_filesystem"`
	AllowNetwork    bool `yaml:"allow_network" json:"allow_network"`
}

// ConservativeLanePolicy keeps every call off the IO lane until explicitly enabled.
func ConservativeLanePolicy() LanePolicy {
	return LanePolicy{
		Enabled:         false,
		RingAvailable:   false,
		MaxQueueDepth:   256,
		AllowFilesystem: true,
		AllowNetwork:    true,
	}
}

// AllowsClass reports whether the IO lane may serve a capability class.
func (p LanePolicy) AllowsClass(class CapabilityClassName) bool {
	switch class {
	case ClassFilesystem:
		return p.AllowFilesystem
	case ClassNetwork:
		return p.AllowNetwork
	default:
		return false
	}
}

// LaneInput is what the policy looks at for one hostcall.
type LaneInput struct {
	Class       CapabilityClassName
	Hint        IOHint
	QueueDepth  int
	ForceCompat bool
}

// LaneDecision is the chosen lane and, when not the IO lane, the reason.
type LaneDecision struct {
	Lane     Lane           `json:"lane"`
	Fallback FallbackReason `json:"fallback_reason,omitempty"`
}

// DecideLane picks a lane. The checks run in a fixed order: kill switch,
// enabled flag, ring availability, IO hint, capability allowlist, queue depth.
func DecideLane(p LanePolicy, in LaneInput) LaneDecision {
	if in.ForceCompat {
		return LaneDecision{Lane: LaneCompat, Fallback: FallbackCompatKillSwitch}
	}
	if !p.Enabled {
		return LaneDecision{Lane: LaneFast, Fallback: FallbackIOUringDisabled}
	}
	if !p.RingAvailable {
		return LaneDecision{Lane: LaneFast, Fallback: FallbackIOUringUnavailable}
	}
	if !in.Hint.IsIOHeavy() {
		return LaneDecision{Lane: LaneFast, Fallback: FallbackMissingIOHint}
	}
	if !p.AllowsClass(in.Class) {
		return LaneDecision{Lane: LaneFast, Fallback: FallbackUnsupportedCapability}
	}
	if in.QueueDepth >= p.MaxQueueDepth {
		return LaneDecision{Lane: LaneFast, Fallback: FallbackQueueDepthExceeded}
	}
	return LaneDecision{Lane: LaneIOUring}
}

// LaneTelemetry is the audit record for one lane decision.
type LaneTelemetry struct {
	Lane                   Lane                `json:"lane"`
	Fallback               FallbackReason      `json:"fallback_reason,omitempty"`
	Class                  CapabilityClassName `json:"capability"`
	Hint                   IOHint              `json:"io_hint"`
	QueueDepth             int                 `json:"queue_depth"`
	QueueDepthBudget       int                 `json:"queue_depth_budget"`
	QueueDepthBudgetLeft   int                 `json:"queue_depth_budget_remaining"`
	ForceCompat            bool                `json:"force_compat_lane"`
	PolicyEnabled          bool                `json:"policy_enabled"`
	RingAvailable          bool                `json:"ring_available"`
	CapabilityAllowed      bool                `json:"capability_allowed"`
	QueueDepthWithinBudget bool                `json:"queue_depth_within_budget"`
}

// DecideLaneWithTelemetry decides and builds the telemetry record in one call.
func DecideLaneWithTelemetry(p LanePolicy, in LaneInput) (LaneDecision, LaneTelemetry) {
	d := DecideLane(p, in)

	left := p.MaxQueueDepth - in.QueueDepth
	if left < 0 {
		left = 0
	}
	hint := in.Hint
	if hint == "" {
		hint = IOHintUnknown
	}

	return d, LaneTelemetry{
		Lane:                   d.Lane,
		Fallback:               d.Fallback,
		Class:                  in.Class,
		Hint:                   hint,
		QueueDepth:             in.QueueDepth,
		QueueDepthBudget:       p.MaxQueueDepth,
		QueueDepthBudgetLeft:   left,
		ForceCompat:            in.ForceCompat,
		PolicyEnabled:          p.Enabled,
		RingAvailable:          p.RingAvailable,
		CapabilityAllowed:      p.AllowsClass(in.Class),
		QueueDepthWithinBudget: in.QueueDepth < p.MaxQueueDepth,
	}
}
