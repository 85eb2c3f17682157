package budget

import (
	"sort"
	"sync"
	"time"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Mode names the control regime of a controller.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeStatic   Mode = "static"
	ModeAdaptive Mode = "adaptive"
)

// Snapshot is the budget state of one extension.
type Snapshot struct {
	ExtensionID        values.ExtensionID `json:"extension_id" yaml:"extension_id"`
	Mode               Mode               `json:"mode" yaml:"mode"`
	Budget             int                `json:"budget" yaml:"budget"`
	Rounds             uint64             `json:"rounds" yaml:"rounds"`
	GuardrailRollbacks uint64             `json:"guardrail_rollbacks" yaml:"guardrail_rollbacks"`
	Calls              uint64             `json:"calls" yaml:"calls"`
	Errors             uint64             `json:"errors" yaml:"errors"`
	Rejects            uint64             `json:"rejects" yaml:"rejects"`
	LastLoss           float64            `json:"last_loss" yaml:"last_loss"`
}

type extensionState struct {
	tuner *Tuner

	window      []time.Duration
	windowCalls uint64
	windowErrs  uint64
	windowRejs  uint64
	windowStart time.Time

	calls   uint64
	errors  uint64
	rejects uint64
}

// Controller holds budget state partitioned by extension id. No call on
// one extension reads or writes another's state.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	states map[values.ExtensionID]*extensionState
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.StaticBudget < 1 {
		cfg.StaticBudget = 1
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 1
	}
	cfg.OCO = normalizeOCO(cfg.OCO)
	return &Controller{
		cfg:    cfg,
		states: make(map[values.ExtensionID]*extensionState),
	}
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Mode reports the control regime.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modeLocked()
}

func (c *Controller) modeLocked() Mode {
	switch {
	case !c.cfg.Enabled:
		return ModeDisabled
	case c.cfg.OCO.Enabled:
		return ModeAdaptive
	default:
		return ModeStatic
	}
}

// Budget returns the in-flight limit for ext. State is created on first use.
func (c *Controller) Budget(ext values.ExtensionID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.modeLocked() {
	case ModeDisabled:
		return c.cfg.OCO.MaxBudget
	case ModeStatic:
		return c.cfg.StaticBudget
	}
	return c.stateLocked(ext, time.Time{}).tuner.Budget()
}

func (c *Controller) stateLocked(ext values.ExtensionID, now time.Time) *extensionState {
	st, ok := c.states[ext]
	if !ok {
		st = &extensionState{
			tuner:       NewTuner(c.cfg.OCO, c.cfg.StaticBudget),
			window:      make([]time.Duration, 0, c.cfg.WindowSize),
			windowStart: now,
		}
		c.states[ext] = st
	}
	if st.windowStart.IsZero() && !now.IsZero() {
		st.windowStart = now
	}
	return st
}

// Record accounts one completed hostcall. When the measurement window fills
// and adaptive mode is on, one tuning round runs. It reports whether a
// round ran.
func (c *Controller) Record(ext values.ExtensionID, latency time.Duration, failed bool, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(ext, now)
	st.calls++
	st.windowCalls++
	st.window = append(st.window, latency)
	if failed {
		st.errors++
		st.windowErrs++
	}

	if len(st.window) < c.cfg.WindowSize {
		return false
	}

	obs := Observation{
		P99:     P99(st.window),
		Calls:   st.windowCalls,
		Errors:  st.windowErrs,
		Rejects: st.windowRejs,
		Elapsed: now.Sub(st.windowStart),
	}
	st.window = st.window[:0]
	st.windowCalls, st.windowErrs, st.windowRejs = 0, 0, 0
	st.windowStart = now

	if c.modeLocked() != ModeAdaptive {
		return false
	}
	st.tuner.Observe(Loss(c.cfg.OCO, obs))
	return true
}

// RecordReject accounts a reactor rejection attributed to ext.
func (c *Controller) RecordReject(ext values.ExtensionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(ext, time.Time{})
	st.rejects++
	st.windowRejs++
}

// Reset drops all state for ext, as on extension reload.
func (c *Controller) Reset(ext values.ExtensionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, ext)
}

// SetConfig swaps the configuration. Existing per-extension state is
// dropped so every tuner restarts from the new static budget.
func (c *Controller) SetConfig(cfg Config) {
	fresh := NewController(cfg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = fresh.cfg
	c.states = fresh.states
}

// Snapshot returns the state for ext.
func (c *Controller) Snapshot(ext values.ExtensionID) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(ext, c.stateLocked(ext, time.Time{}))
}

// Snapshots returns the state of every known extension, ordered by id.
func (c *Controller) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.states))
	for ext, st := range c.states {
		out = append(out, c.snapshotLocked(ext, st))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExtensionID.String() < out[j].ExtensionID.String()
	})
	return out
}

func (c *Controller) snapshotLocked(ext values.ExtensionID, st *extensionState) Snapshot {
	ts := st.tuner.State()
	s := Snapshot{
		ExtensionID:        ext,
		Mode:               c.modeLocked(),
		Rounds:             ts.Rounds,
		GuardrailRollbacks: ts.GuardrailRollbacks,
		Calls:              st.calls,
		Errors:             st.errors,
		Rejects:            st.rejects,
		LastLoss:           ts.LastLoss,
	}
	switch s.Mode {
	case ModeDisabled:
		s.Budget = c.cfg.OCO.MaxBudget
	case ModeStatic:
		s.Budget = c.cfg.StaticBudget
	default:
		s.Budget = ts.Budget
	}
	return s
}

// MaxRounds returns the highest round count across extensions.
func (c *Controller) MaxRounds() uint64 {
	var highest uint64
	for _, s := range c.Snapshots() {
		if s.Rounds > highest {
			highest = s.Rounds
		}
	}
	return highest
}

// MaxRollbacks returns the highest rollback count across extensions.
func (c *Controller) MaxRollbacks() uint64 {
	var highest uint64
	for _, s := range c.Snapshots() {
		if s.GuardrailRollbacks > highest {
			highest = s.GuardrailRollbacks
		}
	}
	return highest
}
