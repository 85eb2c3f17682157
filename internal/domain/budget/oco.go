package budget

import "math"

// TunerState is a point-in-time view of a tuner.
type TunerState struct {
	Budget             int     `json:"budget" yaml:"budget"`
	Rounds             uint64  `json:"rounds" yaml:"rounds"`
	GuardrailRollbacks uint64  `json:"guardrail_rollbacks" yaml:"guardrail_rollbacks"`
	LastLoss           float64 `json:"last_loss" yaml:"last_loss"`
	LastGoodBudget     int     `json:"last_good_budget" yaml:"last_good_budget"`
	LastGoodLoss       float64 `json:"last_good_loss" yaml:"last_good_loss"`
	Step               float64 `json:"step" yaml:"step"`
}

// Tuner adjusts a single budget with projected online gradient descent.
// Each Observe call is one round: the gradient is estimated by finite
// difference against the previous round, the step size decays with
// 1/sqrt(rounds), and the result is projected back into [MinBudget,
// MaxBudget]. A round whose loss regresses past tolerance relative to the
// last known-good round rolls the budget back; the round after a rollback is
// measured at the known-good budget and becomes the new baseline, so a
// workload shift cannot pin the budget.
//
// Tuner is not safe for concurrent use; Controller serializes access.
type Tuner struct {
	cfg OCOConfig

	budget    float64
	direction float64

	prevBudget float64
	prevLoss   float64
	hasPrev    bool

	lastGoodBudget float64
	lastGoodLoss   float64
	hasGood        bool
	rebaseline     bool

	rounds    uint64
	rollbacks uint64
	lastLoss  float64
	lastStep  float64
}

// NewTuner returns a tuner starting at initial, clamped to the configured bounds.
func NewTuner(cfg OCOConfig, initial int) *Tuner {
	cfg = normalizeOCO(cfg)
	t := &Tuner{cfg: cfg, direction: 1}
	t.budget = t.project(float64(initial))
	t.lastGoodBudget = t.budget
	return t
}

func normalizeOCO(cfg OCOConfig) OCOConfig {
	if cfg.MinBudget < 1 {
		cfg.MinBudget = 1
	}
	if cfg.MaxBudget < cfg.MinBudget {
		cfg.MaxBudget = cfg.MinBudget
	}
	if cfg.InitialStep <= 0 {
		cfg.InitialStep = 1
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return cfg
}

// Budget returns the current integer budget.
func (t *Tuner) Budget() int {
	return int(math.Round(t.budget))
}

// Observe runs one round with the loss measured at the current budget and
// returns the budget to use for the next window.
func (t *Tuner) Observe(loss float64) int {
	t.rounds++
	t.lastLoss = loss

	if t.hasGood && !t.rebaseline && t.regressed(loss) {
		// Revert and try the other way next time.
		t.rollbacks++
		t.budget = t.lastGoodBudget
		t.direction = -t.direction
		t.prevBudget = t.lastGoodBudget
		t.prevLoss = t.lastGoodLoss
		t.hasPrev = true
		t.lastStep = 0
		t.rebaseline = true
		return t.Budget()
	}
	t.rebaseline = false

	t.lastGoodBudget = t.budget
	t.lastGoodLoss = loss
	t.hasGood = true

	if t.hasPrev {
		dx := t.budget - t.prevBudget
		df := loss - t.prevLoss
		if dx != 0 && df != 0 {
			// Move against the estimated gradient sign.
			if df/dx > 0 {
				t.direction = -1
			} else {
				t.direction = 1
			}
		}
	}

	eta := t.cfg.InitialStep / math.Sqrt(float64(t.rounds))
	if eta < 1 {
		eta = 1
	}

	t.prevBudget = t.budget
	t.prevLoss = loss
	t.hasPrev = true

	next := t.project(t.budget + t.direction*eta)
	if next == t.budget {
		// Pinned at a bound; turn around so the next round still moves.
		t.direction = -t.direction
	}
	t.lastStep = next - t.budget
	t.budget = next
	return t.Budget()
}

func (t *Tuner) regressed(loss float64) bool {
	allowed := t.cfg.Tolerance * math.Max(math.Abs(t.lastGoodLoss), 1)
	return loss-t.lastGoodLoss > allowed
}

func (t *Tuner) project(b float64) float64 {
	b = math.Round(b)
	if b < float64(t.cfg.MinBudget) {
		return float64(t.cfg.MinBudget)
	}
	if b > float64(t.cfg.MaxBudget) {
		return float64(t.cfg.MaxBudget)
	}
	return b
}

// State returns a snapshot of the tuner.
func (t *Tuner) State() TunerState {
	return TunerState{
		Budget:             t.Budget(),
		Rounds:             t.rounds,
		GuardrailRollbacks: t.rollbacks,
		LastLoss:           t.lastLoss,
		LastGoodBudget:     int(t.lastGoodBudget),
		LastGoodLoss:       t.lastGoodLoss,
		Step:               t.lastStep,
	}
}
