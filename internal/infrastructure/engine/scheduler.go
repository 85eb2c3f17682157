package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/budget"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/clock"
	"github.com/reglet-dev/exthost/internal/infrastructure/reactor"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("scheduler stopped")

// QueueFullMessage is the failure delivered when MaxPending calls are in flight.
const QueueFullMessage = "Hostcall queue full"

// Executor runs one hostcall to completion.
type Executor interface {
	Execute(ctx context.Context, req hostcall.Request) hostcall.Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req hostcall.Request) hostcall.Outcome

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	return f(ctx, req)
}

type extensionSlot struct {
	sem      *semaphore.Weighted
	capacity int64
}

// Scheduler runs hostcalls on bounded lanes and publishes each outcome to
// the reactor exactly once. Completions the reactor cannot take after
// retrying are kept in an overflow list and returned by Drain.
type Scheduler struct {
	cfg      Config
	exec     Executor
	reactor  *reactor.Reactor
	budgets  *budget.Controller
	clock    ports.Clock
	logger   *slog.Logger
	compat   map[string]struct{}
	tracker  *tracker
	stats    *counters
	ioDepth  atomic.Int64
	fastLane *semaphore.Weighted
	ioLane   *semaphore.Weighted
	compLane *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	slots    map[values.ExtensionID]extensionSlot
	inflight map[values.CallID]context.CancelFunc
	overflow []hostcall.Completion
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the system clock.
func WithClock(c ports.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithBudgets enables per-extension concurrency budgets.
func WithBudgets(c *budget.Controller) Option {
	return func(s *Scheduler) {
		s.budgets = c
	}
}

// NewScheduler creates a scheduler whose calls live under ctx.
func NewScheduler(ctx context.Context, exec Executor, r *reactor.Reactor, cfg Config, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.IOWorkers <= 0 {
		cfg.IOWorkers = defaults.IOWorkers
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}

	s := &Scheduler{
		cfg:      cfg,
		exec:     exec,
		reactor:  r,
		clock:    clock.NewReal(),
		logger:   slog.Default(),
		compat:   make(map[string]struct{}, len(cfg.CompatExtensions)),
		tracker:  newTracker(),
		stats:    newCounters(),
		fastLane: semaphore.NewWeighted(int64(cfg.Workers)),
		ioLane:   semaphore.NewWeighted(int64(cfg.IOWorkers)),
		compLane: semaphore.NewWeighted(1),
		slots:    make(map[values.ExtensionID]extensionSlot),
		inflight: make(map[values.CallID]context.CancelFunc),
	}
	for _, ext := range cfg.CompatExtensions {
		s.compat[ext] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group.SetLimit(cfg.MaxPending)
	return s
}

// Submit accepts a hostcall for execution. It returns ErrDuplicateCall when
// the call ID is already tracked. When MaxPending calls are in flight the
// call is not run; a failure outcome is delivered in its place.
func (s *Scheduler) Submit(req hostcall.Request) error {
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if err := s.tracker.begin(req.CallID); err != nil {
		s.stats.add(&s.stats.duplicates)
		return fmt.Errorf("call %s: %w", req.CallID, err)
	}
	s.stats.add(&s.stats.submitted)

	decision, audit := hostcall.DecideLaneWithTelemetry(s.cfg.Lanes, hostcall.LaneInput{
		Class:       hostcall.CapabilityClass(req.Kind),
		Hint:        req.IOHint,
		QueueDepth:  int(s.ioDepth.Load()),
		ForceCompat: s.forceCompat(req.ExtensionID),
	})
	s.stats.decision(audit)
	s.logger.Debug("hostcall scheduled",
		"call_id", req.CallID.String(),
		"extension", req.ExtensionID.String(),
		"kind", req.Kind.String(),
		"lane", decision.Lane,
		"fallback", decision.Fallback,
	)

	callCtx, cancel := s.callContext()
	s.mu.Lock()
	s.inflight[req.CallID] = cancel
	s.mu.Unlock()

	accepted := s.group.TryGo(func() error {
		s.run(callCtx, req, decision.Lane)
		return nil
	})
	if !accepted {
		s.release(req.CallID)
		s.stats.add(&s.stats.queueFull)
		s.logger.Warn("hostcall queue full", "call_id", req.CallID.String(), "limit", s.cfg.MaxPending)
		s.deliver(hostcall.Completion{
			CallID:      req.CallID,
			ExtensionID: req.ExtensionID,
			Kind:        req.Kind.String(),
			Lane:        decision.Lane,
			Outcome:     hostcall.Failure(hostcall.CodeInternal, QueueFullMessage),
		})
	}
	return nil
}

func (s *Scheduler) callContext() (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.CallTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Scheduler) forceCompat(ext values.ExtensionID) bool {
	if s.cfg.ForceCompat {
		return true
	}
	_, ok := s.compat[ext.String()]
	return ok
}

func (s *Scheduler) release(id values.CallID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Scheduler) run(ctx context.Context, req hostcall.Request, lane hostcall.Lane) {
	defer s.release(req.CallID)

	c := hostcall.Completion{
		CallID:      req.CallID,
		ExtensionID: req.ExtensionID,
		Kind:        req.Kind.String(),
		Lane:        lane,
	}
	start := s.clock.Now()

	slot, weight := s.extensionSlot(req.ExtensionID)
	if slot.sem != nil {
		if err := slot.sem.Acquire(ctx, weight); err != nil {
			c.Outcome = abortOutcome(ctx, s.cfg)
			s.deliver(c)
			return
		}
	}

	if lane == hostcall.LaneIOUring {
		s.ioDepth.Add(1)
	}
	laneSem := s.laneSemaphore(lane)
	err := laneSem.Acquire(ctx, 1)
	if err == nil {
		c.Outcome = s.exec.Execute(ctx, req)
		laneSem.Release(1)
		if !c.Outcome.IsSuccess() && ctx.Err() != nil {
			c.Outcome = abortOutcome(ctx, s.cfg)
		}
	} else {
		c.Outcome = abortOutcome(ctx, s.cfg)
	}
	if lane == hostcall.LaneIOUring {
		s.ioDepth.Add(-1)
	}
	if slot.sem != nil {
		slot.sem.Release(weight)
	}

	end := s.clock.Now()
	c.Latency = end.Sub(start)
	if s.budgets != nil && s.budgets.Record(req.ExtensionID, c.Latency, !c.Outcome.IsSuccess(), end) {
		s.logger.Debug("extension budget adjusted",
			"extension", req.ExtensionID.String(),
			"budget", s.budgets.Budget(req.ExtensionID),
		)
	}

	s.deliver(c)
}

func abortOutcome(ctx context.Context, cfg Config) hostcall.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return hostcall.Failuref(hostcall.CodeTimeout, "Hostcall timed out after %s", cfg.CallTimeout)
	}
	return hostcall.Failure(hostcall.CodeInternal, "Hostcall cancelled")
}

func (s *Scheduler) laneSemaphore(lane hostcall.Lane) *semaphore.Weighted {
	switch lane {
	case hostcall.LaneIOUring:
		return s.ioLane
	case hostcall.LaneCompat:
		return s.compLane
	default:
		return s.fastLane
	}
}

// extensionSlot returns the extension's semaphore and the weight one call
// takes from it. The semaphore holds MaxBudget units, so a call weighing
// MaxBudget/budget admits roughly budget calls at once.
func (s *Scheduler) extensionSlot(ext values.ExtensionID) (extensionSlot, int64) {
	if s.budgets == nil || s.budgets.Mode() == budget.ModeDisabled {
		return extensionSlot{}, 0
	}

	s.mu.Lock()
	slot, ok := s.slots[ext]
	if !ok {
		capacity := int64(s.budgets.Config().OCO.MaxBudget)
		if capacity < 1 {
			capacity = 1
		}
		slot = extensionSlot{sem: semaphore.NewWeighted(capacity), capacity: capacity}
		s.slots[ext] = slot
	}
	s.mu.Unlock()

	b := int64(s.budgets.Budget(ext))
	if b < 1 {
		b = 1
	}
	weight := slot.capacity / b
	if weight < 1 {
		weight = 1
	}
	return slot, weight
}

// deliver publishes c once. A full shard is retried with backoff before the
// completion is spilled to the overflow list.
func (s *Scheduler) deliver(c hostcall.Completion) {
	if err := s.tracker.complete(c.CallID); err != nil {
		s.logger.Debug("dropping completion", "call_id", c.CallID.String(), "error", err)
		return
	}
	s.stats.add(&s.stats.completed)

	for attempt := 0; ; attempt++ {
		if s.reactor.Enqueue(c.ShardKey(), c) {
			return
		}
		if s.budgets != nil {
			s.budgets.RecordReject(c.ExtensionID)
		}
		if attempt >= s.cfg.Retry.Attempts {
			break
		}
		s.stats.add(&s.stats.retries)
		delay := s.cfg.Retry.Delay(attempt + 1)
		if delay > 0 {
			if err := s.clock.Sleep(s.ctx, delay); err != nil {
				break
			}
		}
	}

	s.mu.Lock()
	s.overflow = append(s.overflow, c)
	s.mu.Unlock()
	s.stats.add(&s.stats.spilled)
	s.logger.Warn("reactor full, completion spilled", "call_id", c.CallID.String(), "extension", c.ExtensionID.String())
}

// Drain returns up to budget completions. Spilled completions are older than
// anything still in the reactor, so they go first.
func (s *Scheduler) Drain(budget int) []hostcall.Completion {
	if budget <= 0 {
		return nil
	}

	s.mu.Lock()
	n := min(budget, len(s.overflow))
	out := make([]hostcall.Completion, 0, budget)
	out = append(out, s.overflow[:n]...)
	s.overflow = append(s.overflow[:0], s.overflow[n:]...)
	s.mu.Unlock()

	if rest := budget - len(out); rest > 0 {
		out = append(out, s.reactor.DrainGlobal(rest)...)
	}
	for _, c := range out {
		s.tracker.forget(c.CallID)
	}
	return out
}

// Cancel aborts a queued or running call. It reports whether the call was found.
func (s *Scheduler) Cancel(id values.CallID) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		s.stats.add(&s.stats.cancelled)
		cancel()
	}
	return ok
}

// Wait blocks until every accepted call has been delivered.
func (s *Scheduler) Wait() {
	_ = s.group.Wait()
}

// Stop cancels every outstanding call and waits for delivery.
func (s *Scheduler) Stop() {
	s.cancel()
	_ = s.group.Wait()
}

// Pending reports calls submitted but not yet completed.
func (s *Scheduler) Pending() int {
	return s.tracker.pending()
}

// Telemetry returns the scheduler counters.
func (s *Scheduler) Telemetry() Telemetry {
	t := s.stats.snapshot()
	t.Pending = s.tracker.pending()
	s.mu.Lock()
	t.OverflowDepth = len(s.overflow)
	s.mu.Unlock()
	return t
}
