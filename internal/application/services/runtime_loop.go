package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
)

// TickReport counts what one pass of the runtime loop moved.
type TickReport struct {
	Submitted int
	Rejected  int
	Completed int
	Ran       bool
}

// Idle reports whether the pass did no work.
func (r TickReport) Idle() bool {
	return r.Submitted == 0 && r.Rejected == 0 && r.Completed == 0 && !r.Ran
}

// RunOnce moves queued hostcalls from the engine to the scheduler, hands
// finished completions back to the engine and lets the engine run one
// macrotask.
func (m *ExtensionManager) RunOnce(ctx context.Context) (TickReport, error) {
	var report TickReport
	sched := m.currentScheduler()
	if sched == nil {
		return report, errors.New("no hostcall scheduler attached")
	}

	for _, req := range m.engine.DrainHostcallRequests() {
		err := sched.Submit(req)
		if errors.Is(err, hostcall.ErrDuplicateCall) {
			// The original call is still running and owns the completion.
			report.Rejected++
			m.logger.Warn("duplicate hostcall dropped", "call_id", req.CallID.String(), "extension", req.ExtensionID.String())
			continue
		}
		if err != nil {
			report.Rejected++
			m.logger.Warn("hostcall rejected", "call_id", req.CallID.String(), "extension", req.ExtensionID.String(), "error", err)
			m.complete(req.CallID.String(), func() error {
				return m.engine.CompleteHostcall(req.CallID, hostcall.Failuref(hostcall.CodeInternal, "Hostcall rejected: %v", err))
			})
			continue
		}
		report.Submitted++
	}

	for _, c := range sched.Drain(m.cfg.DrainBudget) {
		m.complete(c.CallID.String(), func() error {
			return m.engine.CompleteHostcall(c.CallID, c.Outcome)
		})
		report.Completed++
	}

	ran, err := m.engine.Tick(ctx)
	if err != nil {
		return report, fmt.Errorf("engine tick: %w", err)
	}
	report.Ran = ran
	return report, nil
}

func (m *ExtensionManager) complete(callID string, deliver func() error) {
	err := deliver()
	switch {
	case err == nil:
	case errors.Is(err, hostcall.ErrAlreadyCompleted):
		m.logger.Debug("duplicate completion ignored", "call_id", callID)
	default:
		m.logger.Warn("failed to complete hostcall", "call_id", callID, "error", err)
	}
}

// Run drives RunOnce until ctx ends, sleeping IdleInterval after passes that
// did nothing.
func (m *ExtensionManager) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		report, err := m.RunOnce(ctx)
		if err != nil {
			return err
		}
		if report.Idle() {
			if err := m.clock.Sleep(ctx, m.cfg.IdleInterval); err != nil {
				return nil
			}
		}
	}
}
