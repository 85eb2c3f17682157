package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/engine"
	"github.com/reglet-dev/exthost/internal/infrastructure/reactor"
)

func toolRequest(ext string) hostcall.Request {
	return hostcall.Request{
		CallID:      values.NewCallID(),
		ExtensionID: values.MustNewExtensionID(ext),
		Kind:        hostcall.ToolKind{Tool: "echo"},
		Payload:     json.RawMessage(`{}`),
	}
}

func TestRunOnce_RequiresScheduler(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	_, err := f.manager.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_MovesRequestsAndCompletions(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	sched := &stubScheduler{}
	f.manager.SetScheduler(sched)

	first, second := toolRequest("a"), toolRequest("b")
	f.engine.queue(first, second)

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Submitted)
	assert.Zero(t, report.Completed)
	require.Len(t, sched.submitted, 2)

	sched.completions = []hostcall.Completion{
		{CallID: first.CallID, Outcome: hostcall.Success(json.RawMessage(`1`))},
		{CallID: second.CallID, Outcome: hostcall.Failure(hostcall.CodeToolError, "nope")},
		// Duplicate completions are logged and dropped.
		{CallID: first.CallID, Outcome: hostcall.Success(json.RawMessage(`2`))},
	}

	report, err = f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Completed)

	out, ok := f.engine.outcome(first.CallID)
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(out.Value()))

	out, ok = f.engine.outcome(second.CallID)
	require.True(t, ok)
	assert.Equal(t, hostcall.CodeToolError, out.Code())

	report, err = f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Idle())
}

func TestRunOnce_RejectedSubmitCompletesWithFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.manager.SetScheduler(&stubScheduler{reject: true})

	req := toolRequest("a")
	f.engine.queue(req)

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)

	out, ok := f.engine.outcome(req.CallID)
	require.True(t, ok)
	assert.Equal(t, hostcall.CodeInternal, out.Code())
	assert.Contains(t, out.Error().Message, "Hostcall rejected")
}

func TestRunOnce_DuplicateInFlightKeepsOriginalOutcome(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	release := make(chan struct{})
	exec := engine.ExecutorFunc(func(ctx context.Context, _ hostcall.Request) hostcall.Outcome {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return hostcall.Success(json.RawMessage(`"real"`))
	})
	sched := engine.NewScheduler(context.Background(), exec, reactor.New(reactor.DefaultConfig()), engine.DefaultConfig(),
		engine.WithLogger(discardLogger()))
	defer sched.Stop()
	f.manager.SetScheduler(sched)

	req := toolRequest("a")
	f.engine.queue(req, req)

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Rejected)

	_, ok := f.engine.outcome(req.CallID)
	assert.False(t, ok, "duplicate must not complete the running call")

	close(release)
	sched.Wait()

	report, err = f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	out, ok := f.engine.outcome(req.CallID)
	require.True(t, ok)
	assert.True(t, out.IsSuccess())
	assert.JSONEq(t, `"real"`, string(out.Value()))
}

func TestRunOnce_DrainBudget(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.manager.cfg.DrainBudget = 2
	sched := &stubScheduler{}
	f.manager.SetScheduler(sched)

	for range 5 {
		sched.completions = append(sched.completions, hostcall.Completion{
			CallID:  values.NewCallID(),
			Outcome: hostcall.Success(nil),
		})
	}

	report, err := f.manager.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	assert.Len(t, sched.completions, 3)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.manager.SetScheduler(&stubScheduler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	require.Eventually(t, func() bool { return f.clock.Pending() > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}
