package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/dag"
	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/planner"
	"github.com/agentflow/orchestrator/runtime/agent/recovery"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
)

type stubRunner struct {
	err error
}

func (r *stubRunner) Run(_ context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	if r.err != nil {
		return agentrunner.Result{}, r.err
	}
	return agentrunner.Result{Summary: "ok"}, nil
}

type neverRecoverPlanner struct{}

func (neverRecoverPlanner) Plan(context.Context, string) (planner.Plan, error) { return planner.Plan{}, nil }
func (neverRecoverPlanner) Recover(context.Context, planner.RecoveryContext) ([]planner.TaskSpec, error) {
	return nil, nil
}

type alwaysRecoverPlanner struct{ calls int }

func (p *alwaysRecoverPlanner) Plan(context.Context, string) (planner.Plan, error) { return planner.Plan{}, nil }
func (p *alwaysRecoverPlanner) Recover(context.Context, planner.RecoveryContext) ([]planner.TaskSpec, error) {
	p.calls++
	return []planner.TaskSpec{{Prompt: "retry", AgentType: "general"}}, nil
}

func newFixture(t *testing.T) (*inmem.Store, *agentrunner.Registry, eventbus.Bus) {
	t.Helper()
	return inmem.New(), agentrunner.NewRegistry(), eventbus.New()
}

func TestStartCompletesActionWhenAllTasksSucceed(t *testing.T) {
	st, registry, bus := newFixture(t)
	registry.Register("general", &stubRunner{})

	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "a1"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a1", AgentType: "general", Status: store.TaskPending},
	}))

	sched := dag.New(st, registry, bus, nil)
	coord := recovery.New(st, neverRecoverPlanner{}, bus, nil)
	sup := New(st, sched, coord, bus, nil)

	require.NoError(t, sup.Start(ctx, "a1"))

	action, err := st.GetAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, store.ActionCompleted, action.Status)
}

func TestStartFailsActionWhenRecoveryExhausted(t *testing.T) {
	st, registry, bus := newFixture(t)
	registry.Register("general", &stubRunner{err: assertErr{"boom"}})

	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "a2"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a2", AgentType: "general", Status: store.TaskPending},
	}))

	sched := dag.New(st, registry, bus, nil)
	coord := recovery.New(st, neverRecoverPlanner{}, bus, nil)
	sup := New(st, sched, coord, bus, nil)

	require.NoError(t, sup.Start(ctx, "a2"))

	action, err := st.GetAction(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, action.Status)
}

func TestStartRecoversAndEventuallyFailsAtAttemptLimit(t *testing.T) {
	st, registry, bus := newFixture(t)
	registry.Register("general", &stubRunner{err: assertErr{"boom"}})

	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "a3"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a3", AgentType: "general", Status: store.TaskPending},
	}))

	sched := dag.New(st, registry, bus, nil)
	planner := &alwaysRecoverPlanner{}
	coord := recovery.New(st, planner, bus, nil)
	sup := New(st, sched, coord, bus, nil)

	require.NoError(t, sup.Start(ctx, "a3"))

	action, err := st.GetAction(ctx, "a3")
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, action.Status)
	assert.Equal(t, MaxRecoveryAttempts, action.RetryCount)
	assert.Equal(t, MaxRecoveryAttempts, planner.calls)
}

func TestCancelResetsActionToDraft(t *testing.T) {
	st, registry, bus := newFixture(t)
	registry.Register("general", &stubRunner{})

	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "a4"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a4", AgentType: "general", Status: store.TaskPending},
	}))

	sched := dag.New(st, registry, bus, nil)
	coord := recovery.New(st, neverRecoverPlanner{}, bus, nil)
	sup := New(st, sched, coord, bus, nil)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := sup.Start(cancelCtx, "a4")
	assert.ErrorIs(t, err, context.Canceled)

	action, err := st.GetAction(ctx, "a4")
	require.NoError(t, err)
	assert.Equal(t, store.ActionDraft, action.Status)
}

// blockingRunner signals started once invoked, then blocks until ctx is
// cancelled or unblock is closed, simulating an in-flight task that a
// preemption must wait on.
type blockingRunner struct {
	started chan struct{}
	unblock chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, _ agentrunner.Request) (agentrunner.Result, error) {
	close(r.started)
	select {
	case <-ctx.Done():
		return agentrunner.Result{}, ctx.Err()
	case <-r.unblock:
		return agentrunner.Result{Summary: "ok"}, nil
	}
}

func TestStartPreemptsPriorRunAndWaitsForItToFullyStopBeforeRestarting(t *testing.T) {
	st, registry, bus := newFixture(t)
	started := make(chan struct{})
	registry.Register("general", &blockingRunner{started: started, unblock: make(chan struct{})})

	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "a5"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a5", AgentType: "general", Status: store.TaskPending},
	}))

	sched := dag.New(st, registry, bus, nil)
	coord := recovery.New(st, neverRecoverPlanner{}, bus, nil)
	sup := New(st, sched, coord, bus, nil)

	firstDone := make(chan struct{})
	go func() {
		_ = sup.Start(ctx, "a5")
		close(firstDone)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached its task")
	}

	// Start again for the same action ID: this must preempt (cancel) the
	// first run and block until it has actually returned before proceeding,
	// not merely request cancellation and race ahead.
	done := make(chan struct{})
	go func() {
		_ = sup.Start(ctx, "a5")
		close(done)
	}()

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("preemption never cancelled the first run")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Start never completed")
	}

	action, err := st.GetAction(ctx, "a5")
	require.NoError(t, err)
	assert.Equal(t, store.ActionFailed, action.Status)
}

func TestStaleRunCleanupDoesNotEvictSuccessorEntry(t *testing.T) {
	sup := &Supervisor{running: make(map[string]*runEntry)}

	stale := &runEntry{cancel: func() {}, done: make(chan struct{})}
	sup.running["a1"] = stale

	// A successor registered before the stale run's cleanup ran.
	successor := &runEntry{cancel: func() {}, done: make(chan struct{})}
	sup.running["a1"] = successor

	// The stale run's deferred cleanup must only evict its own entry.
	sup.mu.Lock()
	if sup.running["a1"] == stale {
		delete(sup.running, "a1")
	}
	sup.mu.Unlock()

	assert.Same(t, successor, sup.running["a1"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
