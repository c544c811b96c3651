package subaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/planner"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
)

type stubPlanner struct {
	plan planner.Plan
}

func (p *stubPlanner) Plan(context.Context, string) (planner.Plan, error) { return p.plan, nil }
func (p *stubPlanner) Recover(context.Context, planner.RecoveryContext) ([]planner.TaskSpec, error) {
	return nil, nil
}

type fakeActionRunner struct {
	st      *inmem.Store
	summary string
}

// Start simulates the Supervisor immediately completing the child action
// with a single completed task bearing r.summary as its output.
func (r *fakeActionRunner) Start(ctx context.Context, actionID string) error {
	tasks, err := r.st.AllTasks(ctx, actionID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := r.st.SetTaskCompleted(ctx, t.ID, r.summary, store.TaskOutput{TaskID: t.ID, Text: r.summary}); err != nil {
			return err
		}
	}
	action, err := r.st.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	action.Status = store.ActionCompleted
	return r.st.UpdateAction(ctx, action)
}

func TestRunSpawnsChildActionAndReturnsItsSummary(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "parent", Depth: 0}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "parent", AgentType: "sub_action", Status: store.TaskPending},
	}))

	p := &stubPlanner{plan: planner.Plan{Title: "child", Tasks: []planner.TaskSpec{
		{Prompt: "do child work", AgentType: "general"},
	}}}
	ar := &fakeActionRunner{st: st, summary: "child result"}
	r := New(st, p, ar)

	var logLines []string
	res, err := r.Run(ctx, agentrunner.Request{
		TaskID: "t1",
		Prompt: "spawn a child",
		Log: func(_ context.Context, _, msg string) {
			logLines = append(logLines, msg)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "child result", res.Summary)
	assert.NotEmpty(t, res.SubActionID)

	childAction, err := st.GetAction(ctx, res.SubActionID)
	require.NoError(t, err)
	assert.Equal(t, 1, childAction.Depth)
	assert.Equal(t, "parent", childAction.ParentActionID)
	assert.NotEmpty(t, logLines)
}

func TestRunRejectsAtMaxDepth(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "deep", Depth: MaxDepth}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "deep", AgentType: "sub_action", Status: store.TaskPending},
	}))

	r := New(st, &stubPlanner{}, &fakeActionRunner{st: st})
	_, err := r.Run(ctx, agentrunner.Request{TaskID: "t1", Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth limit")
}
