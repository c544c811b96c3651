package invalidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
)

func TestDownstreamResetsTransitiveDependents(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a1", Status: store.TaskCompleted, OutputSummary: "out1"},
		{ID: "t2", ActionID: "a1", Status: store.TaskCompleted, OutputSummary: "out2", Dependencies: []string{"t1"}},
		{ID: "t3", ActionID: "a1", Status: store.TaskCompleted, OutputSummary: "out3", Dependencies: []string{"t2"}},
		{ID: "unrelated", ActionID: "a1", Status: store.TaskCompleted, OutputSummary: "keep me"},
	}))

	reset, err := Downstream(ctx, st, "a1", "t1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, reset)

	t1, _ := st.GetTask(ctx, "t1")
	assert.Equal(t, store.TaskPending, t1.Status)
	assert.Empty(t, t1.OutputSummary)

	t2, _ := st.GetTask(ctx, "t2")
	assert.Equal(t, store.TaskPending, t2.Status)
	assert.Empty(t, t2.OutputSummary)

	t3, _ := st.GetTask(ctx, "t3")
	assert.Equal(t, store.TaskPending, t3.Status)

	unrelated, _ := st.GetTask(ctx, "unrelated")
	assert.Equal(t, store.TaskCompleted, unrelated.Status)
	assert.Equal(t, "keep me", unrelated.OutputSummary)
}

func TestDownstreamResetsOnlyTheInvalidatedTaskWhenItHasNoDependents(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "leaf", ActionID: "a1", Status: store.TaskCompleted, OutputSummary: "stale"},
	}))

	reset, err := Downstream(ctx, st, "a1", "leaf")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf"}, reset)

	leaf, _ := st.GetTask(ctx, "leaf")
	assert.Equal(t, store.TaskPending, leaf.Status)
	assert.Empty(t, leaf.OutputSummary)
}

func TestDownstreamCascadeDeletesSubActionsOfInvalidatedTasks(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "child", Title: "child action"}))
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "grandchild", Title: "grandchild action"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "a1", Status: store.TaskCompleted},
		{ID: "t2", ActionID: "a1", Status: store.TaskCompleted, Dependencies: []string{"t1"}, SubActionID: "child"},
		{ID: "c1", ActionID: "child", Status: store.TaskCompleted, SubActionID: "grandchild"},
		{ID: "g1", ActionID: "grandchild", Status: store.TaskCompleted},
	}))

	_, err := Downstream(ctx, st, "a1", "t1")
	require.NoError(t, err)

	_, err = st.GetAction(ctx, "child")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAction(ctx, "grandchild")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetTask(ctx, "g1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCascadeDeleteActionRemovesDescendantActions(t *testing.T) {
	st := inmem.New()
	ctx := context.Background()
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "root"}))
	require.NoError(t, st.CreateAction(ctx, store.Action{ID: "child"}))
	require.NoError(t, st.CreateTasks(ctx, []store.Task{
		{ID: "r1", ActionID: "root", SubActionID: "child"},
		{ID: "c1", ActionID: "child"},
	}))

	require.NoError(t, CascadeDeleteAction(ctx, st, "root"))

	_, err := st.GetAction(ctx, "root")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAction(ctx, "child")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
