package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
)

func TestActionCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	action := store.Action{ID: "action-1", Title: "demo", Status: store.ActionDraft}
	require.NoError(t, s.CreateAction(ctx, action))

	got, err := s.GetAction(ctx, "action-1")
	require.NoError(t, err)
	require.Equal(t, store.ActionDraft, got.Status)

	got.Status = store.ActionRunning
	require.NoError(t, s.UpdateAction(ctx, got))

	got, err = s.GetAction(ctx, "action-1")
	require.NoError(t, err)
	require.Equal(t, store.ActionRunning, got.Status)
}

func TestGetActionNotFound(t *testing.T) {
	s := inmem.New()
	_, err := s.GetAction(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	tasks := []store.Task{
		{ID: "t1", ActionID: "action-1", Status: store.TaskPending},
		{ID: "t2", ActionID: "action-1", Status: store.TaskPending, Dependencies: []string{"t1"}},
	}
	require.NoError(t, s.CreateTasks(ctx, tasks))

	snapshot, err := s.AllTasks(ctx, "action-1")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	require.NoError(t, s.MarkTasksRunning(ctx, "action-1", []string{"t1"}))
	t1, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.TaskRunning, t1.Status)

	require.NoError(t, s.SetTaskCompleted(ctx, "t1", "done", store.TaskOutput{ID: "o1", TaskID: "t1", Text: "done"}))
	t1, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.TaskCompleted, t1.Status)

	output, err := s.GetTaskOutput(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "done", output.Text)

	require.NoError(t, s.SetTaskFailed(ctx, "t2", "boom"))
	t2, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, t2.Status)
	require.Equal(t, "boom", t2.OutputSummary)

	require.NoError(t, s.ResetTasks(ctx, []string{"t2"}))
	t2, err = s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, t2.Status)
	require.Empty(t, t2.OutputSummary)
}

func TestReplaceTasksRewiresDependents(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	require.NoError(t, s.CreateTasks(ctx, []store.Task{
		{ID: "t1", ActionID: "action-1", Status: store.TaskFailed},
		{ID: "t2", ActionID: "action-1", Status: store.TaskPending, Dependencies: []string{"t1"}},
	}))

	replacement := store.Task{ID: "t1-retry", ActionID: "action-1", Status: store.TaskPending}
	require.NoError(t, s.ReplaceTasks(ctx, "action-1", []string{"t1"}, []store.Task{replacement}, map[string]string{"t1": "t1-retry"}))

	_, err := s.GetTask(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	t2, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, []string{"t1-retry"}, t2.Dependencies)
}

func TestSetTaskSubActionRecordsChildActionID(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	require.NoError(t, s.CreateTasks(ctx, []store.Task{{ID: "t1", ActionID: "action-1"}}))

	require.NoError(t, s.SetTaskSubAction(ctx, "t1", "child-action"))
	t1, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "child-action", t1.SubActionID)
}

func TestDeleteActionRemovesItsTasksOutputsAndLogs(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	require.NoError(t, s.CreateAction(ctx, store.Action{ID: "action-1"}))
	require.NoError(t, s.CreateTasks(ctx, []store.Task{{ID: "t1", ActionID: "action-1"}}))
	require.NoError(t, s.SetTaskCompleted(ctx, "t1", "done", store.TaskOutput{TaskID: "t1", Text: "done"}))
	require.NoError(t, s.AppendLog(ctx, store.LogEntry{TaskID: "t1", Message: "line"}))

	require.NoError(t, s.DeleteAction(ctx, "action-1"))

	_, err := s.GetAction(ctx, "action-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTask(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTaskOutput(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
	logs, err := s.ListLogs(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestAppendAndListLogs(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	require.NoError(t, s.AppendLog(ctx, store.LogEntry{TaskID: "t1", Level: "info", Message: "first"}))
	require.NoError(t, s.AppendLog(ctx, store.LogEntry{TaskID: "t1", Level: "info", Message: "second"}))

	entries, err := s.ListLogs(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Message)
	require.Equal(t, "second", entries[1].Message)
}
