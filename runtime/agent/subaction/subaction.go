// Package subaction implements the "sub_action" agent type: a task that
// spawns a child Action with its own planner-generated DAG, runs it to
// completion, and folds its output back into the parent task's result.
// Grounded on the reference implementation's SubActionAgent, with the
// depth guard enforced via taskerrors.DepthLimitError instead of a bare
// exception.
package subaction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/planner"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/taskerrors"
)

// MaxDepth bounds sub-action recursion, mirroring the reference
// implementation's hardcoded limit of 3.
const MaxDepth = 3

// ActionRunner starts a child action and blocks until it reaches a
// terminal state. Satisfied by *supervisor.Supervisor; declared narrowly
// here so subaction does not import the supervisor package.
// cmd/orchestratorctl builds this runner on the Supervisor and registers it.
type ActionRunner interface {
	Start(ctx context.Context, actionID string) error
}

// Runner implements agentrunner.Runner for the sub_action agent type.
type Runner struct {
	Store      store.Store
	Planner    planner.Planner
	Supervisor ActionRunner
}

// New constructs a Runner.
func New(st store.Store, p planner.Planner, sup ActionRunner) *Runner {
	return &Runner{Store: st, Planner: p, Supervisor: sup}
}

// Run plans and executes a child action for req, returning the summary of
// the child's most recently updated completed task as this task's own
// summary (a fixed placeholder when no completed task has one).
func (r *Runner) Run(ctx context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	task, err := r.Store.GetTask(ctx, req.TaskID)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: get task: %w", err)
	}
	parent, err := r.Store.GetAction(ctx, task.ActionID)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: get parent action: %w", err)
	}
	if parent.Depth >= MaxDepth {
		return agentrunner.Result{}, taskerrors.DepthLimitError(parent.Depth, MaxDepth)
	}

	combinedPrompt := buildCombinedPrompt(req)

	plan, err := r.Planner.Plan(ctx, combinedPrompt)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: plan child action: %w", err)
	}

	childID := uuid.NewString()
	childAction := store.Action{
		ID:             childID,
		Title:          "Sub: " + truncate(req.Prompt, 80),
		RootPrompt:     combinedPrompt,
		Status:         store.ActionDraft,
		ParentActionID: parent.ID,
		ParentTaskID:   req.TaskID,
		OutputContract: req.Prompt,
		Depth:          parent.Depth + 1,
	}
	if err := r.Store.CreateAction(ctx, childAction); err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: create child action: %w", err)
	}

	childTasks, err := planner.Materialize(childID, plan, uuid.NewString)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: materialize child plan: %w", err)
	}
	if err := r.Store.CreateTasks(ctx, childTasks); err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: create child tasks: %w", err)
	}

	if req.Log != nil {
		req.Log(ctx, "info", fmt.Sprintf("spawned sub-action %s: %s", childID, truncate(req.Prompt, 60)))
	}

	if err := r.Supervisor.Start(ctx, childID); err != nil {
		return agentrunner.Result{}, fmt.Errorf("subaction: run child action: %w", err)
	}

	if req.Log != nil {
		req.Log(ctx, "info", fmt.Sprintf("sub-action %s finished", childID))
	}

	summary, err := r.collectSummary(ctx, childID)
	if err != nil {
		return agentrunner.Result{}, err
	}
	return agentrunner.Result{Summary: summary, SubActionID: childID}, nil
}

func (r *Runner) collectSummary(ctx context.Context, childID string) (string, error) {
	tasks, err := r.Store.AllTasks(ctx, childID)
	if err != nil {
		return "", fmt.Errorf("subaction: list child tasks: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt) })
	for _, t := range tasks {
		if t.Status == store.TaskCompleted && t.OutputSummary != "" {
			return t.OutputSummary, nil
		}
	}
	return "Sub-action completed (no output)", nil
}

func buildCombinedPrompt(req agentrunner.Request) string {
	if len(req.UpstreamOutputs) == 0 {
		return req.Prompt
	}
	ids := make([]string, 0, len(req.UpstreamOutputs))
	for id := range req.UpstreamOutputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var parts []string
	for _, id := range ids {
		if text := req.UpstreamOutputs[id]; text != "" {
			parts = append(parts, fmt.Sprintf("[Context from upstream task %s]\n%s", id, text))
		}
	}
	if len(parts) == 0 {
		return req.Prompt
	}
	return strings.Join(parts, "\n\n") + "\n\n" + req.Prompt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
