// Package planner defines the contract between the orchestration core and
// the LLM-driven (or otherwise pluggable) component that turns a natural
// language prompt into a task DAG, and later proposes replacement tasks
// when the Recovery Coordinator detects a root-cause failure.
package planner

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/runtime/agent/store"
)

type (
	// Planner builds the initial task DAG for an action and proposes repair
	// plans when a task fails. Implementations are expected to wrap an LLM
	// client; the reference implementation lives in planner/llmplanner.
	Planner interface {
		// Plan turns prompt into an initial task DAG. The returned tasks'
		// Dependencies are indices into the same Plan's Tasks and must form
		// a DAG (no cycles); Materialize rejects out-of-range indices, and
		// the Scheduler does not check for cycles.
		Plan(ctx context.Context, prompt string) (Plan, error)

		// Recover is invoked by the Recovery Coordinator once per root-cause
		// task failure. It returns 1-3 replacement TaskSpecs: a single
		// replacement is patched in place (same dependents rewired to it),
		// while 2-3 replacements are treated as a sub-DAG that collectively
		// replaces the failed task, with the first spec's dependencies
		// taking over the failed task's upstream edges and the last spec
		// feeding every downstream dependent. An empty return (with a nil
		// error) means the planner judged the failure non-recoverable.
		Recover(ctx context.Context, recoveryCtx RecoveryContext) ([]TaskSpec, error)
	}

	// Plan is the DAG a Planner proposes for a new action.
	Plan struct {
		// Title is a short human-readable label for the action.
		Title string
		// Tasks enumerates every task in the DAG. Order is significant:
		// each TaskSpec's Dependencies refer to other tasks by their index
		// in this slice.
		Tasks []TaskSpec
	}

	// TaskSpec describes one task to create, before it has been assigned a
	// store-generated ID.
	TaskSpec struct {
		// Prompt is the natural-language instruction handed to the Agent
		// Runner for this task.
		Prompt string
		// AgentType selects which Agent Runner implementation executes the
		// task (e.g. "general", "report", "code_execution", "sub_action").
		AgentType string
		// Model optionally overrides the default model for AgentType.
		Model string
		// Dependencies lists the zero-based indices, within the same Plan
		// or recovery response, of tasks this one depends on. Materialize
		// resolves indices to store-assigned task IDs. The Recovery
		// Coordinator does not read this field; it wires replacement tasks
		// to the failed task's edges itself.
		Dependencies []int
	}

	// RecoveryContext carries everything a Planner needs to propose a
	// repair for a single root-cause task failure.
	RecoveryContext struct {
		// Action is the action the failed task belongs to.
		Action store.Action
		// FailedTask is the task that failed at the root cause (never a
		// task whose failure was merely transitive).
		FailedTask store.Task
		// FailureMessage is the error message the Agent Runner reported.
		FailureMessage string
		// UpstreamOutputs maps each completed dependency of FailedTask to
		// its OutputSummary, truncated and without artifact references, so
		// the Planner can reason about what input led to the failure.
		UpstreamOutputs map[string]string
		// DownstreamDependents lists the tasks (by ID) that directly depend
		// on FailedTask, so a multi-replacement plan can be validated
		// against the edges it needs to preserve.
		DownstreamDependents []string
		// Attempt is the 1-based recovery attempt number for the action;
		// every failed task handled in the same pass gets the same number.
		Attempt int
	}
)

// Materialize resolves a Plan's index-based dependencies into store.Task
// rows ready for Store.CreateTasks, assigning each task a fresh ID via
// newID. Used both when a new action's initial DAG is created and when the
// Sub-Action runner plans a child action.
func Materialize(actionID string, plan Plan, newID func() string) ([]store.Task, error) {
	ids := make([]string, len(plan.Tasks))
	for i := range plan.Tasks {
		ids[i] = newID()
	}
	tasks := make([]store.Task, len(plan.Tasks))
	for i, spec := range plan.Tasks {
		deps := make([]string, 0, len(spec.Dependencies))
		for _, idx := range spec.Dependencies {
			if idx < 0 || idx >= len(ids) {
				return nil, fmt.Errorf("planner: task %d references out-of-range dependency index %d", i, idx)
			}
			deps = append(deps, ids[idx])
		}
		tasks[i] = store.Task{
			ID:           ids[i],
			ActionID:     actionID,
			Prompt:       spec.Prompt,
			AgentType:    spec.AgentType,
			Model:        spec.Model,
			Dependencies: deps,
			Status:       store.TaskPending,
		}
	}
	return tasks, nil
}
