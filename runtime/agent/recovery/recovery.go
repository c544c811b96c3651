// Package recovery implements the Recovery Coordinator: for each
// root-cause-failed task in an action (skipping tasks that only failed
// transitively), ask the Planner for a replacement and patch the DAG
// in-place or by splitting into new tasks with rewired dependents.
// Grounded on the reference implementation's _attempt_recovery and
// _collect_downstream, with MAX_RECOVERY_ATTEMPTS enforced by the
// Supervisor's recovery loop rather than here.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/planner"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/taskerrors"
	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

const maxUpstreamSummaryChars = 400

// Coordinator attempts to repair failed tasks in an action's DAG by
// consulting a Planner for replacement tasks.
type Coordinator struct {
	Store     store.Store
	Planner   planner.Planner
	Bus       eventbus.Bus
	Telemetry telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    telemetry.Tracer
}

// Option configures optional Coordinator dependencies, following the
// runtime's WithX functional-option convention.
type Option func(*Coordinator)

// WithMetrics wires a Metrics recorder into the Coordinator. Defaults to a
// no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Coordinator) { c.Metrics = m }
}

// WithTracer wires a Tracer into the Coordinator so each Attempt is wrapped
// in a span. Defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(c *Coordinator) { c.Tracer = t }
}

// New constructs a Coordinator.
func New(st store.Store, p planner.Planner, bus eventbus.Bus, logger telemetry.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		Store:     st,
		Planner:   p,
		Bus:       bus,
		Telemetry: logger,
		Metrics:   telemetry.NewNoopMetrics(),
		Tracer:    telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attempt runs one recovery pass over actionID's failed tasks. It returns
// true if at least one root-cause task was patched with a replacement plan;
// only then are tasks carrying the "Dependency failed" sentinel reset.
func (c *Coordinator) Attempt(ctx context.Context, actionID string, attempt int) (recovered bool, err error) {
	start := time.Now()
	ctx, span := c.Tracer.Start(ctx, "recovery.Attempt")
	span.AddEvent("attempt started", "action_id", actionID, "attempt", attempt)
	defer func() {
		c.Metrics.RecordTimer("recovery.attempt.duration", time.Since(start), "action_id", actionID)
		c.Metrics.IncCounter("recovery.attempts", 1, "action_id", actionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	action, err := c.Store.GetAction(ctx, actionID)
	if err != nil {
		return false, fmt.Errorf("recovery: get action: %w", err)
	}
	allTasks, err := c.Store.AllTasks(ctx, actionID)
	if err != nil {
		return false, fmt.Errorf("recovery: list tasks: %w", err)
	}

	taskByID := make(map[string]store.Task, len(allTasks))
	dependents := make(map[string][]string, len(allTasks))
	for _, t := range allTasks {
		taskByID[t.ID] = t
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	recoveredAny := false
	for _, t := range allTasks {
		if t.Status != store.TaskFailed || t.OutputSummary == taskerrors.DependencyFailedMessage {
			continue
		}

		upstream := make(map[string]string)
		for _, depID := range t.Dependencies {
			if dep, ok := taskByID[depID]; ok && dep.Status == store.TaskCompleted && dep.OutputSummary != "" {
				upstream[depID] = truncate(dep.OutputSummary, maxUpstreamSummaryChars)
			}
		}

		specs, err := c.Planner.Recover(ctx, planner.RecoveryContext{
			Action:               action,
			FailedTask:           t,
			FailureMessage:       t.OutputSummary,
			UpstreamOutputs:      upstream,
			DownstreamDependents: collectDownstream(t.ID, dependents),
			Attempt:              attempt,
		})
		if err != nil {
			return recoveredAny, fmt.Errorf("recovery: plan recovery for task %s: %w", t.ID, err)
		}
		if len(specs) == 0 {
			if c.Telemetry != nil {
				c.Telemetry.Warn(ctx, "recovery planner returned no replacement", "task_id", t.ID, "agent_type", t.AgentType)
			}
			continue
		}

		downstream := collectDownstream(t.ID, dependents)
		replacementTypes := make([]string, len(specs))
		for i, s := range specs {
			replacementTypes[i] = s.AgentType
		}

		if len(specs) == 1 {
			if err := c.patchInPlace(ctx, t, specs[0], downstream); err != nil {
				return recoveredAny, err
			}
		} else {
			if err := c.patchSplit(ctx, actionID, t, specs, dependents[t.ID], downstream); err != nil {
				return recoveredAny, err
			}
		}

		recoveredAny = true
		c.publishRecovered(actionID, t.ID, attempt, t.AgentType, replacementTypes)
	}

	if recoveredAny {
		if err := c.clearStaleDependencyFailures(ctx, actionID); err != nil {
			return recoveredAny, err
		}
	}

	if recoveredAny {
		c.Metrics.IncCounter("recovery.tasks_recovered", 1, "action_id", actionID)
	}
	return recoveredAny, nil
}

// patchInPlace reuses the failed task's ID and dependencies, updating only
// its prompt/agent type/model, and resets any downstream task that had
// failed transitively because of it.
func (c *Coordinator) patchInPlace(ctx context.Context, failed store.Task, spec planner.TaskSpec, downstream []string) error {
	replacement := failed
	replacement.Status = store.TaskPending
	replacement.OutputSummary = ""
	replacement.AgentType = spec.AgentType
	replacement.Prompt = spec.Prompt
	replacement.Model = spec.Model

	rewire := map[string]string{failed.ID: failed.ID}
	resetIDs := make([]string, 0, len(downstream))
	for _, id := range downstream {
		resetIDs = append(resetIDs, id)
	}

	if err := c.Store.ReplaceTasks(ctx, failed.ActionID, []string{failed.ID}, []store.Task{replacement}, rewire); err != nil {
		return fmt.Errorf("recovery: patch task %s in place: %w", failed.ID, err)
	}
	if len(resetIDs) > 0 {
		if err := c.Store.ResetTasks(ctx, resetIDs); err != nil {
			return fmt.Errorf("recovery: reset downstream of %s: %w", failed.ID, err)
		}
	}
	return nil
}

// patchSplit replaces the failed task with a chain of new tasks: the first
// inherits the failed task's dependencies, each subsequent one depends on
// its predecessor, and every task that depended on the failed task is
// rewired to depend on the last new task instead.
func (c *Coordinator) patchSplit(ctx context.Context, actionID string, failed store.Task, specs []planner.TaskSpec, directDependents []string, downstream []string) error {
	newTasks := make([]store.Task, len(specs))
	var prevID string
	for i, spec := range specs {
		deps := failed.Dependencies
		if i > 0 {
			deps = []string{prevID}
		}
		id := uuid.NewString()
		newTasks[i] = store.Task{
			ID:           id,
			ActionID:     actionID,
			Prompt:       spec.Prompt,
			AgentType:    spec.AgentType,
			Model:        spec.Model,
			Dependencies: deps,
			Status:       store.TaskPending,
		}
		prevID = id
	}

	rewireTo := map[string]string{failed.ID: prevID}
	if err := c.Store.ReplaceTasks(ctx, actionID, []string{failed.ID}, newTasks, rewireTo); err != nil {
		return fmt.Errorf("recovery: split-replace task %s: %w", failed.ID, err)
	}

	resetIDs := append(append([]string{}, directDependents...), downstream...)
	if len(resetIDs) > 0 {
		if err := c.Store.ResetTasks(ctx, dedupe(resetIDs)); err != nil {
			return fmt.Errorf("recovery: reset downstream of %s: %w", failed.ID, err)
		}
	}
	return nil
}

// clearStaleDependencyFailures resets every task still marked failed with the
// "Dependency failed" sentinel. Attempt calls it only after a root cause was
// patched; RunPass re-evaluates each reset task on the next pass and fails it
// again if one of its dependencies is still failed.
func (c *Coordinator) clearStaleDependencyFailures(ctx context.Context, actionID string) error {
	tasks, err := c.Store.AllTasks(ctx, actionID)
	if err != nil {
		return fmt.Errorf("recovery: list tasks for cleanup: %w", err)
	}
	var stale []string
	for _, t := range tasks {
		if t.Status == store.TaskFailed && t.OutputSummary == taskerrors.DependencyFailedMessage {
			stale = append(stale, t.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return c.Store.ResetTasks(ctx, stale)
}

func (c *Coordinator) publishRecovered(actionID, taskID string, attempt int, originalAgentType string, replacementTypes []string) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(eventbus.NewTaskRecoveredEvent(actionID, taskID, nowMillis(), attempt, originalAgentType, replacementTypes))
}

func collectDownstream(taskID string, dependents map[string][]string) []string {
	visited := make(map[string]struct{})
	queue := append([]string{}, dependents[taskID]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}
		queue = append(queue, dependents[current]...)
	}
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
