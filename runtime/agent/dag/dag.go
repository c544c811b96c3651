// Package dag implements one pass of DAG execution for an action: compute
// the tasks whose dependencies are satisfied, dispatch them concurrently
// through the Agent Runner registry, and persist their outcomes. Grounded
// on the reference implementation's _run_dag_pass/_run_task, replacing the
// asyncio.gather(return_exceptions=True) fan-out with
// golang.org/x/sync/errgroup and per-task panic/error containment so one
// task's failure never aborts its siblings.
package dag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/taskerrors"
	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

// PassOutcome summarizes what happened during one call to RunPass.
type PassOutcome struct {
	// Dispatched is the number of tasks that were run this pass.
	Dispatched int
	// AnyRunnable reports whether any task was either dispatched or
	// already running when the pass observed the DAG. The Supervisor uses
	// this to distinguish "drained" (no ready, nothing running) from
	// "still in flight".
	AnyRunnable bool
}

// Scheduler executes ready tasks for an action against a Store, dispatching
// each to its registered Runner and recording completion or failure.
type Scheduler struct {
	Store     store.Store
	Runners   *agentrunner.Registry
	Bus       eventbus.Bus
	Telemetry telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    telemetry.Tracer
}

// Option configures optional Scheduler dependencies beyond the required
// Store/Runners/Bus/Logger, following the runtime's WithX functional-option
// convention.
type Option func(*Scheduler)

// WithMetrics wires a Metrics recorder into the Scheduler. Defaults to a
// no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Scheduler) { s.Metrics = m }
}

// WithTracer wires a Tracer into the Scheduler so each RunPass is wrapped in
// a span. Defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(s *Scheduler) { s.Tracer = t }
}

// New constructs a Scheduler.
func New(st store.Store, runners *agentrunner.Registry, bus eventbus.Bus, logger telemetry.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		Store:     st,
		Runners:   runners,
		Bus:       bus,
		Telemetry: logger,
		Metrics:   telemetry.NewNoopMetrics(),
		Tracer:    telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunPass computes the ready set for actionID, flips failed-by-dependency
// tasks to failed, marks the ready set running, and dispatches each
// concurrently. It returns once dispatch for this pass completes; the
// caller (the Supervisor's recovery loop) re-invokes RunPass until a full
// pass dispatches nothing and nothing is left running.
func (s *Scheduler) RunPass(ctx context.Context, actionID string) (outcome PassOutcome, err error) {
	start := time.Now()
	ctx, span := s.Tracer.Start(ctx, "dag.RunPass")
	defer func() {
		s.Metrics.RecordTimer("dag.run_pass.duration", time.Since(start), "action_id", actionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tasks, err := s.Store.AllTasks(ctx, actionID)
	if err != nil {
		return PassOutcome{}, fmt.Errorf("dag: list tasks: %w", err)
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	running := false
	for _, t := range tasks {
		switch t.Status {
		case store.TaskCompleted:
			completed[t.ID] = true
		case store.TaskFailed:
			failed[t.ID] = true
		case store.TaskRunning:
			running = true
		}
	}

	var ready []store.Task
	for _, t := range tasks {
		if t.Status != store.TaskPending {
			continue
		}
		depsFailed := false
		depsMet := true
		for _, d := range t.Dependencies {
			if failed[d] {
				depsFailed = true
			}
			if !completed[d] {
				depsMet = false
			}
		}
		switch {
		case depsFailed:
			if err := s.Store.SetTaskFailed(ctx, t.ID, taskerrors.DependencyFailedMessage); err != nil {
				return PassOutcome{}, fmt.Errorf("dag: mark dependency-failed: %w", err)
			}
			s.publish(eventbus.NewTaskFailedEvent(actionID, t.ID, nowMillis(), taskerrors.DependencyFailedMessage))
			failed[t.ID] = true
		case depsMet:
			ready = append(ready, t)
		}
	}

	if len(ready) == 0 {
		return PassOutcome{AnyRunnable: running}, nil
	}

	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	sort.Strings(ids)
	if err := s.Store.MarkTasksRunning(ctx, actionID, ids); err != nil {
		return PassOutcome{}, fmt.Errorf("dag: mark running: %w", err)
	}

	upstream := make(map[string]map[string]string, len(ready))
	for _, t := range ready {
		out, err := MaterializeUpstreamOutputs(ctx, s.Store, t.Dependencies)
		if err != nil {
			return PassOutcome{}, fmt.Errorf("dag: materialize upstream outputs for %s: %w", t.ID, err)
		}
		upstream[t.ID] = out
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range ready {
		t := t
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.failTask(gctx, actionID, t.ID, fmt.Sprintf("task panicked: %v", r))
				}
			}()
			s.runTask(gctx, actionID, t, upstream[t.ID])
			return nil
		})
	}
	_ = g.Wait()

	s.Metrics.IncCounter("dag.tasks_dispatched", float64(len(ready)), "action_id", actionID)
	return PassOutcome{Dispatched: len(ready), AnyRunnable: true}, nil
}

// RunUntilDrained repeatedly calls RunPass until a pass dispatches nothing
// and observes nothing still running, mirroring the reference
// implementation's _run_dag_pass outer loop. Each dispatched batch is fully
// resolved (completed or failed) by the time RunPass returns, since dispatch
// blocks on errgroup.Wait. When a pass dispatches nothing but observes tasks
// already in the running state, RunUntilDrained waits pollInterval before the
// next pass; cancellation of ctx ends that wait immediately.
func (s *Scheduler) RunUntilDrained(ctx context.Context, actionID string) error {
	const pollInterval = 250 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := s.RunPass(ctx, actionID)
		if err != nil {
			return err
		}
		if outcome.Dispatched == 0 && !outcome.AnyRunnable {
			return nil
		}
		if outcome.Dispatched == 0 {
			timer := time.NewTimer(pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// runTask executes a single task and persists its outcome. Errors from the
// Runner or the Store are converted into a failed task status rather than
// propagated, so one task's failure never aborts its siblings in the same
// errgroup.
func (s *Scheduler) runTask(ctx context.Context, actionID string, t store.Task, upstream map[string]string) {
	s.publish(eventbus.NewTaskStartedEvent(actionID, t.ID, nowMillis()))

	runner, err := s.Runners.Get(t.AgentType)
	if err != nil {
		s.failTask(ctx, actionID, t.ID, err.Error())
		return
	}

	logSink := func(ctx context.Context, level, message string) {
		entry := store.LogEntry{TaskID: t.ID, Level: level, Message: message, Timestamp: time.Now()}
		if err := s.Store.AppendLog(ctx, entry); err != nil && s.Telemetry != nil {
			s.Telemetry.Warn(ctx, "failed to persist task log", "task_id", t.ID, "error", err)
		}
		s.publish(eventbus.NewLogAppendEvent(actionID, t.ID, nowMillis(), message))
	}

	result, err := runner.Run(ctx, agentrunner.Request{
		TaskID:          t.ID,
		Prompt:          t.Prompt,
		UpstreamOutputs: upstream,
		Model:           t.Model,
		Log:             logSink,
	})
	if err != nil {
		s.failTask(ctx, actionID, t.ID, err.Error())
		return
	}

	summary := result.Summary
	if summary == "" {
		summary = "Completed"
	}
	output := store.TaskOutput{TaskID: t.ID, Text: summary}
	for _, a := range result.Artifacts {
		output.Artifacts = append(output.Artifacts, a)
	}
	if err := s.Store.SetTaskCompleted(ctx, t.ID, summary, output); err != nil {
		if s.Telemetry != nil {
			s.Telemetry.Error(ctx, "failed to persist task completion", "task_id", t.ID, "error", err)
		}
		return
	}
	if result.SubActionID != "" {
		if err := s.Store.SetTaskSubAction(ctx, t.ID, result.SubActionID); err != nil && s.Telemetry != nil {
			s.Telemetry.Warn(ctx, "failed to record sub-action id", "task_id", t.ID, "error", err)
		}
	}
	s.publish(eventbus.NewTaskCompletedEvent(actionID, t.ID, nowMillis()))
}

func (s *Scheduler) failTask(ctx context.Context, actionID, taskID, message string) {
	if err := s.Store.SetTaskFailed(ctx, taskID, message); err != nil && s.Telemetry != nil {
		s.Telemetry.Error(ctx, "failed to persist task failure", "task_id", taskID, "error", err)
	}
	s.publish(eventbus.NewTaskFailedEvent(actionID, taskID, nowMillis(), message))
}

func (s *Scheduler) publish(event eventbus.Event) {
	if s.Bus != nil {
		s.Bus.Publish(event)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// MaterializeUpstreamOutputs resolves each dependency task's output text and
// appends any artifacts as Markdown: images become inline image tokens,
// other files become a linked list entry noting the mime type.
func MaterializeUpstreamOutputs(ctx context.Context, st store.Store, dependencyIDs []string) (map[string]string, error) {
	if len(dependencyIDs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(dependencyIDs))
	for _, depID := range dependencyIDs {
		output, err := st.GetTaskOutput(ctx, depID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		text := output.Text
		if len(output.Artifacts) > 0 {
			text += "\n\n**Artifacts from this task:**\n"
			for _, a := range output.Artifacts {
				if isImage(a.MimeType) {
					text += fmt.Sprintf("![%s](%s)\n", a.Type, a.URI)
				} else {
					text += fmt.Sprintf("- [%s: %s](%s)\n", a.Type, a.MimeType, a.URI)
				}
			}
		}
		out[depID] = text
	}
	return out, nil
}

func isImage(mimeType string) bool {
	return len(mimeType) >= 6 && mimeType[:6] == "image/"
}
