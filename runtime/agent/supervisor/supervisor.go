// Package supervisor implements the Action Supervisor: it owns the
// single-active-execution-per-action-ID invariant and drives the recovery
// loop (DAG pass, evaluate outcome, attempt recovery, repeat) until the
// action completes, fails permanently, or is cancelled. Grounded on the
// reference implementation's run_action/_execute_dag and its
// _running_executors cancellation-tracking dict.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/runtime/agent/dag"
	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/recovery"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

// MaxRecoveryAttempts bounds how many times the Supervisor will ask the
// Recovery Coordinator to repair an action's DAG before giving up,
// mirroring the reference implementation's MAX_RECOVERY_ATTEMPTS.
const MaxRecoveryAttempts = 2

type (
	// Supervisor runs actions to completion and enforces that at most one
	// execution is in flight per action ID at a time.
	Supervisor struct {
		Store     store.Store
		Scheduler *dag.Scheduler
		Recovery  *recovery.Coordinator
		Bus       eventbus.Bus
		Telemetry telemetry.Logger

		mu      sync.Mutex
		running map[string]*runEntry
	}

	// runEntry tracks one in-flight Start call for an action ID: cancel
	// preempts it, and done closes once Start has actually returned, so a
	// preemptor can block until the prior run has fully stopped rather than
	// merely requested to stop.
	runEntry struct {
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// New constructs a Supervisor.
func New(st store.Store, sched *dag.Scheduler, rec *recovery.Coordinator, bus eventbus.Bus, logger telemetry.Logger) *Supervisor {
	return &Supervisor{
		Store:     st,
		Scheduler: sched,
		Recovery:  rec,
		Bus:       bus,
		Telemetry: logger,
		running:   make(map[string]*runEntry),
	}
}

// Start begins (or restarts) execution of actionID. Any execution already
// in flight for this action is cancelled and awaited before the new one
// begins, matching the reference implementation's preemption semantics.
// Start returns once the action reaches a terminal state or ctx is done;
// callers that want fire-and-forget semantics should call it from their own
// goroutine.
func (s *Supervisor) Start(ctx context.Context, actionID string) error {
	s.preempt(actionID)

	runCtx, cancel := context.WithCancel(ctx)
	entry := &runEntry{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[actionID] = entry
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		// Only evict our own entry. A successor's preempt() call blocks on
		// entry.done, which we close below only after this check, so a
		// successor can never have registered before this delete runs; the
		// identity check is still kept as a defensive invariant.
		if s.running[actionID] == entry {
			delete(s.running, actionID)
		}
		s.mu.Unlock()
		close(entry.done)
	}()

	return s.execute(runCtx, actionID)
}

// Cancel stops the in-flight execution of actionID, if any, and blocks until
// it has fully stopped. The cancelled run resets the action to draft status.
func (s *Supervisor) Cancel(actionID string) {
	s.preempt(actionID)
}

// preempt cancels any execution currently registered for actionID and waits
// for it to observe cancellation and return, so callers (Start registering a
// successor, or an explicit Cancel) never race a prior run's cleanup.
func (s *Supervisor) preempt(actionID string) {
	s.mu.Lock()
	entry := s.running[actionID]
	s.mu.Unlock()
	if entry == nil {
		return
	}
	entry.cancel()
	<-entry.done
}

func (s *Supervisor) execute(ctx context.Context, actionID string) error {
	action, err := s.Store.GetAction(ctx, actionID)
	if err != nil {
		return fmt.Errorf("supervisor: get action: %w", err)
	}
	action.Status = store.ActionRunning
	if err := s.Store.UpdateAction(ctx, action); err != nil {
		return fmt.Errorf("supervisor: mark action running: %w", err)
	}
	s.publish(eventbus.NewActionStartedEvent(actionID, nowMillis()))

	err = s.recoveryLoop(ctx, actionID)
	if ctx.Err() != nil {
		s.resetToDraft(actionID)
		return ctx.Err()
	}
	return err
}

func (s *Supervisor) recoveryLoop(ctx context.Context, actionID string) error {
	for {
		if err := s.Scheduler.RunUntilDrained(ctx, actionID); err != nil {
			return fmt.Errorf("supervisor: run dag pass: %w", err)
		}

		tasks, err := s.Store.AllTasks(ctx, actionID)
		if err != nil {
			return fmt.Errorf("supervisor: list tasks: %w", err)
		}

		allCompleted := true
		var failed []store.Task
		for _, t := range tasks {
			if t.Status != store.TaskCompleted {
				allCompleted = false
			}
			if t.Status == store.TaskFailed {
				failed = append(failed, t)
			}
		}

		if allCompleted {
			return s.finishCompleted(ctx, actionID)
		}
		if len(failed) == 0 {
			return s.finishFailed(ctx, actionID, "DAG drained with tasks neither completed nor failed")
		}

		action, err := s.Store.GetAction(ctx, actionID)
		if err != nil {
			return fmt.Errorf("supervisor: get action: %w", err)
		}
		if action.RetryCount >= MaxRecoveryAttempts {
			return s.finishFailed(ctx, actionID, "one or more tasks failed after all recovery attempts")
		}

		attempt := action.RetryCount + 1
		recovered, err := s.Recovery.Attempt(ctx, actionID, attempt)
		if err != nil {
			return fmt.Errorf("supervisor: attempt recovery: %w", err)
		}
		if !recovered {
			return s.finishFailed(ctx, actionID, "recovery planning produced no replacement tasks")
		}

		action.RetryCount = attempt
		if err := s.Store.UpdateAction(ctx, action); err != nil {
			return fmt.Errorf("supervisor: record retry count: %w", err)
		}
		s.publish(eventbus.NewActionRetryingEvent(actionID, nowMillis(), attempt))
	}
}

func (s *Supervisor) finishCompleted(ctx context.Context, actionID string) error {
	action, err := s.Store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	action.Status = store.ActionCompleted
	if err := s.Store.UpdateAction(ctx, action); err != nil {
		return err
	}
	s.publish(eventbus.NewActionCompletedEvent(actionID, nowMillis()))
	return nil
}

func (s *Supervisor) finishFailed(ctx context.Context, actionID, reason string) error {
	action, err := s.Store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	action.Status = store.ActionFailed
	if err := s.Store.UpdateAction(ctx, action); err != nil {
		return err
	}
	s.publish(eventbus.NewActionFailedEvent(actionID, nowMillis(), reason))
	return nil
}

func (s *Supervisor) resetToDraft(actionID string) {
	bg := context.Background()
	action, err := s.Store.GetAction(bg, actionID)
	if err != nil {
		if s.Telemetry != nil {
			s.Telemetry.Error(bg, "failed to load action for cancellation reset", "action_id", actionID, "error", err)
		}
		return
	}
	action.Status = store.ActionDraft
	if err := s.Store.UpdateAction(bg, action); err != nil && s.Telemetry != nil {
		s.Telemetry.Error(bg, "failed to reset action to draft after cancellation", "action_id", actionID, "error", err)
	}
}

func (s *Supervisor) publish(event eventbus.Event) {
	if s.Bus != nil {
		s.Bus.Publish(event)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
