// Package invalidate implements downstream invalidation: when a completed
// task is edited or explicitly invalidated, every task that transitively
// depends on it must be reset to pending and have its stale OutputSummary
// cleared; its TaskOutput row is not deleted and stays until the task's next
// completion overwrites it. Grounded on the reference implementation's
// invalidate_downstream (reverse-BFS over the dependency graph).
package invalidate

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/runtime/agent/store"
)

// Downstream resets taskID itself and its transitive dependents to pending,
// clearing their OutputSummary (TaskOutput rows are kept), so a caller that edited or explicitly
// invalidated taskID can re-run it through a single reset set. Any reset
// task whose SubActionID is set is itself invalidated, which cascades delete
// to that child action (and, transitively, to any grandchild actions it
// spawned).
func Downstream(ctx context.Context, st store.Store, actionID, taskID string) ([]string, error) {
	tasks, err := st.AllTasks(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("invalidate: list tasks: %w", err)
	}

	byID := make(map[string]store.Task, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	visited := make(map[string]struct{})
	queue := append([]string{}, dependents[taskID]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		queue = append(queue, dependents[current]...)
	}

	ids := make([]string, 0, len(visited)+1)
	ids = append(ids, taskID)
	for id := range visited {
		ids = append(ids, id)
	}

	for _, id := range ids {
		if t := byID[id]; t.SubActionID != "" {
			if err := CascadeDeleteAction(ctx, st, t.SubActionID); err != nil {
				return nil, fmt.Errorf("invalidate: cascade delete sub-action %s: %w", t.SubActionID, err)
			}
		}
	}
	if err := st.ResetTasks(ctx, ids); err != nil {
		return nil, fmt.Errorf("invalidate: reset downstream tasks: %w", err)
	}
	return ids, nil
}

// CascadeDeleteAction deletes actionID and, transitively, every descendant
// sub-action reached through a task's SubActionID, matching the resolved
// cascade-delete Open Question: deleting an Action must not orphan its
// sub-action tree.
func CascadeDeleteAction(ctx context.Context, st store.Store, actionID string) error {
	tasks, err := st.AllTasks(ctx, actionID)
	if err != nil {
		return fmt.Errorf("invalidate: list tasks for cascade delete: %w", err)
	}
	for _, t := range tasks {
		if t.SubActionID == "" {
			continue
		}
		if err := CascadeDeleteAction(ctx, st, t.SubActionID); err != nil {
			return err
		}
	}
	if err := st.DeleteAction(ctx, actionID); err != nil {
		return fmt.Errorf("invalidate: delete action %s: %w", actionID, err)
	}
	return nil
}
