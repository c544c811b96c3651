// Package inmem provides an in-memory implementation of store.Store for
// tests and local development. State lives in maps guarded by a single
// RWMutex, with no persistence across process restarts. Production
// deployments that need the action/task graph to survive a restart should
// use store/redisstore instead.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/runtime/agent/store"
)

// Store implements store.Store in memory with no durability. All
// operations are thread-safe via sync.RWMutex. Rows are stored and returned
// by value; slice and map fields (such as a task's Dependencies) are not
// deep-copied and share backing storage with the caller's values.
type Store struct {
	mu          sync.RWMutex
	actions     map[string]store.Action
	tasks       map[string]store.Task
	taskOutputs map[string]store.TaskOutput
	artifacts   map[string]store.Artifact
	logs        map[string][]store.LogEntry
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{
		actions:     make(map[string]store.Action),
		tasks:       make(map[string]store.Task),
		taskOutputs: make(map[string]store.TaskOutput),
		artifacts:   make(map[string]store.Artifact),
		logs:        make(map[string][]store.LogEntry),
	}
}

// CreateAction inserts a new action row.
func (s *Store) CreateAction(_ context.Context, action store.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	action.UpdatedAt = time.Now()
	s.actions[action.ID] = action
	return nil
}

// GetAction retrieves an action by ID.
func (s *Store) GetAction(_ context.Context, actionID string) (store.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[actionID]
	if !ok {
		return store.Action{}, store.ErrNotFound
	}
	return a, nil
}

// UpdateAction overwrites an existing action row.
func (s *Store) UpdateAction(_ context.Context, action store.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[action.ID]; !ok {
		return store.ErrNotFound
	}
	action.UpdatedAt = time.Now()
	s.actions[action.ID] = action
	return nil
}

// DeleteAction removes an action row and every task, task output, and log
// entry belonging to it.
func (s *Store) DeleteAction(_ context.Context, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, actionID)
	for id, t := range s.tasks {
		if t.ActionID != actionID {
			continue
		}
		delete(s.tasks, id)
		delete(s.taskOutputs, id)
		delete(s.logs, id)
	}
	return nil
}

// CreateTasks inserts one or more task rows atomically.
func (s *Store) CreateTasks(_ context.Context, tasks []store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(_ context.Context, taskID string) (store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, store.ErrNotFound
	}
	return t, nil
}

// AllTasks returns a consistent snapshot of every task belonging to actionID.
func (s *Store) AllTasks(_ context.Context, actionID string) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Task
	for _, t := range s.tasks {
		if t.ActionID == actionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkTasksRunning atomically flips every task in taskIDs to running.
func (s *Store) MarkTasksRunning(_ context.Context, _ string, taskIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range taskIDs {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		t.Status = store.TaskRunning
		t.UpdatedAt = now
		s.tasks[id] = t
	}
	return nil
}

// SetTaskCompleted atomically marks taskID completed and records its output.
func (s *Store) SetTaskCompleted(_ context.Context, taskID string, summary string, output store.TaskOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = store.TaskCompleted
	t.OutputSummary = summary
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	s.taskOutputs[taskID] = output
	return nil
}

// SetTaskFailed atomically marks taskID failed with message.
func (s *Store) SetTaskFailed(_ context.Context, taskID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = store.TaskFailed
	t.OutputSummary = message
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

// SetTaskSubAction records that taskID spawned a child Action.
func (s *Store) SetTaskSubAction(_ context.Context, taskID string, subActionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	t.SubActionID = subActionID
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

// ResetTasks atomically resets every task in taskIDs to pending.
func (s *Store) ResetTasks(_ context.Context, taskIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range taskIDs {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		t.Status = store.TaskPending
		t.OutputSummary = ""
		t.UpdatedAt = now
		s.tasks[id] = t
	}
	return nil
}

// ReplaceTasks atomically removes tasks, inserts replacements, and rewires
// dependent tasks that referenced a removed task ID.
func (s *Store) ReplaceTasks(_ context.Context, _ string, remove []string, add []store.Task, rewireTo map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		removed[id] = struct{}{}
		delete(s.tasks, id)
	}
	now := time.Now()
	for _, t := range add {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	for id, t := range s.tasks {
		changed := false
		deps := make([]string, 0, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if _, gone := removed[dep]; gone {
				if repl, ok := rewireTo[dep]; ok && repl != "" {
					deps = append(deps, repl)
				}
				changed = true
				continue
			}
			deps = append(deps, dep)
		}
		if changed {
			t.Dependencies = deps
			t.UpdatedAt = now
			s.tasks[id] = t
		}
	}
	return nil
}

// GetTaskOutput retrieves the output row for taskID.
func (s *Store) GetTaskOutput(_ context.Context, taskID string) (store.TaskOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.taskOutputs[taskID]
	if !ok {
		return store.TaskOutput{}, store.ErrNotFound
	}
	return o, nil
}

// CreateArtifact inserts a new artifact row.
func (s *Store) CreateArtifact(_ context.Context, artifact store.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ID] = artifact
	return nil
}

// GetArtifact retrieves an artifact by ID.
func (s *Store) GetArtifact(_ context.Context, artifactID string) (store.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return store.Artifact{}, store.ErrNotFound
	}
	return a, nil
}

// AppendLog appends a single log entry, safe for concurrent writers across
// and within tasks.
func (s *Store) AppendLog(_ context.Context, entry store.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.logs[entry.TaskID] = append(s.logs[entry.TaskID], entry)
	return nil
}

// ListLogs returns every log entry for taskID in append order.
func (s *Store) ListLogs(_ context.Context, taskID string) ([]store.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[taskID]
	out := make([]store.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Reset clears all stored rows. Useful for test isolation; not part of the
// store.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = make(map[string]store.Action)
	s.tasks = make(map[string]store.Task)
	s.taskOutputs = make(map[string]store.TaskOutput)
	s.artifacts = make(map[string]store.Artifact)
	s.logs = make(map[string][]store.LogEntry)
}
