// Package store defines the persistence contract for actions, tasks, task
// outputs, artifacts, and logs, and the row types that flow through it.
//
// The core treats the Store as the single source of truth: every status
// flip goes through it, and in-memory task views held by the Scheduler or
// Recovery Coordinator are snapshots, never shared mutable state. The Store
// must support three things: atomic multi-row update within one action
// (e.g. flipping several ready tasks to running together), a consistent
// snapshot of all tasks belonging to one action (the Scheduler's main loop
// input), and append of log entries under concurrent writers. The core
// never assumes cross-action transactions.
package store

import (
	"context"
	"errors"
	"time"
)

type (
	// ActionStatus is the coarse lifecycle state of an Action.
	ActionStatus string

	// TaskStatus is the coarse lifecycle state of a Task.
	TaskStatus string

	// Action is a single natural-language-prompted unit of work: a DAG of
	// Tasks plus the bookkeeping needed to recover it and, when it was
	// itself spawned as a sub-action, to trace it back to its parent.
	Action struct {
		ID             string
		Title          string
		RootPrompt     string
		Status         ActionStatus
		CreatedAt      time.Time
		UpdatedAt      time.Time
		ParentActionID string // empty for root actions
		ParentTaskID   string
		OutputContract string
		Depth          int
		RetryCount     int
	}

	// Task is a single node of an Action's DAG.
	Task struct {
		ID            string
		ActionID      string
		Prompt        string
		AgentType     string
		Model         string   // optional override
		Dependencies  []string // ordered task IDs, same action
		Status        TaskStatus
		OutputSummary string
		SubActionID   string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// TaskOutput is the durable result of a completed Task.
	TaskOutput struct {
		ID        string
		TaskID    string
		Text      string
		Artifacts []ArtifactRef
	}

	// ArtifactRef is a lightweight pointer from a TaskOutput to an Artifact
	// row, carrying just enough to render an upstream-output block without
	// a second Store round trip.
	ArtifactRef struct {
		ArtifactID string
		Type       string
		MimeType   string
		URI        string
	}

	// Artifact is a file produced by a Task, stored opaquely outside the
	// core (the artifact filesystem itself is out of scope).
	Artifact struct {
		ID       string
		TaskID   string
		Type     string
		MimeType string
		Size     int64
		URI      string
	}

	// LogEntry is a single append-only log line emitted while a Task runs.
	LogEntry struct {
		ID        string
		TaskID    string
		Level     string
		Message   string
		Timestamp time.Time
		Payload   map[string]any
	}

	// Store persists Actions, Tasks, TaskOutputs, Artifacts, and Logs.
	// Implementations must be safe for concurrent use.
	Store interface {
		// CreateAction inserts a new action row.
		CreateAction(ctx context.Context, action Action) error
		// GetAction retrieves an action by ID. Returns ErrNotFound if absent.
		GetAction(ctx context.Context, actionID string) (Action, error)
		// UpdateAction overwrites an existing action row.
		UpdateAction(ctx context.Context, action Action) error
		// DeleteAction removes an action row and every task, task output,
		// and log entry belonging to it. It does not recurse into
		// sub-actions; cascading to child actions reached via a task's
		// SubActionID is the Invalidation Engine's responsibility.
		DeleteAction(ctx context.Context, actionID string) error

		// CreateTasks inserts one or more task rows belonging to the same
		// action in a single atomic write.
		CreateTasks(ctx context.Context, tasks []Task) error
		// GetTask retrieves a task by ID. Returns ErrNotFound if absent.
		GetTask(ctx context.Context, taskID string) (Task, error)
		// AllTasks returns a consistent snapshot of every task belonging to
		// actionID, in no particular order. This is the Scheduler's main
		// loop input; callers must not mutate the result back into the
		// store directly (use the flip/replace methods below).
		AllTasks(ctx context.Context, actionID string) ([]Task, error)

		// MarkTasksRunning atomically flips every task in taskIDs (which
		// must all belong to actionID) from pending to running.
		MarkTasksRunning(ctx context.Context, actionID string, taskIDs []string) error
		// SetTaskCompleted atomically marks taskID completed, records its
		// output summary, and persists output as its TaskOutput row.
		SetTaskCompleted(ctx context.Context, taskID string, summary string, output TaskOutput) error
		// SetTaskFailed atomically marks taskID failed with message.
		SetTaskFailed(ctx context.Context, taskID string, message string) error
		// SetTaskSubAction records that taskID's execution spawned a child
		// Action, so the Invalidation Engine can later cascade-delete it.
		SetTaskSubAction(ctx context.Context, taskID string, subActionID string) error
		// ResetTasks atomically resets every task in taskIDs to pending,
		// clearing OutputSummary. Used by the Invalidation Engine and by
		// transitive-failure recovery.
		ResetTasks(ctx context.Context, taskIDs []string) error
		// ReplaceTasks atomically removes the tasks in remove, inserts add,
		// and rewires every dependent task's Dependencies entry that
		// pointed at a removed task ID to rewireTo instead. Used by the
		// Recovery Coordinator's single- and multi-replacement patches.
		ReplaceTasks(ctx context.Context, actionID string, remove []string, add []Task, rewireTo map[string]string) error

		// GetTaskOutput retrieves the output row for taskID.
		GetTaskOutput(ctx context.Context, taskID string) (TaskOutput, error)

		// CreateArtifact inserts a new artifact row.
		CreateArtifact(ctx context.Context, artifact Artifact) error
		// GetArtifact retrieves an artifact by ID.
		GetArtifact(ctx context.Context, artifactID string) (Artifact, error)

		// AppendLog appends a single log entry. Safe for concurrent callers
		// writing to different tasks, and to the same task.
		AppendLog(ctx context.Context, entry LogEntry) error
		// ListLogs returns every log entry for taskID in append order.
		ListLogs(ctx context.Context, taskID string) ([]LogEntry, error)
	}
)

// ErrNotFound indicates that no row exists for the given identifier.
var ErrNotFound = errors.New("store: not found")

const (
	// ActionDraft indicates the action has been created but its DAG has
	// not started executing (also the state a cancelled action returns to).
	ActionDraft ActionStatus = "draft"
	// ActionRunning indicates the Scheduler has at least one task in
	// flight or pending for this action.
	ActionRunning ActionStatus = "running"
	// ActionCompleted indicates every task reached completed status.
	ActionCompleted ActionStatus = "completed"
	// ActionFailed indicates the action terminated with an unrecovered
	// task failure.
	ActionFailed ActionStatus = "failed"

	// TaskPending indicates the task has not yet started and is waiting
	// on its dependencies (or on a scheduler pass to pick it up).
	TaskPending TaskStatus = "pending"
	// TaskRunning indicates an Agent Runner invocation is in flight.
	TaskRunning TaskStatus = "running"
	// TaskCompleted indicates the task produced output successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task errored, whether as a root cause or
	// transitively because a dependency failed.
	TaskFailed TaskStatus = "failed"
)
