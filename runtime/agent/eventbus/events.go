package eventbus

// EventType enumerates the closed set of event names the orchestration core
// ever publishes. Observers may rely on this set being exhaustive: no other
// event name will ever appear on the bus.
type EventType string

const (
	// EventSnapshot carries the full current state of an action (every task's
	// status and output) and is always the first event an observer receives
	// after subscribing, so late subscribers never miss prior history.
	EventSnapshot EventType = "snapshot"

	// EventActionStarted fires once when an action begins execution.
	EventActionStarted EventType = "action.started"
	// EventActionCompleted fires when every task in the action has reached a
	// terminal status and none failed.
	EventActionCompleted EventType = "action.completed"
	// EventActionFailed fires when the action terminates with at least one
	// task that could not be recovered.
	EventActionFailed EventType = "action.failed"
	// EventActionRetrying fires after a recovery attempt has patched at least
	// one task, just before the Supervisor runs the action's DAG again.
	EventActionRetrying EventType = "action.retrying"

	// EventTaskStarted fires when a task transitions from pending to running.
	EventTaskStarted EventType = "task.started"
	// EventTaskCompleted fires when a task finishes successfully.
	EventTaskCompleted EventType = "task.completed"
	// EventTaskFailed fires when a task terminates with an error, whether a
	// root-cause failure or a transitive one.
	EventTaskFailed EventType = "task.failed"
	// EventTaskRecovered fires when a failed task is replaced or reset to
	// pending by the Recovery Coordinator.
	EventTaskRecovered EventType = "task.recovered"

	// EventLogAppend carries a single log line appended to a running task.
	EventLogAppend EventType = "log.append"

	// EventPing is emitted periodically by the observer transport to keep
	// long-lived connections (e.g. SSE) alive through idle intermediaries.
	EventPing EventType = "ping"
)

// Event is the single concrete type published on the Bus. Fields not
// relevant to a given Name are left at their zero value; see the New*
// constructors for the fields each event type populates.
type Event struct {
	// Name identifies which of the closed set of event types this is.
	Name EventType
	// ActionID is the action this event concerns. Every event on the bus
	// belongs to exactly one action.
	ActionID string
	// TaskID is the task this event concerns, empty for action-level and
	// ping events.
	TaskID string
	// Timestamp is the Unix time in milliseconds the event was created.
	Timestamp int64
	// Status carries the task or action status string for
	// action.completed/action.failed and task.started/completed/failed/
	// recovered events.
	Status string
	// Message carries a human-readable detail: the failure message for
	// task.failed/action.failed, or the log line for log.append.
	Message string
	// Attempt is the recovery attempt number (1-based) for
	// action.retrying/task.recovered events.
	Attempt int
	// OriginalAgentType is the agent type of the task that failed, for
	// task.recovered events.
	OriginalAgentType string `json:",omitempty"`
	// ReplacementAgentTypes lists the agent type of each replacement task a
	// task.recovered event's failed task was patched or split into.
	ReplacementAgentTypes []string `json:",omitempty"`
	// Snapshot carries the full action state for EventSnapshot. It is left
	// as any to avoid an import cycle with the store package; callers pass
	// the store snapshot type and subscribers type-assert or marshal it.
	Snapshot any
}

// NewSnapshotEvent builds the initial full-state event sent to a new subscriber.
func NewSnapshotEvent(actionID string, now int64, snapshot any) Event {
	return Event{Name: EventSnapshot, ActionID: actionID, Timestamp: now, Snapshot: snapshot}
}

// NewActionStartedEvent builds the event fired when an action begins execution.
func NewActionStartedEvent(actionID string, now int64) Event {
	return Event{Name: EventActionStarted, ActionID: actionID, Timestamp: now}
}

// NewActionCompletedEvent builds the event fired when an action finishes successfully.
func NewActionCompletedEvent(actionID string, now int64) Event {
	return Event{Name: EventActionCompleted, ActionID: actionID, Timestamp: now, Status: "completed"}
}

// NewActionFailedEvent builds the event fired when an action terminates unrecovered.
func NewActionFailedEvent(actionID string, now int64, message string) Event {
	return Event{Name: EventActionFailed, ActionID: actionID, Timestamp: now, Status: "failed", Message: message}
}

// NewActionRetryingEvent builds the event fired when recovery begins a new attempt.
func NewActionRetryingEvent(actionID string, now int64, attempt int) Event {
	return Event{Name: EventActionRetrying, ActionID: actionID, Timestamp: now, Attempt: attempt}
}

// NewTaskStartedEvent builds the event fired when a task begins execution.
func NewTaskStartedEvent(actionID, taskID string, now int64) Event {
	return Event{Name: EventTaskStarted, ActionID: actionID, TaskID: taskID, Timestamp: now, Status: "running"}
}

// NewTaskCompletedEvent builds the event fired when a task finishes successfully.
func NewTaskCompletedEvent(actionID, taskID string, now int64) Event {
	return Event{Name: EventTaskCompleted, ActionID: actionID, TaskID: taskID, Timestamp: now, Status: "completed"}
}

// NewTaskFailedEvent builds the event fired when a task terminates with an error.
func NewTaskFailedEvent(actionID, taskID string, now int64, message string) Event {
	return Event{Name: EventTaskFailed, ActionID: actionID, TaskID: taskID, Timestamp: now, Status: "failed", Message: message}
}

// NewTaskRecoveredEvent builds the event fired when a failed task is replaced
// or reset. originalAgentType is the agent type of the task that failed;
// replacementAgentTypes lists the agent type of each task it was replaced
// with (more than one when the Planner split it into a chain).
func NewTaskRecoveredEvent(actionID, taskID string, now int64, attempt int, originalAgentType string, replacementAgentTypes []string) Event {
	return Event{
		Name:                  EventTaskRecovered,
		ActionID:              actionID,
		TaskID:                taskID,
		Timestamp:             now,
		Attempt:               attempt,
		Status:                "pending",
		OriginalAgentType:     originalAgentType,
		ReplacementAgentTypes: replacementAgentTypes,
	}
}

// NewLogAppendEvent builds the event carrying a single appended log line.
func NewLogAppendEvent(actionID, taskID string, now int64, line string) Event {
	return Event{Name: EventLogAppend, ActionID: actionID, TaskID: taskID, Timestamp: now, Message: line}
}

// NewPingEvent builds the keepalive event emitted by the observer transport.
func NewPingEvent(actionID string, now int64) Event {
	return Event{Name: EventPing, ActionID: actionID, Timestamp: now}
}
