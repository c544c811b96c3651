// Package agentrunner defines the contract the DAG Scheduler uses to
// execute a single task: hand it a prompt plus its upstream outputs, get
// back a summary (and optionally a sub-action to recurse into) or a
// structured failure. Concrete runners live in the mock, codeexec, and
// llmrunner subpackages, and are selected per task by AgentType through a
// Registry.
package agentrunner

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentflow/orchestrator/runtime/agent/store"
)

type (
	// LogSink receives a single (level, message) log line while a task runs.
	// Implementations must be non-blocking and safe to call from any
	// goroutine; the Scheduler wires it to store.Store.AppendLog plus an
	// eventbus.Event publish.
	LogSink func(ctx context.Context, level, message string)

	// Request carries everything a Runner needs to execute one task.
	Request struct {
		// TaskID identifies the task being executed.
		TaskID string
		// Prompt is the task's natural-language instruction.
		Prompt string
		// UpstreamOutputs maps each dependency task ID to its materialized
		// summary, with artifact references already appended as Markdown
		// (see dag.MaterializeUpstreamOutputs).
		UpstreamOutputs map[string]string
		// Model optionally overrides the runner's default model.
		Model string
		// Log streams progress lines as the task executes.
		Log LogSink
	}

	// Result is a successful task execution outcome.
	Result struct {
		// Summary is the task's output text, persisted as TaskOutput.Text.
		Summary string
		// Artifacts lists any files the task produced.
		Artifacts []store.ArtifactRef
		// SubActionID is set when this task's AgentType is "sub_action" and
		// execution spawned (and waited on) a child Action; the Scheduler
		// records it on the Task row.
		SubActionID string
	}

	// Runner executes a single task. Implementations must be
	// cancellation-aware: when ctx is cancelled, an in-flight Run should
	// terminate promptly rather than run to completion.
	Runner interface {
		Run(ctx context.Context, req Request) (Result, error)
	}

	// Registry resolves a Runner by agent type string.
	Registry struct {
		mu      sync.RWMutex
		runners map[string]Runner
	}
)

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register associates agentType with runner, overwriting any prior
// registration for the same type.
func (r *Registry) Register(agentType string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[agentType] = runner
}

// Get resolves the Runner registered for agentType.
func (r *Registry) Get(agentType string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[agentType]
	if !ok {
		return nil, fmt.Errorf("agentrunner: no runner registered for agent type %q", agentType)
	}
	return runner, nil
}
