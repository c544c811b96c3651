// Package mock provides a deterministic agentrunner.Runner for tests and
// local demos, grounded on the reference implementation's MockAgent: it
// emits a canned sequence of progress log lines for the configured agent
// type, then returns a summary built from the prompt and upstream outputs
// without calling out to any model.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
)

// logLines holds the canned progress messages per agent type, mirroring
// the reference implementation's MOCK_LOG_MESSAGES table.
var logLines = map[string][]string{
	"data_retrieval": {
		"Initializing data retrieval agent...",
		"Connecting to data source...",
		"Fetching records...",
		"Validating data integrity...",
		"Data retrieval complete.",
	},
	"spreadsheet": {
		"Initializing spreadsheet agent...",
		"Reading input data from dependencies...",
		"Populating rows...",
		"Spreadsheet generation complete.",
	},
	"code_execution": {
		"Initializing code execution agent...",
		"Setting up sandbox environment...",
		"Executing code...",
		"Code execution complete.",
	},
	"report": {
		"Initializing report agent...",
		"Gathering inputs from dependencies...",
		"Formatting final report...",
		"Report generation complete.",
	},
	"general": {
		"Initializing agent...",
		"Processing task...",
		"Task complete.",
	},
}

// Runner is a deterministic agentrunner.Runner keyed by agent type.
type Runner struct {
	// AgentType selects which canned log sequence to emit. Defaults to
	// "general" if empty or unrecognized.
	AgentType string
	// Fail, when set, makes Run return this error instead of succeeding.
	// Used by tests exercising failure/recovery paths.
	Fail error
}

// New constructs a Runner for the given agent type.
func New(agentType string) *Runner {
	return &Runner{AgentType: agentType}
}

// Run emits the canned progress lines for r.AgentType and returns a summary
// derived from the prompt and upstream outputs. Honors ctx cancellation
// between log lines.
func (r *Runner) Run(ctx context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	lines, ok := logLines[r.AgentType]
	if !ok {
		lines = logLines["general"]
	}
	for _, line := range lines {
		select {
		case <-ctx.Done():
			return agentrunner.Result{}, ctx.Err()
		default:
		}
		if req.Log != nil {
			req.Log(ctx, "info", line)
		}
	}
	if r.Fail != nil {
		return agentrunner.Result{}, r.Fail
	}
	return agentrunner.Result{Summary: buildSummary(req)}, nil
}

func buildSummary(req agentrunner.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Task completed:** %s\n", req.Prompt)
	if len(req.UpstreamOutputs) > 0 {
		ids := make([]string, 0, len(req.UpstreamOutputs))
		for id := range req.UpstreamOutputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\nInputs from upstream tasks:\n")
		for _, id := range ids {
			out := req.UpstreamOutputs[id]
			if len(out) > 200 {
				out = out[:200]
			}
			fmt.Fprintf(&b, "- %s: %s\n", id, out)
		}
	}
	return b.String()
}
