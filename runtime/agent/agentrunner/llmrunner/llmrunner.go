// Package llmrunner implements agentrunner.Runner by prompting a text
// generation model, grounded on the reference implementation's per-agent-type
// instruction strings (type_instructions in mock_agent.py) and the runtime's
// features/model adapters for the actual model call.
package llmrunner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
)

// TextGenerator is the minimal model call a Runner needs. The
// anthropicmodel and openaimodel packages both satisfy this (it is
// structurally identical to llmplanner.TextGenerator, kept separate so
// agentrunner does not depend on the planner package).
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// typeInstructions gives each agent type a distinct system prompt, mirroring
// the reference implementation's per-type guidance for mock output
// generation.
var typeInstructions = map[string]string{
	"data_retrieval": "You are a data retrieval agent. Describe what data you would fetch and return it as a concise Markdown summary.",
	"spreadsheet":    "You are a spreadsheet agent. Produce a Markdown table capturing the requested data.",
	"report":         "You are a report-writing agent. Synthesize the upstream inputs into a well-structured Markdown report with headings.",
	"general":        "You are a general-purpose task agent. Complete the task and respond with a concise Markdown summary.",
}

// Runner executes a task by prompting gen with a per-agent-type system
// prompt plus the task prompt and its upstream outputs.
type Runner struct {
	Gen       TextGenerator
	AgentType string
}

// New constructs a Runner for agentType backed by gen.
func New(gen TextGenerator, agentType string) *Runner {
	return &Runner{Gen: gen, AgentType: agentType}
}

// Run prompts the model and returns its text as the task summary.
func (r *Runner) Run(ctx context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	system, ok := typeInstructions[r.AgentType]
	if !ok {
		system = typeInstructions["general"]
	}
	if req.Log != nil {
		req.Log(ctx, "info", fmt.Sprintf("invoking model for task %s", req.TaskID))
	}
	userPrompt := buildUserPrompt(req)
	out, err := r.Gen.Generate(ctx, system, userPrompt)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("llmrunner: generate: %w", err)
	}
	if req.Log != nil {
		req.Log(ctx, "info", "model response received")
	}
	return agentrunner.Result{Summary: out}, nil
}

func buildUserPrompt(req agentrunner.Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if len(req.UpstreamOutputs) > 0 {
		ids := make([]string, 0, len(req.UpstreamOutputs))
		for id := range req.UpstreamOutputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\n\nUpstream task outputs:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "\n### %s\n%s\n", id, req.UpstreamOutputs[id])
		}
	}
	return b.String()
}
