package llmplanner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentflow/orchestrator/runtime/agent/planner"
)

// planSchema constrains the JSON a Planner must emit for Plan: a title plus
// a flat task list where dependencies are expressed as indices into that
// same list.
const planSchema = `{
  "type": "object",
  "required": ["title", "tasks"],
  "properties": {
    "title": {"type": "string"},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["prompt", "agent_type"],
        "properties": {
          "prompt": {"type": "string", "minLength": 1},
          "agent_type": {"type": "string", "minLength": 1},
          "model": {"type": "string"},
          "dependencies": {"type": "array", "items": {"type": "integer", "minimum": 0}}
        }
      }
    }
  }
}`

// recoverySchema constrains the JSON a Planner must emit for Recover: 0-3
// replacement tasks, each shaped like a planSchema task.
const recoverySchema = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "maxItems": 3,
      "items": {
        "type": "object",
        "required": ["prompt", "agent_type"],
        "properties": {
          "prompt": {"type": "string", "minLength": 1},
          "agent_type": {"type": "string", "minLength": 1},
          "model": {"type": "string"},
          "dependencies": {"type": "array", "items": {"type": "integer", "minimum": 0}}
        }
      }
    }
  }
}`

const planSystemPrompt = `You decompose a user request into a directed acyclic graph of tasks.
Respond with ONLY a JSON object matching this shape:
{"title": string, "tasks": [{"prompt": string, "agent_type": string, "model": string (optional), "dependencies": [int, ...]}]}
"dependencies" holds zero-based indices into the "tasks" array of tasks that must complete first.
Prefer the fewest tasks that still parallelize independent work. Do not include commentary outside the JSON object.`

const recoverySystemPrompt = `A task in an action's DAG failed. Propose a repair.
Respond with ONLY a JSON object: {"tasks": [{"prompt": string, "agent_type": string, "model": string (optional), "dependencies": [int, ...]}]}
Return 1 task to replace the failed task in place with a different approach (e.g. a different agent_type for the same goal).
Return 2-3 tasks only when the replacement genuinely needs to be broken into steps; the first task takes over the failed
task's upstream dependencies and the last task's output feeds every task that depended on the failed one.
Return {"tasks": []} if the failure is not recoverable. Do not include commentary outside the JSON object.`

type taskDoc struct {
	Prompt       string `json:"prompt"`
	AgentType    string `json:"agent_type"`
	Model        string `json:"model"`
	Dependencies []int  `json:"dependencies"`
}

type planDoc struct {
	Title string    `json:"title"`
	Tasks []taskDoc `json:"tasks"`
}

type recoveryDoc struct {
	Tasks []taskDoc `json:"tasks"`
}

// Planner implements planner.Planner by prompting a TextGenerator and
// validating its JSON response against a fixed schema before decoding it.
// A malformed response degrades to a planning failure (Plan) or a
// non-recoverable verdict (Recover: empty task list, nil error) rather than
// panicking the caller.
type Planner struct {
	gen            TextGenerator
	planSchema     *jsonschema.Schema
	recoverySchema *jsonschema.Schema
}

// New constructs a Planner backed by the given TextGenerator.
func New(gen TextGenerator) (*Planner, error) {
	if gen == nil {
		return nil, fmt.Errorf("llmplanner: generator is required")
	}
	ps, err := compileSchema("plan.schema.json", planSchema)
	if err != nil {
		return nil, err
	}
	rs, err := compileSchema("recovery.schema.json", recoverySchema)
	if err != nil {
		return nil, err
	}
	return &Planner{gen: gen, planSchema: ps, recoverySchema: rs}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("llmplanner: unmarshal %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("llmplanner: add resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("llmplanner: compile %s: %w", name, err)
	}
	return schema, nil
}

// Plan prompts the model to decompose prompt into a task DAG.
func (p *Planner) Plan(ctx context.Context, prompt string) (planner.Plan, error) {
	raw, err := p.gen.Generate(ctx, planSystemPrompt, prompt)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("llmplanner: generate plan: %w", err)
	}
	var doc planDoc
	if err := validateAndDecode(p.planSchema, raw, &doc); err != nil {
		return planner.Plan{}, fmt.Errorf("llmplanner: invalid plan response: %w", err)
	}
	tasks := make([]planner.TaskSpec, len(doc.Tasks))
	for i, t := range doc.Tasks {
		tasks[i] = planner.TaskSpec{
			Prompt:       t.Prompt,
			AgentType:    t.AgentType,
			Model:        t.Model,
			Dependencies: t.Dependencies,
		}
	}
	return planner.Plan{Title: doc.Title, Tasks: tasks}, nil
}

// Recover prompts the model to propose a repair for recoveryCtx.FailedTask.
// A malformed response is treated as non-recoverable rather than returned
// as an error, so one bad LLM turn degrades the recovery attempt instead of
// aborting the coordinator.
func (p *Planner) Recover(ctx context.Context, recoveryCtx planner.RecoveryContext) ([]planner.TaskSpec, error) {
	prompt := buildRecoveryPrompt(recoveryCtx)
	raw, err := p.gen.Generate(ctx, recoverySystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("llmplanner: generate recovery: %w", err)
	}
	var doc recoveryDoc
	if err := validateAndDecode(p.recoverySchema, raw, &doc); err != nil {
		return nil, nil
	}
	tasks := make([]planner.TaskSpec, len(doc.Tasks))
	for i, t := range doc.Tasks {
		tasks[i] = planner.TaskSpec{
			Prompt:       t.Prompt,
			AgentType:    t.AgentType,
			Model:        t.Model,
			Dependencies: t.Dependencies,
		}
	}
	return tasks, nil
}

func buildRecoveryPrompt(rc planner.RecoveryContext) string {
	upstream, _ := json.Marshal(rc.UpstreamOutputs)
	return fmt.Sprintf(
		"Action: %s\nFailed task prompt: %s\nAgent type: %s\nFailure: %s\nAttempt: %d\nUpstream outputs: %s\nDownstream dependents: %v",
		rc.Action.Title, rc.FailedTask.Prompt, rc.FailedTask.AgentType, rc.FailureMessage, rc.Attempt, string(upstream), rc.DownstreamDependents,
	)
}

func validateAndDecode(schema *jsonschema.Schema, raw string, out any) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return json.Unmarshal([]byte(raw), out)
}
