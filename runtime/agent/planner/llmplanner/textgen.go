// Package llmplanner implements planner.Planner with an LLM backend: it
// prompts the model to emit a JSON task DAG (or repair plan), validates the
// response against a JSON Schema, and decodes it into planner.Plan /
// []planner.TaskSpec. Concrete model backends live in the anthropicmodel and
// openaimodel subpackages.
package llmplanner

import "context"

// TextGenerator is the narrow interface llmplanner needs from a model
// backend: a single system+user prompt in, raw completion text out. Both
// anthropicmodel.Client and openaimodel.Client satisfy it.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
