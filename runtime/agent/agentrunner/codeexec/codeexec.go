// Package codeexec implements agentrunner.Runner for the code_execution
// agent type: it prompts a TextGenerator for a short program, runs that
// program as a subprocess in a temporary working directory, and turns any files it writes into
// artifacts. Grounded on the reference implementation's code_execution_agent
// (LLM-generated code, executed, summarized directly from stdout/stderr) and
// the runtime's stdiocaller subprocess-management pattern, replacing
// dynamic in-process code loading with an external-process worker.
package codeexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/store"
)

// TextGenerator produces the program text for a task prompt.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const codeGenSystemPrompt = `You write short, self-contained Python programs that accomplish the given task.
Output ONLY the Python code, no markdown fences and no commentary.
Read any upstream task output provided in the prompt directly from the prompt text; do not assume files exist unless a URL to download is given.
Print key results to stdout. If you produce a plot, save it to a file named output.png instead of displaying it.`

// Options configures a Runner.
type Options struct {
	// Interpreter is the executable used to run generated code, e.g.
	// "python3". Required.
	Interpreter string
	// Timeout bounds a single execution. Defaults to 2 minutes.
	Timeout time.Duration
}

// Runner generates and executes code for the code_execution agent type.
type Runner struct {
	gen         TextGenerator
	interpreter string
	timeout     time.Duration
}

// New constructs a Runner backed by gen and running programs with opts.
func New(gen TextGenerator, opts Options) (*Runner, error) {
	if gen == nil {
		return nil, fmt.Errorf("codeexec: generator is required")
	}
	if opts.Interpreter == "" {
		return nil, fmt.Errorf("codeexec: interpreter is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{gen: gen, interpreter: opts.Interpreter, timeout: timeout}, nil
}

// Run generates a program for req, executes it in an isolated temp
// directory, and summarizes the result as Markdown with any generated
// files attached as artifacts.
func (r *Runner) Run(ctx context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	if req.Log != nil {
		req.Log(ctx, "info", "generating code for task")
	}
	code, err := r.gen.Generate(ctx, codeGenSystemPrompt, buildCodePrompt(req))
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("codeexec: generate code: %w", err)
	}
	code = stripFences(code)
	if strings.TrimSpace(code) == "" {
		return agentrunner.Result{}, fmt.Errorf("codeexec: model returned empty code")
	}

	workdir, err := os.MkdirTemp("", "codeexec-"+req.TaskID+"-")
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("codeexec: create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	scriptPath := filepath.Join(workdir, "task.py")
	if err := os.WriteFile(scriptPath, []byte(code), 0o600); err != nil {
		return agentrunner.Result{}, fmt.Errorf("codeexec: write script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if req.Log != nil {
		req.Log(ctx, "info", "executing generated code")
	}
	stdout, stderr, exitCode, err := r.execute(runCtx, workdir, scriptPath)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("codeexec: execute: %w", err)
	}

	artifacts, err := collectArtifacts(workdir, scriptPath)
	if err != nil {
		return agentrunner.Result{}, fmt.Errorf("codeexec: collect artifacts: %w", err)
	}

	if req.Log != nil {
		if exitCode == 0 {
			req.Log(ctx, "info", fmt.Sprintf("execution succeeded, %d artifact(s)", len(artifacts)))
		} else {
			req.Log(ctx, "error", fmt.Sprintf("execution failed with exit code %d", exitCode))
		}
	}

	return agentrunner.Result{
		Summary:   buildSummary(code, stdout, stderr, exitCode),
		Artifacts: artifacts,
	}, nil
}

func (r *Runner) execute(ctx context.Context, workdir, scriptPath string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, r.interpreter, scriptPath)
	cmd.Dir = workdir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	switch {
	case runErr == nil:
		exitCode = 0
	case cmd.ProcessState != nil:
		exitCode = cmd.ProcessState.ExitCode()
	default:
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, exitCode, nil
}

func buildCodePrompt(req agentrunner.Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if len(req.UpstreamOutputs) > 0 {
		ids := make([]string, 0, len(req.UpstreamOutputs))
		for id := range req.UpstreamOutputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\n\nUpstream task output:\n")
		for _, id := range ids {
			out := req.UpstreamOutputs[id]
			if len(out) > 1500 {
				out = out[:1500]
			}
			fmt.Fprintf(&b, "\n%s:\n%s\n", id, out)
		}
	}
	return b.String()
}

func stripFences(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "```python")
	code = strings.TrimPrefix(code, "```py")
	code = strings.TrimPrefix(code, "```")
	code = strings.TrimSuffix(code, "```")
	return strings.TrimSpace(code)
}

var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".csv":  "text/csv",
	".json": "application/json",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
}

func collectArtifacts(workdir, scriptPath string) ([]store.ArtifactRef, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return nil, err
	}
	var refs []store.ArtifactRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(workdir, e.Name())
		if path == scriptPath {
			continue
		}
		mimeType := mimeByExt[strings.ToLower(filepath.Ext(e.Name()))]
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		refs = append(refs, store.ArtifactRef{
			Type:     artifactType(mimeType),
			MimeType: mimeType,
			URI:      path,
		})
	}
	return refs, nil
}

func artifactType(mimeType string) string {
	if strings.HasPrefix(mimeType, "image/") {
		return "image"
	}
	return "file"
}

func buildSummary(code, stdout, stderr string, exitCode int) string {
	if exitCode != 0 {
		msg := stderr
		if len(msg) > 1000 {
			msg = msg[:1000]
		}
		return fmt.Sprintf("## Code Execution Failed\n\n```python\n%s\n```\n\n**Error (exit code %d):**\n```\n%s\n```", code, exitCode, msg)
	}
	parts := []string{fmt.Sprintf("```python\n%s\n```", code)}
	if strings.TrimSpace(stdout) != "" {
		out := stdout
		if len(out) > 2000 {
			out = out[:2000]
		}
		parts = append(parts, fmt.Sprintf("**Output:**\n```\n%s\n```", out))
	}
	return strings.Join(parts, "\n\n")
}
