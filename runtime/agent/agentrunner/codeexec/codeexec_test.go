package codeexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
)

type fakeGen struct {
	code string
	err  error
}

func (f *fakeGen) Generate(context.Context, string, string) (string, error) {
	return f.code, f.err
}

func TestRunExecutesGeneratedScriptAndCollectsArtifacts(t *testing.T) {
	gen := &fakeGen{code: "```python\necho 'hello from task' > output.txt\necho done\n```"}
	r, err := New(gen, Options{Interpreter: "sh"})
	require.NoError(t, err)

	var logLines []string
	res, err := r.Run(context.Background(), agentrunner.Request{
		TaskID: "t1",
		Prompt: "write a file",
		Log: func(_ context.Context, level, msg string) {
			logLines = append(logLines, level+":"+msg)
		},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "done")
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "text/plain", res.Artifacts[0].MimeType)
	assert.True(t, filepath.IsAbs(res.Artifacts[0].URI))
	_, statErr := os.Stat(res.Artifacts[0].URI)
	assert.Error(t, statErr, "workdir should be cleaned up after Run returns")
	assert.NotEmpty(t, logLines)
}

func TestRunReportsNonZeroExitCode(t *testing.T) {
	gen := &fakeGen{code: "exit 3"}
	r, err := New(gen, Options{Interpreter: "sh"})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), agentrunner.Request{TaskID: "t2", Prompt: "fail"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "Code Execution Failed")
	assert.Contains(t, res.Summary, "exit code 3")
}

func TestRunRejectsEmptyGeneratedCode(t *testing.T) {
	gen := &fakeGen{code: "```python\n```"}
	r, err := New(gen, Options{Interpreter: "sh"})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), agentrunner.Request{TaskID: "t3", Prompt: "noop"})
	assert.Error(t, err)
}

func TestNewRequiresGeneratorAndInterpreter(t *testing.T) {
	_, err := New(nil, Options{Interpreter: "sh"})
	assert.Error(t, err)

	_, err = New(&fakeGen{}, Options{})
	assert.Error(t, err)
}
