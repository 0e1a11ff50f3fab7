package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codemend/framework"
)

type fakeRunner struct {
	requests []framework.CommandRequest
	scripts  []string
	stdout   string
	stderr   string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, req framework.CommandRequest) (string, string, error) {
	f.requests = append(f.requests, req)
	if n := len(req.Args); n > 0 {
		if data, err := os.ReadFile(req.Args[n-1]); err == nil {
			f.scripts = append(f.scripts, string(data))
		}
	}
	return f.stdout, f.stderr, f.err
}

func TestRunCodeTool(t *testing.T) {
	runner := &fakeRunner{stdout: "3\n"}
	tool := &RunCodeTool{Exec: &Executor{Runner: runner, Enabled: true, TempDir: t.TempDir()}}

	out, err := tool.Invoke(context.Background(), map[string]interface{}{"code": "print(1 + 2)"})
	require.NoError(t, err)
	assert.Equal(t, "Execution successful:\n3\n", out)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "python3", req.Args[0])
	assert.True(t, strings.HasSuffix(req.Args[1], ".py"))
	assert.Equal(t, DefaultExecutionTimeout, req.Timeout)
	assert.Equal(t, []string{"print(1 + 2)"}, runner.scripts)

	_, statErr := os.Stat(req.Args[1])
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "snippet file should be removed")
}

func TestRunCodeToolLanguages(t *testing.T) {
	runner := &fakeRunner{}
	tool := &RunCodeTool{Exec: &Executor{Runner: runner, Enabled: true, Timeout: time.Second, TempDir: t.TempDir()}}

	_, err := tool.Invoke(context.Background(), map[string]interface{}{"code": "package main", "language": "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "run"}, runner.requests[0].Args[:2])
	assert.Equal(t, time.Second, runner.requests[0].Timeout)

	_, err = tool.Invoke(context.Background(), map[string]interface{}{"code": "x", "language": "cobol"})
	var argErr *framework.ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Contains(t, argErr.Reason, "available: go, java, javascript, python, typescript")
}

func TestRunCodeToolFailures(t *testing.T) {
	runner := &fakeRunner{stderr: "NameError: name 'x' is not defined\n", err: errors.New("exit status 1")}
	tool := &RunCodeTool{Exec: &Executor{Runner: runner, Enabled: true, TempDir: t.TempDir()}}
	out, err := tool.Invoke(context.Background(), map[string]interface{}{"code": "print(x)"})
	require.NoError(t, err)
	assert.Equal(t, "Execution failed:\nNameError: name 'x' is not defined\n", out)

	runner.stderr, runner.err = "", fmt.Errorf("python3 after 5s: %w", framework.ErrCommandTimeout)
	out, err = tool.Invoke(context.Background(), map[string]interface{}{"code": "while True: pass"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Execution timed out"), out)

	disabled := &RunCodeTool{Exec: &Executor{Runner: runner}}
	_, err = disabled.Invoke(context.Background(), map[string]interface{}{"code": "print(1)"})
	assert.ErrorIs(t, err, ErrExecutionDisabled)
}

const cProfileOutput = `hello
         4 function calls in 0.000 seconds

   Ordered by: cumulative time

   ncalls  tottime  percall  cumtime  percall filename:lineno(function)
        1    0.000    0.000    0.000    0.000 {built-in method builtins.exec}
        1    0.000    0.000    0.000    0.000 snippet.py:1(<module>)
        1    0.000    0.000    0.000    0.000 {built-in method builtins.print}
`

func TestProfileCodeTool(t *testing.T) {
	runner := &fakeRunner{stdout: cProfileOutput}
	tool := &ProfileCodeTool{Exec: &Executor{Runner: runner, Enabled: true, TempDir: t.TempDir()}}
	out, err := tool.Invoke(context.Background(), map[string]interface{}{"code": "print('hello')"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "-m", "cProfile", "-s", "cumulative"}, runner.requests[0].Args[:5])
	assert.True(t, strings.HasPrefix(out, "Performance profile (top functions by cumulative time):\n"))
	assert.Contains(t, out, "ncalls  tottime")
	assert.Contains(t, out, "snippet.py:1(<module>)")
	assert.NotContains(t, out, "hello\n")
}
