package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lexcodex/codemend/framework"
)

// ErrExecutionDisabled is returned by execution tools when running code is
// turned off in configuration.
var ErrExecutionDisabled = errors.New("code execution is disabled")

// DefaultExecutionTimeout bounds one snippet run.
const DefaultExecutionTimeout = 5 * time.Second

// maxOutputChars bounds the output returned to the model.
const maxOutputChars = 4000

type interpreter struct {
	command []string
	ext     string
}

var interpreters = map[string]interpreter{
	"python":     {command: []string{"python3"}, ext: ".py"},
	"javascript": {command: []string{"node"}, ext: ".js"},
	"typescript": {command: []string{"ts-node"}, ext: ".ts"},
	"go":         {command: []string{"go", "run"}, ext: ".go"},
	"java":       {command: []string{"java"}, ext: ".java"},
}

// SupportedLanguages lists the languages run_code accepts.
func SupportedLanguages() []string {
	out := make([]string, 0, len(interpreters))
	for k := range interpreters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Executor runs snippets from temporary files through a CommandRunner.
type Executor struct {
	Runner  framework.CommandRunner
	Enabled bool
	Timeout time.Duration
	// TempDir holds snippet files. Empty uses the system temp dir.
	TempDir string
}

func (e *Executor) run(ctx context.Context, language, code string, prefix []string) (string, string, error) {
	if !e.Enabled {
		return "", "", ErrExecutionDisabled
	}
	if e.Runner == nil {
		return "", "", errors.New("command runner missing")
	}
	interp, ok := interpreters[language]
	if !ok {
		return "", "", framework.NewArgumentError("language %q not supported, available: %s", language, strings.Join(SupportedLanguages(), ", "))
	}
	f, err := os.CreateTemp(e.TempDir, "snippet-*"+interp.ext)
	if err != nil {
		return "", "", fmt.Errorf("create snippet file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return "", "", err
	}
	if err := f.Close(); err != nil {
		return "", "", err
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	args := append(append(append([]string{}, interp.command...), prefix...), f.Name())
	return e.Runner.Run(ctx, framework.CommandRequest{Args: args, Timeout: timeout})
}

type runCodeArgs struct {
	Code     string `json:"code" jsonschema:"required" jsonschema_description:"Code to execute" validate:"required"`
	Language string `json:"language,omitempty" jsonschema:"enum=python,enum=javascript,enum=typescript,enum=go,enum=java,default=python" jsonschema_description:"Language of the code"`
}

// RunCodeTool executes a snippet and returns its output.
type RunCodeTool struct {
	Exec *Executor
}

func (t *RunCodeTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "run_code",
		Description: "Execute code in Python, JavaScript, TypeScript, Java, or Go and return its output.",
		Parameters:  framework.ParametersFor[runCodeArgs](),
	}
}

func (t *RunCodeTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[runCodeArgs](raw)
	if err != nil {
		return "", err
	}
	lang := args.Language
	if lang == "" {
		lang = "python"
	}
	stdout, stderr, err := t.Exec.run(ctx, lang, args.Code, nil)
	return executionReport(stdout, stderr, err)
}

type profileCodeArgs struct {
	Code string `json:"code" jsonschema:"required" jsonschema_description:"Python code to profile" validate:"required"`
}

// ProfileCodeTool runs Python code under cProfile and keeps the hottest
// functions.
type ProfileCodeTool struct {
	Exec *Executor
}

func (t *ProfileCodeTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "profile_code",
		Description: "Profile Python code with cProfile and list the functions with the highest cumulative time.",
		Parameters:  framework.ParametersFor[profileCodeArgs](),
	}
}

func (t *ProfileCodeTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[profileCodeArgs](raw)
	if err != nil {
		return "", err
	}
	stdout, stderr, err := t.Exec.run(ctx, "python", args.Code, []string{"-m", "cProfile", "-s", "cumulative"})
	if err != nil {
		return executionReport(stdout, stderr, err)
	}
	return "Performance profile (top functions by cumulative time):\n" + profileSummary(stdout), nil
}

// profileSummary keeps the cProfile header and the first rows of the table.
func profileSummary(out string) string {
	lines := strings.Split(out, "\n")
	start := -1
	for i, l := range lines {
		if strings.Contains(l, "ncalls") && strings.Contains(l, "cumtime") {
			start = i
			break
		}
	}
	if start < 0 {
		return truncateOutput(strings.TrimSpace(out))
	}
	end := min(len(lines), start+11)
	var keep []string
	for _, l := range lines[max(0, start-3):end] {
		if strings.TrimSpace(l) != "" {
			keep = append(keep, l)
		}
	}
	return strings.Join(keep, "\n")
}

// executionReport renders a run for the model. Non-zero exits and timeouts
// are results, not tool failures.
func executionReport(stdout, stderr string, err error) (string, error) {
	switch {
	case err == nil:
		return "Execution successful:\n" + truncateOutput(stdout), nil
	case errors.Is(err, framework.ErrCommandTimeout):
		return "Execution timed out: " + err.Error(), nil
	case errors.Is(err, ErrExecutionDisabled):
		return "", err
	}
	var argErr *framework.ArgumentError
	if errors.As(err, &argErr) {
		return "", err
	}
	if stderr == "" && stdout == "" {
		return "", err
	}
	return "Execution failed:\n" + truncateOutput(stderr+stdout), nil
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return s[:maxOutputChars] + "\n...(truncated)"
}
