package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrCommandTimeout is returned when a command exceeds its timeout.
var ErrCommandTimeout = errors.New("command timed out")

// CommandRequest captures process execution metadata.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Input   string
	Timeout time.Duration
}

// CommandRunner describes a primitive capable of executing commands.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout string, stderr string, err error)
}

// LocalCommandRunner runs commands on the host, confined to a workspace
// directory.
type LocalCommandRunner struct {
	workspace string
}

// NewLocalCommandRunner resolves the workspace root commands may run in.
func NewLocalCommandRunner(workspace string) (*LocalCommandRunner, error) {
	if workspace == "" {
		return nil, errors.New("workspace required")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &LocalCommandRunner{workspace: filepath.Clean(abs)}, nil
}

// Run executes the command, killing it when the timeout expires.
func (r *LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if r == nil {
		return "", "", errors.New("command runner missing")
	}
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	workdir, err := r.resolveWorkdir(req.Workdir)
	if err != nil {
		return "", "", err
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()
	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), req.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	err = cmd.Run()
	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%s after %s: %w", req.Args[0], req.Timeout, ErrCommandTimeout)
	}
	return stdout.String(), stderr.String(), err
}

// resolveWorkdir keeps command working directories inside the workspace.
func (r *LocalCommandRunner) resolveWorkdir(workdir string) (string, error) {
	if workdir == "" {
		return r.workspace, nil
	}
	abs := workdir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.workspace, workdir)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(r.workspace, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workdir %s outside workspace %s", abs, r.workspace)
	}
	return abs, nil
}
