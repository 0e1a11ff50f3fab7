package tools

import (
	"time"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/verify"
)

// Options configures the default tool set.
type Options struct {
	Workspace        Workspace
	Runner           framework.CommandRunner
	Verifier         *verify.Verifier
	ExecutionEnabled bool
	ExecutionTimeout time.Duration
}

// DefaultTools returns the built-in capabilities in registration order.
func DefaultTools(opts Options) []framework.Tool {
	exec := &Executor{Runner: opts.Runner, Enabled: opts.ExecutionEnabled, Timeout: opts.ExecutionTimeout}
	repo := GitRepo{Workspace: opts.Workspace}
	return []framework.Tool{
		&CheckSyntaxTool{},
		&AnalyzeCodeTool{Verifier: opts.Verifier},
		&RunCodeTool{Exec: exec},
		&ProfileCodeTool{Exec: exec},
		&ReadFileTool{Workspace: opts.Workspace},
		&ScanProjectTool{Workspace: opts.Workspace},
		&GitStatusTool{Repo: repo},
		&GitDiffTool{Repo: repo},
		&GitHistoryTool{Repo: repo},
	}
}

// NewRegistry registers the default tools and seals the registry.
func NewRegistry(opts Options) (*framework.ToolRegistry, error) {
	reg := framework.NewToolRegistry()
	for _, tool := range DefaultTools(opts) {
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}
	reg.Seal()
	return reg, nil
}
