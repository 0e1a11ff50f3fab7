package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/internal/config"
	"github.com/lexcodex/codemend/tools"
	"github.com/lexcodex/codemend/verify"
)

// newToolsCmd lists the registered tools and can invoke one directly.
func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the analysis tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Tool", "Parameters", "Description")
			for _, desc := range reg.DescribeAll() {
				_ = table.Append([]string{desc.Name, describeParams(desc), clipText(desc.Description, 70)})
			}
			return table.Render()
		},
	}
	cmd.AddCommand(newToolsRunCmd())
	return cmd
}

// newToolsRunCmd dispatches one tool call with JSON arguments, the same way
// the tool loop does.
func newToolsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run TOOL [JSON_ARGS]",
		Short: "Invoke a tool through the dispatcher",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := localRegistry()
			if err != nil {
				return err
			}
			params := map[string]interface{}{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}
			d := framework.NewDispatcher(reg, framework.WithToolTimeout(globalCfg.Agent.ToolTimeout))
			out := d.Dispatch(cmd.Context(), args[0], params)
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			if !out.Success {
				return fmt.Errorf("%s failed", args[0])
			}
			return nil
		},
	}
}

// localRegistry builds the tool set without a model backend.
func localRegistry() (*framework.ToolRegistry, error) {
	ws, err := tools.NewWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	return buildRegistry(ws, globalCfg, verify.NewVerifier(verify.WithWeights(globalCfg.Weights)))
}

// buildRegistry registers the default tools confined to ws and seals the
// registry.
func buildRegistry(ws tools.Workspace, cfg *config.Config, v *verify.Verifier) (*framework.ToolRegistry, error) {
	runner, err := framework.NewLocalCommandRunner(ws.Root)
	if err != nil {
		return nil, err
	}
	return tools.NewRegistry(tools.Options{
		Workspace:        ws,
		Runner:           runner,
		Verifier:         v,
		ExecutionEnabled: cfg.Execution.Enabled,
		ExecutionTimeout: cfg.Execution.Timeout,
	})
}

func describeParams(desc framework.ToolDescriptor) string {
	parts := make([]string, 0, len(desc.Parameters))
	for _, p := range desc.Parameters {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, name+": "+p.Type)
	}
	return strings.Join(parts, ", ")
}
