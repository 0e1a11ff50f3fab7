package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codemend/tools"
	"github.com/lexcodex/codemend/verify"
)

// newVerifyCmd scores Python files with the rubric, without a model.
func newVerifyCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Score Python files with the verification rubric",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = globalCfg.Agent.Threshold
			}
			if err := checkThreshold(threshold); err != nil {
				return err
			}
			ws, err := tools.NewWorkspace(workspace)
			if err != nil {
				return err
			}
			v := verify.NewVerifier(verify.WithWeights(globalCfg.Weights))
			below := 0
			for _, arg := range args {
				path, err := ws.Resolve(arg)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				res := v.Verify(cmd.Context(), string(data))
				renderVerification(cmd.OutOrStdout(), ws.Rel(path), res, v.MaxScore(), threshold)
				if res.Score < threshold {
					below++
				}
			}
			if below > 0 {
				return fmt.Errorf("%d of %d files scored below %d", below, len(args), threshold)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 85, "Score a file needs to pass")
	return cmd
}
