package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codemend/internal/config"
	"github.com/lexcodex/codemend/internal/observability"
)

var (
	cfgFile   string
	workspace string

	flagModel    string
	flagEndpoint string
	flagProvider string
	flagLogLevel string

	globalCfg *config.Config
)

// Execute is the entry point for the CLI.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codemend",
		Short:         "Repair and inspect source files with a local model and analysis tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := resolvePaths(); err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			globalCfg = cfg

			ctx, err := observability.WithLogger(cmd.Context(), cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace directory")
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default <workspace>/.codemend/config.yaml)")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "Model name, overrides llm.model")
	root.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "Ollama endpoint, overrides llm.endpoint")
	root.PersistentFlags().StringVar(&flagProvider, "provider", "", "Backend provider (ollama or openai)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newFixCmd(),
		newAskCmd(),
		newVerifyCmd(),
		newToolsCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
	return root
}

// resolvePaths makes the workspace absolute and defaults the config file
// into it.
func resolvePaths() error {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workspace = wd
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	workspace = abs
	if cfgFile == "" {
		cfgFile = config.DefaultPath(workspace)
	}
	return nil
}

// applyFlagOverrides lets explicit flags win over file and environment.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.LLM.Model = flagModel
	}
	if flags.Changed("endpoint") {
		cfg.LLM.Endpoint = flagEndpoint
	}
	if flags.Changed("provider") {
		cfg.LLM.Provider = flagProvider
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = flagLogLevel
	}
}
