package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/codemend/agents/fix"
	"github.com/lexcodex/codemend/persistence"
	"github.com/lexcodex/codemend/tools"
	"github.com/lexcodex/codemend/verify"
)

type fixFlags struct {
	iterations      int
	threshold       int
	toolAssisted    bool
	dryRun          bool
	skipHealthCheck bool
}

// fileOutcome is what one fixed file reports back to the command.
type fileOutcome struct {
	Path       string
	Before     int
	Report     *fix.Report
	Written    bool
	BackedUp   bool
	Truncated  bool
	Err        error
	Elapsed    time.Duration
	LinesAfter int
}

// newFixCmd runs the verification loop over one or more Python files.
func newFixCmd() *cobra.Command {
	var f fixFlags
	cmd := &cobra.Command{
		Use:   "fix FILE...",
		Short: "Repair Python files, retrying until the verification score passes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := globalCfg
			if !cmd.Flags().Changed("iterations") {
				f.iterations = cfg.Agent.MaxFixIterations
			}
			if !cmd.Flags().Changed("threshold") {
				f.threshold = cfg.Agent.Threshold
			}
			if !cmd.Flags().Changed("tool-assisted") {
				f.toolAssisted = cfg.Agent.ToolAssisted
			}
			if f.iterations < 1 {
				return fix.ErrInvalidIterations
			}
			if err := checkThreshold(f.threshold); err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, workspace)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			paths := make([]string, 0, len(args))
			for _, arg := range args {
				p, err := rt.workspace.Resolve(arg)
				if err != nil {
					return err
				}
				if lang := verify.DetectLanguage(p); lang != "python" {
					return fmt.Errorf("%s: fix verifies python files only; use 'codemend ask --task fix' for %s", arg, displayLanguage(lang))
				}
				paths = append(paths, p)
			}

			if !f.skipHealthCheck {
				if err := rt.waitReady(ctx); err != nil {
					return err
				}
			}

			store := rt.openStore(ctx)
			defer store.Close()

			runner := rt.fixRunner(f.toolAssisted, f.threshold)
			outcomes := make([]fileOutcome, len(paths))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Agent.Parallelism)
			for i, p := range paths {
				g.Go(func() error {
					out := rt.fixFile(gctx, runner, p, f)
					outcomes[i] = out
					if out.Report != nil {
						rt.record(gctx, store, fixRun(rt, out, f.threshold))
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			failed := 0
			for _, out := range outcomes {
				renderFixOutcome(w, rt, out, f)
				if out.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&f.iterations, "iterations", 3, "Maximum generate/verify rounds per file")
	cmd.Flags().IntVar(&f.threshold, "threshold", fix.DefaultThreshold, "Score a candidate needs to be accepted")
	cmd.Flags().BoolVar(&f.toolAssisted, "tool-assisted", false, "Let the model call analysis tools while generating each candidate")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report the result without writing files")
	cmd.Flags().BoolVar(&f.skipHealthCheck, "skip-health-check", false, "Do not ping the backend before starting")
	return cmd
}

// fixFile runs the loop for one file and writes the result unless the run
// is a dry run, the input was truncated or the final candidate does not
// parse.
func (rt *runtime) fixFile(ctx context.Context, runner *fix.Runner, path string, f fixFlags) fileOutcome {
	start := time.Now()
	out := fileOutcome{Path: path}
	log := clog.FromContext(ctx).With("file", rt.workspace.Rel(path))

	data, err := os.ReadFile(path)
	if err != nil {
		out.Err = err
		return out
	}
	code, truncated := truncateCode(string(data), rt.cfg.Agent.MaxCodeLength)
	out.Truncated = truncated
	out.Before = rt.verifier.Verify(ctx, code).Score

	report, err := runner.Fix(ctx, code, f.iterations)
	out.Elapsed = since(start)
	if err != nil {
		out.Err = err
		return out
	}
	out.Report = report
	out.LinesAfter = countLines(report.Code)
	log.With("score", report.Verification.Score, "iterations", report.Iterations).Info("fix finished")

	if f.dryRun || truncated || report.Code == "" || !report.Verification.SyntaxValid || report.Code == string(data) {
		return out
	}
	backedUp, err := tools.BackupFile(path)
	if err != nil {
		out.Err = fmt.Errorf("backup %s: %w", filepath.Base(path), err)
		return out
	}
	out.BackedUp = backedUp
	if err := writePreservingMode(path, report.Code); err != nil {
		out.Err = err
		return out
	}
	out.Written = true
	return out
}

func fixRun(rt *runtime, out fileOutcome, threshold int) *persistence.Run {
	rep := out.Report
	rounds := make([]persistence.RoundSummary, 0, len(rep.Rounds))
	for _, r := range rep.Rounds {
		rounds = append(rounds, persistence.RoundSummary{Iteration: r.Iteration, Score: r.Score, Diagnostic: r.Diagnostic})
	}
	return &persistence.Run{
		Kind:       persistence.RunFix,
		File:       rt.workspace.Rel(out.Path),
		Task:       "fix",
		Iterations: rep.Iterations,
		Score:      rep.Verification.Score,
		Success:    rep.Success,
		Status:     string(rep.Status(threshold)),
		Issues:     rep.Verification.Issues,
		Rounds:     rounds,
		StartedAt:  time.Now().Add(-out.Elapsed).UTC(),
		Duration:   out.Elapsed,
	}
}

func writePreservingMode(path, content string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), mode)
}
