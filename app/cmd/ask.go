package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/lexcodex/codemend/agents/fix"
	"github.com/lexcodex/codemend/agents/react"
	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/persistence"
	"github.com/lexcodex/codemend/tools"
	"github.com/lexcodex/codemend/verify"
)

// extraLanguages covers extensions a prompt can name even though no grammar
// is bundled for them.
var extraLanguages = map[string]string{
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
}

func askLanguage(path string) string {
	if lang := verify.DetectLanguage(path); lang != "" {
		return lang
	}
	return extraLanguages[strings.ToLower(filepath.Ext(path))]
}

type askFlags struct {
	task            string
	noTools         bool
	rounds          int
	write           bool
	verify          bool
	skipHealthCheck bool
}

// newAskCmd runs one task prompt over a file, optionally through the tool loop.
func newAskCmd() *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask FILE",
		Short: "Fix, review, optimize or explain a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			task, err := react.ParseTask(f.task)
			if err != nil {
				return err
			}
			if f.write && task != react.TaskFix && task != react.TaskOptimize {
				return fmt.Errorf("--write applies to the fix and optimize tasks only")
			}
			if !cmd.Flags().Changed("rounds") {
				f.rounds = globalCfg.Agent.MaxToolRounds
			}

			rt, err := newRuntime(ctx, globalCfg, workspace)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			path, err := rt.workspace.Resolve(args[0])
			if err != nil {
				return err
			}
			lang := askLanguage(path)
			if lang == "" {
				return fmt.Errorf("language not supported for %s", args[0])
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			code, truncated := truncateCode(string(data), rt.cfg.Agent.MaxCodeLength)
			if truncated && f.write {
				return fmt.Errorf("%s exceeds %d bytes; refusing to write a truncated result", args[0], rt.cfg.Agent.MaxCodeLength)
			}

			if !f.skipHealthCheck {
				if err := rt.waitReady(ctx); err != nil {
					return err
				}
			}

			start := time.Now()
			answer, rounds, stop, err := rt.ask(ctx, react.TaskPrompt(task, lang, code), f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s (%s, %s)\n", filePathStyle.Render(rt.workspace.Rel(path)), dimStyle.Render(string(task)), lang, stop)
			fmt.Fprintln(w, answer)

			run := &persistence.Run{
				Kind:       persistence.RunAsk,
				File:       rt.workspace.Rel(path),
				Task:       string(task),
				Iterations: rounds,
				Status:     stop,
				Success:    stop == string(react.StopFinalAnswer),
				StartedAt:  start.UTC(),
				Duration:   since(start),
			}
			if task == react.TaskFix || task == react.TaskOptimize {
				candidate := extractFor(lang, answer)
				if f.verify && task == react.TaskFix {
					rt.verifyAnswer(ctx, w, lang, candidate)
				}
				if f.write {
					if err := rt.writeAnswer(ctx, w, path, lang, string(data), candidate); err != nil {
						return err
					}
				}
			}
			store := rt.openStore(ctx)
			defer store.Close()
			rt.record(ctx, store, run)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.task, "task", string(react.TaskFix), "Task: fix, review, optimize or explain")
	cmd.Flags().BoolVar(&f.noTools, "no-tools", false, "Ask the model once without offering tools")
	cmd.Flags().IntVar(&f.rounds, "rounds", 5, "Maximum model rounds in the tool loop")
	cmd.Flags().BoolVar(&f.write, "write", false, "Write the extracted code back to the file (fix and optimize)")
	cmd.Flags().BoolVar(&f.verify, "verify", false, "Check syntax and run the fixed code")
	cmd.Flags().BoolVar(&f.skipHealthCheck, "skip-health-check", false, "Do not ping the backend before starting")
	return cmd
}

// ask returns the answer text, rounds used and the stop reason.
func (rt *runtime) ask(ctx context.Context, prompt string, f askFlags) (string, int, string, error) {
	if f.noTools {
		ctx, cancel := context.WithTimeout(ctx, rt.cfg.LLM.Timeout)
		defer cancel()
		resp, err := rt.model.Generate(ctx, prompt, rt.options())
		if err != nil {
			return framework.DescribeBackendError(err), 1, string(react.StopBackendError), nil
		}
		return resp.Text, 1, string(react.StopFinalAnswer), nil
	}
	res, err := rt.agent().Run(ctx, prompt, f.rounds)
	if err != nil {
		return "", 0, "", err
	}
	return res.Text, res.Rounds, string(res.Stop), nil
}

func extractFor(lang, answer string) string {
	if lang == "python" {
		return fix.CleanCandidate(answer)
	}
	return fix.ExtractCode(answer)
}

// verifyAnswer runs check_syntax, and run_code where an interpreter exists,
// through the dispatcher.
func (rt *runtime) verifyAnswer(ctx context.Context, w io.Writer, lang, code string) {
	fmt.Fprintln(w, filePathStyle.Render("Verification"))
	syntax := rt.dispatcher.Dispatch(ctx, "check_syntax", map[string]interface{}{"code": code, "language": lang})
	fmt.Fprintln(w, syntax.Text)
	if lang != "python" && lang != "javascript" {
		return
	}
	run := rt.dispatcher.Dispatch(ctx, "run_code", map[string]interface{}{"code": code, "language": lang})
	fmt.Fprintln(w, run.Text)
}

// writeAnswer backs up the original and writes candidate when it parses.
// Languages without a bundled grammar are written unchecked.
func (rt *runtime) writeAnswer(ctx context.Context, w io.Writer, path, lang, original, candidate string) error {
	log := clog.FromContext(ctx)
	if strings.TrimSpace(candidate) == "" || candidate == original {
		fmt.Fprintln(w, dimStyle.Render("no changes to write"))
		return nil
	}
	if verify.Grammar(lang) != nil {
		prog, err := verify.Parse(ctx, lang, candidate)
		if err != nil {
			return err
		}
		valid := prog.Valid()
		prog.Close()
		if !valid {
			fmt.Fprintln(w, dimStyle.Render("answer does not parse, file not written"))
			return nil
		}
	}
	backedUp, err := tools.BackupFile(path)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := writePreservingMode(path, candidate); err != nil {
		return err
	}
	log.With("file", rt.workspace.Rel(path), "backup", backedUp).Info("answer written")
	fmt.Fprintf(w, "written %s (%d lines before, %d after)\n", rt.workspace.Rel(path), countLines(original), countLines(candidate))
	return nil
}
