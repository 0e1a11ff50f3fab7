package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codemend/internal/config"
	"github.com/lexcodex/codemend/persistence"
)

// newHistoryCmd lists and inspects stored runs.
func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent fix and ask runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Started", "Kind", "File", "Task", "Score", "Rounds", "Status", "Model")
			for _, r := range runs {
				_ = table.Append([]string{
					shortID(r.ID),
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					string(r.Kind),
					r.File,
					r.Task,
					scoreCell(r),
					strconv.Itoa(r.Iterations),
					r.Status,
					r.Model,
				})
			}
			return table.Render()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show (0 for all)")
	cmd.AddCommand(newHistoryShowCmd(), newHistoryDeleteCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one run with its rounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := findRun(cmd, store, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s %s\n", filePathStyle.Render(run.File), dimStyle.Render(string(run.Kind)+"/"+run.Task), run.ID)
			fmt.Fprintf(w, "started %s, took %s, %s %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Duration, run.Backend, run.Model)
			fmt.Fprintf(w, "status %s, score %s after %d rounds\n", run.Status, scoreCell(run), run.Iterations)
			for _, r := range run.Rounds {
				line := fmt.Sprintf("  round %d: %d", r.Iteration, r.Score)
				if r.Diagnostic != "" {
					line += " " + r.Diagnostic
				}
				fmt.Fprintln(w, line)
			}
			for _, issue := range run.Issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a run from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := findRun(cmd, store, args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), run.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", run.ID)
			return nil
		},
	}
}

func openHistory() (*persistence.RunStore, error) {
	if globalCfg.Store.Disabled {
		return nil, errors.New("run history is disabled (store.disabled)")
	}
	return persistence.OpenRunStore(config.ResolvePath(workspace, globalCfg.Store.Path))
}

// findRun accepts a full id or the short prefix printed by history.
func findRun(cmd *cobra.Command, store *persistence.RunStore, id string) (*persistence.Run, error) {
	run, err := store.Get(cmd.Context(), id)
	if err == nil || !errors.Is(err, persistence.ErrRunNotFound) {
		return run, err
	}
	runs, err := store.List(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var match *persistence.Run
	for _, r := range runs {
		if len(id) >= 4 && len(r.ID) >= len(id) && r.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("id prefix %s is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%s: %w", id, persistence.ErrRunNotFound)
	}
	return match, nil
}

func scoreCell(r *persistence.Run) string {
	if r.Kind != persistence.RunFix {
		return "-"
	}
	return strconv.Itoa(r.Score)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
