package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/codemend/agents/fix"
	"github.com/lexcodex/codemend/verify"
)

var (
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("220")
	colorError   = lipgloss.Color("196")
	colorDim     = lipgloss.Color("241")
	colorPath    = lipgloss.Color("86")

	filePathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPath)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	statusStyles = map[fix.Status]lipgloss.Style{
		fix.StatusVerified: lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
		fix.StatusPartial:  lipgloss.NewStyle().Bold(true).Foreground(colorWarning),
		fix.StatusFailed:   lipgloss.NewStyle().Bold(true).Foreground(colorError),
	}
)

func renderStatus(s fix.Status) string {
	return statusStyles[s].Render(strings.ToUpper(string(s)))
}

// renderFixOutcome prints one file's fix result.
func renderFixOutcome(w io.Writer, rt *runtime, out fileOutcome, f fixFlags) {
	name := rt.workspace.Rel(out.Path)
	if out.Err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", renderStatus(fix.StatusFailed), filePathStyle.Render(name), out.Err)
		return
	}
	rep := out.Report
	max := rt.verifier.MaxScore()
	fmt.Fprintf(w, "%s %s  score %d/%d (was %d) after %d of %d rounds\n",
		renderStatus(rep.Status(f.threshold)), filePathStyle.Render(name),
		rep.Verification.Score, max, out.Before, rep.Iterations, f.iterations)
	for _, round := range rep.Rounds {
		line := fmt.Sprintf("  round %d: %d/%d", round.Iteration, round.Score, max)
		if round.Diagnostic != "" {
			line += " " + round.Diagnostic
		}
		fmt.Fprintln(w, dimStyle.Render(line))
	}
	for _, issue := range rep.Verification.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
	switch {
	case out.Written && out.BackedUp:
		fmt.Fprintf(w, "  written (%d lines), original saved to %s.bak\n", out.LinesAfter, name)
	case out.Written:
		fmt.Fprintf(w, "  written (%d lines), existing %s.bak kept\n", out.LinesAfter, name)
	case f.dryRun:
		fmt.Fprintln(w, dimStyle.Render("  dry run, file not written"))
	case out.Truncated:
		fmt.Fprintln(w, dimStyle.Render("  input was truncated, file not written"))
	case rep.Code == "" || !rep.Verification.SyntaxValid:
		fmt.Fprintln(w, dimStyle.Render("  final candidate does not parse, file not written"))
	default:
		fmt.Fprintln(w, dimStyle.Render("  no changes"))
	}
}

// renderVerification prints a rubric breakdown for one file.
func renderVerification(w io.Writer, name string, res verify.Result, max, threshold int) {
	fmt.Fprintf(w, "%s %s  score %d/%d\n", renderStatus(fix.StatusFor(res.Score, threshold)), filePathStyle.Render(name), res.Score, max)
	for _, c := range res.Checks {
		mark := "pass"
		if !c.Passed {
			mark = "fail"
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  %-16s %s  %2d pts", c.Name, mark, c.Points)))
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}
