package cmd

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// truncateCode cuts code to at most max bytes on a rune boundary. A max of
// zero or less keeps everything.
func truncateCode(code string, max int) (string, bool) {
	if max <= 0 || len(code) <= max {
		return code, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(code[cut]) {
		cut--
	}
	return code[:cut], true
}

// countLines counts lines the way an editor would, ignoring a trailing newline.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

// checkThreshold rejects passing scores the rubric cannot express.
func checkThreshold(threshold int) error {
	if threshold < 1 || threshold > 100 {
		return fmt.Errorf("threshold must be between 1 and 100, got %d", threshold)
	}
	return nil
}

func displayLanguage(lang string) string {
	if lang == "" {
		return "this file type"
	}
	return lang
}

// clipText shortens s to max runes for table cells.
func clipText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

// newTable creates a left-aligned markdown-style table.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.On},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
