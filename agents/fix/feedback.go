package fix

import (
	"strings"

	"github.com/lexcodex/codemend/verify"
)

const (
	feedbackHeader      = "# ISSUES TO FIX:"
	directiveSyntax     = "- FIX SYNTAX ERRORS FIRST!"
	directiveImportable = "- Code cannot be imported, check for runtime errors at module level"
	noSpecificIssues    = "Minor issues remain"
)

// Feedback lists every issue of a verification as bullets, followed by the
// directives for syntax and import failures.
func Feedback(res verify.Result) string {
	var lines []string
	for _, issue := range res.Issues {
		lines = append(lines, "- "+issue)
	}
	if !res.SyntaxValid {
		lines = append(lines, directiveSyntax)
	}
	if !res.Importable {
		lines = append(lines, directiveImportable)
	}
	if len(lines) == 0 {
		return noSpecificIssues
	}
	return strings.Join(lines, "\n")
}

// NextInput appends feedback to the candidate for the following round.
func NextInput(candidate, feedback string) string {
	return candidate + "\n\n" + feedbackHeader + "\n" + feedback
}
