package fix

import (
	"regexp"
	"strings"
)

var codeStartPrefixes = []string{"import ", "from ", "class ", "def ", "async def ", "@", "if __name__"}

// statementLike matches assignments and calls at column zero, which prose
// lines such as "Here is the fixed code:" never do.
var statementLike = regexp.MustCompile(`^[A-Za-z_][\w.\[\]'"]*\s*(=[^=]|\+=|-=|\*=|/=|\()`)

// CleanCandidate strips markdown fences and any prose that precedes the first
// line that looks like the start of Python code. Comment lines directly above
// that line are kept; a markdown heading followed by prose is not. Text
// without a code start is returned fence-stripped and trimmed.
func CleanCandidate(text string) string {
	text = stripFences(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if looksLikeCodeStart(line) || (isComment(line) && commentLeadsToCode(lines[i+1:])) {
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
	}
	return strings.TrimSpace(text)
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// commentLeadsToCode reports whether the first line after a comment block,
// skipping blanks, starts code.
func commentLeadsToCode(rest []string) bool {
	for _, line := range rest {
		if strings.TrimSpace(line) == "" || isComment(line) {
			continue
		}
		return looksLikeCodeStart(line)
	}
	return false
}

func looksLikeCodeStart(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, prefix := range codeStartPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return line == trimmed && statementLike.MatchString(trimmed)
}

// stripFences keeps the body of the first fenced block when there is one.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		lang := strings.TrimSpace(body[:nl])
		if lang == "" || !strings.ContainsAny(lang, " \t(=:") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// ExtractCode returns the body of the first fenced block in text, or the
// whole text, trimmed. Unlike CleanCandidate it makes no assumption about
// the language.
func ExtractCode(text string) string {
	return strings.TrimSpace(stripFences(text))
}
