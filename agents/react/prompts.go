package react

import (
	"fmt"
	"strings"

	"github.com/lexcodex/codemend/framework"
)

// Task selects the instruction given to the model for a piece of code.
type Task string

const (
	TaskFix      Task = "fix"
	TaskReview   Task = "review"
	TaskOptimize Task = "optimize"
	TaskExplain  Task = "explain"
)

// ParseTask validates a task name.
func ParseTask(s string) (Task, error) {
	switch Task(strings.ToLower(strings.TrimSpace(s))) {
	case TaskFix:
		return TaskFix, nil
	case TaskReview:
		return TaskReview, nil
	case TaskOptimize:
		return TaskOptimize, nil
	case TaskExplain:
		return TaskExplain, nil
	}
	return "", fmt.Errorf("unknown task %q (want fix, review, optimize or explain)", s)
}

// SystemPrompt is the fixed preamble of every tool-enabled run.
func SystemPrompt(tools []framework.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You are an expert programming assistant that inspects and repairs source code.\n")
	b.WriteString("Use a tool only when it gives you information you cannot infer from the code itself.\n\n")
	b.WriteString(framework.RenderToolsToPrompt(tools))
	b.WriteString("\nWhen you have enough information, answer directly without the TOOL_CALL marker.")
	return b.String()
}

var languageChecklists = map[string][]string{
	"python": {
		"variables are assigned before use",
		"division by len(...) is guarded against empty collections",
		"lists are not modified while iterating over them (iterate a copy or build a new list)",
		"indexes stay within bounds",
		"comparisons to None use 'is None'",
		"files are opened with a 'with' statement",
	},
	"javascript": {
		"const/let instead of var",
		"null and undefined are handled",
		"promises are awaited and rejections handled",
		"variables are declared before use",
	},
	"typescript": {
		"types are precise, no implicit any",
		"null and undefined are handled",
		"promises are awaited and rejections handled",
	},
	"go": {
		"every error is checked",
		"no nil pointer dereferences",
		"goroutines cannot leak",
	},
}

// TaskPrompt builds the user prompt for task over code written in language.
func TaskPrompt(task Task, language, code string) string {
	lang := language
	if lang == "" {
		lang = "code"
	}
	var b strings.Builder
	switch task {
	case TaskReview:
		fmt.Fprintf(&b, "Review this %s code as a senior developer. List each issue with its severity (high, medium, low) and a suggested fix.\n", lang)
	case TaskOptimize:
		fmt.Fprintf(&b, "Optimize this %s code for performance and readability without changing its behavior. Return the optimized code followed by a short summary of the changes.\n", lang)
	case TaskExplain:
		fmt.Fprintf(&b, "Explain step by step what this %s code does.\n", lang)
	default:
		fmt.Fprintf(&b, "Fix all bugs in this %s code.\n", lang)
		if checks, ok := languageChecklists[strings.ToLower(language)]; ok {
			b.WriteString("Make sure that:\n")
			for _, c := range checks {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
		b.WriteString("Return ONLY the corrected code, no explanations.\n")
	}
	fence := strings.ToLower(language)
	fmt.Fprintf(&b, "\n```%s\n%s\n```", fence, strings.TrimRight(code, "\n"))
	return b.String()
}
