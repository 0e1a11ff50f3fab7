package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/verify"
)

type analyzeCodeArgs struct {
	Code string `json:"code" jsonschema:"required" jsonschema_description:"Python code to analyze" validate:"required"`
}

// AnalyzeCodeTool runs the rubric plus structural metrics over Python code.
type AnalyzeCodeTool struct {
	Verifier *verify.Verifier
}

func (t *AnalyzeCodeTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "analyze_code",
		Description: "Analyze Python code: quality score, likely bugs, complexity, wildcard imports and global usage.",
		Parameters:  framework.ParametersFor[analyzeCodeArgs](),
	}
}

func (t *AnalyzeCodeTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[analyzeCodeArgs](raw)
	if err != nil {
		return "", err
	}
	v := t.Verifier
	if v == nil {
		v = verify.NewVerifier()
	}
	res := v.Verify(ctx, args.Code)

	var b strings.Builder
	fmt.Fprintf(&b, "Score: %d/%d\n", res.Score, v.MaxScore())
	if len(res.Issues) == 0 {
		b.WriteString("Issues: none\n")
	} else {
		b.WriteString("Issues:\n")
		for _, issue := range res.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}
	if !res.SyntaxValid {
		return strings.TrimRight(b.String(), "\n"), nil
	}

	prog, err := verify.ParsePython(ctx, args.Code)
	if err != nil {
		return "", err
	}
	defer prog.Close()
	a := verify.Analyze(prog)
	fmt.Fprintf(&b, "Functions: %d, classes: %d, imports: %d\n", len(a.Functions), a.Classes, a.Imports)
	for _, f := range a.Functions {
		fmt.Fprintf(&b, "- %s (line %d): %d lines, complexity %d, nesting %d", f.Name, f.Line, f.Lines, f.Complexity, f.Nesting)
		if !f.Docstring {
			b.WriteString(", no docstring")
		}
		b.WriteString("\n")
	}
	if w := a.Warnings(); len(w) > 0 {
		b.WriteString("Warnings:\n")
		for _, line := range w {
			b.WriteString("- " + line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
