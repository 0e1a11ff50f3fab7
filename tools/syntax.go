package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/verify"
)

type checkSyntaxArgs struct {
	Code     string `json:"code" jsonschema:"required" jsonschema_description:"Code to check" validate:"required"`
	Language string `json:"language,omitempty" jsonschema:"enum=python,enum=go,enum=javascript,enum=typescript,enum=rust,enum=bash,default=python" jsonschema_description:"Language of the code" validate:"omitempty,oneof=python go javascript typescript rust bash"`
}

// CheckSyntaxTool parses code with tree-sitter and reports syntax errors.
type CheckSyntaxTool struct{}

func (t *CheckSyntaxTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "check_syntax",
		Description: "Check if code has valid syntax.",
		Parameters:  framework.ParametersFor[checkSyntaxArgs](),
	}
}

func (t *CheckSyntaxTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[checkSyntaxArgs](raw)
	if err != nil {
		return "", err
	}
	lang := args.Language
	if lang == "" {
		lang = "python"
	}
	prog, err := verify.Parse(ctx, lang, args.Code)
	if err != nil {
		return "", err
	}
	defer prog.Close()
	if prog.Valid() {
		return fmt.Sprintf("%s syntax is valid", lang), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Syntax errors in %s code:", lang)
	for i, e := range prog.Errors {
		if i == 5 {
			fmt.Fprintf(&b, "\n- ... and %d more", len(prog.Errors)-i)
			break
		}
		b.WriteString("\n- " + e.String())
	}
	return b.String(), nil
}
