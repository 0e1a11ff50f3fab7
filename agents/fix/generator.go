package fix

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexcodex/codemend/agents/react"
	"github.com/lexcodex/codemend/framework"
)

// Generator produces one raw candidate fix for code. A returned error means
// no candidate was obtained in this round; the text may carry a diagnostic.
type Generator interface {
	Generate(ctx context.Context, code string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, code string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, code string) (string, error) {
	return f(ctx, code)
}

// DirectGenerator asks the model once per round, without tools.
type DirectGenerator struct {
	Model    framework.LanguageModel
	Options  *framework.LLMOptions
	Language string
}

// Generate issues a single model call.
func (g *DirectGenerator) Generate(ctx context.Context, code string) (string, error) {
	if g.Model == nil {
		return "", errors.New("direct generator missing model")
	}
	resp, err := g.Model.Generate(ctx, react.TaskPrompt(react.TaskFix, g.language(), code), g.Options)
	if err != nil {
		return framework.DescribeBackendError(err), err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text, nil
}

func (g *DirectGenerator) language() string {
	if g.Language == "" {
		return "python"
	}
	return g.Language
}

// ToolAssistedGenerator routes each round through the ReAct agent so the model
// may consult tools before answering.
type ToolAssistedGenerator struct {
	Agent     *react.Agent
	MaxRounds int
}

// Generate runs one bounded agent loop.
func (g *ToolAssistedGenerator) Generate(ctx context.Context, code string) (string, error) {
	if g.Agent == nil {
		return "", errors.New("tool-assisted generator missing agent")
	}
	res, err := g.Agent.Run(ctx, "Fix all bugs in this code:\n\n"+code, g.MaxRounds)
	if err != nil {
		return "", err
	}
	if res.Stop == react.StopBackendError {
		return res.Text, fmt.Errorf("model backend failed: %s", res.Text)
	}
	if res.Text == react.NoAnswer {
		return "", errors.New("agent produced no answer")
	}
	return res.Text, nil
}
