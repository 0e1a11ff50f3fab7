package react

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codemend/framework"
)

type stubLLM struct {
	mu            sync.Mutex
	responses     []string
	errs          map[int]error
	prompts       []string
	generateCalls int
}

// Generate returns the next queued response for deterministic tests. Once the
// queue is drained the last response repeats.
func (s *stubLLM) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCalls++
	s.prompts = append(s.prompts, prompt)
	if err, ok := s.errs[s.generateCalls]; ok {
		return nil, err
	}
	if len(s.responses) == 0 {
		return &framework.LLMResponse{Text: ""}, nil
	}
	idx := s.generateCalls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &framework.LLMResponse{Text: s.responses[idx]}, nil
}

type echoTool struct{}

func (echoTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "echo",
		Description: "Echo text back.",
		Parameters:  []framework.ToolParameter{{Name: "text", Type: "string", Required: true}},
	}
}

func (echoTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	return "echo: " + args["text"].(string), nil
}

func newTestAgent(t *testing.T, llm *stubLLM) *Agent {
	t.Helper()
	reg := framework.NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	reg.Seal()
	return NewAgent(llm, framework.NewDispatcher(reg))
}

func TestRunReturnsFinalAnswerVerbatim(t *testing.T) {
	llm := &stubLLM{responses: []string{"  The bug is on line 3.  "}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "what is wrong?", 5)
	require.NoError(t, err)
	assert.Equal(t, "  The bug is on line 3.  ", res.Text)
	assert.Equal(t, StopFinalAnswer, res.Stop)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, llm.generateCalls)
}

func TestRunDispatchesToolAndFeedsObservation(t *testing.T) {
	llm := &stubLLM{responses: []string{
		`TOOL_CALL: {"name": "echo", "parameters": {"text": "hi"}}`,
		"done",
	}}
	agent := newTestAgent(t, llm)
	res, err := agent.Run(context.Background(), "say hi", 5)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, res.ToolCalls)

	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], "## echo")
	assert.Contains(t, llm.prompts[1], "Tool 'echo' returned:\necho: hi\n\nNow provide your response based on this information.")
	assert.True(t, strings.HasPrefix(llm.prompts[1], llm.prompts[0]))
}

func TestRunUnparsableCallIsReturnedRaw(t *testing.T) {
	raw := `TOOL_CALL: {"name": "echo", "parameters": {`
	llm := &stubLLM{responses: []string{raw, "never"}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Equal(t, raw, res.Text)
	assert.Equal(t, StopUnparsableCall, res.Stop)
	assert.Equal(t, 1, llm.generateCalls)
}

func TestRunUnknownToolBecomesObservation(t *testing.T) {
	llm := &stubLLM{responses: []string{`TOOL_CALL: {"name": "nope"}`, "ok"}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Contains(t, llm.prompts[1], "Unknown tool 'nope'. Available tools: echo")
}

func TestRunRespectsRoundCap(t *testing.T) {
	call := `TOOL_CALL: {"name": "echo", "parameters": {"text": "again"}}`
	llm := &stubLLM{responses: []string{call}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "loop", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, llm.generateCalls)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, call, res.Text)
	assert.Equal(t, StopRoundLimit, res.Stop)
}

func TestRunZeroRoundsReturnsNoAnswer(t *testing.T) {
	llm := &stubLLM{responses: []string{"unused"}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, res.Text)
	assert.Equal(t, 0, llm.generateCalls)
	assert.Equal(t, StopRoundLimit, res.Stop)
}

func TestRunBackendErrorEndsWithDiagnostic(t *testing.T) {
	llm := &stubLLM{errs: map[int]error{1: &framework.BackendError{Kind: framework.BackendUnreachable, Backend: "ollama", Err: errors.New("connection refused")}}}
	res, err := newTestAgent(t, llm).Run(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Equal(t, StopBackendError, res.Stop)
	assert.Contains(t, res.Text, "cannot reach the ollama model backend")
	assert.False(t, framework.IsToolCall(res.Text))
	assert.Equal(t, 1, llm.generateCalls)
}

func TestRunCanceledBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := &stubLLM{responses: []string{"unused"}}
	res, err := newTestAgent(t, llm).Run(ctx, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, res.Stop)
	assert.Equal(t, NoAnswer, res.Text)
	assert.Equal(t, 0, llm.generateCalls)
}

type cancelingLLM struct {
	cancel context.CancelFunc
	calls  int
	sawErr error
}

func (c *cancelingLLM) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	c.calls++
	c.cancel()
	c.sawErr = ctx.Err()
	return &framework.LLMResponse{Text: `TOOL_CALL: {"name": "echo", "parameters": {"text": "x"}}`}, nil
}

func TestRunFinishesRoundInProgressThenStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &cancelingLLM{cancel: cancel}
	reg := framework.NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	agent := NewAgent(llm, framework.NewDispatcher(reg))

	res, err := agent.Run(ctx, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.NoError(t, llm.sawErr)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, StopCanceled, res.Stop)
}

func TestRunRequiresModel(t *testing.T) {
	_, err := (&Agent{}).Run(context.Background(), "x", 1)
	assert.Error(t, err)
}

func TestRunConversationIsPerInvocation(t *testing.T) {
	llm := &stubLLM{responses: []string{"first answer"}}
	agent := newTestAgent(t, llm)
	_, err := agent.Run(context.Background(), "prompt-alpha", 2)
	require.NoError(t, err)
	_, err = agent.Run(context.Background(), "prompt-beta", 2)
	require.NoError(t, err)
	require.Len(t, llm.prompts, 2)
	assert.NotContains(t, llm.prompts[1], "first answer")
	assert.NotContains(t, llm.prompts[1], "prompt-alpha")
}

func TestTaskPrompt(t *testing.T) {
	p := TaskPrompt(TaskFix, "python", "x = 1\n")
	assert.Contains(t, p, "Fix all bugs in this python code.")
	assert.Contains(t, p, "division by len(...) is guarded")
	assert.True(t, strings.HasSuffix(p, "```python\nx = 1\n```"))

	assert.Contains(t, TaskPrompt(TaskReview, "go", "package main"), "severity")

	task, err := ParseTask("Explain")
	require.NoError(t, err)
	assert.Equal(t, TaskExplain, task)
	_, err = ParseTask("summarize")
	assert.Error(t, err)
}
