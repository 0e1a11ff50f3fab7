package framework

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	reg.Seal()
	return NewDispatcher(reg, WithToolTimeout(50*time.Millisecond))
}

func TestDispatchUnknownToolListsRegisteredNames(t *testing.T) {
	d := newTestDispatcher(t, newStubTool("check_syntax"), newStubTool("run_code"))
	outcome := d.Dispatch(context.Background(), "nonexistent_tool", map[string]interface{}{})
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Text, "nonexistent_tool")
	assert.Contains(t, outcome.Text, "check_syntax")
	assert.Contains(t, outcome.Text, "run_code")
}

func TestDispatchSuccessReturnsToolText(t *testing.T) {
	tool := newStubTool("echo", ToolParameter{Name: "text", Type: "string", Required: true})
	tool.invoke = func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "echo: " + args["text"].(string), nil
	}
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	assert.Equal(t, ToolOutcome{Success: true, Text: "echo: hi"}, outcome)
}

func TestDispatchMissingRequiredArgument(t *testing.T) {
	tool := newStubTool("echo", ToolParameter{Name: "text", Type: "string", Required: true})
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "echo", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, "Invalid parameters for 'echo': missing required parameter(s): text", outcome.Text)
	assert.Equal(t, 0, tool.callCount())
}

func TestDispatchUnexpectedArgument(t *testing.T) {
	tool := newStubTool("echo", ToolParameter{Name: "text", Type: "string"})
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "echo", map[string]interface{}{"txt": "x"})
	assert.False(t, outcome.Success)
	assert.True(t, strings.HasPrefix(outcome.Text, "Invalid parameters for 'echo':"))
	assert.Contains(t, outcome.Text, `"txt"`)
}

func TestDispatchArgumentErrorFromTool(t *testing.T) {
	tool := newStubTool("echo")
	tool.invoke = func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", NewArgumentError("count must be positive")
	}
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "echo", nil)
	assert.Equal(t, "Invalid parameters for 'echo': count must be positive", outcome.Text)
}

func TestDispatchSanitizesToolErrors(t *testing.T) {
	tool := newStubTool("boom")
	tool.invoke = func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", errors.New("disk exploded\ngoroutine 1 [running]:\nmain.main()")
	}
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "boom", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, "Tool 'boom' failed: disk exploded", outcome.Text)
}

func TestDispatchRecoversPanics(t *testing.T) {
	tool := newStubTool("panicky")
	tool.invoke = func(ctx context.Context, args map[string]interface{}) (string, error) {
		panic("nil map")
	}
	d := newTestDispatcher(t, tool)
	outcome := d.Dispatch(context.Background(), "panicky", nil)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Text, "panic: nil map")
}

func TestDispatchTimesOut(t *testing.T) {
	tool := newStubTool("slow")
	tool.invoke = func(ctx context.Context, args map[string]interface{}) (string, error) {
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	}
	d := newTestDispatcher(t, tool)
	start := time.Now()
	outcome := d.Dispatch(context.Background(), "slow", nil)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.False(t, outcome.Success)
	assert.Equal(t, "Tool 'slow' timed out after 50ms", outcome.Text)
}

func TestDispatchEmitsTelemetryAndObserves(t *testing.T) {
	rec := &recordingTelemetry{}
	obs := &countingObserver{}
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(newStubTool("a")))
	d := NewDispatcher(reg, WithDispatchTelemetry(rec), WithDispatchObserver(obs))

	d.Dispatch(context.Background(), "a", nil)
	d.Dispatch(context.Background(), "b", nil)

	assert.Equal(t, []EventType{EventToolCall, EventToolResult, EventToolCall, EventToolResult}, rec.types())
	assert.Equal(t, map[string]bool{"a": true, "b": false}, obs.last)
}

type countingObserver struct {
	last map[string]bool
}

func (c *countingObserver) ObserveDispatch(tool string, outcome ToolOutcome, elapsed time.Duration) {
	if c.last == nil {
		c.last = map[string]bool{}
	}
	c.last[tool] = outcome.Success
}
