package framework

import (
	"context"
	"sync"
)

type stubTool struct {
	desc   ToolDescriptor
	invoke func(ctx context.Context, args map[string]interface{}) (string, error)

	mu    sync.Mutex
	calls int
}

// Descriptor returns the canned descriptor.
func (t *stubTool) Descriptor() ToolDescriptor { return t.desc }

// Invoke counts calls and delegates to the configured function.
func (t *stubTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.invoke == nil {
		return "ok", nil
	}
	return t.invoke(ctx, args)
}

func (t *stubTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func newStubTool(name string, params ...ToolParameter) *stubTool {
	return &stubTool{desc: ToolDescriptor{Name: name, Description: name + " tool", Parameters: params}}
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingTelemetry) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
