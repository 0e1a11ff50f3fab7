package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultToolTimeout bounds a single tool invocation when none is configured.
const DefaultToolTimeout = 30 * time.Second

const maxFailureText = 300

var tracer = otel.Tracer("codemend.framework")

// ToolOutcome is the observation a dispatch produces. It is always populated.
type ToolOutcome struct {
	Success bool
	Text    string
}

// DispatchObserver receives one call per dispatch, typically a metrics sink.
type DispatchObserver interface {
	ObserveDispatch(tool string, outcome ToolOutcome, elapsed time.Duration)
}

// Dispatcher invokes registry tools and converts every failure mode into a
// ToolOutcome. Nothing a tool does escapes as an error or panic.
type Dispatcher struct {
	registry  *ToolRegistry
	timeout   time.Duration
	observer  DispatchObserver
	telemetry Telemetry
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout overrides the per-invocation timeout.
func WithToolTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithDispatchObserver attaches a metrics sink.
func WithDispatchObserver(o DispatchObserver) DispatcherOption {
	return func(disp *Dispatcher) { disp.observer = o }
}

// WithDispatchTelemetry emits tool_call/tool_result events.
func WithDispatchTelemetry(t Telemetry) DispatcherOption {
	return func(disp *Dispatcher) { disp.telemetry = t }
}

// NewDispatcher wires a dispatcher to a registry.
func NewDispatcher(registry *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	if registry == nil {
		registry = NewToolRegistry()
	}
	d := &Dispatcher{registry: registry, timeout: DefaultToolTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry exposes the registry the dispatcher reads from.
func (d *Dispatcher) Registry() *ToolRegistry {
	return d.registry
}

// Timeout reports the per-invocation timeout.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch looks up name and invokes it with args under the dispatch timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}) ToolOutcome {
	ctx, span := tracer.Start(ctx, "framework.Dispatch", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()
	start := time.Now()
	d.emit(EventToolCall, name, "", map[string]interface{}{"args": args})

	outcome := d.dispatch(ctx, name, args)

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Bool("tool.success", outcome.Success))
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.Text)
	}
	if d.observer != nil {
		d.observer.ObserveDispatch(name, outcome, elapsed)
	}
	d.emit(EventToolResult, name, outcome.Text, map[string]interface{}{
		"success":     outcome.Success,
		"duration_ms": elapsed.Milliseconds(),
	})
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]interface{}) ToolOutcome {
	log := clog.FromContext(ctx).With("tool", name)
	tool, ok := d.registry.Get(name)
	if !ok {
		available := d.registry.SortedNames()
		list := "(none)"
		if len(available) > 0 {
			list = strings.Join(available, ", ")
		}
		log.Warn("model requested unknown tool")
		return ToolOutcome{Text: fmt.Sprintf("Unknown tool '%s'. Available tools: %s", name, list)}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	desc, err := d.registry.Lookup(name)
	if err == nil {
		if err := checkDeclaredArgs(desc, args); err != nil {
			return invalidParams(name, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, err := tool.Invoke(runCtx, args)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = result{err: runCtx.Err()}
	}

	if res.err == nil {
		return ToolOutcome{Success: true, Text: res.text}
	}
	var argErr *ArgumentError
	switch {
	case errors.As(res.err, &argErr):
		return invalidParams(name, argErr)
	case errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warnf("tool timed out after %s", d.timeout)
		return ToolOutcome{Text: fmt.Sprintf("Tool '%s' timed out after %s", name, d.timeout)}
	case errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded):
		return ToolOutcome{Text: fmt.Sprintf("Tool '%s' was cancelled", name)}
	default:
		log.With("error", res.err).Error("tool invocation failed")
		return ToolOutcome{Text: fmt.Sprintf("Tool '%s' failed: %s", name, sanitizeError(res.err))}
	}
}

func invalidParams(name string, err error) ToolOutcome {
	reason := err.Error()
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		reason = argErr.Reason
	}
	return ToolOutcome{Text: fmt.Sprintf("Invalid parameters for '%s': %s", name, sanitizeText(reason))}
}

// sanitizeError keeps the first line of an error and bounds its length so
// stack traces and command dumps never reach the model.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeText(err.Error())
}

func sanitizeText(msg string) string {
	msg = strings.TrimSpace(msg)
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = strings.TrimSpace(msg[:nl])
	}
	if len(msg) > maxFailureText {
		msg = msg[:maxFailureText] + "..."
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}

func (d *Dispatcher) emit(t EventType, tool, message string, meta map[string]interface{}) {
	if d.telemetry == nil {
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["tool"] = tool
	d.telemetry.Emit(Event{Type: t, Message: message, Timestamp: time.Now().UTC(), Metadata: meta})
}
