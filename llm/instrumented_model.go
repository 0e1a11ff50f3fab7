package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexcodex/codemend/framework"
)

var tracer = otel.Tracer("codemend.llm")

// CallObserver records model call latency and failures.
type CallObserver interface {
	ObserveModelCall(backend string, elapsed time.Duration, err error)
}

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Backend   string
	Telemetry framework.Telemetry
	Observer  CallObserver
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, backend string, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Backend: backend, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.Generate", trace.WithAttributes(
		attribute.String("llm.backend", m.Backend),
		attribute.String("llm.model", modelFromOptions(options)),
		attribute.Int("llm.prompt_chars", len(prompt)),
	))
	defer span.End()

	meta := map[string]interface{}{
		"backend":        m.Backend,
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}
	if m.Debug {
		meta["prompt"] = clip(prompt, 8192)
	}
	m.emit(framework.EventModelCall, fmt.Sprintf("llm %s prompt", m.Backend), meta)

	start := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	elapsed := time.Since(start)
	if m.Observer != nil {
		m.Observer.ObserveModelCall(m.Backend, elapsed, err)
	}

	out := map[string]interface{}{"backend": m.Backend, "elapsed_ms": elapsed.Milliseconds()}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out["error"] = err.Error()
		m.emit(framework.EventModelError, fmt.Sprintf("llm %s error", m.Backend), out)
		return nil, err
	}
	if resp != nil {
		out["finish_reason"] = resp.FinishReason
		out["text_preview"] = clip(resp.Text, 1024)
		out["usage"] = resp.Usage
		span.SetAttributes(attribute.Int("llm.response_chars", len(resp.Text)))
	}
	m.emit(framework.EventModelResponse, fmt.Sprintf("llm %s response", m.Backend), out)
	return resp, nil
}

func (m *InstrumentedModel) emit(t framework.EventType, msg string, metadata map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	m.Telemetry.Emit(framework.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Message:   msg,
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
