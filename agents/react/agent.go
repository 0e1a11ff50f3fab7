// Package react runs the bounded reason/act loop: the model either answers or
// asks for one tool per round, and the loop stops at the first answer or at
// the round cap.
package react

import (
	"context"
	"errors"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexcodex/codemend/framework"
)

// NoAnswer is returned when the loop ends without any model response.
const NoAnswer = "No answer: the model produced no response within the round limit."

var tracer = otel.Tracer("codemend.agents.react")

// StopReason explains why a run ended.
type StopReason string

const (
	StopFinalAnswer    StopReason = "final_answer"
	StopUnparsableCall StopReason = "unparsable_call"
	StopRoundLimit     StopReason = "round_limit"
	StopBackendError   StopReason = "backend_error"
	StopCanceled       StopReason = "canceled"
)

// Result is the outcome of one run.
type Result struct {
	Text       string
	Rounds     int
	ToolCalls  int
	Stop       StopReason
	Transcript []framework.Turn
}

// RunObserver receives a summary of each run, typically a metrics sink.
type RunObserver interface {
	ObserveRun(rounds, toolCalls int, stop string)
}

// Agent owns the loop configuration. It keeps no per-run state, so a single
// Agent may serve concurrent runs.
type Agent struct {
	Model        framework.LanguageModel
	Dispatcher   *framework.Dispatcher
	Options      *framework.LLMOptions
	Telemetry    framework.Telemetry
	Observer     RunObserver
	SystemPrompt string
	// ModelTimeout bounds each model call. Zero leaves it to the backend.
	ModelTimeout time.Duration
}

// NewAgent builds an agent whose system prompt lists the dispatcher's tools.
func NewAgent(model framework.LanguageModel, dispatcher *framework.Dispatcher) *Agent {
	a := &Agent{Model: model, Dispatcher: dispatcher}
	if dispatcher != nil {
		a.SystemPrompt = SystemPrompt(dispatcher.Registry().DescribeAll())
	}
	return a
}

type state int

const (
	awaitModel state = iota
	hasToolCall
	done
)

// Run drives the loop for at most maxRounds model calls. Every failure below
// the agent is turned into text; the only error is a missing model.
//
// Cancellation of ctx is honored between rounds. A round that has started
// runs to completion on a context detached from ctx, bounded by the model
// and tool timeouts.
func (a *Agent) Run(ctx context.Context, prompt string, maxRounds int) (*Result, error) {
	if a.Model == nil {
		return nil, errors.New("react agent missing language model")
	}
	ctx, span := tracer.Start(ctx, "react.Run", trace.WithAttributes(attribute.Int("react.max_rounds", maxRounds)))
	defer span.End()
	log := clog.FromContext(ctx)

	conv := framework.NewConversation(a.SystemPrompt, prompt)
	res := &Result{}
	var (
		last        string
		hasResponse bool
		call        *framework.ToolCallRequest
	)
	a.emit(framework.EventRunStart, 0, "", map[string]interface{}{"max_rounds": maxRounds})

	st := awaitModel
	for st != done {
		switch st {
		case awaitModel:
			if res.Rounds >= maxRounds {
				res.Stop = StopRoundLimit
				st = done
				continue
			}
			if ctx.Err() != nil {
				res.Stop = StopCanceled
				st = done
				continue
			}
			res.Rounds++
			text, err := a.generate(context.WithoutCancel(ctx), conv.Render(), res.Rounds)
			last, hasResponse = text, true
			conv.AppendResponse(text)
			if err != nil {
				log.With("round", res.Rounds).Warnf("model call failed: %v", err)
				res.Stop = StopBackendError
				st = done
				continue
			}
			if !framework.IsToolCall(text) {
				res.Stop = StopFinalAnswer
				st = done
				continue
			}
			parsed, ok := framework.ParseToolCall(text)
			if !ok {
				log.With("round", res.Rounds).Info("unparsable tool call, returning raw response")
				res.Stop = StopUnparsableCall
				st = done
				continue
			}
			call = parsed
			st = hasToolCall
		case hasToolCall:
			res.ToolCalls++
			outcome := a.dispatch(context.WithoutCancel(ctx), call)
			conv.AppendObservation(call.ToolName, outcome)
			call = nil
			st = awaitModel
		}
	}

	if hasResponse {
		res.Text = last
	} else {
		res.Text = NoAnswer
	}
	res.Transcript = conv.Turns()
	span.SetAttributes(attribute.Int("react.rounds", res.Rounds), attribute.String("react.stop", string(res.Stop)))
	if a.Observer != nil {
		a.Observer.ObserveRun(res.Rounds, res.ToolCalls, string(res.Stop))
	}
	a.emit(framework.EventRunFinish, res.Rounds, string(res.Stop), map[string]interface{}{"tool_calls": res.ToolCalls})
	return res, nil
}

// generate performs one model call. Backend failures come back as the
// diagnostic text plus the error.
func (a *Agent) generate(ctx context.Context, prompt string, round int) (string, error) {
	if a.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.ModelTimeout)
		defer cancel()
	}
	a.emit(framework.EventRoundStart, round, "", nil)
	resp, err := a.Model.Generate(ctx, prompt, a.Options)
	if err != nil {
		a.emit(framework.EventModelError, round, err.Error(), nil)
		return framework.DescribeBackendError(err), err
	}
	if resp == nil {
		return "", nil
	}
	a.emit(framework.EventModelResponse, round, "", map[string]interface{}{"chars": len(resp.Text)})
	return resp.Text, nil
}

func (a *Agent) dispatch(ctx context.Context, call *framework.ToolCallRequest) framework.ToolOutcome {
	if a.Dispatcher == nil {
		return framework.ToolOutcome{Text: "Tools are not available in this session."}
	}
	return a.Dispatcher.Dispatch(ctx, call.ToolName, call.Arguments)
}

func (a *Agent) emit(t framework.EventType, round int, msg string, meta map[string]interface{}) {
	if a.Telemetry == nil {
		return
	}
	a.Telemetry.Emit(framework.Event{Type: t, Round: round, Message: msg, Timestamp: time.Now().UTC(), Metadata: meta})
}
