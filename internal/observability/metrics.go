// Package observability holds the Prometheus metrics and logger setup shared
// by the CLI commands.
//
// Metrics implements the observer hooks of the dispatcher, the tool loop, the
// fix loop and the model wrapper. A nil *Metrics is a valid no-op observer.
// Metrics are exported by writing a node-exporter textfile when a command
// finishes.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lexcodex/codemend/framework"
)

const namespace = "codemend"

// Metrics holds every collector codemend records.
type Metrics struct {
	registry *prometheus.Registry

	// DispatchTotal counts tool invocations. Labels: tool, outcome (success, failure).
	DispatchTotal *prometheus.CounterVec
	// DispatchSeconds measures tool invocation latency. Labels: tool.
	DispatchSeconds *prometheus.HistogramVec

	// ModelCallsTotal counts backend calls. Labels: backend, result (ok, unreachable, timeout, rejected, error).
	ModelCallsTotal *prometheus.CounterVec
	// ModelCallSeconds measures backend latency. Labels: backend.
	ModelCallSeconds *prometheus.HistogramVec

	// AgentRunsTotal counts tool-loop runs. Labels: stop.
	AgentRunsTotal *prometheus.CounterVec
	AgentRounds    prometheus.Histogram

	FixRoundScore prometheus.Histogram
	FixRunsTotal  *prometheus.CounterVec
	FixIterations prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "dispatch_total",
			Help:      "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		DispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "dispatch_duration_seconds",
			Help:      "Tool invocation latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		ModelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model backend calls by backend and result",
		}, []string{"backend", "result"}),
		ModelCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Model backend latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"backend"}),
		AgentRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Tool-loop runs by stop reason",
		}, []string{"stop"}),
		AgentRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "rounds",
			Help:      "Model rounds used per tool-loop run",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		FixRoundScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fix",
			Name:      "round_score",
			Help:      "Verification score of each fix round",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		FixRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fix",
			Name:      "runs_total",
			Help:      "Fix runs by outcome",
		}, []string{"outcome"}),
		FixIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fix",
			Name:      "iterations",
			Help:      "Rounds used per fix run",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
	}
	m.registry.MustRegister(
		m.DispatchTotal, m.DispatchSeconds,
		m.ModelCallsTotal, m.ModelCallSeconds,
		m.AgentRunsTotal, m.AgentRounds,
		m.FixRoundScore, m.FixRunsTotal, m.FixIterations,
	)
	return m
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObserveDispatch records one tool invocation.
func (m *Metrics) ObserveDispatch(tool string, outcome framework.ToolOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(tool, outcomeLabel(outcome.Success)).Inc()
	m.DispatchSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveModelCall records one backend call.
func (m *Metrics) ObserveModelCall(backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(backend, modelResult(err)).Inc()
	m.ModelCallSeconds.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveRun records a finished tool-loop run.
func (m *Metrics) ObserveRun(rounds, toolCalls int, stop string) {
	if m == nil {
		return
	}
	m.AgentRunsTotal.WithLabelValues(stop).Inc()
	m.AgentRounds.Observe(float64(rounds))
}

// ObserveFixRound records one verified candidate.
func (m *Metrics) ObserveFixRound(score int) {
	if m == nil {
		return
	}
	m.FixRoundScore.Observe(float64(score))
}

// ObserveFix records a finished fix run.
func (m *Metrics) ObserveFix(iterations int, success bool) {
	if m == nil {
		return
	}
	m.FixRunsTotal.WithLabelValues(outcomeLabel(success)).Inc()
	m.FixIterations.Observe(float64(iterations))
}

// WriteTextfile writes the current values in the Prometheus text format,
// replacing path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func modelResult(err error) string {
	if err == nil {
		return "ok"
	}
	var be *framework.BackendError
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	return "error"
}
