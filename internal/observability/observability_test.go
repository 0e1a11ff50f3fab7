package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codemend/agents/fix"
	"github.com/lexcodex/codemend/agents/react"
	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/llm"
)

var (
	_ framework.DispatchObserver = (*Metrics)(nil)
	_ react.RunObserver          = (*Metrics)(nil)
	_ fix.Observer               = (*Metrics)(nil)
	_ llm.CallObserver           = (*Metrics)(nil)
)

func TestMetricsRecordObservations(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch("check_syntax", framework.ToolOutcome{Success: true}, 10*time.Millisecond)
	m.ObserveDispatch("check_syntax", framework.ToolOutcome{Success: false}, time.Millisecond)
	m.ObserveModelCall("ollama", time.Second, nil)
	m.ObserveModelCall("ollama", time.Second, &framework.BackendError{Kind: framework.BackendTimeout, Backend: "ollama"})
	m.ObserveModelCall("openai", time.Second, errors.New("boom"))
	m.ObserveRun(2, 1, "final_answer")
	m.ObserveFixRound(80)
	m.ObserveFixRound(100)
	m.ObserveFix(2, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("check_syntax", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("check_syntax", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelCallsTotal.WithLabelValues("ollama", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelCallsTotal.WithLabelValues("ollama", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelCallsTotal.WithLabelValues("openai", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentRunsTotal.WithLabelValues("final_answer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FixRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.FixRoundScore))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("x", framework.ToolOutcome{}, 0)
	m.ObserveModelCall("x", 0, nil)
	m.ObserveRun(0, 0, "")
	m.ObserveFixRound(0)
	m.ObserveFix(0, false)
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveFix(1, false)
	path := filepath.Join(t.TempDir(), "codemend.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `codemend_fix_runs_total{outcome="failure"} 1`)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx, err := WithLogger(context.Background(), &buf, "warn", "json")
	require.NoError(t, err)
	clog.FromContext(ctx).Info("hidden")
	clog.FromContext(ctx).With("tool", "run_code").Warn("tool failed")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"tool failed"`)
	assert.Contains(t, out, `"tool":"run_code"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)

	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}
