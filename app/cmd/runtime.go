package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/lexcodex/codemend/agents/fix"
	"github.com/lexcodex/codemend/agents/react"
	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/internal/config"
	"github.com/lexcodex/codemend/internal/observability"
	"github.com/lexcodex/codemend/llm"
	"github.com/lexcodex/codemend/persistence"
	"github.com/lexcodex/codemend/tools"
	"github.com/lexcodex/codemend/verify"
)

// runtime holds everything one command invocation shares across files: the
// sealed registry, the model client and the sinks.
type runtime struct {
	cfg        *config.Config
	workspace  tools.Workspace
	backend    string
	model      framework.LanguageModel
	pinger     llm.Pinger
	registry   *framework.ToolRegistry
	dispatcher *framework.Dispatcher
	verifier   *verify.Verifier
	metrics    *observability.Metrics
	telemetry  framework.Telemetry

	telemetryFile *framework.JSONFileTelemetry
}

// newRuntime builds the runtime from the loaded config.
func newRuntime(ctx context.Context, cfg *config.Config, root string) (*runtime, error) {
	ws, err := tools.NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:       cfg,
		workspace: ws,
		verifier:  verify.NewVerifier(verify.WithWeights(cfg.Weights)),
		metrics:   observability.NewMetrics(),
	}

	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: clog.FromContext(ctx)}}
	if path := config.ResolvePath(root, cfg.Logging.TelemetryFile); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		tf, err := framework.NewJSONFileTelemetry(path)
		if err != nil {
			return nil, fmt.Errorf("open telemetry file: %w", err)
		}
		rt.telemetryFile = tf
		sinks = append(sinks, tf)
	}
	rt.telemetry = framework.MultiplexTelemetry{Sinks: sinks}

	if err := rt.buildModel(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.registry, err = buildRegistry(ws, cfg, rt.verifier)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.dispatcher = framework.NewDispatcher(rt.registry,
		framework.WithToolTimeout(cfg.Agent.ToolTimeout),
		framework.WithDispatchObserver(rt.metrics),
		framework.WithDispatchTelemetry(rt.telemetry),
	)
	return rt, nil
}

func (rt *runtime) buildModel(ctx context.Context) error {
	cfg := rt.cfg.LLM
	debug := rt.cfg.Logging.Level == "debug"
	var inner framework.LanguageModel
	switch cfg.Provider {
	case "ollama":
		client := llm.NewClient(cfg.Endpoint, cfg.Model,
			llm.WithTimeout(cfg.Timeout),
			llm.WithRateLimit(cfg.RateLimit, 1),
		)
		client.SetDebugLogging(debug)
		inner, rt.pinger = client, client
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return errors.New("openai provider needs llm.api_key or llm.base_url")
		}
		client := llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, &http.Client{Timeout: cfg.Timeout})
		inner, rt.pinger = client, client
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	rt.backend = cfg.Provider
	model := llm.NewInstrumentedModel(inner, cfg.Provider, rt.telemetry, debug)
	model.Observer = rt.metrics
	rt.model = model
	clog.FromContext(ctx).Debugf("using %s model %s", cfg.Provider, cfg.Model)
	return nil
}

func (rt *runtime) options() *framework.LLMOptions {
	return &framework.LLMOptions{
		Model:       rt.cfg.LLM.Model,
		Temperature: rt.cfg.LLM.Temperature,
		MaxTokens:   rt.cfg.LLM.MaxTokens,
	}
}

// agent builds a tool loop over the shared dispatcher.
func (rt *runtime) agent() *react.Agent {
	a := react.NewAgent(rt.model, rt.dispatcher)
	a.Options = rt.options()
	a.Telemetry = rt.telemetry
	a.Observer = rt.metrics
	a.ModelTimeout = rt.cfg.LLM.Timeout
	return a
}

// fixRunner builds the verification loop. Tool-assisted generation routes
// each round through the tool loop instead of a single model call.
func (rt *runtime) fixRunner(toolAssisted bool, threshold int) *fix.Runner {
	var gen fix.Generator = &fix.DirectGenerator{Model: rt.model, Options: rt.options(), Language: "python"}
	if toolAssisted {
		gen = &fix.ToolAssistedGenerator{Agent: rt.agent(), MaxRounds: rt.cfg.Agent.MaxToolRounds}
	}
	r := fix.NewRunner(gen)
	r.Verifier = rt.verifier
	r.Threshold = threshold
	r.Telemetry = rt.telemetry
	r.Observer = rt.metrics
	return r
}

// waitReady pings the backend with the configured retry budget.
func (rt *runtime) waitReady(ctx context.Context) error {
	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = rt.cfg.LLM.Retries
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.LLM.Timeout)
	defer cancel()
	if err := llm.WaitReady(ctx, rt.pinger, retry); err != nil {
		return fmt.Errorf("%s backend not ready: %w", rt.backend, err)
	}
	return nil
}

// openStore opens the run history, or returns nil when it is disabled.
func (rt *runtime) openStore(ctx context.Context) *persistence.RunStore {
	if rt.cfg.Store.Disabled {
		return nil
	}
	store, err := persistence.OpenRunStore(config.ResolvePath(rt.workspace.Root, rt.cfg.Store.Path))
	if err != nil {
		clog.FromContext(ctx).Warnf("run history unavailable: %v", err)
		return nil
	}
	return store
}

// record saves run when a store is open. History is best effort.
func (rt *runtime) record(ctx context.Context, store *persistence.RunStore, run *persistence.Run) {
	if store == nil {
		return
	}
	run.Backend = rt.backend
	run.Model = rt.cfg.LLM.Model
	if err := store.Save(ctx, run); err != nil {
		clog.FromContext(ctx).Warnf("save run history: %v", err)
	}
}

// Close flushes metrics and closes the telemetry file.
func (rt *runtime) Close(ctx context.Context) {
	log := clog.FromContext(ctx)
	if path := config.ResolvePath(rt.workspace.Root, rt.cfg.Logging.MetricsFile); path != "" {
		if err := rt.metrics.WriteTextfile(path); err != nil {
			log.Warnf("write metrics: %v", err)
		}
	}
	if rt.telemetryFile != nil {
		if err := rt.telemetryFile.Close(); err != nil {
			log.Warnf("close telemetry file: %v", err)
		}
	}
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
