package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/time/rate"

	"github.com/lexcodex/codemend/framework"
)

const (
	// DefaultEndpoint is the local Ollama server.
	DefaultEndpoint = "http://localhost:11434"
	// DefaultModel is a small coding model that runs on a laptop.
	DefaultModel = "qwen2.5-coder:1.5b"
	// DefaultTimeout bounds one backend request.
	DefaultTimeout = 90 * time.Second

	backendOllama = "ollama"
)

// Client implements framework.LanguageModel for Ollama.
type Client struct {
	Endpoint string
	Model    string
	client   *http.Client
	limiter  *rate.Limiter
	Debug    bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.client = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit caps requests per second across all callers of the client.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	Error           string `json:"error"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements single prompt completion.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := generateRequest{Model: c.model(options), Prompt: prompt, Options: convertOptions(options)}
	body, err := c.do(ctx, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	var raw generateResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOllama, Message: "malformed response", Err: err}
	}
	if raw.Error != "" {
		return nil, &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOllama, Message: raw.Error}
	}
	return &framework.LLMResponse{
		Text:         raw.Response,
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}, nil
}

// Models lists the models the server has pulled.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping checks that the server answers and has the configured model. A missing
// model is logged, not returned, since Ollama pulls on first use.
func (c *Client) Ping(ctx context.Context) error {
	names, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == c.Model || strings.TrimSuffix(n, ":latest") == c.Model {
			return nil
		}
	}
	clog.FromContext(ctx).With("model", c.Model).Warn("model not found on server, it will be pulled on first use")
	return nil
}

// SetDebugLogging enables or disables verbose logging for requests/responses.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return c.Model
}

func convertOptions(options *framework.LLMOptions) *ollamaOptions {
	if options == nil {
		return nil
	}
	return &ollamaOptions{
		Temperature: options.Temperature,
		NumPredict:  options.MaxTokens,
		TopP:        options.TopP,
		Stop:        options.Stop,
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyTransportError(backendOllama, err)
		}
	}
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		c.logf(ctx, "request %s payload: %s", path, truncate(string(body), 2048))
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(backendOllama, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail == "" {
			detail = resp.Status
		}
		return nil, &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOllama, Status: resp.StatusCode, Message: detail}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(backendOllama, err)
	}
	c.logf(ctx, "response %s payload: %s", path, truncate(string(body), 2048))
	return body, nil
}

// classifyTransportError separates timeouts from connection failures.
func classifyTransportError(backend string, err error) error {
	kind := framework.BackendUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = framework.BackendTimeout
	}
	return &framework.BackendError{Kind: kind, Backend: backend, Err: err}
}

func normalizeUsage(raw generateResponse) map[string]int {
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *Client) logf(ctx context.Context, format string, args ...interface{}) {
	if !c.Debug {
		return
	}
	clog.FromContext(ctx).Debugf("[ollama] "+format, args...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
