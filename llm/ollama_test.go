package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codemend/framework"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestClientGenerate(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/generate", req.URL.Path)
		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.Equal(t, "hello", payload["prompt"])
		assert.Equal(t, "test", payload["model"])
		assert.Equal(t, false, payload["stream"])
		opts := payload["options"].(map[string]interface{})
		assert.InDelta(t, 0.2, opts["temperature"], 1e-9)
		assert.EqualValues(t, 3000, opts["num_predict"])
		return jsonResponse(200, `{"response":"answer","done_reason":"stop","eval_count":7,"prompt_eval_count":3}`), nil
	})}
	client := NewClient("http://fake/", "test", WithHTTPClient(hc))

	resp, err := client.Generate(context.Background(), "hello", &framework.LLMOptions{Temperature: 0.2, MaxTokens: 3000})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, map[string]int{"completion_tokens": 7, "prompt_tokens": 3}, resp.Usage)
}

func TestClientGenerateRejected(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(404, `{"error":"model 'nope' not found"}`), nil
	})}
	_, err := NewClient("http://fake", "nope", WithHTTPClient(hc)).Generate(context.Background(), "x", nil)
	var be *framework.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, framework.BackendRejected, be.Kind)
	assert.Equal(t, 404, be.Status)
	assert.Contains(t, framework.DescribeBackendError(err), "rejected the request")
	assert.False(t, IsTransient(err))
}

func TestClientGenerateUnreachable(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")
	})}
	_, err := NewClient("http://fake", "m", WithHTTPClient(hc)).Generate(context.Background(), "x", nil)
	var be *framework.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, framework.BackendUnreachable, be.Kind)
	assert.Equal(t, "Error: cannot reach the ollama model backend. Make sure it is running and reachable.", framework.DescribeBackendError(err))
	assert.True(t, IsTransient(err))
}

func TestClientGenerateTimeout(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewClient("http://fake", "m", WithHTTPClient(hc)).Generate(ctx, "x", nil)
	var be *framework.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, framework.BackendTimeout, be.Kind)
}

func TestClientPing(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/api/tags", req.URL.Path)
		return jsonResponse(200, `{"models":[{"name":"qwen2.5-coder:1.5b"},{"name":"llama3:latest"}]}`), nil
	})}
	client := NewClient("http://fake", "", WithHTTPClient(hc))
	names, err := client.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5-coder:1.5b", "llama3:latest"}, names)
	assert.NoError(t, client.Ping(context.Background()))
}

type flakyPinger struct {
	mu    sync.Mutex
	fails int
	calls int
	err   error
}

func (f *flakyPinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return nil
}

func TestWaitReadyRetriesTransientFailures(t *testing.T) {
	p := &flakyPinger{fails: 2, err: &framework.BackendError{Kind: framework.BackendUnreachable, Backend: "ollama"}}
	cfg := RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	require.NoError(t, WaitReady(context.Background(), p, cfg))
	assert.Equal(t, 3, p.calls)
}

func TestWaitReadyGivesUp(t *testing.T) {
	p := &flakyPinger{fails: 10, err: &framework.BackendError{Kind: framework.BackendUnreachable, Backend: "ollama"}}
	cfg := RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	err := WaitReady(context.Background(), p, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, p.calls)
}

func TestWaitReadyStopsOnRejection(t *testing.T) {
	p := &flakyPinger{fails: 10, err: &framework.BackendError{Kind: framework.BackendRejected, Backend: "ollama", Status: 401}}
	err := WaitReady(context.Background(), p, DefaultRetryConfig())
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestOpenAIClientGenerate(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.True(t, strings.HasSuffix(req.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))
		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.Equal(t, "local-model", payload["model"])
		return jsonResponse(200, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"fixed"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`), nil
	})}
	client := NewOpenAIClient("key", "http://fake/v1", "local-model", hc)
	resp, err := client.Generate(context.Background(), "fix it", &framework.LLMOptions{MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "fixed", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 2, resp.Usage["completion_tokens"])
}

func TestOpenAIClientRejected(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`), nil
	})}
	_, err := NewOpenAIClient("bad", "http://fake/v1", "m", hc).Generate(context.Background(), "x", nil)
	var be *framework.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, framework.BackendRejected, be.Kind)
	assert.Equal(t, 401, be.Status)
}

type recordingTelemetry struct {
	events []framework.Event
}

func (r *recordingTelemetry) Emit(e framework.Event) { r.events = append(r.events, e) }

type countingCalls struct {
	calls int
	errs  int
}

func (c *countingCalls) ObserveModelCall(backend string, elapsed time.Duration, err error) {
	c.calls++
	if err != nil {
		c.errs++
	}
}

type fixedModel struct {
	text string
	err  error
}

func (f fixedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &framework.LLMResponse{Text: f.text}, nil
}

func TestInstrumentedModelEmitsEvents(t *testing.T) {
	tel := &recordingTelemetry{}
	obs := &countingCalls{}
	m := NewInstrumentedModel(fixedModel{text: "ok"}, "ollama", tel, false)
	m.Observer = obs
	resp, err := m.Generate(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	require.Len(t, tel.events, 2)
	assert.Equal(t, framework.EventModelCall, tel.events[0].Type)
	assert.Equal(t, framework.EventModelResponse, tel.events[1].Type)

	m.Inner = fixedModel{err: errors.New("boom")}
	_, err = m.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.Equal(t, framework.EventModelError, tel.events[len(tel.events)-1].Type)
	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, 1, obs.errs)
}
