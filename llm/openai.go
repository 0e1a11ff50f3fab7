package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/lexcodex/codemend/framework"
)

const backendOpenAI = "openai"

// OpenAIClient implements framework.LanguageModel for OpenAI-compatible
// chat completion servers.
type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
}

// NewOpenAIClient builds a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string, hc *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		system: "You are an expert software engineer.",
	}
}

// Generate sends prompt as a single user message.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if options != nil {
		if options.Model != "" {
			req.Model = options.Model
		}
		req.Temperature = float32(options.Temperature)
		req.TopP = float32(options.TopP)
		req.MaxCompletionTokens = options.MaxTokens
		req.Stop = options.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOpenAI, Message: "no choices returned"}
	}
	return &framework.LLMResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// Ping lists models to confirm the server answers.
func (o *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOpenAI, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &framework.BackendError{Kind: framework.BackendRejected, Backend: backendOpenAI, Status: reqErr.HTTPStatusCode, Message: http.StatusText(reqErr.HTTPStatusCode), Err: err}
	}
	return classifyTransportError(backendOpenAI, err)
}
