package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default values for OpenAI-compatible providers.
const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultLMStudioBaseURL = "http://localhost:1234/v1"
	defaultLMStudioModel   = "local-model"
	defaultMaxTokens       = 50
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the OpenAI Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openAIErrorResponse represents an error response from the OpenAI API.
type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

// openAIErrorDetail contains error details from the OpenAI API.
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIConfig holds the parameters needed to create an OpenAI-compatible provider.
// This is defined in the llm package to avoid importing the config package.
type OpenAIConfig struct {
	// APIKey is the API key. Local servers accept an empty key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL is the API base URL (empty means the provider default).
	BaseURL string
}

// OpenAIProvider implements Completer against an OpenAI-compatible Chat
// Completions endpoint.
type OpenAIProvider struct {
	httpClient  *http.Client
	name        string
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	retry       RetryPolicy
	observer    RequestObserver
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(cfg OpenAIConfig, opts ProviderOptions) *OpenAIProvider {
	return newChatProvider("openai", cfg, defaultOpenAIBaseURL, defaultOpenAIModel, opts)
}

// NewLMStudioProvider creates a provider for a local LM Studio server.
func NewLMStudioProvider(cfg OpenAIConfig, opts ProviderOptions) *OpenAIProvider {
	return newChatProvider("lmstudio", cfg, defaultLMStudioBaseURL, defaultLMStudioModel, opts)
}

func newChatProvider(name string, cfg OpenAIConfig, baseURL, model string, opts ProviderOptions) *OpenAIProvider {
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAIProvider{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		name:        name,
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		retry:       opts.Retry.normalized(),
		observer:    opts.Observer,
	}
}

// Complete sends req to the Chat Completions API.
//
// Transient errors (5xx, 429, network failures, timeouts) and 200 responses
// without choices are retried according to the provider's RetryPolicy.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	chatReq := chatRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "user", Content: req.User})

	var result *Completion
	err := p.retry.do(ctx, p.name, func(ctx context.Context) error {
		start := time.Now()
		c, err := p.doRequest(ctx, chatReq)
		observe(p.observer, p.name, err, start)
		result = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Provider returns the name of the LLM provider.
func (p *OpenAIProvider) Provider() string {
	return p.name
}

// Model returns the model identifier being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// doRequest performs a single API request to the Chat Completions endpoint.
func (p *OpenAIProvider) doRequest(ctx context.Context, chatReq chatRequest) (*Completion, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", p.name, err)
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError(p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, networkError(p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(p.name, resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.name, errMalformedResponse, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w: empty choices", p.name, errMalformedResponse)
	}

	model := chatResp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Text:         strings.TrimSpace(chatResp.Choices[0].Message.Content),
		Model:        model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// parseOpenAIAPIError parses an API error from the response status code and body.
func parseOpenAIAPIError(provider string, statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
