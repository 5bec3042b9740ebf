package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time check that OpenAIProvider implements Completer.
var _ Completer = (*OpenAIProvider)(nil)

// newOpenAITestServer creates an httptest server that responds with the given handler.
func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newOpenAITestProvider creates an OpenAIProvider configured to use the test server.
func newOpenAITestProvider(t *testing.T, serverURL string, attempts int) *OpenAIProvider {
	t.Helper()
	cfg := OpenAIConfig{
		APIKey:  "test-api-key",
		Model:   "gpt-4o-mini",
		BaseURL: serverURL,
	}
	return NewOpenAIProvider(cfg, ProviderOptions{
		Temperature: 0.1,
		MaxTokens:   50,
		Retry:       RetryPolicy{Attempts: attempts, Delay: time.Millisecond, Timeout: 5 * time.Second},
	})
}

func writeChatResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := chatResponse{
		ID:    "chatcmpl-abc123",
		Model: "gpt-4o-mini-2024",
		Choices: []chatChoice{
			{Index: 0, Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: chatUsage{PromptTokens: 150, CompletionTokens: 12, TotalTokens: 162},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

type recordingObserver struct {
	calls   int
	success int
}

func (o *recordingObserver) RecordLLMRequest(_ string, success bool, _ time.Duration) {
	o.calls++
	if success {
		o.success++
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	t.Run("successful completion returns text and metadata", func(t *testing.T) {
		var receivedReq chatRequest
		var receivedAuthHeader string
		var receivedPath string

		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			receivedAuthHeader = r.Header.Get("Authorization")
			receivedPath = r.URL.Path

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &receivedReq))

			writeChatResponse(t, w, "  LSTM\nFisheries\n  ")
		})

		provider := newOpenAITestProvider(t, server.URL, 1)
		result, err := provider.Complete(context.Background(), CompletionRequest{System: "sys", User: "classify"})

		require.NoError(t, err)
		assert.Equal(t, "LSTM\nFisheries", result.Text)
		assert.Equal(t, "gpt-4o-mini-2024", result.Model)
		assert.Equal(t, 150, result.InputTokens)
		assert.Equal(t, 12, result.OutputTokens)

		assert.Equal(t, "Bearer test-api-key", receivedAuthHeader)
		assert.Equal(t, "/chat/completions", receivedPath)
		assert.Equal(t, "gpt-4o-mini", receivedReq.Model)
		assert.Equal(t, 50, receivedReq.MaxTokens)
		require.Len(t, receivedReq.Messages, 2)
		assert.Equal(t, "system", receivedReq.Messages[0].Role)
		assert.Equal(t, "user", receivedReq.Messages[1].Role)
		assert.Equal(t, "classify", receivedReq.Messages[1].Content)
	})

	t.Run("request max tokens overrides provider default", func(t *testing.T) {
		var receivedReq chatRequest
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedReq))
			writeChatResponse(t, w, "ok")
		})

		provider := newOpenAITestProvider(t, server.URL, 1)
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "x", MaxTokens: 200})

		require.NoError(t, err)
		assert.Equal(t, 200, receivedReq.MaxTokens)
		assert.Len(t, receivedReq.Messages, 1)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		var calls int32
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":{"message":"model loading","type":"server_error"}}`))
				return
			}
			writeChatResponse(t, w, "1")
		})

		observer := &recordingObserver{}
		provider := newOpenAITestProvider(t, server.URL, 3)
		provider.observer = observer

		result, err := provider.Complete(context.Background(), CompletionRequest{User: "x"})

		require.NoError(t, err)
		assert.Equal(t, "1", result.Text)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, 3, observer.calls)
		assert.Equal(t, 1, observer.success)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls int32
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
		})

		provider := newOpenAITestProvider(t, server.URL, 3)
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "x"})

		require.Error(t, err)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Invalid API key", apiErr.Message)
		assert.Equal(t, "invalid_api_key", apiErr.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("empty choices are retried then reported", func(t *testing.T) {
		var calls int32
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
		})

		provider := newOpenAITestProvider(t, server.URL, 2)
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "x"})

		require.Error(t, err)
		assert.ErrorIs(t, err, errMalformedResponse)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("context cancellation stops request", func(t *testing.T) {
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		provider := newOpenAITestProvider(t, server.URL, 3)
		_, err := provider.Complete(ctx, CompletionRequest{User: "x"})

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLMStudioProvider(t *testing.T) {
	t.Run("omits authorization without key", func(t *testing.T) {
		var auth string
		var hadAuth bool
		server := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			_, hadAuth = r.Header["Authorization"]
			writeChatResponse(t, w, "ok")
		})

		provider := NewLMStudioProvider(OpenAIConfig{BaseURL: server.URL + "/"}, ProviderOptions{})
		_, err := provider.Complete(context.Background(), CompletionRequest{User: "x"})

		require.NoError(t, err)
		assert.Empty(t, auth)
		assert.False(t, hadAuth)
	})

	t.Run("applies defaults", func(t *testing.T) {
		provider := NewLMStudioProvider(OpenAIConfig{}, ProviderOptions{})
		assert.Equal(t, "lmstudio", provider.Provider())
		assert.Equal(t, defaultLMStudioModel, provider.Model())
		assert.Equal(t, defaultLMStudioBaseURL, provider.baseURL)
		assert.Equal(t, defaultMaxTokens, provider.maxTokens)
		assert.Equal(t, DefaultAttempts, provider.retry.Attempts)
	})
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "k"}, ProviderOptions{})
	assert.Equal(t, "openai", provider.Provider())
	assert.Equal(t, defaultOpenAIModel, provider.Model())
	assert.Equal(t, defaultOpenAIBaseURL, provider.baseURL)
}
