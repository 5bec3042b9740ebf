// Package llm provides the LLM completion clients used to classify articles.
//
// Providers speak either the OpenAI Chat Completions API (OpenAI itself and
// local OpenAI-compatible servers such as LM Studio) or the Anthropic Messages
// API. Every provider retries transient failures with a doubling delay and
// grows its per-attempt timeout after a timeout.
//
// Example usage:
//
//	completer, err := llm.NewCompleter(factoryCfg)
//	classifier := llm.NewClassifier(completer, llm.DefaultQuestions(), logger)
//	answers, err := classifier.Classify(ctx, "LSTM forecasting of sardine landings")
package llm

import (
	"context"
	"time"
)

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	// System is the system prompt.
	System string
	// User is the user message.
	User string
	// MaxTokens overrides the provider's completion limit when positive.
	MaxTokens int
}

// Completion is the text returned by a provider.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer sends prompts to an LLM.
type Completer interface {
	// Complete returns the first completion for req. Transient failures are
	// retried internally; the returned error is final.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Provider returns the provider name (e.g., "lmstudio", "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// RequestObserver is notified after every HTTP attempt.
type RequestObserver interface {
	RecordLLMRequest(provider string, success bool, duration time.Duration)
}

func observe(o RequestObserver, provider string, err error, start time.Time) {
	if o == nil {
		return
	}
	o.RecordLLMRequest(provider, err == nil, time.Since(start))
}

// ProviderOptions holds settings shared by all providers.
type ProviderOptions struct {
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps the completion length.
	MaxTokens int
	// Retry controls attempts, backoff and per-attempt timeouts.
	Retry RetryPolicy
	// Observer receives per-attempt outcomes (optional).
	Observer RequestObserver
}
