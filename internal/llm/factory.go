package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// FactoryConfig holds the parameters needed to create a Completer.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("lmstudio", "openai" or "anthropic").
	Provider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// MaxTokens caps the completion length.
	MaxTokens int
	// Timeout is the timeout of the first attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per request.
	MaxRetries int
	// RetryDelay is the wait before the second attempt; it doubles afterwards.
	RetryDelay time.Duration
	// LMStudio contains local server settings.
	LMStudio OpenAIConfig
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// Observer receives per-attempt outcomes (optional).
	Observer RequestObserver
}

// NewCompleter creates a Completer based on the configuration. Returns an
// error for unsupported or empty provider values.
func NewCompleter(cfg FactoryConfig) (Completer, error) {
	opts := ProviderOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Retry: RetryPolicy{
			Attempts:      cfg.MaxRetries,
			Delay:         cfg.RetryDelay,
			Timeout:       cfg.Timeout,
			TimeoutGrowth: DefaultTimeoutGrowth,
		},
		Observer: cfg.Observer,
	}

	switch cfg.Provider {
	case "lmstudio":
		return NewLMStudioProvider(cfg.LMStudio, opts), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, opts), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: API key is required")
		}
		return NewAnthropicProvider(cfg.Anthropic, opts), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// ReadKeyFile returns the API key stored in path, trimmed of whitespace.
func ReadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read API key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("API key file %s is empty", path)
	}
	return key, nil
}
