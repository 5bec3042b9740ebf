package llm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleter(t *testing.T) {
	t.Parallel()

	base := FactoryConfig{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Temperature: 0.1,
		MaxTokens:   50,
		LMStudio:    OpenAIConfig{BaseURL: "http://localhost:1234/v1", Model: "qwen2.5-7b"},
		OpenAI:      OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
		Anthropic:   AnthropicConfig{APIKey: "sk-ant", Model: "claude-3-5-haiku-latest"},
	}

	tests := []struct {
		provider  string
		wantModel string
	}{
		{"lmstudio", "qwen2.5-7b"},
		{"openai", "gpt-4o"},
		{"anthropic", "claude-3-5-haiku-latest"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Provider = tt.provider

			completer, err := NewCompleter(cfg)

			require.NoError(t, err)
			assert.Equal(t, tt.provider, completer.Provider())
			assert.Equal(t, tt.wantModel, completer.Model())
		})
	}
}

func TestNewCompleter_RetryPolicy(t *testing.T) {
	t.Parallel()

	completer, err := NewCompleter(FactoryConfig{
		Provider:   "lmstudio",
		Timeout:    10 * time.Second,
		MaxRetries: 5,
		RetryDelay: 3 * time.Second,
	})
	require.NoError(t, err)

	p := completer.(*OpenAIProvider)
	assert.Equal(t, 5, p.retry.Attempts)
	assert.Equal(t, 3*time.Second, p.retry.Delay)
	assert.Equal(t, 10*time.Second, p.retry.Timeout)
	assert.Equal(t, DefaultTimeoutGrowth, p.retry.TimeoutGrowth)
}

func TestNewCompleter_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewCompleter(FactoryConfig{Provider: "gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported LLM provider: "gemini"`)

	_, err = NewCompleter(FactoryConfig{})
	require.Error(t, err)

	_, err = NewCompleter(FactoryConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestReadKeyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("  sk-ant-123\n"), 0o600))
	key, err := ReadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", key)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = ReadKeyFile(empty)
	require.Error(t, err)

	_, err = ReadKeyFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}
