package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Run("applies configured level", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("console format", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{Level: "warn", Format: "console", Output: "stderr"})
		assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	})

	t.Run("writes to file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service.log")
		logger := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
		logger.Info().Str("component", "test").Msg("hello file")

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
		assert.Equal(t, "hello file", entry["message"])
		assert.Equal(t, "test", entry["component"])
	})

	t.Run("unwritable file falls back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing-dir", "service.log")
		logger := NewLogger(LoggingConfig{Level: "info", Output: path})
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestContextLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	t.Run("run context", func(t *testing.T) {
		buf.Reset()
		logger := WithRunContext(base, "run-1", "user-9")
		logger.Info().Msg("x")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "run-1", entry["run_id"])
		assert.Equal(t, "user-9", entry["user_id"])
	})

	t.Run("run context without user", func(t *testing.T) {
		buf.Reset()
		logger := WithRunContext(base, "run-2", "")
		logger.Info().Msg("x")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.NotContains(t, entry, "user_id")
	})

	t.Run("phase and search context", func(t *testing.T) {
		buf.Reset()
		logger := WithSearchContext(WithPhaseContext(base, "Search"), 2, "openalex")
		logger.Info().Msg("x")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "Search", entry["phase"])
		assert.Equal(t, float64(2), entry["domain"])
		assert.Equal(t, "openalex", entry["source"])
	})
}
