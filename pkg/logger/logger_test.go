package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger(level LogLevel, json bool) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&Config{
		Level:      level,
		Output:     &buf,
		JSON:       json,
		TimeFormat: "15:04:05",
	}), &buf
}

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expected)
		assert.Equal(t, expected, FromContext(ctx))
	})
	t.Run("Should fall back to default logger when context has none", func(t *testing.T) {
		l := FromContext(t.Context())
		require.NotNil(t, l)
		l.Info("fallback logger in use")
	})
	t.Run("Should fall back when context value has the wrong type", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		require.NotNil(t, FromContext(ctx))
	})
	t.Run("Should fall back when context holds a nil logger", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))
		require.NotNil(t, FromContext(ctx))
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should map every level onto charm levels", func(t *testing.T) {
		cases := map[LogLevel]int{
			DebugLevel:          -4,
			InfoLevel:           0,
			WarnLevel:           4,
			ErrorLevel:          8,
			DisabledLevel:       1000,
			LogLevel("verbose"): 0,
		}
		for level, expected := range cases {
			assert.Equal(t, expected, int(level.ToCharmlogLevel()), "level %s", level)
		}
	})
}

func TestParseLevel(t *testing.T) {
	t.Run("Should parse known levels case-insensitively", func(t *testing.T) {
		assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
		assert.Equal(t, WarnLevel, ParseLevel(" warn "))
		assert.Equal(t, DisabledLevel, ParseLevel("disabled"))
	})
	t.Run("Should default unknown values to info", func(t *testing.T) {
		assert.Equal(t, InfoLevel, ParseLevel(""))
		assert.Equal(t, InfoLevel, ParseLevel("trace"))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write messages to the configured output", func(t *testing.T) {
		l, buf := bufferedLogger(InfoLevel, false)
		l.Info("policy indexed", "chunks", 3)
		assert.Contains(t, buf.String(), "policy indexed")
		assert.Contains(t, buf.String(), "chunks")
	})
	t.Run("Should emit JSON records when enabled", func(t *testing.T) {
		l, buf := bufferedLogger(InfoLevel, true)
		l.Info("policy indexed")
		assert.Contains(t, buf.String(), `"msg":"policy indexed"`)
	})
	t.Run("Should build a logger from nil config", func(t *testing.T) {
		require.NotNil(t, NewLogger(nil))
	})
}

func TestLogger_With(t *testing.T) {
	t.Run("Should carry fields into derived loggers", func(t *testing.T) {
		base, buf := bufferedLogger(InfoLevel, false)
		base.With("component", "retriever").Info("query served")
		out := buf.String()
		assert.Contains(t, out, "component")
		assert.Contains(t, out, "retriever")
		assert.Contains(t, out, "query served")
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should provide the default configuration", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, InfoLevel, cfg.Level)
		assert.Equal(t, os.Stdout, cfg.Output)
		assert.False(t, cfg.JSON)
		assert.Equal(t, "15:04:05", cfg.TimeFormat)
	})
	t.Run("Should provide a silent test configuration", func(t *testing.T) {
		cfg := TestConfig()
		assert.Equal(t, DisabledLevel, cfg.Level)
		assert.Equal(t, io.Discard, cfg.Output)
	})
}

func TestIsTestEnvironment(t *testing.T) {
	t.Run("Should detect the go test binary", func(t *testing.T) {
		assert.True(t, IsTestEnvironment())
	})
}

func TestLoggerLevels(t *testing.T) {
	t.Run("Should filter messages below the configured level", func(t *testing.T) {
		l, buf := bufferedLogger(WarnLevel, false)
		l.Debug("debug message")
		l.Info("info message")
		l.Warn("warn message")
		l.Error("error message")
		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})
	t.Run("Should change the level in place", func(t *testing.T) {
		l, buf := bufferedLogger(InfoLevel, false)
		l.Debug("hidden message")
		require.True(t, SetLevel(l, DebugLevel))
		l.Debug("visible message")
		out := buf.String()
		assert.NotContains(t, out, "hidden message")
		assert.Contains(t, out, "visible message")
	})
	t.Run("Should not change foreign loggers", func(t *testing.T) {
		assert.False(t, SetLevel(nil, DebugLevel))
	})
	t.Run("Should drop everything at the disabled level", func(t *testing.T) {
		l, buf := bufferedLogger(DisabledLevel, false)
		l.Error("error message")
		assert.Empty(t, buf.String())
	})
}
