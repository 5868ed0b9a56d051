package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "forge.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		zl := l.Zerolog()
		zl.Info().Msg("hello file")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello file")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "nope"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})

	t.Run("redaction applied to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "forge.log")

		l, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)

		component := l.Component("test")
		component.Info().Str("key", "sk-ant-REDACTED").Msg("calling provider")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, string(data), "[REDACTED]")
		assert.Contains(t, string(data), `"component":"test"`)
	})

	t.Run("configured redact patterns", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "forge.log")

		l, err := New(Config{
			Level:          "info",
			File:           logFile,
			Redaction:      true,
			RedactPatterns: []string{`proj-secret-\d+`},
		})
		require.NoError(t, err)

		zl := l.Zerolog()
		zl.Info().Str("project", "proj-secret-1234").Msg("embedding")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "proj-secret-1234")
		assert.Contains(t, string(data), "[REDACTED]")
	})

	t.Run("invalid redact pattern", func(t *testing.T) {
		_, err := New(Config{Level: "info", Redaction: true, RedactPatterns: []string{"("}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redact pattern")
	})
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{"openai key", "using sk-proj1234567890abcdefghijkl", "sk-proj1234567890abcdefghijkl"},
		{"anthropic key", "key sk-ant-REDACTED", "aaaaaaaaaaaaaaaaaaaaaa"},
		{"bearer", "Authorization: Bearer abc.def.ghi", "abc.def.ghi"},
		{"api_key assignment", `{"api_key": "plainsecret"}`, "plainsecret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.NotContains(t, out, tt.leak)
			assert.Contains(t, out, "[REDACTED]")
		})
	}

	t.Run("custom pattern", func(t *testing.T) {
		require.NoError(t, r.AddPattern(`internal-\d+`))
		assert.Equal(t, "id [REDACTED]", r.Redact("id internal-42"))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		assert.Error(t, r.AddPattern("("))
	})

	t.Run("wrap reports full length", func(t *testing.T) {
		var buf bytes.Buffer
		w := r.Wrap(&buf)
		input := []byte("token sk-aaaaaaaaaaaaaaaaaaaaaaaaa")
		n, err := w.Write(input)
		require.NoError(t, err)
		assert.Equal(t, len(input), n)
		assert.True(t, strings.HasSuffix(buf.String(), "[REDACTED]"))
	})
}

func TestRotatingWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "rotate.log")

	w, err := NewRotatingWriter(logFile, 1, 0)
	require.NoError(t, err)
	w.maxSize = 16

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(data))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 7, cfg.MaxAge)
}
