package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"garbage", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestZapLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	logger.Info("cache hit",
		String("key", "keywords:abc"),
		Int("access_count", 3),
	)
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, "keywords:abc")
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("should appear")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestZapLogger_ErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	logger.Error("enrichment failed", fmt.Errorf("dial timeout"))
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), "dial timeout")
}

func TestZapLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	child := logger.WithFields(String("component", "cache"))
	child.Info("sweep complete", Int("removed", 2))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "component")
	assert.Contains(t, out, "sweep complete")
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()

	// Must be safe to call with anything.
	logger.Debug("x")
	logger.Info("x", String("k", "v"))
	logger.Warn("x")
	logger.Error("x", fmt.Errorf("boom"))
	logger.WithFields(String("k", "v")).Info("x")
}
