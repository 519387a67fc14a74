package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.WithFields(map[string]interface{}{
		"wallet": "0x1",
		"branch": "balances",
	}).Warn("branch degraded")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "branch degraded", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "0x1", entry["wallet"])
	assert.Equal(t, "balances", entry["branch"])
	assert.Contains(t, entry, "timestamp")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarn, FormatJSON, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")

	// Derived loggers follow the parent's level
	child := logger.WithField("k", "v")
	logger.SetLevel(LevelDebug)
	buf.Reset()
	child.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatText, &buf)

	logger.Named("resolver").WithError(assert.AnError).Info("catalog unavailable")

	line := buf.String()
	assert.True(t, strings.Contains(line, "INFO"))
	assert.Contains(t, line, "resolver")
	assert.Contains(t, line, "catalog unavailable")
	assert.Contains(t, line, assert.AnError.Error())
}

func TestFromContext(t *testing.T) {
	logger := NewNopLogger()
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.input))
		})
	}

	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
