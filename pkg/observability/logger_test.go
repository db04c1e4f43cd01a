package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("text format includes service attributes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:       LogLevelInfo,
			Format:      LogFormatText,
			Output:      &buf,
			ServiceName: "billsync",
		})

		logger.Info("stored", "collection", "invoices")

		out := buf.String()
		assert.Contains(t, out, "stored")
		assert.Contains(t, out, "collection=invoices")
		assert.Contains(t, out, "service=billsync")
	})

	t.Run("json format is parseable", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelDebug, Format: LogFormatJSON, Output: &buf})

		logger.Debug("probe", "state", "degraded")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "probe", entry["msg"])
		assert.Equal(t, "degraded", entry["state"])
	})

	t.Run("level filters lower severities", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelWarn, Output: &buf})

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestLogger_ContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: LogFormatJSON, Output: &buf})

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithEventID(ctx, "evt_123")
	logger.InfoContext(ctx, "processing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-1", entry[CorrelationIDKey])
	assert.Equal(t, "evt_123", entry[EventIDKey])
}

func TestLoggerFor_ProductionDefaultsToJSON(t *testing.T) {
	logger := LoggerFor("production", "debug", "")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, EventIDFromContext(context.Background()))
}
