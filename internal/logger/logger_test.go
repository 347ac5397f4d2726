package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithFields(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	l := New(Config{Level: "info", Format: "json", Output: w})

	l.Info("hello world", map[string]interface{}{"key": "value"})
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	line := buf.String()

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &parsed))
	assert.Equal(t, "hello world", parsed["msg"])
	assert.Equal(t, "value", parsed["key"])
}

func TestLoggerRespectsLevelFiltering(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	l := New(Config{Level: "warn", Format: "json", Output: w})

	l.Debug("should be suppressed", nil)
	l.Info("should also be suppressed", nil)
	l.Warn("should appear", nil)
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()

	assert.NotContains(t, out, "should be suppressed")
	assert.NotContains(t, out, "should also be suppressed")
	assert.Contains(t, out, "should appear")
}

func TestLoggerWithComponentTagsRecords(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	l := New(Config{Level: "info", Format: "json", Output: w})

	scoped := l.WithComponent("framework/resilience")
	scoped.Info("circuit opened", nil)
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()
	assert.Contains(t, out, "framework/resilience")
}

func TestLoggerWithContextInjectsTraceID(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	l := New(Config{Level: "info", Format: "json", Output: w})

	ctx := WithTraceID(context.Background(), "trace-123")
	l.InfoWithContext(ctx, "request handled", nil)
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()
	assert.Contains(t, out, "trace-123")
}

func TestLoggerInfoWithContextOmitsTraceIDWhenAbsent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	l := New(Config{Level: "info", Format: "json", Output: w})

	l.InfoWithContext(context.Background(), "no trace here", nil)
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()
	assert.NotContains(t, out, "trace_id")
}

func TestNewDefaultsToJSONOnStdoutWithoutPanicking(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New(Config{})
	})
}
