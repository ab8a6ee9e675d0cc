package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/internal/config"
)

func TestLogger_JSONLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "WARN")

	logger.Slog().Info("hidden")
	logger.Slog().Warn("shown", slog.Int("n", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, float64(2), record["n"])
}

func TestLogger_ForVectorizer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatJSON, "INFO").ForVectorizer(7)

	logger.Slog().Info("pass finished")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, float64(7), record["vectorizer_id"])
}

func TestTerminalHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, config.LogFormatPretty, "DEBUG")

	logger.Slog().WithGroup("queue").Debug("claimed", slog.Int("keys", 3), slog.String("table", "blog queue"))

	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "claimed")
	assert.Contains(t, out, "queue.keys=")
	assert.Contains(t, out, `"blog queue"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestPassID(t *testing.T) {
	ctx := WithPassID(context.Background(), "abc")
	assert.Equal(t, "abc", PassID(ctx))
	assert.Equal(t, "", PassID(context.Background()))
}
