package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("slow statement", "ms", 1200)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "slow statement", rec["msg"])
	assert.Equal(t, float64(1200), rec["ms"])

	buf.Reset()
	New(&buf, "debug", "text").Debug("statement", "sql", "SELECT 1")
	assert.Contains(t, buf.String(), `level=DEBUG msg=statement sql="SELECT 1"`)
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup(&buf, "info", "text")
	assert.Same(t, logger, slog.Default())
	slog.Info("ready")
	assert.Contains(t, buf.String(), "msg=ready")
}
