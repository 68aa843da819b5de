package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Level: "warn"}, &buf)

	log.Info("dropped")
	log.Warn("kept", "component", "merge")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "merge", rec["component"])
}

func TestRunID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))

	id := NewRunID()
	assert.Len(t, id, 36)
	assert.Equal(t, id, RunID(WithRunID(ctx, id)))
	assert.NotEqual(t, id, NewRunID())
}
