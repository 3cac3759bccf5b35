package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewJSONCarriesServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "api", "info", "json")

	logger.Debug("hidden")
	logger.Info("draft_saved", "owner", "u1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "draft_saved", entry["msg"])
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "u1", entry["owner"])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "worker", "debug", "text").Debug("sync_tick")

	assert.True(t, strings.Contains(buf.String(), "msg=sync_tick"))
	assert.True(t, strings.Contains(buf.String(), "service=worker"))
}
