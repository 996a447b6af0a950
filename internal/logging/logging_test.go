package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestColorHandler_FormatsAttrs(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "text").With("component", "compose")
	logger.Warn("subgraph fetch failed", "subgraph", "products", "remaining", 2)

	line := buf.String()
	assert.Contains(t, line, "WRN subgraph fetch failed")
	assert.Contains(t, line, "component=compose")
	assert.Contains(t, line, "subgraph=products")
	assert.Contains(t, line, "remaining=2")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestColorHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")
	logger.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("router healthy", "addr", "127.0.0.1:8088")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "router healthy", rec["msg"])
	assert.Equal(t, "127.0.0.1:8088", rec["addr"])
}
