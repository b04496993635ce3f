package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Msg("hidden")
	queueLogger := Component(logger, "queue")
	queueLogger.Warn().Int("depth", 3).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "cortex-attention", entry["app"])
	assert.Equal(t, float64(3), entry["depth"])
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Config{Level: "debug", Format: "console", Output: &buf})
	require.NoError(t, err)

	logger.Debug().Str("source", "twitch").Msg("Source connected")
	out := buf.String()
	assert.Contains(t, out, "Source connected")
	assert.Contains(t, out, "source=")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))))
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "attention.log")
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "info", Format: "console", File: path, Output: &buf})
	require.NoError(t, err)

	logger.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to both"`)
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_InvalidConfig(t *testing.T) {
	_, _, err := New(Config{Level: "verbose"})
	assert.ErrorContains(t, err, "invalid log level")

	_, _, err = New(Config{Level: "info", Format: "xml"})
	assert.ErrorContains(t, err, "invalid log format")
}
