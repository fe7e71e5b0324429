package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zacharie/internal/core"
)

var _ core.Logger = (*slog.Logger)(nil)

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("operation committed", "operation", "create_fei")
	logger.Warn("rule violation", "rule", "custody_role", "fei_numero", "ZACH-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "rule violation", record["msg"])
	assert.Equal(t, "custody_role", record["rule"])
}

func TestTextLoggerHasNoColorOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Config{}, &buf)
	require.NoError(t, err)

	logger.Error("publish custody event", "error", errors.New("broker unavailable"))
	out := buf.String()
	assert.Contains(t, out, "publish custody event")
	assert.Contains(t, out, "broker unavailable")
	assert.NotContains(t, out, "\x1b[")
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zacharie.log")
	logger, closer, err := New(Config{Format: "json", Output: path}, nil)
	require.NoError(t, err)
	logger.Info("sync round complete")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync round complete")
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, _, err := New(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
