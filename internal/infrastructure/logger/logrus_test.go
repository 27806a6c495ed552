package logger

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

func newJSONLogger(buf *bytes.Buffer) Logger {
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Fields = map[string]string{"service": "bean-relay"}
	log := NewLogrusLogger(cfg)
	log.SetOutput(buf)
	return log
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogrusLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)

	log.WithField("component", "hub").WithFields(Fields{"connections": 2}).Infof("Broadcast %s", "cheer")

	entries := lines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Broadcast cheer", entries[0]["message"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "hub", entries[0]["component"])
	assert.Equal(t, float64(2), entries[0]["connections"])
	assert.Equal(t, "bean-relay", entries[0]["service"])
}

func TestLogrusLogger_ChildrenShareLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf)
	child := log.WithField("component", "app")

	child.Debug("hidden")
	log.SetLevel(LevelDebug)
	child.Debug("visible")
	log.SetLevel(LevelError)
	child.Warn("hidden too")

	entries := lines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["message"])
}

func TestLogrusLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	cfg := NewDefaultConfig()
	cfg.Format = "text"
	cfg.Output = "file"
	cfg.FilePath = path

	NewLogrusLogger(cfg).Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "warn", LevelWarn.String())
}
