package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelWarn)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestWriterLogsPerLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	w := NewHostWriter(logger, "web1")
	n, err := w.Write([]byte("line one\r\n\nline two\n"))
	require.NoError(t, err)
	assert.Equal(t, len("line one\r\n\nline two\n"), n)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "command output"))
	assert.Contains(t, out, "web1")
	assert.Contains(t, out, "line one")
	assert.Contains(t, out, "line two")
}

func TestWriterNilLogger(t *testing.T) {
	w := &Writer{}
	n, err := w.Write([]byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, len("anything"), n)
}
