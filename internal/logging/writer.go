package logging

import (
	"log/slog"
	"strings"
)

// Writer is an io.Writer that forwards command output to slog line by line.
// It is used to surface stdout/stderr of local hook commands and remote
// docker compose invocations without losing host attribution.
type Writer struct {
	logger *slog.Logger
	host   string
}

// NewWriter constructs a Writer bound to the provided logger.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// NewHostWriter constructs a Writer that tags every line with the origin host.
func NewHostWriter(logger *slog.Logger, host string) *Writer {
	return &Writer{logger: logger, host: host}
}

// Write logs the given bytes at info level, one record per non-empty line.
func (w *Writer) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if w.host != "" {
			w.logger.Info("command output", "host", w.host, "line", line)
			continue
		}
		w.logger.Info("command output", "line", line)
	}
	return len(p), nil
}
