package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"statsbootstrap/internal/config"
)

// TestColorLineWriter_HighlightsLevelAndTokens verifies level and token coloring.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_HighlightsLevelAndTokens(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `level=INFO msg="hello" peer=10.20.30.40 retries=3`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	rendered := dst.String()
	if !strings.HasPrefix(rendered, ansiBlue) {
		t.Fatalf("expected INFO line base color")
	}
	if !strings.Contains(rendered, ansiGreen+`"hello"`+ansiReset+ansiBlue) {
		t.Fatalf("expected quoted string token color")
	}
	if !strings.Contains(rendered, ansiCyan+`10.20.30.40`+ansiReset+ansiBlue) {
		t.Fatalf("expected IP token color")
	}
	if !strings.Contains(rendered, ansiYellow+`3`+ansiReset+ansiBlue) {
		t.Fatalf("expected number token color")
	}
	if !strings.HasSuffix(rendered, ansiReset) {
		t.Fatalf("expected trailing reset sequence")
	}
}

// TestColorLineWriter_NoLevelColor verifies passthrough for unknown levels.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_NoLevelColor(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `msg="plain" value=42`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := dst.String(); got != line {
		t.Fatalf("expected passthrough line, got %q", got)
	}
}

// TestNew_FileSinkWritesJSON verifies file sink format and level filtering.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_FileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "warn", Format: "json", Path: path},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("atom rejected", "atom_id", 0)
	closeFn()
	closeFn()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), raw)
	}
	if !strings.Contains(lines[0], `"msg":"atom rejected"`) || !strings.Contains(lines[0], `"atom_id":0`) {
		t.Fatalf("unexpected log line: %s", lines[0])
	}
}

// TestNew_RejectsUnknownLevel verifies level validation.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "loud", Format: "line"},
	})
	if err == nil {
		t.Fatalf("expected level error")
	}
}

// TestFanoutHandler_RespectsChildLevels verifies per-sink level filtering.
// Params: testing.T for assertions.
// Returns: none.
func TestFanoutHandler_RespectsChildLevels(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	handler := fanoutHandler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	logger := slog.New(handler).With("component", "test")

	logger.Debug("debug line")
	logger.Error("error line")

	if !strings.Contains(debugBuf.String(), "debug line") || !strings.Contains(debugBuf.String(), "error line") {
		t.Fatalf("debug sink missing lines: %q", debugBuf.String())
	}
	if strings.Contains(errorBuf.String(), "debug line") || !strings.Contains(errorBuf.String(), "component=test") {
		t.Fatalf("unexpected error sink content: %q", errorBuf.String())
	}
}

// TestConsoleWriter_PlainWhenNotTerminal verifies colors are only applied on a terminal in line format.
// Params: t test context.
// Returns: none.
func TestConsoleWriter_PlainWhenNotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "console")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()

	for _, format := range []string{"line", "json"} {
		if w := consoleWriter(f, format); w != io.Writer(f) {
			t.Fatalf("format %s: expected plain file writer, got %T", format, w)
		}
	}
}
