package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"statsbootstrap/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGray   = "\x1b[90m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiCyan   = "\x1b[36m"
)

// New builds the process logger from console/file sink settings.
// Params: cfg logging configuration with normalized levels/formats.
// Returns: logger, close function for file sinks, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := newHandler(consoleWriter(os.Stderr, cfg.Console.Format), cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			for _, closer := range closers {
				_ = closer.Close()
			}
		})
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(fanoutHandler(handlers)), closeFn, nil
}

// newHandler creates one slog handler for a sink.
// Params: w output writer; sink level/format settings.
// Returns: handler or error on unsupported settings.
func newHandler(w io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch sink.Format {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "line", "":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", sink.Format)
	}
}

// parseLevel maps config level names onto slog levels.
// Params: level lower-case level name.
// Returns: slog level or error.
func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", level)
	}
}

// consoleWriter wraps terminal output with level/token coloring for line format.
// Params: f console file; format sink format.
// Returns: writer used by the console handler.
func consoleWriter(f *os.File, format string) io.Writer {
	if format != "line" {
		return f
	}
	if !term.IsTerminal(int(f.Fd())) {
		return f
	}
	return &colorLineWriter{dst: f}
}

// colorLineWriter colors one logfmt line per Write call.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors the line by level and highlights quoted, IP and numeric values.
// Params: p one formatted log line.
// Returns: len(p) and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	base := levelColor(line)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	newline := strings.HasSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\n")

	var b strings.Builder
	b.Grow(len(line) + 64)
	b.WriteString(base)

	for i := 0; i < len(line); {
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			b.WriteString(line[i:])
			break
		}
		keyStart := strings.LastIndexByte(line[i:i+eq], ' ') + 1
		key := line[i+keyStart : i+eq]
		b.WriteString(line[i : i+eq+1])
		i += eq + 1

		end := valueEnd(line, i)
		value := line[i:end]
		if color := tokenColor(value); color != "" && key != "level" {
			b.WriteString(color + value + ansiReset + base)
		} else {
			b.WriteString(value)
		}
		i = end
	}

	b.WriteString(ansiReset)
	if newline {
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w.dst, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}

// valueEnd finds the end of a logfmt value starting at start.
func valueEnd(line string, start int) int {
	if start >= len(line) {
		return start
	}
	if line[start] != '"' {
		if idx := strings.IndexByte(line[start:], ' '); idx >= 0 {
			return start + idx
		}
		return len(line)
	}
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(line)
}

func tokenColor(value string) string {
	switch {
	case value == "":
		return ""
	case strings.HasPrefix(value, `"`):
		return ansiGreen
	case net.ParseIP(value) != nil:
		return ansiCyan
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return ansiYellow
	}
	return ""
}

// fanoutHandler sends every record to all child handlers.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, child := range h {
		if child.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, child := range h {
		if !child.Enabled(ctx, record.Level) {
			continue
		}
		if err := child.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, child := range h {
		out[i] = child.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, child := range h {
		out[i] = child.WithGroup(name)
	}
	return out
}
