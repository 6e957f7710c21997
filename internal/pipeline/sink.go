package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"statsbootstrap/internal/statsevent"
)

// Sink consumes committed stats events.
// Params: context and one finalized event; the event buffer is only valid during the call.
// Returns: error if sink cannot accept event.
type Sink interface {
	Consume(ctx context.Context, event *statsevent.Event) error
}

// LogSink writes decoded events into debug logs.
// Params: logger used for output.
// Returns: debug sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a debug sink.
// Params: logger instance.
// Returns: event sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Consume logs one event with its decoded fields.
// Params: ctx used for level check; event payload to log.
// Returns: decode error when payload is malformed.
func (s *LogSink) Consume(ctx context.Context, event *statsevent.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	decoded, err := statsevent.Decode(event.Bytes())
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	fields := make([]string, 0, len(decoded.Fields))
	for _, field := range decoded.Fields {
		fields = append(fields, fmt.Sprintf("%s=%v", field.Type, field.Value))
	}

	s.logger.DebugContext(
		ctx,
		"stats event",
		slog.Int("atom_id", int(decoded.AtomID)),
		slog.Int("bytes", len(event.Bytes())),
		slog.Any("fields", fields),
	)

	return nil
}

// MultiSink dispatches one event to multiple sink implementations.
// Params: sink list.
// Returns: composite sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds composite sink from sink list.
// Params: sinks target list; nil entries are skipped.
// Returns: multi sink implementation.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		out = append(out, sink)
	}
	return &MultiSink{sinks: out}
}

// Len returns number of child sinks.
// Params: none.
// Returns: child sink count.
func (s *MultiSink) Len() int {
	return len(s.sinks)
}

// Consume forwards event to each child sink.
// Params: ctx consume context; event payload.
// Returns: first error from downstream sinks, if any.
func (s *MultiSink) Consume(ctx context.Context, event *statsevent.Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
