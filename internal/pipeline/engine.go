package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"statsbootstrap/internal/config"
	"statsbootstrap/internal/statsevent"
)

// Engine owns the configured event sinks.
// Params: sinks built from [sink] config.
// Returns: one Sink fanning out to every destination.
type Engine struct {
	sink      *MultiSink
	collector *CollectorSink
	nats      *NATSSink
	logger    *slog.Logger
}

// NewFromConfig builds sinks for the enabled destinations; collector workers stop with ctx.
// Params: ctx collector lifecycle; cfg validated sink config; logger root logger.
// Returns: engine or error, with already opened sinks closed on failure.
func NewFromConfig(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (*Engine, error) {
	engine := &Engine{logger: logger}
	sinks := make([]Sink, 0, 3)

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(logger.With(slog.String("sink", "log"))))
	}

	if cfg.NATS.Enabled {
		natsSink, err := NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.With(slog.String("sink", "nats")))
		if err != nil {
			return nil, fmt.Errorf("init nats sink: %w", err)
		}
		engine.nats = natsSink
		sinks = append(sinks, natsSink)
	}

	if len(cfg.Collector) > 0 {
		collectorSink, err := NewCollectorSink(ctx, cfg.Collector, logger, &GRPCSender{})
		if err != nil {
			_ = engine.nats.Close()
			return nil, fmt.Errorf("init collector sink: %w", err)
		}
		engine.collector = collectorSink
		sinks = append(sinks, collectorSink)
	}

	engine.sink = NewMultiSink(sinks...)
	return engine, nil
}

// Consume forwards event to every configured sink.
// Params: ctx consume context; event payload.
// Returns: first sink error.
func (e *Engine) Consume(ctx context.Context, event *statsevent.Event) error {
	return e.sink.Consume(ctx, event)
}

// Len returns the number of active sinks.
// Params: none.
// Returns: sink count.
func (e *Engine) Len() int {
	return e.sink.Len()
}

// Close waits for collector workers to finish their final flush and drains NATS.
// The ctx passed to NewFromConfig must be canceled first.
// Params: none.
// Returns: none.
func (e *Engine) Close() {
	if e.collector != nil {
		<-e.collector.Done()
	}
	if err := e.nats.Close(); err != nil {
		e.logger.Error("close nats sink failed", slog.String("error", err.Error()))
	}
}
