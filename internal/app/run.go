package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"statsbootstrap/internal/config"
	"statsbootstrap/internal/logging"
	"statsbootstrap/internal/service"
)

// Runtime defines runtime inputs required to start the daemon.
// Params: ConfigPath points to a TOML file or directory; Reload triggers config re-read (SIGHUP).
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Reload     <-chan struct{}
}

// intake is one running daemon: it serves until canceled and reports its counters.
type intake interface {
	Run(context.Context) error
	Stats() service.Stats
	Addr() string
}

type runDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	newIntake  func(context.Context, *config.Config, *slog.Logger) (intake, error)
}

// generation is the daemon built from one config load. A reload replaces the whole generation.
type generation struct {
	cfg         *config.Config
	logger      *slog.Logger
	closeLogger func()
	intake      intake

	cancel context.CancelFunc
	done   chan error
	final  *service.Stats
}

// Run loads configuration, starts the daemon, and swaps generations on Runtime.Reload.
// Params: ctx controls lifecycle; rt provides runtime inputs and optional reload trigger channel.
// Returns: error on startup failure, unexpected daemon exit, or failed rollback; nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newIntake: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (intake, error) {
			return newDaemon(ctx, cfg, logger)
		},
	}
}

// runWithDeps executes the runtime lifecycle using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps constructors.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return fmt.Errorf("config path is required")
	}

	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	current, err := startGeneration(ctx, cfg, deps, nil, nil)
	if err != nil {
		return err
	}

	reloadCh := rt.Reload
	for {
		select {
		case <-ctx.Done():
			current.finish(slog.String("reason", ctx.Err().Error()))
			return nil

		case runErr := <-current.done:
			current.done = nil
			current.stop()
			if ctx.Err() != nil {
				current.finish(slog.String("reason", ctx.Err().Error()))
				return nil
			}
			if runErr == nil {
				runErr = fmt.Errorf("intake exited without cancellation")
			}
			current.logger.Error("daemon stopped unexpectedly", slog.String("error", runErr.Error()))
			current.finish()
			return fmt.Errorf("run daemon: %w", runErr)

		case _, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			next, err := reloadGeneration(ctx, rt.ConfigPath, current, deps)
			if next == nil {
				return err
			}
			current = next
		}
	}
}

// startGeneration builds and starts a daemon from cfg.
// Params: ctx root lifecycle; cfg validated config; deps constructors; logger/closeLogger reuse an existing logger when set.
// Returns: running generation, or error with the logger it created closed.
func startGeneration(
	ctx context.Context,
	cfg *config.Config,
	deps runDeps,
	logger *slog.Logger,
	closeLogger func(),
) (*generation, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", ctx.Err())
	}

	ownsLogger := logger == nil
	if ownsLogger {
		var err error
		logger, closeLogger, err = deps.newLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	in, err := deps.newIntake(runCtx, cfg, logger)
	if err != nil {
		cancel()
		if ownsLogger && closeLogger != nil {
			closeLogger()
		}
		return nil, fmt.Errorf("build daemon: %w", err)
	}

	g := &generation{
		cfg:         cfg,
		logger:      logger,
		closeLogger: closeLogger,
		intake:      in,
		cancel:      cancel,
		done:        make(chan error, 1),
	}
	go func() {
		g.done <- in.Run(runCtx)
	}()

	logger.Info(
		"daemon started",
		slog.String("listen", in.Addr()),
		slog.Bool("nats_ingress", cfg.Ingress.NATS.Enabled),
		slog.Bool("log_sink", cfg.Sink.Log.Enabled),
		slog.Bool("nats_sink", cfg.Sink.NATS.Enabled),
		slog.Int("collectors", len(cfg.Sink.Collector)),
		slog.Bool("self_stats", cfg.Self.Enabled),
		slog.Bool("debug", cfg.Pprof.Enabled),
	)
	return g, nil
}

// reloadGeneration stops current and starts a generation from the re-read config.
// The listen socket is released before the next generation binds, so a failed start
// rolls back to the previous config and address.
// Params: ctx root lifecycle; path config path; current running generation; deps constructors.
// Returns: generation to keep running and a non-fatal reload error; nil generation when rollback failed too.
func reloadGeneration(ctx context.Context, path string, current *generation, deps runDeps) (*generation, error) {
	current.logger.Info("config reload requested")

	nextCfg, err := deps.loadConfig(path)
	if err != nil {
		current.logger.Error("config reload rejected, keeping current daemon", slog.String("error", err.Error()))
		return current, fmt.Errorf("reload config: %w", err)
	}

	nextLogger, nextCloseLogger, err := deps.newLogger(nextCfg.Log)
	if err != nil {
		current.logger.Error("config reload logger init failed", slog.String("error", err.Error()))
		return current, fmt.Errorf("init reload logger: %w", err)
	}

	previousAddr := current.intake.Addr()
	stats := current.stop()
	current.logger.Info("daemon generation stopped for reload", statsAttrs(stats)...)

	next, startErr := startGeneration(ctx, nextCfg, deps, nextLogger, nextCloseLogger)
	if startErr == nil {
		current.closeLoggerOnce()
		attrs := []any{slog.String("listen", next.intake.Addr())}
		if nextCfg.Server.Listen != current.cfg.Server.Listen {
			attrs = append(attrs, slog.String("previous_listen", previousAddr))
		}
		next.logger.Info("config reload applied", attrs...)
		return next, nil
	}
	nextCloseLogger()

	if ctx.Err() != nil {
		current.logger.Info("config reload interrupted by shutdown")
		return current, nil
	}

	current.logger.Error("config reload apply failed, restoring previous daemon",
		slog.String("rejected_listen", nextCfg.Server.Listen),
		slog.String("error", startErr.Error()),
	)
	restored, rollbackErr := startGeneration(ctx, current.cfg, deps, current.logger, current.closeLogger)
	if rollbackErr != nil {
		current.logger.Error("rollback failed", slog.String("error", rollbackErr.Error()))
		current.closeLoggerOnce()
		return nil, fmt.Errorf("apply reload: %w; rollback failed: %w", startErr, rollbackErr)
	}

	restored.logger.Warn("config reload rejected, previous daemon restored",
		slog.String("listen", restored.intake.Addr()),
		slog.String("rejected_listen", nextCfg.Server.Listen),
		slog.String("error", startErr.Error()),
	)
	return restored, fmt.Errorf("apply reload: %w", startErr)
}

// stop cancels the generation and waits for its intake to finish flushing.
// Params: none.
// Returns: final intake counters; repeated calls return the same snapshot.
func (g *generation) stop() service.Stats {
	if g.final != nil {
		return *g.final
	}
	g.cancel()
	if g.done != nil {
		<-g.done
		g.done = nil
	}
	stats := g.intake.Stats()
	g.final = &stats
	return stats
}

// finish logs the final counters and closes the logger.
func (g *generation) finish(attrs ...any) {
	attrs = append(attrs, statsAttrs(g.stop())...)
	g.logger.Info("daemon stopped", attrs...)
	g.closeLoggerOnce()
}

func (g *generation) closeLoggerOnce() {
	if g.closeLogger != nil {
		g.closeLogger()
		g.closeLogger = nil
	}
}

func statsAttrs(stats service.Stats) []any {
	return []any{
		slog.Uint64("accepted", stats.Accepted),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("commit_failures", stats.CommitFailures),
	}
}
