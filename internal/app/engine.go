package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"

	"statsbootstrap/internal/config"
	"statsbootstrap/internal/pipeline"
	"statsbootstrap/internal/selfstats"
	"statsbootstrap/internal/service"
	"statsbootstrap/internal/transport"
)

// daemon wires intake transports, the atom service and sinks for one config generation.
type daemon struct {
	instance string
	logger   *slog.Logger

	sinks       *pipeline.Engine
	cancelSinks context.CancelFunc
	service     *service.StatsBootstrapAtomService

	server   *grpc.Server
	listener net.Listener
	ingress  *transport.NATSIngress
	self     *selfstats.Loop
	debug    *debugServer
}

// newDaemon builds every component from cfg; nothing serves until Run.
// Params: ctx build context; cfg validated config; logger root logger.
// Returns: daemon or error with partially built components released.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	instance, err := newInstanceID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("instance", instance))

	// Sinks get their own context so collectors can flush after intake has stopped.
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	sinks, err := pipeline.NewFromConfig(sinkCtx, cfg.Sink, logger)
	if err != nil {
		cancelSinks()
		return nil, err
	}

	d := &daemon{
		instance:    instance,
		logger:      logger,
		sinks:       sinks,
		cancelSinks: cancelSinks,
		service:     service.New(sinks, service.NewSlogDiagnostics(logger.With(slog.String("component", "diagnostics")))),
	}

	listener, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		d.closeSinks()
		return nil, fmt.Errorf("listen %q: %w", cfg.Server.Listen, err)
	}
	d.listener = listener
	d.server = transport.NewGRPCServer(
		d.service,
		logger.With(slog.String("component", "grpc")),
		transport.ServerOptions{MaxRecvBytes: cfg.Server.MaxRecvBytes},
	)

	if cfg.Ingress.NATS.Enabled {
		ingress, err := transport.StartNATSIngress(
			cfg.Ingress.NATS.URL,
			cfg.Ingress.NATS.Subject,
			d.service,
			logger.With(slog.String("component", "nats-ingress")),
		)
		if err != nil {
			_ = listener.Close()
			d.closeSinks()
			return nil, fmt.Errorf("start nats ingress: %w", err)
		}
		d.ingress = ingress
	}

	if cfg.Self.Enabled {
		sampler, err := selfstats.NewProcessSampler(ctx)
		if err != nil {
			_ = d.ingress.Close()
			_ = listener.Close()
			d.closeSinks()
			return nil, fmt.Errorf("init self stats: %w", err)
		}
		d.self = selfstats.NewLoop(
			cfg.Self.AtomID,
			cfg.Self.Interval.Duration,
			sampler,
			d.service,
			d.service,
			logger.With(slog.String("component", "selfstats")),
		)
	}

	if cfg.Pprof.Enabled {
		debug, err := newDebugServer(cfg.Pprof.Listen, d, logger.With(slog.String("component", "debug")))
		if err != nil {
			_ = d.ingress.Close()
			_ = listener.Close()
			d.closeSinks()
			return nil, err
		}
		d.debug = debug
	}

	return d, nil
}

// Stats returns the intake counters of this daemon generation.
func (d *daemon) Stats() service.Stats {
	return d.service.Stats()
}

// Addr returns the bound gRPC intake address.
func (d *daemon) Addr() string {
	return d.listener.Addr().String()
}

// Run serves intake until ctx is canceled, then shuts down in dependency order:
// intake first, then self stats, then sinks with their final flush.
// Params: ctx lifecycle context.
// Returns: serve error when the gRPC server fails, nil on graceful stop.
func (d *daemon) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Serve(d.listener)
	}()

	var debugWG sync.WaitGroup
	if d.debug != nil {
		debugWG.Add(1)
		go func() {
			defer debugWG.Done()
			d.debug.serve()
		}()
	}

	selfCtx, cancelSelf := context.WithCancel(ctx)
	var selfWG sync.WaitGroup
	if d.self != nil {
		selfWG.Add(1)
		go func() {
			defer selfWG.Done()
			if err := d.self.Run(selfCtx); err != nil {
				d.logger.Error("self stats stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve grpc: %w", err)
		}
	}

	if err := d.ingress.Close(); err != nil {
		d.logger.Warn("close nats ingress failed", slog.String("error", err.Error()))
	}
	d.server.GracefulStop()
	cancelSelf()
	selfWG.Wait()
	d.debug.shutdown()
	debugWG.Wait()
	d.closeSinks()
	return runErr
}

func (d *daemon) closeSinks() {
	d.cancelSinks()
	d.sinks.Close()
}
