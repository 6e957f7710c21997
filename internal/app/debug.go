package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"time"

	"statsbootstrap/internal/service"
)

const (
	debugShutdownTimeout = 3 * time.Second
	debugReadHeaderTO    = 2 * time.Second
)

// intakeStats is the JSON body of /debug/intake.
type intakeStats struct {
	Instance       string `json:"instance"`
	Listen         string `json:"listen"`
	Accepted       uint64 `json:"accepted"`
	Rejected       uint64 `json:"rejected"`
	CommitFailures uint64 `json:"commit_failures"`
}

// debugServer exposes pprof and the intake counters of one daemon generation.
type debugServer struct {
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// newDebugServer binds the debug listener; a busy address fails the daemon build.
// Params: listen host:port; d daemon whose counters are served; logger runtime logger.
// Returns: bound server, not yet serving.
func newDebugServer(listen string, d *daemon, logger *slog.Logger) (*debugServer, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen debug %q: %w", listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprofhttp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprofhttp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprofhttp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprofhttp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprofhttp.Trace)
	mux.HandleFunc("/debug/intake", func(w http.ResponseWriter, _ *http.Request) {
		writeIntakeStats(w, d.instance, d.Addr(), d.Stats())
	})

	return &debugServer{
		listener: listener,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: debugReadHeaderTO},
		logger:   logger,
	}, nil
}

func writeIntakeStats(w http.ResponseWriter, instance, listen string, stats service.Stats) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(intakeStats{
		Instance:       instance,
		Listen:         listen,
		Accepted:       stats.Accepted,
		Rejected:       stats.Rejected,
		CommitFailures: stats.CommitFailures,
	})
}

// Addr returns the bound debug address.
func (s *debugServer) Addr() string {
	return s.listener.Addr().String()
}

// serve blocks until the server is shut down.
func (s *debugServer) serve() {
	s.logger.Info("debug server started", slog.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("debug server failed", slog.String("addr", s.Addr()), slog.String("error", err.Error()))
	}
}

// shutdown stops the server; safe on a server that never served.
func (s *debugServer) shutdown() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("debug server shutdown error", slog.String("error", err.Error()))
	}
	_ = s.listener.Close()
}
