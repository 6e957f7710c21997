// Package transport exposes the atom intake over gRPC and NATS.
//
// The gRPC service is registered from a hand-written service descriptor and
// speaks CBOR (content subtype "cbor") instead of generated protobuf stubs.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"statsbootstrap/internal/atom"
	_ "statsbootstrap/internal/codec"
)

const (
	serviceName  = "statsbootstrap.v1.StatsBootstrapAtomService"
	reportMethod = "/" + serviceName + "/ReportBootstrapAtom"
)

// AtomReporter accepts decoded atoms. Implementations never return failures to callers.
type AtomReporter interface {
	ReportBootstrapAtom(ctx context.Context, a atom.Atom)
}

// ServerOptions tunes the gRPC intake server.
type ServerOptions struct {
	MaxRecvBytes int
}

var atomServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AtomReporter)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportBootstrapAtom",
			Handler:    reportBootstrapAtomHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statsbootstrap/v1/atom_service",
}

// NewGRPCServer creates a gRPC server with recovery/logging interceptors and the atom service.
// Params: reporter atom destination; logger rpc logger; opts server limits.
// Returns: server ready to Serve.
func NewGRPCServer(reporter AtomReporter, logger *slog.Logger, opts ServerOptions) *grpc.Server {
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
	}
	if opts.MaxRecvBytes > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(opts.MaxRecvBytes))
	}

	srv := grpc.NewServer(serverOpts...)
	srv.RegisterService(&atomServiceDesc, reporter)
	return srv
}

// reportBootstrapAtomHandler decodes the wire atom and hands it to the reporter.
// The reply is always empty: rejected atoms are not signaled to the caller.
func reportBootstrapAtomHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(WireAtom)
	if err := dec(in); err != nil {
		return nil, err
	}

	handle := func(ctx context.Context, req any) (any, error) {
		srv.(AtomReporter).ReportBootstrapAtom(ctx, req.(*WireAtom).ToAtom())
		return &ReportResponse{}, nil
	}
	if interceptor == nil {
		return handle(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: reportMethod,
	}
	return interceptor(ctx, in, info, handle)
}

// LoggingInterceptor logs method, duration and error for every unary RPC at debug level.
// Params: logger destination.
// Returns: unary interceptor.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			logger.Error("rpc completed",
				slog.String("method", info.FullMethod),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("rpc completed",
				slog.String("method", info.FullMethod),
				slog.Duration("duration", duration),
			)
		}

		return resp, err
	}
}

// RecoveryInterceptor converts handler panics into codes.Internal and logs the stack.
// Params: logger destination.
// Returns: unary interceptor.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in gRPC handler",
					slog.String("method", info.FullMethod),
					slog.String("panic", fmt.Sprintf("%v", r)),
					slog.String("stack", string(debug.Stack())),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
