// Command atomreport sends bootstrap atoms to statsbootstrapd and runs a debug event collector.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"google.golang.org/grpc"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/codec"
	"statsbootstrap/internal/pipeline"
	"statsbootstrap/internal/statsevent"
	"statsbootstrap/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "atomreport",
		Short:         "Report bootstrap atoms and inspect pushed stats events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSendCmd(), newCollectCmd())
	return root
}

type sendOptions struct {
	addr    string
	natsURL string
	subject string
	id      int32
	values  []string
	timeout time.Duration
}

func newSendCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one atom over gRPC or NATS",
		Example: `  atomreport send --id 100 --value int:1000@uid=true --value string:boot
  atomreport send --nats nats://127.0.0.1:4222 --id 42 --value strings:a,b`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "127.0.0.1:7070", "statsbootstrapd gRPC address")
	flags.StringVar(&opts.natsURL, "nats", "", "publish over NATS instead of gRPC")
	flags.StringVar(&opts.subject, "subject", "statsbootstrap.atoms", "NATS ingress subject")
	flags.Int32Var(&opts.id, "id", 0, "atom id")
	flags.StringArrayVar(&opts.values, "value", nil, "field as type:value[@uid=bool], repeatable")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "send timeout")
	return cmd
}

// runSend builds the atom from flags and delivers it.
// Params: ctx command context; opts parsed flags.
// Returns: parse or transport error; atom validation happens in the daemon.
func runSend(ctx context.Context, opts sendOptions) error {
	a := atom.Atom{ID: opts.id, Values: make([]atom.Value, 0, len(opts.values))}
	for _, arg := range opts.values {
		value, err := parseValue(arg)
		if err != nil {
			return err
		}
		a.Values = append(a.Values, value)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if opts.natsURL != "" {
		return publishAtom(opts.natsURL, opts.subject, a)
	}

	client, err := transport.NewClient(opts.addr)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.ReportBootstrapAtom(ctx, a)
}

func publishAtom(url, subject string, a atom.Atom) error {
	payload, err := codec.Marshal(transport.FromAtom(a))
	if err != nil {
		return fmt.Errorf("encode atom: %w", err)
	}

	conn, err := nats.Connect(url, nats.Name("atomreport"))
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return conn.Flush()
}

func newCollectCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run an EventCollector that logs every pushed event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), listen, newCommandLogger())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7080", "EventCollector listen address")
	return cmd
}

// newCommandLogger logs human-readable text on a terminal and JSON when piped.
func newCommandLogger() *slog.Logger {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// printCollector logs every received event.
type printCollector struct {
	logger *slog.Logger
}

// PushEvents decodes and logs each event of the batch.
// Params: ctx rpc context; events encoded batch.
// Returns: nil; undecodable events are logged and skipped.
func (c printCollector) PushEvents(ctx context.Context, events [][]byte) error {
	for _, raw := range events {
		decoded, err := statsevent.Decode(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "undecodable event", slog.Int("bytes", len(raw)), slog.String("error", err.Error()))
			continue
		}
		c.logger.InfoContext(ctx, "event",
			slog.Int("atom_id", int(decoded.AtomID)),
			slog.Int64("timestamp_ns", decoded.TimestampNanos),
			slog.Any("fields", decoded.Fields),
			slog.Any("annotations", decoded.Annotations),
		)
	}
	return nil
}

func runCollect(ctx context.Context, listen string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %q: %w", listen, err)
	}

	srv := grpc.NewServer()
	pipeline.RegisterEventCollector(srv, printCollector{logger: logger})
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("collector listening", slog.String("addr", listener.Addr().String()))
	return srv.Serve(listener)
}
