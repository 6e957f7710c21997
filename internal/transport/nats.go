package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"statsbootstrap/internal/codec"
)

// NATSIngress feeds CBOR-encoded atoms published on a subject into a reporter.
type NATSIngress struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// StartNATSIngress connects to NATS and subscribes to subject.
// Params: url NATS server url; subject atom subject; reporter atom destination; logger diagnostics.
// Returns: running ingress or connect/subscribe error.
func StartNATSIngress(url, subject string, reporter AtomReporter, logger *slog.Logger) (*NATSIngress, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("statsbootstrapd-ingress"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	ingress := &NATSIngress{conn: conn, logger: logger}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var wire WireAtom
		if err := codec.Unmarshal(msg.Data, &wire); err != nil {
			logger.Warn("drop undecodable atom message",
				slog.String("subject", msg.Subject),
				slog.Int("bytes", len(msg.Data)),
				slog.String("error", err.Error()),
			)
			return
		}
		reporter.ReportBootstrapAtom(context.Background(), wire.ToAtom())
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		conn.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	ingress.sub = sub

	logger.Info("nats ingress started", slog.String("url", url), slog.String("subject", subject))
	return ingress, nil
}

// Close unsubscribes and closes the connection; no new atoms are reported afterwards.
// Params: none.
// Returns: unsubscribe error.
func (i *NATSIngress) Close() error {
	if i == nil || i.conn == nil {
		return nil
	}
	err := i.sub.Unsubscribe()
	i.conn.Close()
	return err
}
