package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"statsbootstrap/internal/statsevent"
)

// NATSSink publishes encoded events to <prefix>.<atom_id>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink connects to NATS with unlimited reconnects.
// Params: url server url; prefix subject prefix; logger connection state logging.
// Returns: sink or connect error.
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("statsbootstrapd-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats sink disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats sink reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Subject returns the subject used for atomID.
// Params: atomID event atom id.
// Returns: subject name.
func (s *NATSSink) Subject(atomID int32) string {
	return s.prefix + "." + strconv.FormatInt(int64(atomID), 10)
}

// Consume publishes the event bytes; the client copies them into its own buffer.
// Params: ctx unused; event payload.
// Returns: publish error.
func (s *NATSSink) Consume(_ context.Context, event *statsevent.Event) error {
	if err := s.conn.Publish(s.Subject(event.AtomID()), event.Bytes()); err != nil {
		return fmt.Errorf("publish atom %d: %w", event.AtomID(), err)
	}
	return nil
}

// Close flushes buffered messages and closes the connection.
// Params: none.
// Returns: drain error.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
