package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"statsbootstrap/internal/atom"
	"statsbootstrap/internal/codec"
)

// Client reports atoms to a remote intake server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a lazily connecting client for address.
// Params: address host:port of the intake server.
// Returns: client or configuration error.
func NewClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("create client %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// ReportBootstrapAtom sends one atom. Only transport failures are returned;
// the server never reports whether the atom was accepted.
// Params: ctx call context; a atom to send.
// Returns: transport error or nil.
func (c *Client) ReportBootstrapAtom(ctx context.Context, a atom.Atom) error {
	request := FromAtom(a)
	var response ReportResponse
	if err := c.conn.Invoke(ctx, reportMethod, &request, &response); err != nil {
		return fmt.Errorf("report atom %d: %w", a.ID, err)
	}
	return nil
}

// Close releases the underlying connection.
// Params: none.
// Returns: close error.
func (c *Client) Close() error {
	return c.conn.Close()
}
