package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"statsbootstrap/internal/codec"
)

const (
	collectorServiceName = "statsbootstrap.v1.EventCollector"
	pushEventsMethod     = "/" + collectorServiceName + "/PushEvents"
)

// ErrCorruptPayload marks a prepared payload that can never be delivered.
var ErrCorruptPayload = errors.New("corrupt collector payload")

// PushEventsRequest carries one batch of encoded stats events.
// Uncompressed batches use Events; compressed batches carry a CBOR array of
// events in Block, with BlockSize holding its uncompressed length.
type PushEventsRequest struct {
	Compression Compression `cbor:"1,keyasint"`
	Events      [][]byte    `cbor:"2,keyasint,omitempty"`
	Block       []byte      `cbor:"3,keyasint,omitempty"`
	BlockSize   int         `cbor:"4,keyasint,omitempty"`
}

// PushEventsResponse is the empty reply of PushEvents.
type PushEventsResponse struct{}

// CollectorSender encodes event batches and sends prepared payloads.
// Params: batch of events and destination address.
// Returns: encoded payload and send status.
type CollectorSender interface {
	Encode(events [][]byte, compression Compression) ([]byte, error)
	Send(ctx context.Context, address string, payload []byte) error
}

// NewPushEventsRequest builds a request, falling back to plain events when the block does not shrink.
// Params: events encoded stats events; compression block codec.
// Returns: request or encode error.
func NewPushEventsRequest(events [][]byte, compression Compression) (*PushEventsRequest, error) {
	if compression == "" || compression == CompressionNone {
		return &PushEventsRequest{Compression: CompressionNone, Events: events}, nil
	}

	block, err := codec.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshal event block: %w", err)
	}
	compressed, err := compressBlock(block, compression)
	if errors.Is(err, errIncompressible) {
		return &PushEventsRequest{Compression: CompressionNone, Events: events}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PushEventsRequest{
		Compression: compression,
		Block:       compressed,
		BlockSize:   len(block),
	}, nil
}

// Unpack returns the events carried by the request.
// Params: none.
// Returns: encoded events or decompression error.
func (r *PushEventsRequest) Unpack() ([][]byte, error) {
	if r.Compression == "" || r.Compression == CompressionNone {
		return r.Events, nil
	}
	block, err := decompressBlock(r.Block, r.Compression, r.BlockSize)
	if err != nil {
		return nil, err
	}
	var events [][]byte
	if err := codec.Unmarshal(block, &events); err != nil {
		return nil, fmt.Errorf("unmarshal event block: %w", err)
	}
	return events, nil
}

// GRPCSender pushes batches to EventCollector services over the CBOR codec.
// Params: none.
// Returns: sender implementation with per-address connection cache.
type GRPCSender struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// Encode serializes a batch into a CBOR PushEventsRequest payload.
// Params: events batch; compression block codec.
// Returns: payload or encode error.
func (s *GRPCSender) Encode(events [][]byte, compression Compression) ([]byte, error) {
	request, err := NewPushEventsRequest(events, compression)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}
	return payload, nil
}

// Send decodes a prepared payload and pushes it to one collector address.
// Params: ctx call context carrying the deadline; address host:port; payload from Encode.
// Returns: ErrCorruptPayload wrap for undecodable payloads, rpc error otherwise.
func (s *GRPCSender) Send(ctx context.Context, address string, payload []byte) error {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Errorf("collector address is empty")
	}

	var request PushEventsRequest
	if err := codec.Unmarshal(payload, &request); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}

	conn, err := s.connForAddress(addr)
	if err != nil {
		return err
	}

	var response PushEventsResponse
	if err := conn.Invoke(ctx, pushEventsMethod, &request, &response, grpc.CallContentSubtype(codec.Name)); err != nil {
		s.dropAddress(addr)
		return fmt.Errorf("push events %s: %w", addr, err)
	}
	return nil
}

// Close closes all cached connections.
// Params: none.
// Returns: first close error when present.
func (s *GRPCSender) Close() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// connForAddress returns a cached connection or creates a lazy one.
func (s *GRPCSender) connForAddress(address string) (*grpc.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.conns[address]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create client %s: %w", address, err)
	}
	if s.conns == nil {
		s.conns = make(map[string]*grpc.ClientConn)
	}
	s.conns[address] = conn
	return conn, nil
}

// dropAddress closes and forgets the connection for address after a failed push.
func (s *GRPCSender) dropAddress(address string) {
	s.mu.Lock()
	conn, ok := s.conns[address]
	delete(s.conns, address)
	s.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}

// EventCollector receives unpacked event batches.
type EventCollector interface {
	PushEvents(ctx context.Context, events [][]byte) error
}

var eventCollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: collectorServiceName,
	HandlerType: (*EventCollector)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PushEvents",
			Handler:    pushEventsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statsbootstrap/v1/event_collector",
}

// RegisterEventCollector exposes collector on srv as statsbootstrap.v1.EventCollector.
// Params: srv gRPC server; collector batch handler.
// Returns: none.
func RegisterEventCollector(srv *grpc.Server, collector EventCollector) {
	srv.RegisterService(&eventCollectorServiceDesc, collector)
}

func pushEventsHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(PushEventsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	handle := func(ctx context.Context, req any) (any, error) {
		events, err := req.(*PushEventsRequest).Unpack()
		if err != nil {
			return nil, err
		}
		if err := srv.(EventCollector).PushEvents(ctx, events); err != nil {
			return nil, err
		}
		return &PushEventsResponse{}, nil
	}
	if interceptor == nil {
		return handle(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pushEventsMethod,
	}
	return interceptor(ctx, in, info, handle)
}
