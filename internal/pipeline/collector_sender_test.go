package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"

	"statsbootstrap/internal/codec"
	"statsbootstrap/internal/config"
)

type captureCollector struct {
	mu     sync.Mutex
	calls  int
	events [][]byte
}

// PushEvents captures incoming batches for assertions.
// Params: ctx rpc context; events unpacked batch.
// Returns: nil.
func (c *captureCollector) PushEvents(_ context.Context, events [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.events = append(c.events, events...)
	return nil
}

// Snapshot returns captured state under mutex.
// Params: none.
// Returns: call count and captured events.
func (c *captureCollector) Snapshot() (int, [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, append([][]byte(nil), c.events...)
}

func startTestCollector(t *testing.T, collector EventCollector) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	RegisterEventCollector(srv, collector)
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(srv.Stop)
	return listener.Addr().String()
}

func repetitiveEvents(n int) [][]byte {
	events := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, testEvent(100, int32(i%3)).Bytes())
	}
	return events
}

// TestPushEventsRequest_PackUnpack verifies every compression round-trips the batch.
// Params: testing.T for assertions.
// Returns: none.
func TestPushEventsRequest_PackUnpack(t *testing.T) {
	events := repetitiveEvents(64)

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			request, err := NewPushEventsRequest(events, compression)
			if err != nil {
				t.Fatalf("pack: %v", err)
			}
			if request.Compression != compression {
				t.Fatalf("unexpected compression: %q", request.Compression)
			}
			if compression != CompressionNone && len(request.Block) >= request.BlockSize {
				t.Fatalf("expected compressed block smaller than %d, got %d", request.BlockSize, len(request.Block))
			}

			unpacked, err := request.Unpack()
			if err != nil {
				t.Fatalf("unpack: %v", err)
			}
			if len(unpacked) != len(events) {
				t.Fatalf("unexpected event count: %d", len(unpacked))
			}
			for i := range events {
				if !bytes.Equal(unpacked[i], events[i]) {
					t.Fatalf("event[%d] mismatch", i)
				}
			}
		})
	}
}

// TestPushEventsRequest_IncompressibleFallsBack verifies tiny batches are sent uncompressed.
// Params: testing.T for assertions.
// Returns: none.
func TestPushEventsRequest_IncompressibleFallsBack(t *testing.T) {
	events := [][]byte{{0x01}}

	request, err := NewPushEventsRequest(events, CompressionLZ4)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if request.Compression != CompressionNone || len(request.Events) != 1 {
		t.Fatalf("expected plain fallback, got %+v", request)
	}
}

// TestPushEventsRequest_RejectsBadBlock verifies damaged or oversized blocks fail to unpack.
// Params: testing.T for assertions.
// Returns: none.
func TestPushEventsRequest_RejectsBadBlock(t *testing.T) {
	tests := []struct {
		name    string
		request PushEventsRequest
	}{
		{name: "lz4 garbage", request: PushEventsRequest{Compression: CompressionLZ4, Block: []byte{0xff, 0xff}, BlockSize: 10}},
		{name: "zstd garbage", request: PushEventsRequest{Compression: CompressionZstd, Block: []byte{1, 2, 3}, BlockSize: 10}},
		{name: "oversized", request: PushEventsRequest{Compression: CompressionZstd, Block: []byte{1}, BlockSize: maxBlockSize + 1}},
		{name: "unknown codec", request: PushEventsRequest{Compression: "snappy", Block: []byte{1}, BlockSize: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.request.Unpack(); err == nil {
				t.Fatalf("expected unpack error")
			}
		})
	}
}

// TestGRPCSender_SendDeliversBatch verifies Encode+Send reach a registered EventCollector.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCSender_SendDeliversBatch(t *testing.T) {
	collector := &captureCollector{}
	addr := startTestCollector(t, collector)

	sender := &GRPCSender{}
	t.Cleanup(func() {
		_ = sender.Close()
	})

	events := repetitiveEvents(16)
	payload, err := sender.Encode(events, CompressionZstd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.Send(ctx, addr, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	// The connection is cached and reused.
	if err := sender.Send(ctx, addr, payload); err != nil {
		t.Fatalf("second send: %v", err)
	}

	calls, received := collector.Snapshot()
	if calls != 2 {
		t.Fatalf("unexpected call count: %d", calls)
	}
	if len(received) != 2*len(events) || !bytes.Equal(received[0], events[0]) {
		t.Fatalf("unexpected received events: %d", len(received))
	}
}

// TestGRPCSender_SendCorruptPayload verifies undecodable payloads are reported as ErrCorruptPayload.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCSender_SendCorruptPayload(t *testing.T) {
	sender := &GRPCSender{}
	err := sender.Send(context.Background(), "127.0.0.1:1", []byte{0xff})
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got %v", err)
	}
}

// TestGRPCSender_SendUnavailable verifies transport failures are returned and not corrupt.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCSender_SendUnavailable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	sender := &GRPCSender{}
	t.Cleanup(func() {
		_ = sender.Close()
	})

	payload, err := codec.Marshal(PushEventsRequest{Compression: CompressionNone, Events: [][]byte{{1}}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err = sender.Send(ctx, addr, payload)
	if err == nil {
		t.Fatalf("expected send error for closed port")
	}
	if errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("transport failure reported as corrupt payload: %v", err)
	}
}

func collectorConfigs(addrs ...string) []config.CollectorConfig {
	return []config.CollectorConfig{
		{
			Name:          "primary",
			Addr:          addrs,
			Timeout:       config.Duration{Duration: time.Second},
			RetryInterval: config.Duration{Duration: time.Second},
			Compression:   string(CompressionLZ4),
			Batch: config.CollectorBatchConfig{
				MaxEvents: 3,
				MaxAge:    config.Duration{Duration: time.Minute},
			},
		},
	}
}

type failingCollector struct{}

// PushEvents always fails.
// Params: ctx/events ignored.
// Returns: error.
func (failingCollector) PushEvents(context.Context, [][]byte) error {
	return fmt.Errorf("storage full")
}

// TestCollectorSink_EndToEnd verifies events consumed by the sink arrive at a live collector.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorSink_EndToEnd(t *testing.T) {
	failingAddr := startTestCollector(t, failingCollector{})
	collector := &captureCollector{}
	addr := startTestCollector(t, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := NewCollectorSink(ctx, collectorConfigs(failingAddr, addr), discardLogger(), &GRPCSender{})
	if err != nil {
		t.Fatalf("NewCollectorSink: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := sink.Consume(ctx, testEvent(int32(10+i), 1)); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, received := collector.Snapshot(); len(received) == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-sink.Done()

	_, received := collector.Snapshot()
	if len(received) != 3 {
		t.Fatalf("expected 3 events at collector, got %d", len(received))
	}
}
