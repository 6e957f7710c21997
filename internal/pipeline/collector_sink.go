package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"statsbootstrap/internal/config"
	"statsbootstrap/internal/match"
	"statsbootstrap/internal/statsevent"
)

const (
	defaultCollectorInputBuffer = 4096
)

// CollectorSink fans out events to per-collector workers.
// Params: collector worker list.
// Returns: sink implementation with lifecycle goroutines.
type CollectorSink struct {
	workers []*collectorWorker
	logger  *slog.Logger
	sender  CollectorSender

	workersWG sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

type collectorWorker struct {
	name        string
	cfg         config.CollectorConfig
	compression Compression
	filter      match.AtomFilter
	logger      *slog.Logger
	sender      CollectorSender
	queue       *DiskQueue

	input chan []byte

	batch      [][]byte
	batchStart time.Time
}

type senderCloser interface {
	Close() error
}

// NewCollectorSink creates sink workers and starts their loops; workers stop when ctx is canceled.
// Params: ctx lifecycle context; collectors config list; logger root logger; sender transport implementation.
// Returns: collector sink or error.
func NewCollectorSink(
	ctx context.Context,
	collectors []config.CollectorConfig,
	logger *slog.Logger,
	sender CollectorSender,
) (*CollectorSink, error) {
	if len(collectors) == 0 {
		return nil, fmt.Errorf("collector list is empty")
	}
	if sender == nil {
		return nil, fmt.Errorf("collector sender is nil")
	}

	out := &CollectorSink{
		workers: make([]*collectorWorker, 0, len(collectors)),
		logger:  logger,
		sender:  sender,
		done:    make(chan struct{}),
	}
	cleanupQueues := func() {
		for _, worker := range out.workers {
			if worker.queue != nil {
				_ = worker.queue.Close()
			}
		}
	}

	for idx, cfg := range collectors {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			name = fmt.Sprintf("collector-%d", idx)
		}

		compression, err := ParseCompression(cfg.Compression)
		if err != nil {
			cleanupQueues()
			return nil, fmt.Errorf("collector %s: %w", name, err)
		}

		filter, err := match.NewAtomFilter(cfg.Atoms.Include, cfg.Atoms.Exclude)
		if err != nil {
			cleanupQueues()
			return nil, fmt.Errorf("collector %s atoms: %w", name, err)
		}

		var queue *DiskQueue
		if cfg.Queue.Enabled {
			queue, err = OpenDiskQueue(cfg.Queue.Dir, cfg.Queue.MaxEvents, cfg.Queue.MaxAge.Duration)
			if err != nil {
				cleanupQueues()
				return nil, fmt.Errorf("init queue for %s: %w", name, err)
			}
		}

		out.workers = append(out.workers, &collectorWorker{
			name:        name,
			cfg:         cfg,
			compression: compression,
			filter:      filter,
			logger:      logger.With(slog.String("collector", name)),
			sender:      sender,
			queue:       queue,
			input:       make(chan []byte, defaultCollectorInputBuffer),
			batch:       make([][]byte, 0, cfg.Batch.MaxEvents),
		})
	}

	out.workersWG.Add(len(out.workers))
	for _, worker := range out.workers {
		go func(active *collectorWorker) {
			defer out.workersWG.Done()
			active.run(ctx)
		}(worker)
	}
	go func() {
		out.workersWG.Wait()
		out.closeSender()
		close(out.done)
	}()

	return out, nil
}

// Consume copies the event bytes and enqueues them for every collector whose atom filter admits the event.
// Params: ctx consume context; event finalized event, not retained.
// Returns: context error when canceled while waiting for backpressure release.
func (s *CollectorSink) Consume(ctx context.Context, event *statsevent.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload []byte
	for _, worker := range s.workers {
		if !worker.filter.Allows(event.AtomID()) {
			continue
		}
		if payload == nil {
			payload = append([]byte(nil), event.Bytes()...)
		}
		select {
		case worker.input <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Done is closed after every worker has flushed and the sender is closed.
// Params: none.
// Returns: completion channel.
func (s *CollectorSink) Done() <-chan struct{} {
	return s.done
}

// closeSender closes collector sender resources once after worker shutdown.
// Params: none.
// Returns: none.
func (s *CollectorSink) closeSender() {
	s.closeOnce.Do(func() {
		closer, ok := s.sender.(senderCloser)
		if !ok {
			return
		}
		if err := closer.Close(); err != nil && s.logger != nil {
			s.logger.Error("close collector sender failed", slog.String("error", err.Error()))
		}
	})
}

// run executes collector worker loop: batching, sending, and queue draining.
// Params: ctx worker lifecycle context.
// Returns: none.
func (w *collectorWorker) run(ctx context.Context) {
	defer func() {
		if w.queue == nil {
			return
		}
		if err := w.queue.Close(); err != nil {
			w.logger.Error("close queue failed", slog.String("error", err.Error()))
		}
	}()

	flushTicker := time.NewTicker(time.Second)
	retryTicker := time.NewTicker(w.retryInterval())
	defer flushTicker.Stop()
	defer retryTicker.Stop()

	_ = w.drainQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownDrainTimeout())
			w.drainInput()
			w.flushBatch(shutdownCtx)
			_ = w.drainQueue(shutdownCtx)
			cancel()
			return
		case payload := <-w.input:
			w.appendBatch(payload)
			if uint64(len(w.batch)) >= w.cfg.Batch.MaxEvents {
				w.flushBatch(ctx)
			}
		case <-flushTicker.C:
			w.flushByAge(ctx)
		case <-retryTicker.C:
			_ = w.drainQueue(ctx)
		}
	}
}

// drainInput moves already accepted events into the batch before the final flush.
func (w *collectorWorker) drainInput() {
	for {
		select {
		case payload := <-w.input:
			w.appendBatch(payload)
		default:
			return
		}
	}
}

func (w *collectorWorker) retryInterval() time.Duration {
	if w.cfg.RetryInterval.Duration <= 0 {
		return 3 * time.Second
	}
	return w.cfg.RetryInterval.Duration
}

func (w *collectorWorker) sendTimeout() time.Duration {
	if w.cfg.Timeout.Duration <= 0 {
		return 5 * time.Second
	}
	return w.cfg.Timeout.Duration
}

// shutdownDrainTimeout bounds the final flush: one timeout per address plus slack, within [3s, 1m].
// Params: none.
// Returns: timeout duration for graceful collector shutdown.
func (w *collectorWorker) shutdownDrainTimeout() time.Duration {
	addresses := 0
	for _, address := range w.cfg.Addr {
		if strings.TrimSpace(address) != "" {
			addresses++
		}
	}
	if addresses == 0 {
		addresses = 1
	}

	timeout := time.Duration(addresses)*w.sendTimeout() + 2*time.Second
	return min(max(timeout, 3*time.Second), time.Minute)
}

func (w *collectorWorker) appendBatch(payload []byte) {
	if len(w.batch) == 0 {
		w.batchStart = time.Now()
	}
	w.batch = append(w.batch, payload)
}

// flushByAge flushes batch when max_age threshold is reached.
// Params: ctx lifecycle context.
// Returns: none.
func (w *collectorWorker) flushByAge(ctx context.Context) {
	if len(w.batch) == 0 || w.cfg.Batch.MaxAge.Duration <= 0 {
		return
	}
	if time.Since(w.batchStart) < w.cfg.Batch.MaxAge.Duration {
		return
	}
	w.flushBatch(ctx)
}

// flushBatch encodes the batch once, sends it with failover, and spools it when every address fails.
// Params: ctx lifecycle context.
// Returns: none.
func (w *collectorWorker) flushBatch(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	defer func() {
		clear(w.batch)
		w.batch = w.batch[:0]
	}()

	payload, err := w.sender.Encode(w.batch, w.compression)
	if err != nil {
		w.logger.Error("encode collector batch failed",
			slog.Int("events", len(w.batch)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.sendWithFailover(ctx, payload); err != nil {
		if errors.Is(err, ErrCorruptPayload) {
			w.logger.Error("collector rejected batch as corrupt, dropping",
				slog.Int("events", len(w.batch)),
				slog.String("error", err.Error()),
			)
			return
		}
		if w.queue == nil {
			w.logger.Error(
				"collector unavailable, dropping batch (queue disabled)",
				slog.Int("events", len(w.batch)),
				slog.String("error", err.Error()),
			)
			return
		}
		if queueErr := w.queue.Enqueue(payload); queueErr != nil {
			w.logger.Error("enqueue failed",
				slog.Int("events", len(w.batch)),
				slog.String("error", queueErr.Error()),
			)
			return
		}
		w.logger.Warn(
			"collector unavailable, batch queued",
			slog.Int("events", len(w.batch)),
			slog.Int("bytes", len(payload)),
		)
		return
	}

	_ = w.drainQueue(ctx)
}

// sendWithFailover attempts payload delivery to collector addresses in order.
// Params: ctx lifecycle context; payload encoded batch.
// Returns: nil on first successful send, last error when all addresses fail.
func (w *collectorWorker) sendWithFailover(ctx context.Context, payload []byte) error {
	var lastErr error
	for _, address := range w.cfg.Addr {
		addressValue := strings.TrimSpace(address)
		if addressValue == "" {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout())
		err := w.sender.Send(sendCtx, addressValue, payload)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCorruptPayload) {
			return err
		}
		lastErr = err
		w.logger.Warn("send attempt failed", slog.String("address", addressValue), slog.String("error", err.Error()))
	}

	if lastErr == nil {
		return fmt.Errorf("no collector addresses configured")
	}
	return lastErr
}

// drainQueue sends spooled payloads while the collector is reachable; undeliverable records are dropped.
// Params: ctx lifecycle context.
// Returns: nil when the queue is empty, error on the first failed send.
func (w *collectorWorker) drainQueue(ctx context.Context) error {
	if w.queue == nil {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		record, err := w.queue.Peek()
		if err != nil {
			if errors.Is(err, errQueueEmpty) {
				return nil
			}
			w.logger.Error("peek queue failed", slog.String("error", err.Error()))
			return err
		}

		if err := w.sendWithFailover(ctx, record.payload); err != nil {
			if !errors.Is(err, ErrCorruptPayload) {
				return err
			}
			w.logger.Error("dropping corrupt queued batch",
				slog.Int("bytes", len(record.payload)),
				slog.String("error", err.Error()),
			)
		}
		if err := w.queue.Ack(record); err != nil {
			w.logger.Error("ack queue record failed", slog.String("error", err.Error()))
			return err
		}
	}
}
