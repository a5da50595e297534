package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/shellyflux/internal/metric"
)

// shutdownFlushTimeout bounds the final best-effort flush during shutdown.
const shutdownFlushTimeout = 5 * time.Second

// Sink receives flushed batches. The whole batch succeeds or fails as one;
// a permanent refusal must wrap ErrSinkRejected.
type Sink interface {
	WriteBatch(ctx context.Context, points []metric.Point) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Config holds buffer tuning.
type Config struct {
	// Capacity is the maximum number of queued points. When the queue is
	// full the oldest point is evicted to admit the newest.
	Capacity int

	// FlushInterval is how often the queue is drained regardless of size.
	FlushInterval time.Duration

	// FlushSize triggers an early flush when this many points are queued.
	FlushSize int

	// MaxAttempts is the number of write attempts per flush cycle,
	// including the first.
	MaxAttempts int

	// RetryBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	RetryBackoff time.Duration
}

// Stats is a snapshot of buffer counters for health reporting.
type Stats struct {
	// Queued is the number of points currently waiting.
	Queued int

	// Capacity is the configured queue bound.
	Capacity int

	// Dropped counts points lost to overflow eviction or to a batch
	// exhausting its retry budget.
	Dropped uint64

	// Written counts points successfully delivered to the sink.
	Written uint64

	// Rejected counts points dropped because the sink refused them.
	Rejected uint64

	// Retries counts write attempts beyond the first.
	Retries uint64
}

// Buffer is a bounded queue between the pollers and the sink.
//
// Thread Safety:
//   - Enqueue and Stats are safe for concurrent use.
//   - Run must be called exactly once; it owns the flush loop.
type Buffer struct {
	cfg    Config
	sink   Sink
	logger Logger

	mu      sync.Mutex
	queue   []metric.Point
	dropped uint64

	written  uint64
	rejected uint64
	retries  uint64

	// sizeTrigger wakes the flush loop when the queue reaches FlushSize.
	sizeTrigger chan struct{}
}

// New creates a Buffer draining into sink.
//
// Parameters:
//   - cfg: Buffer tuning (capacity, flush and retry policy)
//   - sink: Destination for flushed batches
//   - logger: Optional logger (nil for no logging)
func New(cfg Config, sink Sink, logger Logger) *Buffer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Buffer{
		cfg:         cfg,
		sink:        sink,
		logger:      logger,
		queue:       make([]metric.Point, 0, cfg.Capacity),
		sizeTrigger: make(chan struct{}, 1),
	}
}

// Enqueue adds points to the queue without blocking.
//
// If the queue is full, the oldest points are evicted to make room; the
// eviction count is visible in Stats. Enqueue never fails and never waits
// on the sink, so a slow or dead sink cannot stall a poller.
func (b *Buffer) Enqueue(points ...metric.Point) {
	if len(points) == 0 {
		return
	}

	b.mu.Lock()
	b.queue = append(b.queue, points...)
	if over := len(b.queue) - b.cfg.Capacity; over > 0 {
		b.queue = b.queue[over:]
		b.dropped += uint64(over)
		b.logger.Warn("buffer full, oldest points dropped",
			"dropped", over, "capacity", b.cfg.Capacity)
	}
	full := len(b.queue) >= b.cfg.FlushSize
	b.mu.Unlock()

	if full {
		select {
		case b.sizeTrigger <- struct{}{}:
		default:
		}
	}
}

// Run drives the flush loop until ctx is cancelled, then performs one final
// best-effort flush so a graceful shutdown loses nothing the sink will take.
//
// Returns:
//   - error: Always nil; kept for errgroup-style call sites
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.finalFlush()
			return nil
		case <-ticker.C:
			b.flush(ctx)
		case <-b.sizeTrigger:
			b.flush(ctx)
		}
	}
}

// flush drains the queue and writes it as one batch, retrying transient
// failures with doubling backoff. A batch that exhausts its retry budget
// is dropped and counted; retrying it across cycles would let a dead sink
// pin the queue head forever. Cancellation mid-retry requeues the batch
// so the shutdown flush gets one last shot at it.
func (b *Buffer) flush(ctx context.Context) {
	batch := b.take()
	if len(batch) == 0 {
		return
	}

	backoff := b.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			b.mu.Lock()
			b.retries++
			b.mu.Unlock()

			select {
			case <-ctx.Done():
				b.requeue(batch)
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = b.sink.WriteBatch(ctx, batch)
		if err == nil {
			b.mu.Lock()
			b.written += uint64(len(batch))
			b.mu.Unlock()
			return
		}

		if errors.Is(err, ErrSinkRejected) {
			b.mu.Lock()
			b.rejected += uint64(len(batch))
			b.mu.Unlock()
			b.logger.Error("sink rejected batch, dropping",
				"points", len(batch), "error", err)
			return
		}

		b.logger.Warn("flush attempt failed",
			"attempt", attempt, "max_attempts", b.cfg.MaxAttempts,
			"points", len(batch), "error", err)
	}

	b.mu.Lock()
	b.dropped += uint64(len(batch))
	b.mu.Unlock()
	b.logger.Error("flush exhausted retries, batch dropped",
		"points", len(batch), "attempts", b.cfg.MaxAttempts, "error", err)
}

// finalFlush makes one attempt to drain the queue during shutdown.
func (b *Buffer) finalFlush() {
	batch := b.take()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	if err := b.sink.WriteBatch(ctx, batch); err != nil {
		b.logger.Error("final flush failed, points lost",
			"points", len(batch), "error", err)
		return
	}

	b.mu.Lock()
	b.written += uint64(len(batch))
	b.mu.Unlock()
	b.logger.Info("final flush complete", "points", len(batch))
}

// take removes and returns the entire queue.
func (b *Buffer) take() []metric.Point {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil
	}
	batch := b.queue
	b.queue = make([]metric.Point, 0, b.cfg.Capacity)
	return batch
}

// requeue puts an unflushed batch back at the front of the queue.
// If the combined length exceeds capacity, the oldest points (the front of
// the requeued batch) are evicted first.
func (b *Buffer) requeue(batch []metric.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	combined := make([]metric.Point, 0, len(batch)+len(b.queue))
	combined = append(combined, batch...)
	combined = append(combined, b.queue...)

	if over := len(combined) - b.cfg.Capacity; over > 0 {
		combined = combined[over:]
		b.dropped += uint64(over)
	}
	b.queue = combined
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Queued:   len(b.queue),
		Capacity: b.cfg.Capacity,
		Dropped:  b.dropped,
		Written:  b.written,
		Rejected: b.rejected,
		Retries:  b.retries,
	}
}
