package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shellyflux/internal/metric"
)

// mockSink records batches and fails a scripted number of times.
type mockSink struct {
	mu       sync.Mutex
	batches  [][]metric.Point
	failures int   // remaining transient failures before success
	err      error // error to return while failing
}

func (m *mockSink) WriteBatch(_ context.Context, points []metric.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return m.err
	}
	batch := make([]metric.Point, len(points))
	copy(batch, points)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockSink) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockSink) totalPoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

// countingSink always fails with err and counts attempts.
type countingSink struct {
	mu       sync.Mutex
	attempts int
	err      error
}

func (c *countingSink) WriteBatch(_ context.Context, _ []metric.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.err
}

func (c *countingSink) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func testConfig() Config {
	return Config{
		Capacity:      100,
		FlushInterval: time.Hour, // tests trigger flushes explicitly
		FlushSize:     1000,
		MaxAttempts:   3,
		RetryBackoff:  time.Millisecond,
	}
}

func makePoints(t *testing.T, n int) []metric.Point {
	t.Helper()
	points := make([]metric.Point, n)
	for i := range points {
		p, err := metric.New("dev", "", map[string]float64{metric.FieldPowerW: float64(i)}, time.Unix(int64(i), 0))
		if err != nil {
			t.Fatalf("metric.New() error = %v", err)
		}
		points[i] = p
	}
	return points
}

func TestEnqueue_DropOldest(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 5
	buf := New(cfg, &mockSink{}, nil)

	points := makePoints(t, 8)
	buf.Enqueue(points...)

	stats := buf.Stats()
	if stats.Queued != 5 {
		t.Errorf("Queued = %d, want 5", stats.Queued)
	}
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}

	// The survivors are the newest points (3..7), oldest first.
	batch := buf.take()
	if got := batch[0].Fields[metric.FieldPowerW]; got != 3 {
		t.Errorf("oldest surviving point = %v, want 3", got)
	}
	if got := batch[len(batch)-1].Fields[metric.FieldPowerW]; got != 7 {
		t.Errorf("newest surviving point = %v, want 7", got)
	}
}

func TestFlush_Success(t *testing.T) {
	sink := &mockSink{}
	buf := New(testConfig(), sink, nil)

	buf.Enqueue(makePoints(t, 10)...)
	buf.flush(context.Background())

	if got := sink.totalPoints(); got != 10 {
		t.Errorf("sink received %d points, want 10", got)
	}
	stats := buf.Stats()
	if stats.Written != 10 {
		t.Errorf("Written = %d, want 10", stats.Written)
	}
	if stats.Queued != 0 {
		t.Errorf("Queued = %d, want 0 after flush", stats.Queued)
	}
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	sink := &mockSink{}
	buf := New(testConfig(), sink, nil)

	buf.flush(context.Background())

	if got := sink.batchCount(); got != 0 {
		t.Errorf("sink received %d batches for empty queue, want 0", got)
	}
}

func TestFlush_RetriesThenSucceeds(t *testing.T) {
	sink := &mockSink{failures: 2, err: errors.New("connection refused")}
	buf := New(testConfig(), sink, nil) // MaxAttempts=3

	buf.Enqueue(makePoints(t, 4)...)
	buf.flush(context.Background())

	stats := buf.Stats()
	if stats.Written != 4 {
		t.Errorf("Written = %d, want 4 after retries", stats.Written)
	}
	if stats.Retries != 2 {
		t.Errorf("Retries = %d, want 2", stats.Retries)
	}
	if got := sink.batchCount(); got != 1 {
		t.Errorf("sink committed %d batches, want 1", got)
	}
}

func TestFlush_ExhaustedRetriesDropsBatch(t *testing.T) {
	sink := &countingSink{err: errors.New("connection refused")}
	buf := New(testConfig(), sink, nil) // MaxAttempts=3

	buf.Enqueue(makePoints(t, 4)...)
	buf.flush(context.Background())

	stats := buf.Stats()
	if stats.Queued != 0 {
		t.Errorf("Queued = %d, want 0 (exhausted batch dropped)", stats.Queued)
	}
	if stats.Dropped != 4 {
		t.Errorf("Dropped = %d, want 4", stats.Dropped)
	}
	if stats.Written != 0 {
		t.Errorf("Written = %d, want 0", stats.Written)
	}
	if stats.Retries != 2 {
		t.Errorf("Retries = %d, want MaxAttempts-1 = 2", stats.Retries)
	}
	if got := sink.attemptCount(); got != 3 {
		t.Errorf("sink attempts = %d, want exactly MaxAttempts = 3", got)
	}

	// The dropped batch stays dropped: the next cycle must not re-send it.
	buf.flush(context.Background())
	if got := sink.attemptCount(); got != 3 {
		t.Errorf("sink attempts after second cycle = %d, want 3 (no resend)", got)
	}
}

func TestFlush_RejectedIsDroppedNotRetried(t *testing.T) {
	sink := &mockSink{failures: 100, err: fmt.Errorf("%w: HTTP 400", ErrSinkRejected)}
	buf := New(testConfig(), sink, nil)

	buf.Enqueue(makePoints(t, 4)...)
	buf.flush(context.Background())

	stats := buf.Stats()
	if stats.Rejected != 4 {
		t.Errorf("Rejected = %d, want 4", stats.Rejected)
	}
	if stats.Queued != 0 {
		t.Errorf("Queued = %d, want 0 (rejected batch dropped)", stats.Queued)
	}
	if stats.Retries != 0 {
		t.Errorf("Retries = %d, want 0 (no retry on rejection)", stats.Retries)
	}
}

func TestRequeue_PreservesOrderAndBound(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 6
	buf := New(cfg, &mockSink{}, nil)

	old := makePoints(t, 4)      // values 0..3
	newer := makePoints(t, 4)    // values 0..3 again, but enqueued later
	buf.Enqueue(newer...)        // queue: newer
	buf.requeue(old)             // queue: old + newer, trimmed to capacity

	stats := buf.Stats()
	if stats.Queued != 6 {
		t.Errorf("Queued = %d, want 6", stats.Queued)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2 (oldest of the requeued batch)", stats.Dropped)
	}

	batch := buf.take()
	// The two oldest requeued points (0, 1) were evicted; the front is now 2.
	if got := batch[0].Fields[metric.FieldPowerW]; got != 2 {
		t.Errorf("front of queue = %v, want 2", got)
	}
}

func TestRun_FlushOnSizeTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.FlushSize = 5
	sink := &mockSink{}
	buf := New(cfg, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Enqueue(makePoints(t, 5)...)

	deadline := time.After(2 * time.Second)
	for sink.totalPoints() < 5 {
		select {
		case <-deadline:
			t.Fatal("size-triggered flush did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRun_FlushOnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	sink := &mockSink{}
	buf := New(cfg, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Enqueue(makePoints(t, 2)...)

	deadline := time.After(2 * time.Second)
	for sink.totalPoints() < 2 {
		select {
		case <-deadline:
			t.Fatal("interval flush did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRun_FinalFlushOnShutdown(t *testing.T) {
	sink := &mockSink{}
	buf := New(testConfig(), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Enqueue(makePoints(t, 3)...)
	cancel()
	<-done

	if got := sink.totalPoints(); got != 3 {
		t.Errorf("sink received %d points, want 3 from final flush", got)
	}
}
