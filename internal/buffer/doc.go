// Package buffer decouples metric collection from sink availability.
//
// Pollers enqueue normalized points without blocking; a single flush
// goroutine drains the queue to the sink on a timer or when enough points
// accumulate. The queue is bounded: when full, the oldest point is evicted
// so a long sink outage costs the oldest data, never the newest.
//
// Flush discipline:
//
//   - Exactly one flush runs at a time (the Run goroutine owns it)
//   - A transient sink failure is retried with doubling backoff, up to a
//     configured attempt limit, then the batch is dropped and counted
//   - A batch the sink rejects (ErrSinkRejected) is dropped, never retried
//
// Delivery is at least once: a batch that was written but whose
// acknowledgment was lost is retried, and the normalizer's deterministic
// points make the replay overwrite rather than duplicate at the sink.
//
// # Usage
//
//	buf := buffer.New(buffer.Config{
//	    Capacity:      10000,
//	    FlushInterval: 10 * time.Second,
//	    FlushSize:     500,
//	    MaxAttempts:   5,
//	    RetryBackoff:  time.Second,
//	}, sink, log)
//
//	go buf.Run(ctx)
//	buf.Enqueue(points...)
package buffer
