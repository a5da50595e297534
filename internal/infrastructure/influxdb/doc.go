// Package influxdb writes normalized power metrics to InfluxDB v2.
//
// The client uses the blocking write API: batching, flush timing, and retry
// policy are owned by the write buffer upstream, so each WriteBatch call is
// one synchronous attempt whose outcome the buffer can act on. Failures are
// classified into two kinds:
//
//   - ErrWriteFailed: transient (network, 5xx); the batch may be retried
//   - ErrRejected: permanent (4xx); the batch must be dropped
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteBatch(ctx, points)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
