package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrRejected) {
//	    // Server refused the batch; retrying will not help
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a write failed for a transient reason
	// (network, server unavailable). The batch may be retried.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrRejected indicates the server refused the batch (HTTP 4xx).
	// The batch is malformed or unauthorized; retrying is pointless.
	ErrRejected = errors.New("influxdb: batch rejected")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
