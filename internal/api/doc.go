// Package api provides the read-only HTTP status API for the collector.
//
// It exposes the device registry and buffer counters so operators can
// inspect collector state with curl or wire it into dashboards. The API
// never mutates anything; device lifecycle is owned by discovery and the
// scheduler, and telemetry flows only to the sink.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
