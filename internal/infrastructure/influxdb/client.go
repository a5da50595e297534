package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	apihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/shellyflux/internal/infrastructure/config"
	"github.com/nerrad567/shellyflux/internal/metric"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Client wraps the InfluxDB v2 client for shellyflux.
//
// Writes are synchronous: the upstream write buffer owns batching and
// retry, so WriteBatch performs exactly one attempt and reports a
// classified outcome.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      config.InfluxDBConfig

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Configures the blocking write API for the configured org and bucket
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If InfluxDB is disabled or connection fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Client{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}, nil
}

// WriteBatch writes a batch of metric points in a single synchronous call.
//
// The whole batch succeeds or fails together. Failures are classified:
// an HTTP 4xx response wraps ErrRejected (the batch is bad, do not retry),
// anything else wraps ErrWriteFailed (transient, the caller may retry).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - points: Normalized metric points; an empty batch is a no-op
//
// Returns:
//   - error: nil on success, ErrRejected or ErrWriteFailed otherwise
func (c *Client) WriteBatch(ctx context.Context, points []metric.Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(points) == 0 {
		return nil
	}

	converted := make([]*write.Point, 0, len(points))
	for _, p := range points {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		converted = append(converted, write.NewPoint(p.Measurement, p.Tags, fields, p.Timestamp))
	}

	if err := c.writeAPI.WritePoint(ctx, converted...); err != nil {
		return classifyWriteError(err)
	}

	return nil
}

// classifyWriteError maps a write failure onto the package error taxonomy.
func classifyWriteError(err error) error {
	var httpErr *apihttp.Error
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		return fmt.Errorf("%w: HTTP %d: %v", ErrRejected, httpErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}

// Close gracefully shuts down the InfluxDB connection.
//
// Returns:
//   - error: nil (the underlying client Close doesn't return errors)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.client.Close()

	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
