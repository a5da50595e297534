package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/shellyflux/internal/buffer"
	"github.com/nerrad567/shellyflux/internal/registry"
)

// defaultTopic is used when no topic is configured.
const defaultTopic = "shellyflux/system/health"

// Publisher is the outbound channel for health messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// RegistryStats provides device counts.
type RegistryStats interface {
	Stats() registry.Stats
}

// QueueStats provides buffer counters.
type QueueStats interface {
	Stats() buffer.Stats
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Error(msg string, args ...any) {}

// Config holds reporter settings.
type Config struct {
	// CollectorID identifies this collector instance in messages.
	CollectorID string

	// Version is the collector build version.
	Version string

	// Topic is the MQTT topic for health messages, defaultTopic if empty.
	Topic string

	// Interval is how often health is published. Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher Publisher

	// Devices provides registry counts.
	Devices RegistryStats

	// Buffer provides write-buffer counters.
	Buffer QueueStats
}

// Reporter publishes periodic health summaries over MQTT.
//
// Messages are retained so a dashboard connecting between intervals still
// sees the latest state, and QoS 1 so summaries survive flaky broker links.
type Reporter struct {
	cfg       Config
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewReporter creates a health reporter.
//
// Parameters:
//   - cfg: Reporter configuration
//   - logger: Optional logger (nil for no logging)
func NewReporter(cfg Config, logger Logger) *Reporter {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Reporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (reporting stops when cancelled)
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		// Best-effort final status; nothing to do if it fails.
		//nolint:errcheck
		r.publish(StatusStopping, "collector shutting down")
	})
}

// PublishNow publishes the current health status immediately.
// Useful after a significant event rather than waiting for the interval.
func (r *Reporter) PublishNow() error {
	status, reason := r.determineStatus()
	return r.publish(status, reason)
}

// reportLoop runs the periodic health reporting.
func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if err := r.PublishNow(); err != nil {
		r.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(); err != nil {
				r.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the collector's current condition.
func (r *Reporter) determineStatus() (Status, string) {
	if r.cfg.Publisher == nil || !r.cfg.Publisher.IsConnected() {
		return StatusDegraded, "MQTT disconnected"
	}

	if r.cfg.Devices != nil {
		stats := r.cfg.Devices.Stats()
		if n := stats.ByHealth[registry.HealthUnreachable]; n > 0 {
			return StatusDegraded, fmt.Sprintf("%d device(s) unreachable", n)
		}
	}

	if r.cfg.Buffer != nil {
		stats := r.cfg.Buffer.Stats()
		if stats.Capacity > 0 && stats.Queued >= stats.Capacity {
			return StatusDegraded, "write buffer full"
		}
	}

	return StatusHealthy, ""
}

// publish serialises and sends one health message.
func (r *Reporter) publish(status Status, reason string) error {
	if r.cfg.Publisher == nil {
		return nil
	}

	var deviceStats registry.Stats
	if r.cfg.Devices != nil {
		deviceStats = r.cfg.Devices.Stats()
	}
	var bufStats buffer.Stats
	if r.cfg.Buffer != nil {
		bufStats = r.cfg.Buffer.Stats()
	}

	msg := newMessage(r.cfg.CollectorID, r.cfg.Version, status, reason,
		r.startTime, deviceStats, bufStats)

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return r.cfg.Publisher.Publish(r.cfg.Topic, payload, 1, true)
}
