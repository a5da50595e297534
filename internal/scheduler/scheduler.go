package scheduler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/nerrad567/shellyflux/internal/metric"
	"github.com/nerrad567/shellyflux/internal/probe"
	"github.com/nerrad567/shellyflux/internal/registry"
)

// Prober performs one device probe.
type Prober interface {
	Probe(ctx context.Context, address string) (*probe.Result, error)
}

// Normalizer converts raw payloads into metric points.
type Normalizer interface {
	Normalize(deviceID, model string, raw []byte, collectedAt time.Time) ([]metric.Point, error)
}

// Enqueuer accepts normalized points for buffered delivery.
type Enqueuer interface {
	Enqueue(points ...metric.Point)
}

// DeviceRegistry is the slice of the registry the scheduler drives.
type DeviceRegistry interface {
	Events() <-chan registry.Event
	Snapshot() []registry.Device
	Claim(ctx context.Context, id string) (registry.Device, error)
	RecordSuccess(ctx context.Context, id string, ident registry.Identity, at time.Time) (registry.Device, error)
	RecordFailure(ctx context.Context, id string) (registry.Device, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Debug(msg string, args ...any) {}

// Config holds poll timing.
type Config struct {
	// BaseInterval is the poll interval for a healthy device.
	BaseInterval time.Duration

	// ProbeTimeout bounds each probe.
	ProbeTimeout time.Duration

	// BackoffCeiling caps the failure backoff at BaseInterval * BackoffCeiling.
	BackoffCeiling int

	// JitterPercent is the +/- percentage applied to every interval so
	// device polls spread out instead of thundering together.
	JitterPercent int
}

// Manager owns one poll goroutine per registered device.
//
// Loops start when a device is registered (or at boot for persisted
// devices) and stop promptly when the device is deregistered or the
// manager shuts down. Each loop runs the full pipeline:
//
//	probe -> registry outcome -> normalize -> enqueue
//
// Thread Safety:
//   - Run must be called exactly once; Stats is safe for concurrent use.
type Manager struct {
	cfg        Config
	prober     Prober
	normalizer Normalizer
	buffer     Enqueuer
	devices    DeviceRegistry
	logger     Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// New creates a Manager.
//
// Parameters:
//   - cfg: Poll timing
//   - devices: Device registry (source of devices and outcome recorder)
//   - prober: Device prober
//   - normalizer: Payload normalizer
//   - buffer: Destination for normalized points
//   - logger: Optional logger (nil for no logging)
func New(cfg Config, devices DeviceRegistry, prober Prober, normalizer Normalizer, buffer Enqueuer, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		cfg:        cfg,
		prober:     prober,
		normalizer: normalizer,
		buffer:     buffer,
		devices:    devices,
		logger:     logger,
		loops:      make(map[string]context.CancelFunc),
	}
}

// Run starts loops for every device already in the registry, then follows
// registry events until ctx is cancelled. It returns after every loop has
// stopped.
func (m *Manager) Run(ctx context.Context) error {
	for _, d := range m.devices.Snapshot() {
		m.startLoop(ctx, d)
	}

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return nil
		case ev := <-m.devices.Events():
			switch ev.Type {
			case registry.EventAdded:
				m.startLoop(ctx, ev.Device)
			case registry.EventRemoved:
				m.stopLoop(ev.Device.ID)
			}
		}
	}
}

// ActiveLoops returns the number of running poll loops.
func (m *Manager) ActiveLoops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// startLoop launches the poll goroutine for one device.
func (m *Manager) startLoop(ctx context.Context, d registry.Device) {
	m.mu.Lock()
	if _, running := m.loops[d.ID]; running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.loops[d.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollLoop(loopCtx, d)
	}()
}

// stopLoop cancels the poll goroutine for one device.
func (m *Manager) stopLoop(id string) {
	m.mu.Lock()
	cancel, ok := m.loops[id]
	if ok {
		delete(m.loops, id)
	}
	m.mu.Unlock()

	if ok {
		cancel()
	}
}

// rekeyLoop moves a running loop's cancel registration to a new device ID
// so deregistration by the new ID still stops the loop.
func (m *Manager) rekeyLoop(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.loops[oldID]; ok {
		delete(m.loops, oldID)
		m.loops[newID] = cancel
	}
}

// pollLoop drives one device until its context is cancelled.
func (m *Manager) pollLoop(ctx context.Context, d registry.Device) {
	claimed, err := m.devices.Claim(ctx, d.ID)
	if err != nil {
		// Already claimed or gone; either way this loop has no device.
		if !errors.Is(err, context.Canceled) {
			m.logger.Debug("claim failed, loop not started",
				"device_id", d.ID, "error", err)
		}
		m.stopLoop(d.ID)
		return
	}
	device := claimed

	m.logger.Info("poll loop started",
		"device_id", device.ID, "address", device.Address)

	for {
		device = m.pollOnce(ctx, device)

		wait := m.jittered(m.interval(device.ConsecutiveFailures))
		select {
		case <-ctx.Done():
			m.logger.Info("poll loop stopped", "device_id", device.ID)
			return
		case <-time.After(wait):
		}
	}
}

// pollOnce runs one probe cycle and returns the device's updated record.
func (m *Manager) pollOnce(ctx context.Context, device registry.Device) registry.Device {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	result, err := m.prober.Probe(probeCtx, device.Address)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return device
		}
		updated, recErr := m.devices.RecordFailure(ctx, device.ID)
		if recErr != nil {
			m.logger.Warn("recording probe failure",
				"device_id", device.ID, "error", recErr)
			return device
		}
		m.logger.Debug("probe failed",
			"device_id", device.ID,
			"consecutive_failures", updated.ConsecutiveFailures,
			"health", string(updated.Health),
			"error", err)
		return updated
	}

	collectedAt := time.Now().UTC()
	updated, recErr := m.devices.RecordSuccess(ctx, device.ID, registry.Identity{
		MAC:             result.Descriptor.MAC,
		Model:           result.Descriptor.Model,
		FirmwareVersion: result.Descriptor.FirmwareVersion,
		Capabilities:    result.Descriptor.Channels,
	}, collectedAt)
	if recErr != nil {
		m.logger.Warn("recording probe success",
			"device_id", device.ID, "error", recErr)
		return device
	}
	if updated.ID != device.ID {
		m.rekeyLoop(device.ID, updated.ID)
	}

	points, err := m.normalizer.Normalize(updated.ID, updated.Model, result.Raw, collectedAt)
	if err != nil {
		// The device answered; a payload we cannot read is not a
		// reachability failure. Log and keep the device healthy.
		m.logger.Warn("payload not normalized",
			"device_id", updated.ID, "model", updated.Model, "error", err)
		return updated
	}

	m.buffer.Enqueue(points...)
	return updated
}

// interval computes the backed-off poll interval for a failure count:
// base * 2^failures, capped at base * BackoffCeiling.
func (m *Manager) interval(failures int) time.Duration {
	if failures <= 0 {
		return m.cfg.BaseInterval
	}

	ceiling := m.cfg.BaseInterval * time.Duration(m.cfg.BackoffCeiling)
	// Guard the shift: beyond 62 doublings everything is past the ceiling.
	if failures > 62 {
		return ceiling
	}
	backed := m.cfg.BaseInterval * time.Duration(int64(1)<<uint(failures))
	if backed <= 0 || backed > ceiling {
		return ceiling
	}
	return backed
}

// jittered spreads an interval by +/- JitterPercent.
func (m *Manager) jittered(d time.Duration) time.Duration {
	if m.cfg.JitterPercent <= 0 {
		return d
	}
	spread := float64(m.cfg.JitterPercent) / 100.0
	factor := 1 + (rand.Float64()*2-1)*spread
	out := time.Duration(math.Round(float64(d) * factor))
	if out <= 0 {
		return d
	}
	return out
}
