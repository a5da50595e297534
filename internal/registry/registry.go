package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// eventBufferSize bounds the subscriber channel. Registry changes are rare
// (discovery adds, operator removes); if the subscriber stalls this long,
// events are dropped and logged rather than blocking device updates.
const eventBufferSize = 64

// Repository persists device records.
//
// The registry is the source of truth at runtime; the repository exists so
// devices and their last-known health survive restarts. Implementations
// must be safe for concurrent use.
type Repository interface {
	// Save inserts or updates a device record by ID.
	Save(ctx context.Context, d Device) error

	// Delete removes a device record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// LoadAll returns every persisted device record.
	LoadAll(ctx context.Context) ([]Device, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any) {}

// Registry tracks every known device and its health.
//
// All reads are served from an in-memory cache; every mutation is written
// through to the repository before the cache is updated, so a crash never
// leaves the cache ahead of the store.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	repo      Repository
	threshold int
	logger    Logger

	mu      sync.RWMutex
	devices map[string]*Device // keyed by ID
	byAddr  map[string]string  // address -> ID

	events chan Event
}

// New creates a Registry backed by repo and warms the cache from it.
//
// Parameters:
//   - ctx: Context for the initial load
//   - repo: Persistent device store
//   - failureThreshold: Consecutive failures before a device is unreachable
//   - logger: Optional logger (nil for no logging)
//
// Returns:
//   - *Registry: Ready registry with persisted devices loaded
//   - error: If the initial load fails
func New(ctx context.Context, repo Repository, failureThreshold int, logger Logger) (*Registry, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Registry{
		repo:      repo,
		threshold: failureThreshold,
		logger:    logger,
		devices:   make(map[string]*Device),
		byAddr:    make(map[string]string),
		events:    make(chan Event, eventBufferSize),
	}

	persisted, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading persisted devices: %w", err)
	}
	for i := range persisted {
		d := persisted[i].DeepCopy()
		// Claims do not survive restarts; the scheduler re-claims on boot.
		if d.Health == HealthPolling {
			d.Health = HealthDiscovered
		}
		r.devices[d.ID] = &d
		r.byAddr[d.Address] = d.ID
	}

	return r, nil
}

// Events returns the registry change stream.
//
// Added events fire for every device present at startup (replayed on
// subscription is not supported; call Snapshot first) and for each new
// registration; Removed events fire on deregistration. The channel is
// buffered; events are dropped with a warning if the subscriber stalls.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Register adds a device by address, or returns the existing record.
//
// Registration is idempotent: registering an address twice returns the
// same device with created=false and changes nothing.
//
// Parameters:
//   - ctx: Context for the persistence write
//   - address: Device host or host:port
//
// Returns:
//   - Device: The new or existing record (a copy)
//   - bool: true if a new device was created
//   - error: ErrInvalidAddress or a persistence failure
func (r *Registry) Register(ctx context.Context, address string) (Device, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Device{}, false, ErrInvalidAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byAddr[address]; ok {
		return r.devices[id].DeepCopy(), false, nil
	}

	now := time.Now().UTC()
	d := Device{
		ID:        uuid.New().String(),
		Address:   address,
		Health:    HealthDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.repo.Save(ctx, d); err != nil {
		return Device{}, false, fmt.Errorf("persisting device %s: %w", address, err)
	}

	r.devices[d.ID] = &d
	r.byAddr[address] = d.ID
	r.emit(Event{Type: EventAdded, Device: d.DeepCopy()})

	r.logger.Info("device registered", "device_id", d.ID, "address", address)
	return d.DeepCopy(), true, nil
}

// Claim hands a device to a poll loop.
//
// Only the scheduler calls this, exactly once per poll loop it starts.
// Claiming an already-polling device returns ErrNotClaimable so two loops
// can never own the same device. Any other state is claimable: devices
// persisted as healthy, degraded, or unreachable must be pollable again
// after a restart. The failure count carries over so backoff resumes
// where it left off.
func (r *Registry) Claim(ctx context.Context, id string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	if d.Health == HealthPolling {
		return Device{}, fmt.Errorf("%w: device %s is already claimed", ErrNotClaimable, id)
	}

	updated := d.DeepCopy()
	updated.Health = HealthPolling
	updated.UpdatedAt = time.Now().UTC()

	if err := r.repo.Save(ctx, updated); err != nil {
		return Device{}, fmt.Errorf("persisting claim for %s: %w", id, err)
	}

	*d = updated
	return updated.DeepCopy(), nil
}

// RecordSuccess applies a successful probe outcome.
//
// The identity fragment is merged into the record, the failure count is
// reset, and health becomes healthy. On the first success that reports a
// hardware MAC, the device is re-keyed from its generated ID to the MAC;
// subsequent successes never change the ID.
//
// Parameters:
//   - ctx: Context for the persistence write
//   - id: Current device ID
//   - ident: Device-reported identity from the probe
//   - at: Probe completion time
//
// Returns:
//   - Device: The updated record (a copy); its ID may differ from id
//   - error: ErrDeviceNotFound or a persistence failure
func (r *Registry) RecordSuccess(ctx context.Context, id string, ident Identity, at time.Time) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}

	updated := d.DeepCopy()
	updated.Health = nextHealth(updated.Health, eventSuccess, 0, r.threshold)
	updated.ConsecutiveFailures = 0
	updated.LastSuccessAt = at
	updated.UpdatedAt = time.Now().UTC()

	if ident.Model != "" {
		updated.Model = ident.Model
	}
	if ident.FirmwareVersion != "" {
		updated.FirmwareVersion = ident.FirmwareVersion
	}
	if len(ident.Capabilities) > 0 {
		updated.Capabilities = make([]string, len(ident.Capabilities))
		copy(updated.Capabilities, ident.Capabilities)
	}

	rekeyFrom := ""
	if ident.MAC != "" && updated.ID != ident.MAC {
		if _, taken := r.devices[ident.MAC]; !taken {
			rekeyFrom = updated.ID
			updated.ID = ident.MAC
		}
	}

	if rekeyFrom != "" {
		if err := r.repo.Delete(ctx, rekeyFrom); err != nil {
			return Device{}, fmt.Errorf("re-keying device %s: %w", rekeyFrom, err)
		}
	}
	if err := r.repo.Save(ctx, updated); err != nil {
		return Device{}, fmt.Errorf("persisting success for %s: %w", updated.ID, err)
	}

	if rekeyFrom != "" {
		delete(r.devices, rekeyFrom)
		stored := updated.DeepCopy()
		r.devices[updated.ID] = &stored
		r.byAddr[updated.Address] = updated.ID
		r.logger.Info("device re-keyed to hardware address",
			"old_id", rekeyFrom, "device_id", updated.ID)
	} else {
		*d = updated
	}

	return updated.DeepCopy(), nil
}

// RecordFailure applies a failed probe outcome.
//
// The failure count increments and health follows the transition table:
// degraded below the threshold, unreachable at or above it.
//
// Returns:
//   - Device: The updated record (a copy)
//   - error: ErrDeviceNotFound or a persistence failure
func (r *Registry) RecordFailure(ctx context.Context, id string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}

	updated := d.DeepCopy()
	updated.ConsecutiveFailures++
	prev := updated.Health
	updated.Health = nextHealth(prev, eventFailure, updated.ConsecutiveFailures, r.threshold)
	updated.UpdatedAt = time.Now().UTC()

	if err := r.repo.Save(ctx, updated); err != nil {
		return Device{}, fmt.Errorf("persisting failure for %s: %w", id, err)
	}

	*d = updated

	if prev != HealthUnreachable && updated.Health == HealthUnreachable {
		r.logger.Warn("device unreachable",
			"device_id", id, "consecutive_failures", updated.ConsecutiveFailures)
	}

	return updated.DeepCopy(), nil
}

// Deregister removes a device from the registry and the store.
//
// Returns:
//   - error: ErrDeviceNotFound or a persistence failure
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}

	removed := d.DeepCopy()
	delete(r.byAddr, d.Address)
	delete(r.devices, id)
	r.emit(Event{Type: EventRemoved, Device: removed})

	r.logger.Info("device deregistered", "device_id", id, "address", removed.Address)
	return nil
}

// Get returns a copy of the device with the given ID.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// Snapshot returns copies of every device, sorted by ID for stable output.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns device counts by health state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Total:    len(r.devices),
		ByHealth: make(map[Health]int),
	}
	for _, d := range r.devices {
		s.ByHealth[d.Health]++
	}
	return s
}

// emit delivers an event without blocking; stalled subscribers lose events.
func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("registry event dropped, subscriber not keeping up",
			"device_id", ev.Device.ID)
	}
}
