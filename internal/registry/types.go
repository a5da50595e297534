package registry

import "time"

// Device is the registry's record of one telemetry source.
//
// ID is stable for the life of the record: a device first registered by
// address gets a generated ID, which is replaced by its hardware MAC on the
// first successful probe and never changes after that.
type Device struct {
	// ID uniquely identifies the device (lowercased MAC once probed,
	// generated UUID before that).
	ID string

	// Address is the host or host:port the device is polled at.
	Address string

	// Model is the normalizer model key (e.g. "shelly1pm"), empty until
	// the first successful probe.
	Model string

	// Capabilities lists the device's metering channels.
	Capabilities []string

	// Health is the device's current lifecycle state.
	Health Health

	// ConsecutiveFailures counts probe failures since the last success.
	ConsecutiveFailures int

	// LastSuccessAt is the time of the most recent successful probe,
	// zero if the device has never been probed successfully.
	LastSuccessAt time.Time

	// FirmwareVersion is the device-reported firmware build.
	FirmwareVersion string

	// CreatedAt is when the device was first registered.
	CreatedAt time.Time

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
}

// DeepCopy returns an independent copy of the device.
// Snapshot and lookup methods return copies so callers can never mutate
// registry state through a returned Device.
func (d Device) DeepCopy() Device {
	out := d
	if d.Capabilities != nil {
		out.Capabilities = make([]string, len(d.Capabilities))
		copy(out.Capabilities, d.Capabilities)
	}
	return out
}

// Identity is the device-reported identity merged into a record on every
// successful probe.
type Identity struct {
	MAC             string
	Model           string
	FirmwareVersion string
	Capabilities    []string
}

// EventType describes a registry change.
type EventType int

const (
	// EventAdded means a device entered the registry.
	EventAdded EventType = iota

	// EventRemoved means a device left the registry.
	EventRemoved
)

// Event is a registry change notification delivered to subscribers.
type Event struct {
	Type   EventType
	Device Device
}

// Stats summarises the registry for health reporting.
type Stats struct {
	Total    int
	ByHealth map[Health]int
}
