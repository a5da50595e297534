package metric

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Measurement is the measurement name shared by all power telemetry points.
const Measurement = "power"

// Canonical tag keys.
const (
	TagDeviceID = "device_id"
	TagChannel  = "channel"
)

// Canonical field keys. A point carries only the fields the device actually
// reported; zero is a valid reading and is never used to mean "absent".
const (
	FieldPowerW       = "power_w"
	FieldVoltageV     = "voltage_v"
	FieldCurrentA     = "current_a"
	FieldEnergyWh     = "energy_wh"
	FieldTemperatureC = "temperature_c"
)

// Validation errors for point construction.
var (
	// ErrMissingDeviceID is returned when a point has no device_id tag.
	ErrMissingDeviceID = errors.New("metric: missing device_id tag")

	// ErrNoFields is returned when a point carries no fields.
	ErrNoFields = errors.New("metric: point has no fields")
)

// Point is one canonical telemetry sample: measurement, tags, numeric
// fields, and a timestamp. Points are immutable once created; New copies
// its inputs so callers cannot mutate a point after handing it off.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Timestamp   time.Time
}

// New creates a Point for the given device.
//
// The device_id tag is always set; channel is added only when non-empty
// (single-channel devices carry no channel tag). Field and tag maps are
// copied so the caller's maps stay independent.
//
// Parameters:
//   - deviceID: Registry device identifier (required)
//   - channel: Channel name for multi-channel devices, or "" for none
//   - fields: Field values actually reported by the device
//   - ts: Sample timestamp (device-reported if available, else collection time)
//
// Returns:
//   - Point: The constructed point
//   - error: ErrMissingDeviceID or ErrNoFields if invariants are violated
func New(deviceID, channel string, fields map[string]float64, ts time.Time) (Point, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Point{}, ErrMissingDeviceID
	}
	if len(fields) == 0 {
		return Point{}, ErrNoFields
	}

	tags := map[string]string{TagDeviceID: deviceID}
	if channel != "" {
		tags[TagChannel] = channel
	}

	f := make(map[string]float64, len(fields))
	for k, v := range fields {
		f[k] = v
	}

	return Point{
		Measurement: Measurement,
		Tags:        tags,
		Fields:      f,
		Timestamp:   ts,
	}, nil
}

// DeviceID returns the point's device_id tag.
func (p Point) DeviceID() string {
	return p.Tags[TagDeviceID]
}

// Equal reports whether two points carry identical measurement, tags,
// fields, and timestamp. Used by tests and by the at-least-once delivery
// contract (identical points must overwrite, not accumulate, at the sink).
func (p Point) Equal(other Point) bool {
	if p.Measurement != other.Measurement || !p.Timestamp.Equal(other.Timestamp) {
		return false
	}
	if len(p.Tags) != len(other.Tags) || len(p.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range p.Tags {
		if other.Tags[k] != v {
			return false
		}
	}
	for k, v := range p.Fields {
		if ov, ok := other.Fields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// FieldKeys returns the point's field names in sorted order.
// Deterministic ordering keeps log output and tests stable.
func (p Point) FieldKeys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
