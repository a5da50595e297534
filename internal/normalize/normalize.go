package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/shellyflux/internal/metric"
)

// wattMinutesPerWattHour converts gen1 relay meter totals, which the
// device reports in watt-minutes, to watt-hours.
const wattMinutesPerWattHour = 60.0

// parser converts one model's raw status payload into metric points.
type parser func(deviceID string, raw []byte, fallback time.Time) ([]metric.Point, error)

// Normalizer converts raw probe payloads into canonical metric points.
//
// The zero Normalizer is not usable; call New.
type Normalizer struct {
	parsers map[string]parser
}

// New creates a Normalizer with parsers for all supported models.
func New() *Normalizer {
	return &Normalizer{
		parsers: map[string]parser{
			"shelly1pm":  parseGen1Meters,
			"shellyem":   parseGen1EMeters,
			"shellyem3":  parseGen1EMeters,
			"shellyplus": parseGen2Status,
		},
	}
}

// Normalize converts a raw status payload into metric points.
//
// Parameters:
//   - deviceID: Registry device identifier, tagged onto every point
//   - model: Normalizer model key from the registry
//   - raw: Raw status payload from the probe
//   - collectedAt: Collection time, used when the device reports no clock
//
// Returns:
//   - []metric.Point: One point per metering channel that reported data
//   - error: ErrUnknownModel or ErrMalformedPayload
func (n *Normalizer) Normalize(deviceID, model string, raw []byte, collectedAt time.Time) ([]metric.Point, error) {
	p, ok := n.parsers[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return p(deviceID, raw, collectedAt)
}

// Supports reports whether the model has a parser.
func (n *Normalizer) Supports(model string) bool {
	_, ok := n.parsers[model]
	return ok
}

// gen1Status is the subset of a gen1 /status response the normalizer reads.
type gen1Status struct {
	Meters []struct {
		Power *float64 `json:"power"`
		Total *float64 `json:"total"`
	} `json:"meters"`
	EMeters []struct {
		Power   *float64 `json:"power"`
		Voltage *float64 `json:"voltage"`
		Current *float64 `json:"current"`
		Total   *float64 `json:"total"`
	} `json:"emeters"`
	Temperature *float64 `json:"temperature"`
	Unixtime    int64    `json:"unixtime"`
}

// parseGen1Meters handles gen1 relay devices (Shelly 1PM, 2.5, Plug).
//
// meters[].total is in watt-minutes and is converted to watt-hours.
// The device temperature, when present, is attached to the first channel
// only so it is not double-counted across relays.
func parseGen1Meters(deviceID string, raw []byte, fallback time.Time) ([]metric.Point, error) {
	var status gen1Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(status.Meters) == 0 {
		return nil, fmt.Errorf("%w: no meters in payload", ErrMalformedPayload)
	}

	ts := sampleTime(status.Unixtime, fallback)

	var points []metric.Point
	for i, m := range status.Meters {
		fields := map[string]float64{}
		if m.Power != nil {
			fields[metric.FieldPowerW] = *m.Power
		}
		if m.Total != nil {
			fields[metric.FieldEnergyWh] = *m.Total / wattMinutesPerWattHour
		}
		if i == 0 && status.Temperature != nil {
			fields[metric.FieldTemperatureC] = *status.Temperature
		}
		if len(fields) == 0 {
			continue
		}

		p, err := metric.New(deviceID, channelName("relay", i, len(status.Meters)), fields, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: meters carry no readings", ErrMalformedPayload)
	}
	return points, nil
}

// parseGen1EMeters handles gen1 energy meters (Shelly EM, 3EM).
// emeters[].total is already in watt-hours.
func parseGen1EMeters(deviceID string, raw []byte, fallback time.Time) ([]metric.Point, error) {
	var status gen1Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(status.EMeters) == 0 {
		return nil, fmt.Errorf("%w: no emeters in payload", ErrMalformedPayload)
	}

	ts := sampleTime(status.Unixtime, fallback)

	var points []metric.Point
	for i, m := range status.EMeters {
		fields := map[string]float64{}
		if m.Power != nil {
			fields[metric.FieldPowerW] = *m.Power
		}
		if m.Voltage != nil {
			fields[metric.FieldVoltageV] = *m.Voltage
		}
		if m.Current != nil {
			fields[metric.FieldCurrentA] = *m.Current
		}
		if m.Total != nil {
			fields[metric.FieldEnergyWh] = *m.Total
		}
		if len(fields) == 0 {
			continue
		}

		p, err := metric.New(deviceID, channelName("emeter", i, len(status.EMeters)), fields, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: emeters carry no readings", ErrMalformedPayload)
	}
	return points, nil
}

// gen2Switch is one "switch:N" component from a gen2 Shelly.GetStatus.
type gen2Switch struct {
	APower  *float64 `json:"apower"`
	Voltage *float64 `json:"voltage"`
	Current *float64 `json:"current"`
	AEnergy *struct {
		Total float64 `json:"total"`
	} `json:"aenergy"`
	Temperature *struct {
		TC *float64 `json:"tC"`
	} `json:"temperature"`
}

// parseGen2Status handles gen2+ devices (Shelly Plus / Pro).
//
// The status is keyed by component ("switch:0", "sys", ...); every switch
// component with readings becomes one point.
func parseGen2Status(deviceID string, raw []byte, fallback time.Time) ([]metric.Point, error) {
	var components map[string]json.RawMessage
	if err := json.Unmarshal(raw, &components); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ts := fallback
	if sysRaw, ok := components["sys"]; ok {
		var sys struct {
			Unixtime int64 `json:"unixtime"`
		}
		if err := json.Unmarshal(sysRaw, &sys); err == nil {
			ts = sampleTime(sys.Unixtime, fallback)
		}
	}

	// Collect switch indexes in order for stable channel naming.
	var indexes []int
	switches := make(map[int]gen2Switch)
	for key, rawComponent := range components {
		idxStr, ok := strings.CutPrefix(key, "switch:")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		var sw gen2Switch
		if err := json.Unmarshal(rawComponent, &sw); err != nil {
			return nil, fmt.Errorf("%w: component %s: %v", ErrMalformedPayload, key, err)
		}
		indexes = append(indexes, idx)
		switches[idx] = sw
	}
	sort.Ints(indexes)

	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: no switch components in payload", ErrMalformedPayload)
	}

	var points []metric.Point
	for _, idx := range indexes {
		sw := switches[idx]
		fields := map[string]float64{}
		if sw.APower != nil {
			fields[metric.FieldPowerW] = *sw.APower
		}
		if sw.Voltage != nil {
			fields[metric.FieldVoltageV] = *sw.Voltage
		}
		if sw.Current != nil {
			fields[metric.FieldCurrentA] = *sw.Current
		}
		if sw.AEnergy != nil {
			fields[metric.FieldEnergyWh] = sw.AEnergy.Total
		}
		if sw.Temperature != nil && sw.Temperature.TC != nil {
			fields[metric.FieldTemperatureC] = *sw.Temperature.TC
		}
		if len(fields) == 0 {
			continue
		}

		p, err := metric.New(deviceID, channelName("switch", idx, len(indexes)), fields, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: switch components carry no readings", ErrMalformedPayload)
	}
	return points, nil
}

// channelName names a metering channel. Single-channel devices get no
// channel tag at all, so their series are not fragmented by an index
// that can never vary.
func channelName(kind string, index, total int) string {
	if total <= 1 {
		return ""
	}
	return fmt.Sprintf("%s%d", kind, index)
}

// sampleTime prefers the device clock when it reports one.
func sampleTime(unixtime int64, fallback time.Time) time.Time {
	if unixtime > 0 {
		return time.Unix(unixtime, 0).UTC()
	}
	return fallback
}
