package health

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/shellyflux/internal/buffer"
	"github.com/nerrad567/shellyflux/internal/registry"
)

// Status is the collector's overall condition as reported over MQTT.
type Status string

// Reporter statuses.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

// Message is the health summary published periodically.
//
// Every message carries a unique message_id so consumers can deduplicate
// across QoS 1 redelivery.
type Message struct {
	MessageID   string `json:"message_id"`
	CollectorID string `json:"collector_id"`
	Version     string `json:"version"`
	Status      Status `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
	UptimeSec   int64  `json:"uptime_seconds"`

	Devices DeviceCounts `json:"devices"`
	Buffer  BufferCounts `json:"buffer"`
}

// DeviceCounts breaks the registry down by health state.
type DeviceCounts struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Degraded    int `json:"degraded"`
	Unreachable int `json:"unreachable"`
	Pending     int `json:"pending"` // discovered + polling
}

// BufferCounts mirrors the write buffer's counters.
type BufferCounts struct {
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
	Written  uint64 `json:"written"`
	Rejected uint64 `json:"rejected"`
}

// newMessage assembles a health message from current state.
func newMessage(collectorID, version string, status Status, reason string,
	startTime time.Time, devices registry.Stats, buf buffer.Stats) Message {

	now := time.Now().UTC()
	return Message{
		MessageID:   uuid.New().String(),
		CollectorID: collectorID,
		Version:     version,
		Status:      status,
		Reason:      reason,
		Timestamp:   now.Format(time.RFC3339),
		UptimeSec:   int64(now.Sub(startTime).Seconds()),
		Devices: DeviceCounts{
			Total:       devices.Total,
			Healthy:     devices.ByHealth[registry.HealthHealthy],
			Degraded:    devices.ByHealth[registry.HealthDegraded],
			Unreachable: devices.ByHealth[registry.HealthUnreachable],
			Pending: devices.ByHealth[registry.HealthDiscovered] +
				devices.ByHealth[registry.HealthPolling],
		},
		Buffer: BufferCounts{
			Queued:   buf.Queued,
			Capacity: buf.Capacity,
			Dropped:  buf.Dropped,
			Written:  buf.Written,
			Rejected: buf.Rejected,
		},
	}
}
