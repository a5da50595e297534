package mqtt

// Topic namespace for all collector messages.
const topicPrefix = "shellyflux"

// Topics builds the collector's MQTT topic strings.
//
// The zero value is ready to use:
//
//	topic := mqtt.Topics{}.SystemStatus() // "shellyflux/system/status"
type Topics struct{}

// SystemStatus is the collector online/offline status topic.
// The Last Will and Testament is registered here, so subscribers can
// distinguish a crash from a graceful shutdown by the payload reason.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// HealthReport is the periodic health summary topic: device counts by
// health state plus buffer statistics.
func (Topics) HealthReport() string {
	return topicPrefix + "/system/health"
}

// DeviceStatus is the per-device health transition topic.
func (Topics) DeviceStatus(deviceID string) string {
	return topicPrefix + "/device/" + deviceID + "/status"
}
