// Package mqtt provides the collector's outbound MQTT reporting channel.
//
// The collector publishes its own liveness and a periodic health summary so
// that dashboards and alerting can observe it without scraping. It never
// subscribes to anything; this package is publish-only by design of the
// collector's role as a leaf node.
//
// Topics (see topics.go):
//
//	shellyflux/system/status    online/offline with LWT crash detection
//	shellyflux/system/health    periodic health summary (retained)
//	shellyflux/device/+/status  per-device health transitions
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.HealthReport(), payload)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package mqtt
