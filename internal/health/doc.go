// Package health publishes the collector's own condition over MQTT.
//
// A periodic summary carries device counts by health state and the write
// buffer's counters, so dashboards can watch the collector without
// scraping its HTTP API. The summary degrades when the broker link drops,
// when any device is unreachable, or when the buffer is full; a final
// "stopping" message distinguishes graceful shutdown from the broker's LWT
// crash notice.
package health
