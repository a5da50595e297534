// Package metric defines the canonical telemetry point model shared by
// the normalizer, write buffer, and sink client.
//
// A Point is the normalized (measurement, tags, fields, timestamp) tuple
// written to the time-series sink. Every point carries a device_id tag and
// at least one numeric field; multi-channel devices add a channel tag.
//
// The package is a leaf: it depends on nothing else in the repository so
// every component can share it without import cycles.
package metric
