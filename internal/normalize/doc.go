// Package normalize translates raw device payloads into canonical metric
// points.
//
// Each supported model has a parser that knows its status shape; the
// normalizer dispatches on the model key recorded by the registry. Points
// carry only fields the device actually reported. The sample timestamp is
// the device's own clock ("unixtime") when present, else the collection
// time, so buffered points keep their true sample time through sink outages.
//
// Normalization is pure: the same payload always yields the same points,
// which is what makes the at-least-once delivery path safe (a replayed
// point overwrites rather than accumulates at the sink).
//
// Supported models:
//
//	shelly1pm   gen1 relay meters (meters[], relay channels)
//	shellyem    gen1 energy meter (emeters[], 2 channels)
//	shellyem3   gen1 three-phase energy meter (emeters[], 3 channels)
//	shellyplus  gen2 switch components (switch:N)
package normalize
