// Package probe queries Shelly devices over their local HTTP API.
//
// A probe is two requests against the device: GET /shelly for identity
// (type, MAC, firmware, generation) and the generation-appropriate status
// endpoint for the raw telemetry payload. The probe does not interpret the
// payload; that is the normalizer's job. It does classify failures so the
// scheduler and registry can distinguish an absent device from a broken one:
//
//   - ErrUnreachable: connection refused, no route, DNS failure
//   - ErrTimeout: the device answered nothing within the deadline
//   - ErrProtocol: the endpoint answered but is not a Shelly (cameras,
//     HTTP errors, unparseable JSON)
//
// # Usage
//
//	prober := probe.New()
//
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//
//	result, err := prober.Probe(ctx, "192.168.1.40")
//
// # Thread Safety
//
// A Prober is safe for concurrent use; probes against many devices share
// one pooled HTTP client.
package probe
