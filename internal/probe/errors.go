package probe

import "errors"

// Probe errors, distinguished so the registry and scheduler can treat
// reachability failures differently from protocol failures.
//
// Use errors.Is() to check:
//
//	if errors.Is(err, probe.ErrTimeout) {
//	    // device did not answer in time
//	}
var (
	// ErrUnreachable indicates the device could not be connected to.
	ErrUnreachable = errors.New("probe: device unreachable")

	// ErrTimeout indicates the device did not respond within the probe timeout.
	ErrTimeout = errors.New("probe: timed out")

	// ErrProtocol indicates the device responded with something that is not
	// a recognisable Shelly status payload (wrong device, camera, bad JSON).
	ErrProtocol = errors.New("probe: protocol error")
)
