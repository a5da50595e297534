package registry

// Health is a device's position in the poll lifecycle.
type Health string

// Device health states.
//
// The lifecycle is:
//
//	discovered -> polling -> healthy <-> degraded -> unreachable
//
// A success from any polled state returns the device to healthy and resets
// its failure count. Failures accumulate through degraded until the failure
// threshold promotes the device to unreachable. Unreachable devices are
// still polled, just at the backed-off ceiling interval.
const (
	// HealthDiscovered means the device is known but not yet claimed by
	// the scheduler.
	HealthDiscovered Health = "discovered"

	// HealthPolling means the scheduler has claimed the device but no
	// probe has completed yet.
	HealthPolling Health = "polling"

	// HealthHealthy means the most recent probe succeeded.
	HealthHealthy Health = "healthy"

	// HealthDegraded means recent probes failed but the failure count is
	// below the unreachable threshold.
	HealthDegraded Health = "degraded"

	// HealthUnreachable means consecutive failures reached the threshold.
	HealthUnreachable Health = "unreachable"
)

// Valid reports whether h is a known health state.
func (h Health) Valid() bool {
	switch h {
	case HealthDiscovered, HealthPolling, HealthHealthy, HealthDegraded, HealthUnreachable:
		return true
	}
	return false
}

// event is a probe outcome fed into the health transition function.
type event int

const (
	eventSuccess event = iota
	eventFailure
)

// nextHealth computes the health state after an event.
//
// It is a pure function of (current state, event, failure count after the
// event, threshold) so the full transition table can be tested without a
// registry or a clock.
func nextHealth(current Health, ev event, failures, threshold int) Health {
	if ev == eventSuccess {
		return HealthHealthy
	}

	// Failure. Devices that were never claimed stay where they are; the
	// scheduler only reports outcomes for claimed devices.
	if current == HealthDiscovered {
		return HealthDiscovered
	}

	if failures >= threshold {
		return HealthUnreachable
	}
	return HealthDegraded
}
