// Package scheduler runs one poll loop per registered device.
//
// Each loop claims its device, then repeatedly probes it, reports the
// outcome to the registry, normalizes the payload, and enqueues the points
// for buffered delivery. Failing devices are polled less often: the
// interval doubles per consecutive failure up to a ceiling, so a dead
// subnet does not burn probe capacity, and every interval carries jitter
// so device polls spread out instead of aligning.
//
// Loops follow the registry's event stream: registration starts a loop,
// deregistration cancels it promptly (no final poll).
package scheduler
