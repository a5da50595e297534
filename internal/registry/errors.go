package registry

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when the requested device does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidAddress is returned when a device address is empty or malformed.
	ErrInvalidAddress = errors.New("registry: invalid device address")

	// ErrNotClaimable is returned when Claim is called on a device that is
	// not in the discovered state.
	ErrNotClaimable = errors.New("registry: device not claimable")
)
