package normalize

import "errors"

// Normalization errors.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownModel is returned when no parser exists for the device model.
	ErrUnknownModel = errors.New("normalize: unknown device model")

	// ErrMalformedPayload is returned when the raw payload cannot be parsed
	// as the model's expected status shape.
	ErrMalformedPayload = errors.New("normalize: malformed payload")
)
