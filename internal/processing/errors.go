package processing

import "errors"

// Common errors returned by processor implementations.
var (
	// ErrProcessingFailed is returned when a transformation fails for any
	// general reason.
	ErrProcessingFailed = errors.New("image processing failed")

	// ErrInvalidResponse is returned when the provider response cannot be
	// parsed or is malformed.
	ErrInvalidResponse = errors.New("invalid response from image provider")

	// ErrContentBlocked is returned when the provider blocks the content
	// due to safety filters.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrTransientFailure is returned for temporary errors that might
	// resolve on retry.
	ErrTransientFailure = errors.New("transient error during image processing")

	// ErrInvalidConfig is returned when the processor configuration is invalid.
	ErrInvalidConfig = errors.New("invalid processor configuration")

	// ErrUnsupportedTaskType is returned when no processor is registered
	// for the requested task type.
	ErrUnsupportedTaskType = errors.New("unsupported task type")
)
