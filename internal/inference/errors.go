package inference

import (
	"errors"

	"github.com/cheekymohnkey/styledna/pkg/models"
)

// Retryable reports whether a failed inference call is worth another
// attempt. Everything except invalid input is, up to the attempt budget.
func Retryable(err error) bool {
	return !errors.Is(err, models.ErrInvalidInput)
}

// Code maps an inference error to a stable error code for run records.
func Code(err error) string {
	switch {
	case errors.Is(err, models.ErrInferenceTimeout):
		return "INFERENCE_TIMEOUT"
	case errors.Is(err, models.ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, models.ErrInvalidResponse):
		return "INVALID_RESPONSE"
	case errors.Is(err, models.ErrInvalidInput):
		return "INVALID_INPUT"
	default:
		return "INFERENCE_ERROR"
	}
}
