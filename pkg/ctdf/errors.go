package ctdf

import "errors"

// Error taxonomy shared by the trip store, the live tracker and the REST API.
// Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrAuth is a missing, invalid or expired credential
	ErrAuth = errors.New("authentication failed")

	// ErrConflict is returned when a driver already has an active trip
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when no active trip matches the id and owner
	ErrNotFound = errors.New("not found")

	// ErrValidation is a malformed payload, eg. a sample without latitude/longitude
	ErrValidation = errors.New("validation error")

	// ErrForbidden is a role mismatch, eg. a passenger sending location updates
	ErrForbidden = errors.New("forbidden")
)

type ErrorCode string

const (
	ErrorCodeAuth       ErrorCode = "AUTH"
	ErrorCodeConflict   ErrorCode = "CONFLICT"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeValidation ErrorCode = "VALIDATION"
	ErrorCodeForbidden  ErrorCode = "FORBIDDEN"
	ErrorCodeInternal   ErrorCode = "INTERNAL"
)

// CodeOf maps an error onto its taxonomy code. Anything outside the taxonomy
// is an infrastructure failure and reported as INTERNAL.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrAuth):
		return ErrorCodeAuth
	case errors.Is(err, ErrConflict):
		return ErrorCodeConflict
	case errors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrValidation):
		return ErrorCodeValidation
	case errors.Is(err, ErrForbidden):
		return ErrorCodeForbidden
	default:
		return ErrorCodeInternal
	}
}
