package journey

import "errors"

var (
	// ErrNotFound is returned when no journey has the id.
	ErrNotFound = errors.New("journey not found")

	// ErrForbidden is returned when the journey belongs to another visitor.
	ErrForbidden = errors.New("journey belongs to another visitor")

	// ErrMissingID is returned when neither the path nor storage carries an id.
	ErrMissingID = errors.New("journey id missing")

	// ErrInvalidVehicle is returned when year/make/model are incomplete.
	ErrInvalidVehicle = errors.New("year, make and model are required")

	// ErrOutOfOrder is returned when a step is submitted before the steps it depends on.
	ErrOutOfOrder = errors.New("journey step submitted out of order")

	// ErrCompleted is returned when a confirmed journey is modified.
	ErrCompleted = errors.New("journey already has an appointment")
)

// FieldError reports one malformed field of a step submission.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}
