package availability

import "errors"

var (
	// ErrNoAvailability is the empty-state marker for a zip with no branches.
	ErrNoAvailability = errors.New("availability: no branches available")
	// ErrInvalidWindow marks operating data whose close is not after its open.
	ErrInvalidWindow = errors.New("availability: invalid operating window")
)
