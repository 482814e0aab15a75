package replay

import "errors"

var (
	// ErrInvalidConfig is returned when buffer or batch parameters are out of range
	ErrInvalidConfig = errors.New("replay: invalid configuration")
	// ErrInvalidIndex is returned when an index does not refer to a live slot in the expected state
	ErrInvalidIndex = errors.New("replay: invalid slot index")
	// ErrInsufficientData is returned when not enough completed transitions exist to serve a request
	ErrInsufficientData = errors.New("replay: insufficient data")
)
