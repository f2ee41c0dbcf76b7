package glazing

import "errors"

var (
	// ErrNotOpen is returned by Send when the connection is not open.
	ErrNotOpen = errors.New("connection is not open")
	// ErrNotStarted is returned by control calls made before Start.
	ErrNotStarted = errors.New("connection manager is not started")
	// ErrStopped is returned by control calls made after Stop.
	ErrStopped = errors.New("connection manager is stopped")
)
