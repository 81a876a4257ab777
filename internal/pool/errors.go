package pool

import "errors"

// Sentinel errors realizing spec.md §7's error taxonomy for this package.
// Wrapped with context via fmt.Errorf("...: %w", ...) so callers can still
// match with errors.Is while getting a descriptive message.
var (
	// ErrPoolClosed is returned by any operation attempted after Close,
	// including every operation on a pool that enrolled zero endpoints.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrNotOwned is returned by Release/Invalidate for a connection not
	// present in the active set, including a nil connection.
	ErrNotOwned = errors.New("pool: connection not owned by this pool")

	// ErrConnect wraps a driver-level failure to open, authenticate, or
	// communicate with a backend, surfaced once a slot's failure budget is
	// exhausted.
	ErrConnect = errors.New("pool: connect error")

	// ErrConfigInvalid is returned when a configuration document is
	// unreadable or missing required attributes.
	ErrConfigInvalid = errors.New("pool: invalid configuration")
)
