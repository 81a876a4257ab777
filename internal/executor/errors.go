package executor

import "errors"

// Sentinel errors realizing spec.md §7's taxonomy for this package.
var (
	// ErrInvalidArgument is returned by SetInput for a null/invalid value.
	ErrInvalidArgument = errors.New("executor: invalid argument")
)
