package segfit

import "errors"

// Sentinel errors returned at construction and configuration time.
// Hot-path operations (Alloc, Free) never return an error: per
// spec.md §7, size-class violations and foreign/double frees are
// caller preconditions, and resource exhaustion is signaled by a nil
// pointer, not an error value.
var (
	ErrRegionTooSmall = errors.New("segfit: backing region too small for control structures and one data page")
	ErrInvalidConfig  = errors.New("segfit: invalid configuration")
)
