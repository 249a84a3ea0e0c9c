package trans

import "errors"

var (
	// ErrInvalidKey is returned when a string key is malformed.
	ErrInvalidKey = errors.New("invalid string key")
	// ErrNotFound is returned for lookups of records, stashes or
	// contributions that do not exist or belong to somebody else.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when an operation requires rights the
	// caller does not hold. Missing commit rights on single staged entries
	// are not errors; those entries are pruned instead.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidTransition is returned for contribution workflow transitions
	// not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrEmptyComment is returned when a contribution is rejected without an
	// explanation for the author.
	ErrEmptyComment = errors.New("rejection requires a comment")
)
