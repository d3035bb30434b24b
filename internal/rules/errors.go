package rules

import "errors"

// Errors raised by the rule-management boundary. They are terminal; callers
// surface them rather than retrying.
var (
	// ErrDuplicateName means another rule in the account already uses the name.
	ErrDuplicateName = errors.New("rule name already in use")

	// ErrNotFound means no rule exists with the given id.
	ErrNotFound = errors.New("rule not found")

	// ErrStaleVersion means the update was based on an out-of-date read; the
	// caller should re-read and retry deliberately instead of overwriting.
	ErrStaleVersion = errors.New("rule was modified since it was read")
)
