package agent

import "errors"

var (
	// ErrNotFound is returned when the agent does not exist or belongs to
	// another user
	ErrNotFound = errors.New("agent not found")

	ErrInternal = errors.New("internal error")
)
