package store

import "errors"

// Common store errors used across all store implementations.
var (
	// ErrTaskNotFound is returned when an operation references an unknown
	// task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrItemNotFound is returned when an operation references an item id
	// the task does not contain.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned when an operation would violate the
	// state machine, e.g. soft-deleting a running task or updating an item
	// of a canceled task.
	ErrInvalidTransition = errors.New("invalid state transition")
)
