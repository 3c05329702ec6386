// Package domain defines the core task and item entities and their errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidTask is returned when an enqueue request is malformed,
	// e.g. an empty item list or a missing type. No state is created.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidPayload is returned by operation handlers when an item
	// payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid item payload")
)
