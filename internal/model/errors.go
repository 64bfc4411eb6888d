package model

import "errors"

var (
	// ErrNotFound is returned when a schedule, job or recovery point id
	// is unknown to the engine.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned when an execution is requested for a
	// job id that is already in a non-terminal state.
	ErrAlreadyRunning = errors.New("already running")

	// ErrConnectionUnavailable is returned when a connection id cannot be
	// resolved or its credentials are missing.
	ErrConnectionUnavailable = errors.New("connection unavailable")
)
