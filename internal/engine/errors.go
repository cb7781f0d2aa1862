package engine

import "errors"

var (
	// ErrAlreadyTracking is returned by Start while a session is active or paused.
	ErrAlreadyTracking = errors.New("engine: a session is already in progress")

	// ErrNotTracking is returned by Pause/Resume/Stop from an invalid state.
	ErrNotTracking = errors.New("engine: no session in progress")
)
