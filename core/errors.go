package core

import "errors"

var (
	// ErrShutdown is the cancellation cause used for a clean, requested
	// shutdown (as opposed to a fatal stage error).
	ErrShutdown = errors.New("shutdown requested")

	// ErrStopped is returned by Stage.Run to mean "I was asked to stop
	// and did", as opposed to an unexpected failure. The engine treats
	// it the same as a clean exit, never as fatal.
	ErrStopped = errors.New("stage stopped")
)
