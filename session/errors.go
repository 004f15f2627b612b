package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrConstruction indicates session construction or login failed. The
	// provider stays resource-less; a later job may retry lazily.
	ErrConstruction = errors.New("session construction failed")

	// ErrGeneration indicates a generate operation failed on an active
	// session. The session is discarded and rebuilt on next use.
	ErrGeneration = errors.New("generation failed")

	// ErrWorkerClosed indicates a job was submitted after shutdown.
	ErrWorkerClosed = errors.New("worker closed")
)

// Error wraps worker errors with provider and operation context.
type Error struct {
	Provider string // Provider ID ("chatgpt", "gemini", ...)
	Op       string // Operation that failed ("construct", "generate", "probe")
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}
