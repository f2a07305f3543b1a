package async

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyResolved is returned when SetResult or SetError is called on
	// a Future that already holds a value or an error.
	ErrAlreadyResolved = errors.New("future already resolved")

	// ErrCancelled is returned from Await when the awaiting task was cancelled.
	// It propagates up through the task and terminates it cleanly.
	ErrCancelled = errors.New("task cancelled")

	// ErrAlreadyRegistered is returned when a file descriptor is registered
	// with the Loop twice.
	ErrAlreadyRegistered = errors.New("file descriptor already registered")

	// ErrNotRegistered is returned when modifying or unregistering a file
	// descriptor the Loop does not know about.
	ErrNotRegistered = errors.New("file descriptor not registered")

	// ErrLoopStopped is returned by RunUntilComplete when the Loop was stopped
	// before the task finished.
	ErrLoopStopped = errors.New("event loop stopped before task completed")

	// ErrLoopClosed is returned when using a Loop after Close.
	ErrLoopClosed = errors.New("event loop closed")
)

// FatalError reports a broken scheduler invariant, such as a computation
// panicking inside a task. It is not a crawl-time condition: the Loop stops
// and RunUntilComplete returns it.
type FatalError struct {
	// Task is the name given to Spawn.
	Task string
	// Value is the recovered panic value.
	Value any
	// Stack is the goroutine stack captured when the panic was recovered.
	Stack []byte
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal scheduler error in task %q: %v", e.Task, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *FatalError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
